package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for a code.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a participant is not part of the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz is returned when a session is created for a quiz without questions.
	ErrInvalidQuiz = errors.New("quiz has no questions")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")

	ErrSessionNotJoinable = errors.New("session is not joinable")
	ErrDuplicateNickname  = errors.New("nickname already taken in this session")
	ErrInvalidNickname    = errors.New("nickname is required")
	ErrNoParticipants     = errors.New("no participants joined")
	ErrAlreadyAnswered    = errors.New("question already answered")
	// ErrNotActive covers eliminated/finished participants, finished sessions and stale questions.
	ErrNotActive       = errors.New("participant is not active on this question")
	ErrGameNotStarted  = errors.New("game has not started")
	ErrSessionFinished = errors.New("session already finished")

	// ErrCodeInUse is returned by session stores when a code is already held.
	ErrCodeInUse = errors.New("session code in use")
	// ErrCodeExhausted is returned when no free code was found after retries.
	ErrCodeExhausted = errors.New("could not allocate a session code")

	// ErrInvariant marks internal state that should never occur.
	ErrInvariant = errors.New("internal invariant violated")
)
