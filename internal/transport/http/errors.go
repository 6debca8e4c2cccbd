package http

import (
	"errors"
	"net/http"

	"livequiz-service/internal/domain"
)

type errorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrSessionNotFound, "SessionNotFound", http.StatusNotFound},
	{domain.ErrParticipantNotFound, "ParticipantNotFound", http.StatusNotFound},
	{domain.ErrQuizNotFound, "QuizNotFound", http.StatusNotFound},
	{domain.ErrQuestionNotFound, "QuestionNotFound", http.StatusNotFound},
	{domain.ErrInvalidQuiz, "InvalidQuiz", http.StatusUnprocessableEntity},
	{domain.ErrInvalidNickname, "InvalidNickname", http.StatusUnprocessableEntity},
	{domain.ErrOptionNotFound, "OptionNotFound", http.StatusUnprocessableEntity},
	{domain.ErrSessionNotJoinable, "SessionNotJoinable", http.StatusConflict},
	{domain.ErrDuplicateNickname, "DuplicateNickname", http.StatusConflict},
	{domain.ErrNoParticipants, "NoParticipants", http.StatusConflict},
	{domain.ErrAlreadyAnswered, "AlreadyAnswered", http.StatusConflict},
	{domain.ErrNotActive, "NotActive", http.StatusConflict},
	{domain.ErrGameNotStarted, "GameNotStarted", http.StatusConflict},
	{domain.ErrSessionFinished, "SessionFinished", http.StatusConflict},
	{domain.ErrCodeExhausted, "CodeExhausted", http.StatusServiceUnavailable},
}

// classify maps a service error to a stable error code and HTTP status.
func classify(err error) (string, int) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.status
		}
	}
	return "Internal", http.StatusInternalServerError
}

func toErrorPayload(err error) errorPayload {
	code, status := classify(err)
	if status == http.StatusInternalServerError {
		return errorPayload{Code: code, Message: "internal error"}
	}
	return errorPayload{Code: code, Message: err.Error()}
}
