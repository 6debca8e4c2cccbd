package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a quiz session. It only moves forward.
type SessionStatus string

const (
	SessionWaiting    SessionStatus = "waiting"
	SessionInProgress SessionStatus = "in_progress"
	SessionFinished   SessionStatus = "finished"
)

// CanTransition reports whether moving from s to next is a legal forward step.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionWaiting:
		return next == SessionInProgress
	case SessionInProgress:
		return next == SessionFinished
	default:
		return false
	}
}

// QuizSession is one run of a quiz, addressed by its join code.
type QuizSession struct {
	Code             string        `json:"code"`
	QuizID           string        `json:"quizId"`
	Status           SessionStatus `json:"status"`
	TimeLimitSeconds int           `json:"timeLimitSeconds"`
	CreatedAt        time.Time     `json:"createdAt"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
	FinishedAt       *time.Time    `json:"finishedAt,omitempty"`
}

// ParticipantStatus is the per-participant progression state.
type ParticipantStatus string

const (
	ParticipantActive     ParticipantStatus = "active"
	ParticipantEliminated ParticipantStatus = "eliminated"
	ParticipantFinished   ParticipantStatus = "finished"
)

// Terminal reports whether no further answers may be accepted.
func (s ParticipantStatus) Terminal() bool {
	return s == ParticipantEliminated || s == ParticipantFinished
}

// Participant represents a quiz participant and their accumulated score.
type Participant struct {
	ID                  string            `json:"id"`
	SessionCode         string            `json:"sessionCode"`
	Nickname            string            `json:"nickname"`
	RealName            string            `json:"realName,omitempty"`
	Phone               string            `json:"phone,omitempty"`
	Score               int               `json:"score"`
	TotalResponseTimeMs int64             `json:"totalResponseTimeMs"`
	ProgressIndex       int               `json:"progressIndex"`
	Status              ParticipantStatus `json:"status"`
	WrongAnswers        int               `json:"wrongAnswers"`
	// Answered holds the question IDs already scored for this participant.
	Answered  []string  `json:"answered,omitempty"`
	JoinSeq   int64     `json:"joinSeq"`
	JoinedAt  time.Time `json:"joinedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasAnswered reports whether questionID was already scored.
func (p *Participant) HasAnswered(questionID string) bool {
	for _, id := range p.Answered {
		if id == questionID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with p.
func (p Participant) Clone() Participant {
	if p.Answered != nil {
		p.Answered = append([]string(nil), p.Answered...)
	}
	return p
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	Rank                int               `json:"rank"`
	ParticipantID       string            `json:"participantId"`
	Nickname            string            `json:"nickname"`
	Score               int               `json:"score"`
	TotalResponseTimeMs int64             `json:"totalResponseTimeMs"`
	ProgressIndex       int               `json:"progressIndex"`
	Status              ParticipantStatus `json:"status"`
}

// Leaderboard captures the ordered scoreboard for a quiz session.
type Leaderboard struct {
	SessionCode string             `json:"sessionCode"`
	Status      SessionStatus      `json:"status"`
	Entries     []LeaderboardEntry `json:"entries"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// AnswerEvent models the scoring signal from clients.
type AnswerEvent struct {
	ParticipantID    string `json:"participantId"`
	QuestionID       string `json:"questionId"`
	SelectedOptionID string `json:"optionId"`
	ResponseTimeMs   int64  `json:"responseTimeMs"`
}

// AnswerOutcome tags the result of a scored answer.
type AnswerOutcome string

const (
	OutcomeCorrect    AnswerOutcome = "correct"
	OutcomeWrong      AnswerOutcome = "wrong"
	OutcomeEliminated AnswerOutcome = "eliminated"
)

// AnswerResult summarizes the outcome of a submission for a single participant.
type AnswerResult struct {
	QuestionID          string            `json:"questionId"`
	Outcome             AnswerOutcome     `json:"status"`
	PointsEarned        int               `json:"pointsEarned"`
	Score               int               `json:"score"`
	TotalResponseTimeMs int64             `json:"totalResponseTimeMs"`
	ProgressIndex       int               `json:"progressIndex"`
	ParticipantStatus   ParticipantStatus `json:"participantStatus"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID              string   `json:"id"`
	Text            string   `json:"text"`
	Options         []Option `json:"options"`
	CorrectOptionID string   `json:"correctOptionId"`
	TimerSeconds    int      `json:"timerSeconds,omitempty"` // overrides the session time limit when > 0
	Points          int      `json:"points,omitempty"`       // overrides the scoring base points when > 0
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// View strips the answer key so the question can be sent to participants.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:      q.ID,
		Text:    q.Text,
		Options: append([]Option(nil), q.Options...),
	}
}

// QuestionView is a question as shown to participants.
type QuestionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// Validate checks that the quiz can be played: at least one question, unique question IDs, and
// a correct option that is one of the question's options.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: quiz %q has no questions", ErrInvalidQuiz, q.ID)
	}
	seen := make(map[string]struct{}, len(q.Questions))
	for i, question := range q.Questions {
		if question.ID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidQuiz, i)
		}
		if _, dup := seen[question.ID]; dup {
			return fmt.Errorf("%w: duplicate question %q", ErrInvalidQuiz, question.ID)
		}
		seen[question.ID] = struct{}{}
		if !question.HasOption(question.CorrectOptionID) {
			return fmt.Errorf("%w: question %q has no valid correct option", ErrInvalidQuiz, question.ID)
		}
	}
	return nil
}

// IndexOf returns the position of questionID or -1.
func (q Quiz) IndexOf(questionID string) int {
	for i := range q.Questions {
		if q.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}

// CurrentQuestionStatus tells a participant what to render next.
type CurrentQuestionStatus string

const (
	CurrentWaitingHost CurrentQuestionStatus = "waiting_host"
	CurrentActive      CurrentQuestionStatus = "active"
	CurrentEliminated  CurrentQuestionStatus = "eliminated"
	CurrentFinished    CurrentQuestionStatus = "finished"
)

// CurrentQuestion is the pull-style snapshot a participant uses to resynchronize.
type CurrentQuestion struct {
	Status       CurrentQuestionStatus `json:"status"`
	Question     *QuestionView         `json:"question,omitempty"`
	Index        int                   `json:"index"`
	Total        int                   `json:"total"`
	TimerSeconds int                   `json:"timerSeconds"`
	Score        int                   `json:"score"`
}
