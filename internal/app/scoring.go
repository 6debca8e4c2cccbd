package app

import (
	"fmt"

	"livequiz-service/internal/domain"
)

// ScoringPolicy holds the tunable scoring and elimination parameters.
type ScoringPolicy struct {
	// BasePoints is awarded for an instant correct answer, decaying linearly to MinPoints at the timer budget.
	BasePoints int
	// MinPoints is the floor for any correct answer inside the budget.
	MinPoints int
	// MaxWrongAnswers eliminates a participant once reached. Zero disables elimination.
	MaxWrongAnswers int
}

// DefaultScoringPolicy is survival mode: one wrong answer ends the run.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		BasePoints:      1000,
		MinPoints:       10,
		MaxWrongAnswers: 1,
	}
}

func (p ScoringPolicy) normalized() ScoringPolicy {
	if p.BasePoints <= 0 {
		p.BasePoints = DefaultScoringPolicy().BasePoints
	}
	if p.MinPoints <= 0 {
		p.MinPoints = 1
	}
	if p.MinPoints > p.BasePoints {
		p.MinPoints = p.BasePoints
	}
	if p.MaxWrongAnswers < 0 {
		p.MaxWrongAnswers = 0
	}
	return p
}

// Points returns the points for a correct answer given after responseTimeMs.
// The second result is false when the answer came after the timer budget.
func (p ScoringPolicy) Points(base, timerSeconds int, responseTimeMs int64) (int, bool) {
	p = p.normalized()
	if base <= 0 {
		base = p.BasePoints
	}
	minPoints := p.MinPoints
	if minPoints > base {
		minPoints = base
	}
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	if timerSeconds <= 0 {
		return base, true
	}

	budget := int64(timerSeconds) * 1000
	if responseTimeMs > budget {
		return 0, false
	}
	points := int(int64(base) * (budget - responseTimeMs) / budget)
	if points < minPoints {
		points = minPoints
	}
	return points, true
}

// QuestionTimer resolves the timer for a question, falling back to the session limit.
func QuestionTimer(q domain.Question, sessionLimitSeconds int) int {
	if q.TimerSeconds > 0 {
		return q.TimerSeconds
	}
	return sessionLimitSeconds
}

// Evaluate scores one answer against the participant's current position and applies the
// outcome to participant. participant is left untouched when an error is returned.
func (p ScoringPolicy) Evaluate(participant *domain.Participant, quiz domain.Quiz, answer domain.AnswerEvent, sessionLimitSeconds int) (domain.AnswerResult, error) {
	p = p.normalized()

	if participant.Status != domain.ParticipantActive {
		return domain.AnswerResult{}, fmt.Errorf("%w: participant is %s", domain.ErrNotActive, participant.Status)
	}

	index := quiz.IndexOf(answer.QuestionID)
	if index < 0 {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}
	question := quiz.Questions[index]
	if participant.HasAnswered(question.ID) {
		return domain.AnswerResult{}, domain.ErrAlreadyAnswered
	}
	if index != participant.ProgressIndex {
		return domain.AnswerResult{}, fmt.Errorf("%w: expected question %d, got %d", domain.ErrNotActive, participant.ProgressIndex, index)
	}
	if answer.SelectedOptionID != "" && !question.HasOption(answer.SelectedOptionID) {
		return domain.AnswerResult{}, domain.ErrOptionNotFound
	}

	responseTime := answer.ResponseTimeMs
	if responseTime < 0 {
		responseTime = 0
	}

	earned := 0
	correct := answer.SelectedOptionID != "" && answer.SelectedOptionID == question.CorrectOptionID
	if correct {
		var inBudget bool
		earned, inBudget = p.Points(question.Points, QuestionTimer(question, sessionLimitSeconds), responseTime)
		if !inBudget {
			correct = false
			earned = 0
		}
	}

	participant.Score += earned
	participant.TotalResponseTimeMs += responseTime
	participant.ProgressIndex++
	participant.Answered = append(participant.Answered, question.ID)

	outcome := domain.OutcomeCorrect
	if !correct {
		participant.WrongAnswers++
		outcome = domain.OutcomeWrong
		if p.MaxWrongAnswers > 0 && participant.WrongAnswers >= p.MaxWrongAnswers {
			participant.Status = domain.ParticipantEliminated
			outcome = domain.OutcomeEliminated
		}
	}
	if participant.Status == domain.ParticipantActive && participant.ProgressIndex >= len(quiz.Questions) {
		participant.Status = domain.ParticipantFinished
	}

	return domain.AnswerResult{
		QuestionID:          question.ID,
		Outcome:             outcome,
		PointsEarned:        earned,
		Score:               participant.Score,
		TotalResponseTimeMs: participant.TotalResponseTimeMs,
		ProgressIndex:       participant.ProgressIndex,
		ParticipantStatus:   participant.Status,
	}, nil
}
