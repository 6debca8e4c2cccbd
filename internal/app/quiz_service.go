package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/logger"
	"livequiz-service/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SessionRepository abstracts how quiz sessions are stored (in-memory, Redis, etc).
type SessionRepository interface {
	// Create stores a new session. It fails with domain.ErrCodeInUse if the code is held.
	Create(ctx context.Context, session domain.QuizSession) error
	Get(ctx context.Context, code string) (domain.QuizSession, error)
	// Transition moves the session from one status to the next atomically. The bool is false,
	// with the current session returned, when the session was not in status from.
	Transition(ctx context.Context, code string, from, to domain.SessionStatus, at time.Time) (domain.QuizSession, bool, error)
}

// ParticipantRepository stores participants of a session. Updates to one participant are serialized.
type ParticipantRepository interface {
	// Add registers p, assigning its join sequence. Nicknames are unique per session.
	Add(ctx context.Context, p domain.Participant) (domain.Participant, error)
	Get(ctx context.Context, code, participantID string) (domain.Participant, error)
	// List returns participants in join order.
	List(ctx context.Context, code string) ([]domain.Participant, error)
	// Update applies fn to the stored participant. Nothing is written when fn fails.
	// fn may be invoked more than once and must only depend on its argument.
	Update(ctx context.Context, code, participantID string, fn func(p *domain.Participant) error) (domain.Participant, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ResultArchive persists the final ranking of a finished session.
type ResultArchive interface {
	SaveResults(ctx context.Context, session domain.QuizSession, board domain.Leaderboard) error
}

const codeAttempts = 16

// QuizService orchestrates live quiz sessions.
type QuizService struct {
	sessions     SessionRepository
	participants ParticipantRepository
	quizzes      QuizRepository
	events       Broadcaster
	archive      ResultArchive
	policy       ScoringPolicy
	codes        CodeGenerator
	now          func() time.Time
	log          *slog.Logger
}

// Option customizes a QuizService.
type Option func(*QuizService)

func WithScoringPolicy(policy ScoringPolicy) Option {
	return func(s *QuizService) { s.policy = policy.normalized() }
}

func WithResultArchive(archive ResultArchive) Option {
	return func(s *QuizService) { s.archive = archive }
}

func WithCodeGenerator(codes CodeGenerator) Option {
	return func(s *QuizService) { s.codes = codes }
}

// WithClock is mainly for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *QuizService) { s.log = l }
}

func NewQuizService(sessions SessionRepository, participants ParticipantRepository, quizzes QuizRepository, events Broadcaster, opts ...Option) *QuizService {
	s := &QuizService{
		sessions:     sessions,
		participants: participants,
		quizzes:      quizzes,
		events:       events,
		policy:       DefaultScoringPolicy(),
		codes:        NumericCodes(6),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.With("component", "quiz_service")
	}
	return s
}

// CreateSession opens a new waiting session for quizID.
func (s *QuizService) CreateSession(ctx context.Context, quizID string, timeLimitSeconds int) (domain.QuizSession, error) {
	if timeLimitSeconds < 0 {
		return domain.QuizSession{}, fmt.Errorf("%w: negative time limit", domain.ErrInvalidQuiz)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if err := quiz.Validate(); err != nil {
		return domain.QuizSession{}, err
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		session := domain.QuizSession{
			Code:             s.codes(),
			QuizID:           quizID,
			Status:           domain.SessionWaiting,
			TimeLimitSeconds: timeLimitSeconds,
			CreatedAt:        s.now(),
		}
		err := s.sessions.Create(ctx, session)
		if errors.Is(err, domain.ErrCodeInUse) {
			continue
		}
		if err != nil {
			return domain.QuizSession{}, fmt.Errorf("create session: %w", err)
		}
		metrics.SessionsCreated.Inc()
		s.log.Info("session created", "code", session.Code, "quiz_id", quizID, "time_limit", timeLimitSeconds)
		return session, nil
	}
	return domain.QuizSession{}, domain.ErrCodeExhausted
}

// GetSession returns the current session record.
func (s *QuizService) GetSession(ctx context.Context, code string) (domain.QuizSession, error) {
	return s.sessions.Get(ctx, code)
}

// Join registers a participant in a session that is not finished.
func (s *QuizService) Join(ctx context.Context, code, nickname, realName, phone string) (domain.Participant, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return domain.Participant{}, domain.ErrInvalidNickname
	}

	session, err := s.sessions.Get(ctx, code)
	if err != nil {
		return domain.Participant{}, err
	}
	if session.Status == domain.SessionFinished {
		return domain.Participant{}, domain.ErrSessionNotJoinable
	}

	now := s.now()
	participant, err := s.participants.Add(ctx, domain.Participant{
		ID:          uuid.NewString(),
		SessionCode: code,
		Nickname:    nickname,
		RealName:    strings.TrimSpace(realName),
		Phone:       strings.TrimSpace(phone),
		Status:      domain.ParticipantActive,
		JoinedAt:    now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Participant{}, err
	}

	metrics.ParticipantsJoined.Inc()
	s.log.Info("participant joined", "code", code, "participant_id", participant.ID, "nickname", nickname)
	s.publish(ctx, code, domain.PlayerJoined{Participant: participant})
	return participant, nil
}

// StartGame moves a waiting session with at least one participant to in_progress.
// Calling it on a session already in progress is a no-op.
func (s *QuizService) StartGame(ctx context.Context, code string) error {
	session, err := s.sessions.Get(ctx, code)
	if err != nil {
		return err
	}
	switch session.Status {
	case domain.SessionInProgress:
		return nil
	case domain.SessionFinished:
		return domain.ErrSessionFinished
	}

	participants, err := s.participants.List(ctx, code)
	if err != nil {
		return err
	}
	if len(participants) == 0 {
		return domain.ErrNoParticipants
	}

	for _, p := range participants {
		if _, err := s.participants.Update(ctx, code, p.ID, resetParticipant(s.now())); err != nil {
			return s.invariant(code, p.ID, err)
		}
	}

	now := s.now()
	current, applied, err := s.sessions.Transition(ctx, code, domain.SessionWaiting, domain.SessionInProgress, now)
	if err != nil {
		return err
	}
	if !applied {
		if current.Status == domain.SessionInProgress {
			return nil
		}
		return domain.ErrSessionFinished
	}

	metrics.SessionTransitions.WithLabelValues(string(domain.SessionInProgress)).Inc()
	s.log.Info("game started", "code", code, "participants", len(participants))
	s.publish(ctx, code, domain.GameStarted{StartedAt: now})
	return nil
}

// resetParticipant never touches a participant that already answered, so a concurrent
// StartGame cannot rewind progress made after the session went live.
func resetParticipant(now time.Time) func(p *domain.Participant) error {
	return func(p *domain.Participant) error {
		if len(p.Answered) > 0 {
			return nil
		}
		p.ProgressIndex = 0
		p.Status = domain.ParticipantActive
		p.Score = 0
		p.TotalResponseTimeMs = 0
		p.WrongAnswers = 0
		p.Answered = nil
		p.UpdatedAt = now
		return nil
	}
}

// SubmitAnswer scores an answer for the participant's current question.
func (s *QuizService) SubmitAnswer(ctx context.Context, code string, answer domain.AnswerEvent) (domain.AnswerResult, error) {
	session, err := s.sessions.Get(ctx, code)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if session.Status != domain.SessionInProgress {
		metrics.AnswersRejected.WithLabelValues("session_" + string(session.Status)).Inc()
		return domain.AnswerResult{}, fmt.Errorf("%w: session is %s", domain.ErrNotActive, session.Status)
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	var result domain.AnswerResult
	updated, err := s.participants.Update(ctx, code, answer.ParticipantID, func(p *domain.Participant) error {
		r, err := s.policy.Evaluate(p, quiz, answer, session.TimeLimitSeconds)
		if err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		result = r
		return nil
	})
	if err != nil {
		metrics.AnswersRejected.WithLabelValues(rejectReason(err)).Inc()
		return domain.AnswerResult{}, err
	}

	metrics.Answers.WithLabelValues(string(result.Outcome)).Inc()
	s.publish(ctx, code, domain.AnswerSubmitted{
		ParticipantID:  updated.ID,
		QuestionID:     result.QuestionID,
		Outcome:        result.Outcome,
		PointsEarned:   result.PointsEarned,
		ResponseTimeMs: answer.ResponseTimeMs,
		Score:          updated.Score,
		ProgressIndex:  updated.ProgressIndex,
		Status:         updated.Status,
	})

	if updated.Status.Terminal() {
		if err := s.finishIfAllTerminal(ctx, code); err != nil {
			s.log.Error("auto finish failed", "code", code, "error", err)
		}
	}
	return result, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotActive):
		return "not_active"
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return "already_answered"
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "unknown_participant"
	case errors.Is(err, domain.ErrQuestionNotFound), errors.Is(err, domain.ErrOptionNotFound):
		return "invalid_answer"
	default:
		return "error"
	}
}

func (s *QuizService) finishIfAllTerminal(ctx context.Context, code string) error {
	participants, err := s.participants.List(ctx, code)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if !p.Status.Terminal() {
			return nil
		}
	}
	return s.finish(ctx, code, "all participants done")
}

// GetCurrentQuestionFor is a side-effect free snapshot of what the participant should see.
func (s *QuizService) GetCurrentQuestionFor(ctx context.Context, code, participantID string) (domain.CurrentQuestion, error) {
	session, err := s.sessions.Get(ctx, code)
	if err != nil {
		return domain.CurrentQuestion{}, err
	}
	participant, err := s.participants.Get(ctx, code, participantID)
	if err != nil {
		return domain.CurrentQuestion{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.CurrentQuestion{}, err
	}

	current := domain.CurrentQuestion{
		Index: participant.ProgressIndex,
		Total: len(quiz.Questions),
		Score: participant.Score,
	}
	switch {
	case session.Status == domain.SessionWaiting:
		current.Status = domain.CurrentWaitingHost
	case participant.Status == domain.ParticipantEliminated:
		current.Status = domain.CurrentEliminated
	case session.Status == domain.SessionFinished,
		participant.Status == domain.ParticipantFinished,
		participant.ProgressIndex >= len(quiz.Questions):
		current.Status = domain.CurrentFinished
	default:
		question := quiz.Questions[participant.ProgressIndex]
		view := question.View()
		current.Status = domain.CurrentActive
		current.Question = &view
		current.TimerSeconds = QuestionTimer(question, session.TimeLimitSeconds)
	}
	return current, nil
}

// GetRanked returns participants ordered by score desc, total response time asc, join order.
func (s *QuizService) GetRanked(ctx context.Context, code string) ([]domain.Participant, error) {
	if _, err := s.sessions.Get(ctx, code); err != nil {
		return nil, err
	}
	participants, err := s.participants.List(ctx, code)
	if err != nil {
		return nil, err
	}
	SortRanked(participants)
	return participants, nil
}

// Leaderboard is GetRanked with rank numbers, as shown to hosts.
func (s *QuizService) Leaderboard(ctx context.Context, code string) (domain.Leaderboard, error) {
	session, err := s.sessions.Get(ctx, code)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	participants, err := s.participants.List(ctx, code)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	SortRanked(participants)
	return BuildLeaderboard(session, participants, s.now()), nil
}

// FinishGame ends an in-progress session regardless of participant progress.
// Finishing an already finished session is a no-op.
func (s *QuizService) FinishGame(ctx context.Context, code string) error {
	return s.finish(ctx, code, "host")
}

func (s *QuizService) finish(ctx context.Context, code, reason string) error {
	session, err := s.sessions.Get(ctx, code)
	if err != nil {
		return err
	}
	switch session.Status {
	case domain.SessionWaiting:
		return domain.ErrGameNotStarted
	case domain.SessionFinished:
		return nil
	}

	// Seal before the status flips: an evaluation holding a participant's lock commits before
	// the session is finished, and any later one finds the participant terminal.
	now := s.now()
	if err := s.sealParticipants(ctx, code, now); err != nil {
		return err
	}
	session, applied, err := s.sessions.Transition(ctx, code, domain.SessionInProgress, domain.SessionFinished, now)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	metrics.SessionTransitions.WithLabelValues(string(domain.SessionFinished)).Inc()

	// Participants who joined between the seal and the transition.
	if err := s.sealParticipants(ctx, code, now); err != nil {
		return err
	}

	s.log.Info("game finished", "code", code, "reason", reason)
	s.publish(ctx, code, domain.GameFinished{FinishedAt: now})

	if s.archive != nil {
		board, err := s.Leaderboard(ctx, code)
		if err == nil {
			err = s.archive.SaveResults(ctx, session, board)
		}
		if err != nil {
			s.log.Error("archive results failed", "code", code, "error", err)
		}
	}
	return nil
}

// sealParticipants marks every still-active participant finished through Update, so it waits
// for any evaluation in flight on that participant.
func (s *QuizService) sealParticipants(ctx context.Context, code string, now time.Time) error {
	participants, err := s.participants.List(ctx, code)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, p := range participants {
		if p.Status.Terminal() {
			continue
		}
		id := p.ID
		g.Go(func() error {
			_, err := s.participants.Update(gctx, code, id, func(p *domain.Participant) error {
				if p.Status == domain.ParticipantActive {
					p.Status = domain.ParticipantFinished
					p.UpdatedAt = now
				}
				return nil
			})
			if err != nil {
				return s.invariant(code, id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Subscribe joins the event channel of a session.
func (s *QuizService) Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error) {
	if _, err := s.sessions.Get(ctx, code); err != nil {
		return nil, nil, err
	}
	return s.events.Subscribe(ctx, code)
}

func (s *QuizService) publish(ctx context.Context, code string, ev domain.Event) {
	if err := s.events.Publish(ctx, code, ev); err != nil {
		metrics.BroadcastFailures.WithLabelValues("service").Inc()
		s.log.Warn("publish event failed", "code", code, "type", ev.Type(), "error", err)
	}
}

func (s *QuizService) invariant(code, participantID string, err error) error {
	if errors.Is(err, domain.ErrParticipantNotFound) {
		s.log.Error("listed participant missing", "code", code, "participant_id", participantID)
		return fmt.Errorf("%w: participant %s of session %s vanished", domain.ErrInvariant, participantID, code)
	}
	return err
}
