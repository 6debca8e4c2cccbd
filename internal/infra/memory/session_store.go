package memory

import (
	"context"
	"sync"
	"time"

	"livequiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.QuizSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.QuizSession),
	}
}

// Create holds the code for the lifetime of the process, including after the session finished.
func (s *SessionStore) Create(_ context.Context, session domain.QuizSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Code]; ok {
		return domain.ErrCodeInUse
	}
	s.sessions[session.Code] = session
	return nil
}

func (s *SessionStore) Get(_ context.Context, code string) (domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Transition(_ context.Context, code string, from, to domain.SessionStatus, at time.Time) (domain.QuizSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[code]
	if !ok {
		return domain.QuizSession{}, false, domain.ErrSessionNotFound
	}
	if session.Status != from || !from.CanTransition(to) {
		return session, false, nil
	}
	session.Status = to
	switch to {
	case domain.SessionInProgress:
		session.StartedAt = &at
	case domain.SessionFinished:
		session.FinishedAt = &at
	}
	s.sessions[code] = session
	return session, true, nil
}
