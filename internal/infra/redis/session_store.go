package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"livequiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 50

// SessionStore keeps quiz sessions in Redis so any instance can serve a session code.
// Sessions are stored as JSON under quiz:session:{code} and expire after ttl.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// Create holds the code until the key expires, including after the session finished.
func (s *SessionStore) Create(ctx context.Context, session domain.QuizSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.Code), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return domain.ErrCodeInUse
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, code string) (domain.QuizSession, error) {
	return getSession(ctx, s.client, code)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getSession(ctx context.Context, c getter, code string) (domain.QuizSession, error) {
	data, err := c.Get(ctx, sessionKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.QuizSession
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.QuizSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

// Transition is a compare-and-set guarded by WATCH on the session key.
func (s *SessionStore) Transition(ctx context.Context, code string, from, to domain.SessionStatus, at time.Time) (domain.QuizSession, bool, error) {
	key := sessionKey(code)
	var (
		result  domain.QuizSession
		applied bool
	)
	txf := func(tx *redis.Tx) error {
		session, err := getSession(ctx, tx, code)
		if err != nil {
			return err
		}
		result, applied = session, false
		if session.Status != from || !from.CanTransition(to) {
			return nil
		}
		session.Status = to
		switch to {
		case domain.SessionInProgress:
			session.StartedAt = &at
		case domain.SessionFinished:
			session.FinishedAt = &at
		}
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		result, applied = session, true
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.QuizSession{}, false, err
		}
		return result, applied, nil
	}
	return domain.QuizSession{}, false, fmt.Errorf("transition session %s: %w", code, redis.TxFailedErr)
}

func sessionKey(code string) string {
	return "quiz:session:" + code
}
