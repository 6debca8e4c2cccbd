package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"livequiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// ParticipantStore keeps each participant under its own key so that optimistic
// transactions on one participant never conflict with another.
//
//	quiz:session:{code}:participants          list of IDs in join order
//	quiz:session:{code}:participant:{id}      participant JSON
//	quiz:session:{code}:nicknames             hash lower(nickname) -> id
//	quiz:session:{code}:seq                   join sequence counter
type ParticipantStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewParticipantStore(client *redis.Client, ttl time.Duration) *ParticipantStore {
	return &ParticipantStore{client: client, ttl: ttl}
}

func (s *ParticipantStore) Add(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	code := p.SessionCode
	nickname := strings.ToLower(strings.TrimSpace(p.Nickname))

	ok, err := s.client.HSetNX(ctx, nicknamesKey(code), nickname, p.ID).Result()
	if err != nil {
		return domain.Participant{}, fmt.Errorf("reserve nickname: %w", err)
	}
	if !ok {
		return domain.Participant{}, domain.ErrDuplicateNickname
	}

	seq, err := s.client.Incr(ctx, seqKey(code)).Result()
	if err != nil {
		return domain.Participant{}, s.releaseNickname(ctx, code, nickname, fmt.Errorf("join sequence: %w", err))
	}
	p.JoinSeq = seq

	data, err := json.Marshal(p)
	if err != nil {
		return domain.Participant{}, s.releaseNickname(ctx, code, nickname, fmt.Errorf("marshal participant: %w", err))
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, participantKey(code, p.ID), data, s.ttl)
		pipe.RPush(ctx, participantsKey(code), p.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, participantsKey(code), s.ttl)
			pipe.Expire(ctx, nicknamesKey(code), s.ttl)
			pipe.Expire(ctx, seqKey(code), s.ttl)
		}
		return nil
	})
	if err != nil {
		return domain.Participant{}, s.releaseNickname(ctx, code, nickname, fmt.Errorf("store participant: %w", err))
	}
	return p, nil
}

// releaseNickname frees a nickname reserved by a join that did not complete and returns cause.
func (s *ParticipantStore) releaseNickname(ctx context.Context, code, nickname string, cause error) error {
	if err := s.client.HDel(context.WithoutCancel(ctx), nicknamesKey(code), nickname).Err(); err != nil {
		return errors.Join(cause, fmt.Errorf("release nickname %q: %w", nickname, err))
	}
	return cause
}

func (s *ParticipantStore) Get(ctx context.Context, code, participantID string) (domain.Participant, error) {
	return getParticipant(ctx, s.client, code, participantID)
}

func getParticipant(ctx context.Context, c getter, code, participantID string) (domain.Participant, error) {
	data, err := c.Get(ctx, participantKey(code, participantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Participant{}, fmt.Errorf("unmarshal participant: %w", err)
	}
	return p, nil
}

func (s *ParticipantStore) List(ctx context.Context, code string) ([]domain.Participant, error) {
	ids, err := s.client.LRange(ctx, participantsKey(code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(code, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Participant keys outlive the session key, so a listed ID without a record is corruption.
			return nil, fmt.Errorf("%w: participant %s of session %s is listed but has no record", domain.ErrInvariant, ids[i], code)
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("unmarshal participant: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Update runs fn inside a WATCH/MULTI transaction on the participant key, retrying on conflict.
func (s *ParticipantStore) Update(ctx context.Context, code, participantID string, fn func(p *domain.Participant) error) (domain.Participant, error) {
	key := participantKey(code, participantID)
	var result domain.Participant
	txf := func(tx *redis.Tx) error {
		p, err := getParticipant(ctx, tx, code, participantID)
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		result = p
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Participant{}, err
		}
		return result, nil
	}
	return domain.Participant{}, fmt.Errorf("update participant %s: %w", participantID, redis.TxFailedErr)
}

func participantsKey(code string) string {
	return sessionKey(code) + ":participants"
}

func participantKey(code, participantID string) string {
	return sessionKey(code) + ":participant:" + participantID
}

func nicknamesKey(code string) string {
	return sessionKey(code) + ":nicknames"
}

func seqKey(code string) string {
	return sessionKey(code) + ":seq"
}
