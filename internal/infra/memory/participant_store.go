package memory

import (
	"context"
	"strings"
	"sync"

	"livequiz-service/internal/domain"
)

// ParticipantStore is an in-memory implementation of app.ParticipantRepository.
// Each participant has its own lock, so updates to different participants never contend.
type ParticipantStore struct {
	mu       sync.RWMutex
	sessions map[string]*roster
}

type roster struct {
	mu        sync.RWMutex
	seq       int64
	order     []*row
	byID      map[string]*row
	nicknames map[string]string
}

type row struct {
	mu sync.Mutex
	p  domain.Participant
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		sessions: make(map[string]*roster),
	}
}

func (s *ParticipantStore) roster(code string, create bool) *roster {
	s.mu.RLock()
	r, ok := s.sessions[code]
	s.mu.RUnlock()
	if ok || !create {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[code]; ok {
		return r
	}
	r = &roster{
		byID:      make(map[string]*row),
		nicknames: make(map[string]string),
	}
	s.sessions[code] = r
	return r
}

func nicknameKey(nickname string) string {
	return strings.ToLower(strings.TrimSpace(nickname))
}

func (s *ParticipantStore) Add(_ context.Context, p domain.Participant) (domain.Participant, error) {
	r := s.roster(p.SessionCode, true)
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nicknameKey(p.Nickname)
	if _, taken := r.nicknames[key]; taken {
		return domain.Participant{}, domain.ErrDuplicateNickname
	}
	r.seq++
	p.JoinSeq = r.seq
	stored := &row{p: p.Clone()}
	r.nicknames[key] = p.ID
	r.byID[p.ID] = stored
	r.order = append(r.order, stored)
	return p, nil
}

func (s *ParticipantStore) lookup(code, participantID string) (*row, error) {
	r := s.roster(code, false)
	if r == nil {
		return nil, domain.ErrParticipantNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.byID[participantID]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	return stored, nil
}

func (s *ParticipantStore) Get(_ context.Context, code, participantID string) (domain.Participant, error) {
	stored, err := s.lookup(code, participantID)
	if err != nil {
		return domain.Participant{}, err
	}
	stored.mu.Lock()
	defer stored.mu.Unlock()
	return stored.p.Clone(), nil
}

func (s *ParticipantStore) List(_ context.Context, code string) ([]domain.Participant, error) {
	r := s.roster(code, false)
	if r == nil {
		return []domain.Participant{}, nil
	}
	r.mu.RLock()
	rows := append([]*row(nil), r.order...)
	r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(rows))
	for _, stored := range rows {
		stored.mu.Lock()
		out = append(out, stored.p.Clone())
		stored.mu.Unlock()
	}
	return out, nil
}

func (s *ParticipantStore) Update(_ context.Context, code, participantID string, fn func(p *domain.Participant) error) (domain.Participant, error) {
	stored, err := s.lookup(code, participantID)
	if err != nil {
		return domain.Participant{}, err
	}
	stored.mu.Lock()
	defer stored.mu.Unlock()

	next := stored.p.Clone()
	if err := fn(&next); err != nil {
		return domain.Participant{}, err
	}
	stored.p = next
	return next.Clone(), nil
}
