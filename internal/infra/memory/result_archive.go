package memory

import (
	"context"
	"sync"

	"livequiz-service/internal/domain"
)

// ResultArchive keeps final leaderboards in memory (useful for tests/demos).
type ResultArchive struct {
	mu      sync.RWMutex
	results map[string]domain.Leaderboard
}

func NewResultArchive() *ResultArchive {
	return &ResultArchive{results: make(map[string]domain.Leaderboard)}
}

func (a *ResultArchive) SaveResults(_ context.Context, session domain.QuizSession, board domain.Leaderboard) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[session.Code] = board
	return nil
}

func (a *ResultArchive) Results(code string) (domain.Leaderboard, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	board, ok := a.results[code]
	return board, ok
}
