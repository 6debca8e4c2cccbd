package postgres

import (
	"context"
	"fmt"
	"time"

	"livequiz-service/internal/domain"

	"github.com/uptrace/bun"
)

// QuizResult is one participant's final standing in a finished session.
type QuizResult struct {
	bun.BaseModel `bun:"table:quiz_results"`

	SessionCode         string    `bun:"session_code,pk"`
	ParticipantID       string    `bun:"participant_id,pk"`
	QuizID              string    `bun:"quiz_id,notnull"`
	Nickname            string    `bun:"nickname,notnull"`
	Rank                int       `bun:"rank,notnull"`
	Score               int       `bun:"score,notnull"`
	TotalResponseTimeMs int64     `bun:"total_response_time_ms,notnull"`
	ProgressIndex       int       `bun:"progress_index,notnull"`
	Status              string    `bun:"status,notnull"`
	FinishedAt          time.Time `bun:"finished_at,notnull"`
}

// ResultArchive writes final rankings to the quiz_results table.
type ResultArchive struct {
	db *bun.DB
}

func NewResultArchive(db *bun.DB) *ResultArchive {
	return &ResultArchive{db: db}
}

func (a *ResultArchive) SaveResults(ctx context.Context, session domain.QuizSession, board domain.Leaderboard) error {
	if len(board.Entries) == 0 {
		return nil
	}
	finishedAt := board.UpdatedAt
	if session.FinishedAt != nil {
		finishedAt = *session.FinishedAt
	}

	rows := make([]QuizResult, 0, len(board.Entries))
	for _, e := range board.Entries {
		rows = append(rows, QuizResult{
			SessionCode:         session.Code,
			ParticipantID:       e.ParticipantID,
			QuizID:              session.QuizID,
			Nickname:            e.Nickname,
			Rank:                e.Rank,
			Score:               e.Score,
			TotalResponseTimeMs: e.TotalResponseTimeMs,
			ProgressIndex:       e.ProgressIndex,
			Status:              string(e.Status),
			FinishedAt:          finishedAt,
		})
	}

	_, err := a.db.NewInsert().
		Model(&rows).
		On("CONFLICT (session_code, participant_id) DO UPDATE").
		Set("rank = EXCLUDED.rank").
		Set("score = EXCLUDED.score").
		Set("total_response_time_ms = EXCLUDED.total_response_time_ms").
		Set("progress_index = EXCLUDED.progress_index").
		Set("status = EXCLUDED.status").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save results for %s: %w", session.Code, err)
	}
	return nil
}

// Results returns the archived standings of a session ordered by rank.
func (a *ResultArchive) Results(ctx context.Context, code string) ([]QuizResult, error) {
	var rows []QuizResult
	err := a.db.NewSelect().
		Model(&rows).
		Where("session_code = ?", code).
		OrderExpr("rank ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load results for %s: %w", code, err)
	}
	return rows, nil
}
