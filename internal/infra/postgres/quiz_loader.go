package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"livequiz-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader reads quiz documents from the quizzes table. Each row holds the whole quiz
// (title, ordered questions, options, answer key) as JSONB.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

// LoadQuiz returns domain.ErrQuizNotFound for unknown IDs and domain.ErrInvalidQuiz for
// stored documents that cannot be played.
func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id = $1`, quizID).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Quiz{}, domain.ErrQuizNotFound
	case err != nil:
		return domain.Quiz{}, fmt.Errorf("query quiz %s: %w", quizID, err)
	}

	quiz, err := decodeQuiz(quizID, raw)
	if err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func decodeQuiz(quizID string, raw []byte) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: decode quiz %s: %v", domain.ErrInvalidQuiz, quizID, err)
	}
	// The row key wins over whatever the document says.
	quiz.ID = quizID
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}
