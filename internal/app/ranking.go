package app

import (
	"sort"
	"time"

	"livequiz-service/internal/domain"
)

// SortRanked orders participants by score desc, total response time asc, then join order.
func SortRanked(participants []domain.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		a, b := participants[i], participants[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalResponseTimeMs != b.TotalResponseTimeMs {
			return a.TotalResponseTimeMs < b.TotalResponseTimeMs
		}
		if a.JoinSeq != b.JoinSeq {
			return a.JoinSeq < b.JoinSeq
		}
		return a.ID < b.ID
	})
}

// BuildLeaderboard expects participants already sorted by SortRanked.
func BuildLeaderboard(session domain.QuizSession, ranked []domain.Participant, at time.Time) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(ranked))
	for i, p := range ranked {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:                i + 1,
			ParticipantID:       p.ID,
			Nickname:            p.Nickname,
			Score:               p.Score,
			TotalResponseTimeMs: p.TotalResponseTimeMs,
			ProgressIndex:       p.ProgressIndex,
			Status:              p.Status,
		})
	}
	return domain.Leaderboard{
		SessionCode: session.Code,
		Status:      session.Status,
		Entries:     entries,
		UpdatedAt:   at,
	}
}
