package services

import (
	"sort"

	"trivialive/models"
)

// RankPlayers returns a new slice with players ordered by score descending,
// ties broken by correct answers descending, then by earlier join time. The
// input slice is left untouched.
func RankPlayers(players []*models.Player) []*models.Player {
	ranked := make([]*models.Player, len(players))
	copy(ranked, players)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})

	return ranked
}
