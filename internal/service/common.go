package service

import (
	"math/rand"

	"nightfall-server/internal/models"
)

// buildVoteCounts turns a raw choice->count map into the ordered slice served
// to clients, covering every choice the chapter offers (zero counts
// included). Ordering follows the chapter's choice order so results are
// stable for ranking and tie-break.
func buildVoteCounts(chapter *models.Chapter, raw map[string]int64) ([]models.VoteCount, int64) {
	var total int64
	for _, choice := range chapter.Choices {
		total += raw[choice.ID]
	}
	counts := make([]models.VoteCount, 0, len(chapter.Choices))
	for _, choice := range chapter.Choices {
		n := raw[choice.ID]
		counts = append(counts, models.VoteCount{
			ChoiceID:   choice.ID,
			Count:      n,
			Percentage: percentage(n, total),
		})
	}
	return counts, total
}

// percentage computes round-half-up(count/total*100) in integer arithmetic.
// A zero total yields zero for every choice.
func percentage(count, total int64) int {
	if total == 0 {
		return 0
	}
	return int((200*count + total) / (2 * total))
}

// pickWinner ranks choices by count descending. A tie exists when two or
// more choices share the maximum non-zero count; the tie-break policy is
// uniform random selection among the tied choices, which is deterministic
// given a fixed seed because counts arrive in stable chapter-choice order.
// Zero votes across all choices yields no winner and the caller must not
// advance.
func pickWinner(counts []models.VoteCount, rng *rand.Rand) models.WinnerResult {
	var max int64
	for _, c := range counts {
		if c.Count > max {
			max = c.Count
		}
	}
	if max == 0 {
		return models.WinnerResult{}
	}
	tied := make([]string, 0, 2)
	for _, c := range counts {
		if c.Count == max {
			tied = append(tied, c.ChoiceID)
		}
	}
	if len(tied) == 1 {
		return models.WinnerResult{ChoiceID: tied[0]}
	}
	return models.WinnerResult{ChoiceID: tied[rng.Intn(len(tied))], IsTie: true}
}
