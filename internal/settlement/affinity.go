package settlement

import (
	"sort"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// AffinityCalculator produces taste-match increments for every pair of users
// who called the same market correctly.
//
// Pair count grows as k*(k-1)/2, so at most MaxCorrectUsers users take part.
// The cap keeps the first users in the order supplied and reports how many
// were left out; zero or negative disables it.
type AffinityCalculator struct {
	Increment       float64
	MaxCorrectUsers int
}

// AffinityPlan holds the pair deltas and how the cap was applied.
type AffinityPlan struct {
	Deltas     []domain.TasteMatchDelta
	Considered int
	Skipped    int
}

// Truncated reports whether the correct-user cap dropped anyone.
func (p AffinityPlan) Truncated() bool { return p.Skipped > 0 }

// Compute returns one delta per unordered pair of distinct users, sorted by
// (UserA, UserB). Duplicate IDs are ignored.
func (c AffinityCalculator) Compute(correctUserIDs []string) AffinityPlan {
	seen := make(map[string]struct{}, len(correctUserIDs))
	users := make([]string, 0, len(correctUserIDs))
	for _, id := range correctUserIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}

	plan := AffinityPlan{}
	if c.MaxCorrectUsers > 0 && len(users) > c.MaxCorrectUsers {
		plan.Skipped = len(users) - c.MaxCorrectUsers
		users = users[:c.MaxCorrectUsers]
	}
	plan.Considered = len(users)

	if len(users) < 2 {
		plan.Deltas = []domain.TasteMatchDelta{}
		return plan
	}

	plan.Deltas = make([]domain.TasteMatchDelta, 0, len(users)*(len(users)-1)/2)
	for i := 0; i < len(users); i++ {
		for j := i + 1; j < len(users); j++ {
			a, b := domain.OrderedPair(users[i], users[j])
			plan.Deltas = append(plan.Deltas, domain.TasteMatchDelta{
				UserA:                   a,
				UserB:                   b,
				ScoreDelta:              c.Increment,
				SharedCorrectCallsDelta: 1,
			})
		}
	}
	sort.Slice(plan.Deltas, func(i, j int) bool {
		if plan.Deltas[i].UserA != plan.Deltas[j].UserA {
			return plan.Deltas[i].UserA < plan.Deltas[j].UserA
		}
		return plan.Deltas[i].UserB < plan.Deltas[j].UserB
	})
	return plan
}
