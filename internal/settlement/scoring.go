package settlement

import (
	"math"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// ScoringCalculator awards trendsetter points to correct calls, weighted by
// how unlikely the outcome looked when the bet was placed.
type ScoringCalculator struct {
	BasePoints      float64
	Epsilon         float64
	MaxPointsPerBet int64
}

// PointsForBet returns round(BasePoints / max(p, Epsilon)) clamped to
// [0, MaxPointsPerBet]. Probabilities above 1 count as 1.
func (c ScoringCalculator) PointsForBet(p float64) int64 {
	if math.IsNaN(p) || p < c.Epsilon {
		p = c.Epsilon
	}
	if p > 1 {
		p = 1
	}
	if p <= 0 {
		return c.MaxPointsPerBet
	}

	points := math.Round(c.BasePoints / p)
	if points < 0 {
		return 0
	}
	if c.MaxPointsPerBet > 0 && points > float64(c.MaxPointsPerBet) {
		return c.MaxPointsPerBet
	}
	return int64(points)
}

// Compute sums the points of every winning bet per user. Callers pass only
// bets on the winning outcome; an empty slice yields an empty map.
func (c ScoringCalculator) Compute(winningBets []domain.Bet) map[string]int64 {
	points := make(map[string]int64)
	for _, b := range winningBets {
		points[b.UserID] += c.PointsForBet(b.ImpliedProbabilityAtBetTime)
	}
	return points
}
