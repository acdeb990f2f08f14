package settlement

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// Default tunables. They are product constants exposed through configuration.
const (
	DefaultCurrencyScale       int32   = 2
	DefaultBasePoints          float64 = 100
	DefaultProbabilityEpsilon  float64 = 0.01
	DefaultMaxPointsPerBet     int64   = 1000
	DefaultTasteMatchIncrement float64 = 1.0
	DefaultMaxCorrectUsers     int     = 500
)

// Config carries the calculator tunables.
type Config struct {
	CurrencyScale       int32
	BasePoints          float64
	ProbabilityEpsilon  float64
	MaxPointsPerBet     int64
	TasteMatchIncrement float64
	MaxCorrectUsers     int
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		CurrencyScale:       DefaultCurrencyScale,
		BasePoints:          DefaultBasePoints,
		ProbabilityEpsilon:  DefaultProbabilityEpsilon,
		MaxPointsPerBet:     DefaultMaxPointsPerBet,
		TasteMatchIncrement: DefaultTasteMatchIncrement,
		MaxCorrectUsers:     DefaultMaxCorrectUsers,
	}
}

// Engine runs the three calculators over one market snapshot. Preview and
// commit both go through Plan so their numbers cannot diverge.
type Engine struct {
	payouts  PayoutCalculator
	scoring  ScoringCalculator
	affinity AffinityCalculator
}

// NewEngine builds an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		payouts: PayoutCalculator{Scale: cfg.CurrencyScale},
		scoring: ScoringCalculator{
			BasePoints:      cfg.BasePoints,
			Epsilon:         cfg.ProbabilityEpsilon,
			MaxPointsPerBet: cfg.MaxPointsPerBet,
		},
		affinity: AffinityCalculator{
			Increment:       cfg.TasteMatchIncrement,
			MaxCorrectUsers: cfg.MaxCorrectUsers,
		},
	}
}

// Plan is every effect a resolution would apply, computed from one snapshot.
type Plan struct {
	MarketID         string
	WinningOutcomeID string
	Payout           PayoutPlan
	Points           map[string]int64
	Affinity         AffinityPlan
}

// Plan computes payouts, points and affinity deltas for snap resolving to
// winningOutcomeID. It returns domain.ErrInvalidOutcome or domain.ErrNoStakes
// for markets that cannot be settled that way.
func (e *Engine) Plan(snap domain.MarketSnapshot, winningOutcomeID string) (Plan, error) {
	payout, err := e.payouts.Compute(snap.Outcomes, snap.Bets, winningOutcomeID)
	if err != nil {
		return Plan{}, fmt.Errorf("settlement: market %s: %w", snap.Market.ID, err)
	}

	winning := winningBets(snap.Bets, winningOutcomeID)
	return Plan{
		MarketID:         snap.Market.ID,
		WinningOutcomeID: winningOutcomeID,
		Payout:           payout,
		Points:           e.scoring.Compute(winning),
		Affinity:         e.affinity.Compute(correctUsers(winning)),
	}, nil
}

// EmptyPlan is the plan for a market nobody staked on: no payouts, no points
// and no affinity updates.
func EmptyPlan(marketID, winningOutcomeID string) Plan {
	return Plan{
		MarketID:         marketID,
		WinningOutcomeID: winningOutcomeID,
		Payout: PayoutPlan{
			Summary: domain.PayoutSummary{
				TotalPool:           decimal.Zero,
				TotalWinningStakes:  decimal.Zero,
				TotalPayouts:        decimal.Zero,
				AverageWinnerPayout: decimal.Zero,
			},
			Payouts: []domain.BetPayout{},
		},
		Points:   map[string]int64{},
		Affinity: AffinityPlan{Deltas: []domain.TasteMatchDelta{}},
	}
}

// winningBets returns the bets on the winning outcome ordered by placement
// time, then bet ID.
func winningBets(bets []domain.Bet, winningOutcomeID string) []domain.Bet {
	out := make([]domain.Bet, 0, len(bets))
	for _, b := range bets {
		if b.OutcomeID == winningOutcomeID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// correctUsers lists distinct users in order of their first correct bet.
func correctUsers(winning []domain.Bet) []string {
	seen := make(map[string]struct{}, len(winning))
	users := make([]string, 0, len(winning))
	for _, b := range winning {
		if _, ok := seen[b.UserID]; ok {
			continue
		}
		seen[b.UserID] = struct{}{}
		users = append(users, b.UserID)
	}
	return users
}

// LedgerEntries returns one balance entry per user and reason.
func (p Plan) LedgerEntries(at time.Time) []domain.BalanceLedgerEntry {
	deltas := p.Payout.BalanceDeltas()
	entries := make([]domain.BalanceLedgerEntry, 0, len(deltas))
	for _, d := range deltas {
		entries = append(entries, domain.BalanceLedgerEntry{
			ID:        uuid.NewString(),
			UserID:    d.UserID,
			Amount:    d.Amount,
			Reason:    d.Reason,
			MarketID:  p.MarketID,
			CreatedAt: at,
		})
	}
	return entries
}

// Awards returns one trendsetter award per user, sorted by user. Users whose
// points total zero get no award.
func (p Plan) Awards(at time.Time) []domain.TrendsetterAward {
	awards := make([]domain.TrendsetterAward, 0, len(p.Points))
	for user, pts := range p.Points {
		if pts <= 0 {
			continue
		}
		awards = append(awards, domain.TrendsetterAward{
			UserID:    user,
			MarketID:  p.MarketID,
			Points:    pts,
			CreatedAt: at,
		})
	}
	sort.Slice(awards, func(i, j int) bool { return awards[i].UserID < awards[j].UserID })
	return awards
}

// BalanceChangedUsers lists, sorted, every user receiving a payout or refund.
func (p Plan) BalanceChangedUsers() []string {
	seen := make(map[string]struct{})
	users := []string{}
	for _, d := range p.Payout.BalanceDeltas() {
		if _, ok := seen[d.UserID]; ok {
			continue
		}
		seen[d.UserID] = struct{}{}
		users = append(users, d.UserID)
	}
	return users
}

// Result renders the plan as a successful ResolutionResult. Callers set
// Preview, ActualValue and ResolvedAt.
func (p Plan) Result() domain.ResolutionResult {
	points := make(map[string]int64, len(p.Points))
	for k, v := range p.Points {
		points[k] = v
	}
	return domain.ResolutionResult{
		MarketID:                p.MarketID,
		WinningOutcomeID:        p.WinningOutcomeID,
		PayoutSummary:           p.Payout.Summary,
		Payouts:                 p.Payout.Payouts,
		TrendsetterPoints:       points,
		TasteMatchUpdates:       p.Affinity.Deltas,
		AffinityUsersConsidered: p.Affinity.Considered,
		AffinityUsersSkipped:    p.Affinity.Skipped,
		BalanceChangedUsers:     p.BalanceChangedUsers(),
		Success:                 true,
	}
}

// SumPayouts adds every payout amount in the plan.
func (p Plan) SumPayouts() decimal.Decimal {
	sum := decimal.Zero
	for _, bp := range p.Payout.Payouts {
		sum = sum.Add(bp.Amount)
	}
	return sum
}
