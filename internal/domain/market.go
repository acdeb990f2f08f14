package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusLocked   MarketStatus = "locked"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusVoid     MarketStatus = "void"
)

// IsTerminal reports whether no further resolution may happen from this state.
func (s MarketStatus) IsTerminal() bool {
	return s == MarketStatusResolved || s == MarketStatusVoid
}

// Market is a single wagering event with mutually exclusive outcomes.
// WinningOutcomeID, ActualValue and ResolvedAt are set only on resolution.
type Market struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	OutcomeIDs       []string         `json:"outcome_ids"`
	Status           MarketStatus     `json:"status"`
	WinningOutcomeID *string          `json:"winning_outcome_id,omitempty"`
	ActualValue      *decimal.Decimal `json:"actual_value,omitempty"`
	LockedAt         *time.Time       `json:"locked_at,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// HasOutcome reports whether outcomeID is one of the market's outcomes.
func (m Market) HasOutcome(outcomeID string) bool {
	for _, id := range m.OutcomeIDs {
		if id == outcomeID {
			return true
		}
	}
	return false
}

// Outcome is one possible resolution of a market.
type Outcome struct {
	ID                 string          `json:"id"`
	MarketID           string          `json:"market_id"`
	Label              string          `json:"label"`
	ImpliedProbability float64         `json:"implied_probability"` // at lock time
	TotalStaked        decimal.Decimal `json:"total_staked"`
}

// Bet is a user's stake on one outcome. Bets are immutable once placed.
type Bet struct {
	ID                          string          `json:"id"`
	MarketID                    string          `json:"market_id"`
	OutcomeID                   string          `json:"outcome_id"`
	UserID                      string          `json:"user_id"`
	Stake                       decimal.Decimal `json:"stake"`
	ImpliedProbabilityAtBetTime float64         `json:"implied_probability_at_bet_time"`
	PlacedAt                    time.Time       `json:"placed_at"`
}

// MarketSnapshot is a consistent read of a market and everything staked on it.
type MarketSnapshot struct {
	Market   Market    `json:"market"`
	Outcomes []Outcome `json:"outcomes"`
	Bets     []Bet     `json:"bets"`
}
