package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerReason tags why a balance ledger entry was written.
type LedgerReason string

const (
	LedgerReasonPayout LedgerReason = "PAYOUT"
	LedgerReasonRefund LedgerReason = "REFUND"
)

// BalanceLedgerEntry is an append-only balance delta. A user's balance is the
// running sum of their entries.
type BalanceLedgerEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    LedgerReason    `json:"reason"`
	MarketID  string          `json:"market_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// TrendsetterAward is the single points award a user receives for a market.
type TrendsetterAward struct {
	UserID    string    `json:"user_id"`
	MarketID  string    `json:"market_id"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// TasteMatchEdge is the symmetric affinity record between two users.
// UserA always sorts before UserB.
type TasteMatchEdge struct {
	UserA              string    `json:"user_a"`
	UserB              string    `json:"user_b"`
	Score              float64   `json:"score"`
	SharedCorrectCalls int64     `json:"shared_correct_calls"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TasteMatchDelta is an increment to apply to a TasteMatchEdge, creating the
// edge when absent.
type TasteMatchDelta struct {
	UserA                   string  `json:"user_a"`
	UserB                   string  `json:"user_b"`
	ScoreDelta              float64 `json:"score_delta"`
	SharedCorrectCallsDelta int64   `json:"shared_correct_calls_delta"`
}

// OrderedPair returns a and b sorted so the pair has a single canonical form.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
