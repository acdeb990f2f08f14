package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ErrorCode identifies a client-fixable resolution failure.
type ErrorCode string

const (
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInvalidOutcome        ErrorCode = "INVALID_OUTCOME"
	CodeMissingActualValue    ErrorCode = "MISSING_ACTUAL_VALUE"
	CodeMarketAlreadyTerminal ErrorCode = "MARKET_ALREADY_TERMINAL"
	CodeNoStakes              ErrorCode = "NO_STAKES"
)

// ValidationError is a recoverable failure reported in a ResolutionResult.
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e ValidationError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// PayoutSummary aggregates the pool for one resolution.
type PayoutSummary struct {
	TotalPool           decimal.Decimal `json:"total_pool"`
	TotalWinningStakes  decimal.Decimal `json:"total_winning_stakes"`
	TotalPayouts        decimal.Decimal `json:"total_payouts"`
	AverageWinnerPayout decimal.Decimal `json:"average_winner_payout"`
	WinnerCount         int             `json:"winner_count"` // bets, not users
	LoserCount          int             `json:"loser_count"`
	Refunded            bool            `json:"refunded"`
}

// BetPayout is the amount credited for one bet. Losing bets carry a zero
// amount and produce no ledger entry.
type BetPayout struct {
	BetID  string          `json:"bet_id"`
	UserID string          `json:"user_id"`
	Stake  decimal.Decimal `json:"stake"`
	Amount decimal.Decimal `json:"amount"`
	Reason LedgerReason    `json:"reason,omitempty"`
}

// ResolutionResult is returned by both preview and commit.
type ResolutionResult struct {
	MarketID                string            `json:"market_id"`
	WinningOutcomeID        string            `json:"winning_outcome_id"`
	ActualValue             *decimal.Decimal  `json:"actual_value,omitempty"`
	Preview                 bool              `json:"preview"`
	PayoutSummary           PayoutSummary     `json:"payout_summary"`
	Payouts                 []BetPayout       `json:"payouts,omitempty"`
	TrendsetterPoints       map[string]int64  `json:"trendsetter_points"`
	TasteMatchUpdates       []TasteMatchDelta `json:"taste_match_updates"`
	AffinityUsersConsidered int               `json:"affinity_users_considered"`
	AffinityUsersSkipped    int               `json:"affinity_users_skipped"`
	BalanceChangedUsers     []string          `json:"balance_changed_users"`
	ResolvedAt              *time.Time        `json:"resolved_at,omitempty"`
	Success                 bool              `json:"success"`
	Errors                  []ValidationError `json:"errors,omitempty"`
}

// HasError reports whether the result carries a validation error with code.
func (r *ResolutionResult) HasError(code ErrorCode) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}
