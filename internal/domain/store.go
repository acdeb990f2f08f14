package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStore is the persistence boundary of the resolution engine.
type SettlementStore interface {
	// LoadMarketSnapshot reads a market, its outcomes and its bets as one
	// consistent view. It returns ErrNotFound for an unknown market.
	LoadMarketSnapshot(ctx context.Context, marketID string) (MarketSnapshot, error)

	// WithTransaction runs fn inside one transaction. The transaction commits
	// only when fn returns nil and is rolled back and released on every other
	// exit path, including panics.
	WithTransaction(ctx context.Context, fn func(tx SettlementTx) error) error

	// LoadResolutionRecord returns the result document committed with the
	// market's settlement, or ErrNotFound when the market has none.
	LoadResolutionRecord(ctx context.Context, marketID string) (ResolutionResult, error)
}

// SettlementTx is the set of writes available inside a settlement transaction.
type SettlementTx interface {
	// LockMarket re-reads the market under a row lock held until the
	// transaction ends.
	LockMarket(ctx context.Context, marketID string) (Market, error)
	WriteBalanceLedgerEntries(ctx context.Context, entries []BalanceLedgerEntry) error
	WriteTrendsetterAwards(ctx context.Context, awards []TrendsetterAward) error
	WriteTasteMatchDeltas(ctx context.Context, deltas []TasteMatchDelta, at time.Time) error
	// WriteResolutionRecord stores the committed result for read-back. A
	// market has at most one record.
	WriteResolutionRecord(ctx context.Context, result ResolutionResult) error
	// UpdateMarketResolution moves the market to resolved. It returns
	// ErrMarketAlreadyTerminal when the market is no longer open or locked.
	UpdateMarketResolution(ctx context.Context, marketID, winningOutcomeID string, actualValue decimal.Decimal, resolvedAt time.Time) error
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
