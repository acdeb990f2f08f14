package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// ImportSnapshot inserts a market with its outcomes and bets. Existing rows
// with the same keys are left untouched, so importing a fixture file twice is
// harmless.
func (s *SettlementStore) ImportSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	m := snap.Market
	status := m.Status
	if status == "" {
		status = domain.MarketStatusOpen
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO markets (id, title, status, locked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Title, string(status), m.LockedAt)
	for i, o := range snap.Outcomes {
		batch.Queue(`
			INSERT INTO outcomes (market_id, id, label, position, implied_probability)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (market_id, id) DO NOTHING`,
			m.ID, o.ID, o.Label, i, o.ImpliedProbability)
	}
	for _, b := range snap.Bets {
		batch.Queue(`
			INSERT INTO bets (id, market_id, outcome_id, user_id, stake, implied_probability_at_bet_time, placed_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			b.ID, m.ID, b.OutcomeID, b.UserID, b.Stake.String(), b.ImpliedProbabilityAtBetTime, b.PlacedAt)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin import %s: %w", m.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := (&settlementTx{tx: tx}).sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("postgres: import market %s: %w", m.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit import %s: %w", m.ID, err)
	}
	return nil
}
