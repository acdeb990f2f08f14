package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// tasteMatchChunk bounds the rows sent in one upsert statement.
const tasteMatchChunk = 5000

const selectMarket = `
	SELECT m.id, m.title, m.status, m.winning_outcome_id, m.actual_value::text,
	       m.locked_at, m.resolved_at,
	       ARRAY(SELECT o.id FROM outcomes o WHERE o.market_id = m.id ORDER BY o.position, o.id)
	FROM markets m
	WHERE m.id = $1`

// SettlementStore implements domain.SettlementStore using PostgreSQL.
//
// Snapshots are read in one REPEATABLE READ transaction so market, outcomes
// and bets agree with each other. Commits run in READ COMMITTED and take a
// row lock on the market with SELECT ... FOR UPDATE; the final status update
// is conditional on the market still being open or locked.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// LoadMarketSnapshot reads the market, its outcomes with stake totals and
// every bet placed on it.
func (s *SettlementStore) LoadMarketSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: begin snapshot %s: %w", marketID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMarket(tx.QueryRow(ctx, selectMarket, marketID))
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: load market %s: %w", marketID, err)
	}

	outcomes, err := loadOutcomes(ctx, tx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	bets, err := loadBets(ctx, tx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: commit snapshot %s: %w", marketID, err)
	}
	return domain.MarketSnapshot{Market: m, Outcomes: outcomes, Bets: bets}, nil
}

// LoadResolutionRecord reads the result document committed with the market's
// settlement.
func (s *SettlementStore) LoadResolutionRecord(ctx context.Context, marketID string) (domain.ResolutionResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM resolution_records WHERE market_id = $1`, marketID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ResolutionResult{}, fmt.Errorf("postgres: load resolution %s: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("postgres: load resolution %s: %w", marketID, err)
	}

	var result domain.ResolutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("postgres: decode resolution %s: %w", marketID, err)
	}
	return result, nil
}

// WithTransaction runs fn in a READ COMMITTED transaction. The deferred
// rollback releases the connection on error and panic paths and is a no-op
// after a successful commit.
func (s *SettlementStore) WithTransaction(ctx context.Context, fn func(tx domain.SettlementTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin settlement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&settlementTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement: %w", err)
	}
	return nil
}

type settlementTx struct {
	tx pgx.Tx
}

// LockMarket takes a row lock on the market held until commit or rollback.
func (t *settlementTx) LockMarket(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := scanMarket(t.tx.QueryRow(ctx, selectMarket+" FOR UPDATE OF m", marketID))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: lock market %s: %w", marketID, err)
	}
	return m, nil
}

func (t *settlementTx) WriteBalanceLedgerEntries(ctx context.Context, entries []domain.BalanceLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	const query = `
		INSERT INTO balance_ledger (id, user_id, amount, reason, market_id, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.ID, e.UserID, e.Amount.String(), string(e.Reason), e.MarketID, e.CreatedAt)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("postgres: insert ledger entries: %w", err)
	}
	return nil
}

func (t *settlementTx) WriteTrendsetterAwards(ctx context.Context, awards []domain.TrendsetterAward) error {
	if len(awards) == 0 {
		return nil
	}
	const query = `
		INSERT INTO trendsetter_awards (user_id, market_id, points, created_at)
		VALUES ($1, $2, $3, $4)`

	batch := &pgx.Batch{}
	for _, a := range awards {
		batch.Queue(query, a.UserID, a.MarketID, a.Points, a.CreatedAt)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("postgres: insert trendsetter awards: %w", err)
	}
	return nil
}

// WriteTasteMatchDeltas upserts edges with array parameters, one statement
// per chunk. The SELECT sorts rows by (user_a, user_b) so concurrent
// settlements touching the same pairs take row locks in the same order.
func (t *settlementTx) WriteTasteMatchDeltas(ctx context.Context, deltas []domain.TasteMatchDelta, at time.Time) error {
	const query = `
		INSERT INTO taste_match_edges (user_a, user_b, score, shared_correct_calls, updated_at)
		SELECT a, b, s, c, $5
		FROM unnest($1::text[], $2::text[], $3::float8[], $4::int8[]) AS d(a, b, s, c)
		ORDER BY a, b
		ON CONFLICT (user_a, user_b) DO UPDATE SET
			score                = taste_match_edges.score + EXCLUDED.score,
			shared_correct_calls = taste_match_edges.shared_correct_calls + EXCLUDED.shared_correct_calls,
			updated_at           = EXCLUDED.updated_at`

	for start := 0; start < len(deltas); start += tasteMatchChunk {
		end := min(start+tasteMatchChunk, len(deltas))
		chunk := deltas[start:end]

		userA := make([]string, len(chunk))
		userB := make([]string, len(chunk))
		scores := make([]float64, len(chunk))
		calls := make([]int64, len(chunk))
		for i, d := range chunk {
			userA[i], userB[i] = domain.OrderedPair(d.UserA, d.UserB)
			scores[i] = d.ScoreDelta
			calls[i] = d.SharedCorrectCallsDelta
		}

		if _, err := t.tx.Exec(ctx, query, userA, userB, scores, calls, at); err != nil {
			return fmt.Errorf("postgres: upsert taste match edges: %w", err)
		}
	}
	return nil
}

func (t *settlementTx) WriteResolutionRecord(ctx context.Context, result domain.ResolutionResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("postgres: encode resolution %s: %w", result.MarketID, err)
	}
	const query = `INSERT INTO resolution_records (market_id, result) VALUES ($1, $2::jsonb)`
	if _, err := t.tx.Exec(ctx, query, result.MarketID, string(doc)); err != nil {
		return fmt.Errorf("postgres: insert resolution %s: %w", result.MarketID, err)
	}
	return nil
}

func (t *settlementTx) UpdateMarketResolution(
	ctx context.Context,
	marketID, winningOutcomeID string,
	actualValue decimal.Decimal,
	resolvedAt time.Time,
) error {
	const query = `
		UPDATE markets
		SET status = 'resolved', winning_outcome_id = $2, actual_value = $3::numeric, resolved_at = $4
		WHERE id = $1 AND status IN ('open', 'locked')`

	tag, err := t.tx.Exec(ctx, query, marketID, winningOutcomeID, actualValue.String(), resolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, marketID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", marketID, err)
	}
	if !exists {
		return fmt.Errorf("postgres: resolve market %s: %w", marketID, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: resolve market %s: %w", marketID, domain.ErrMarketAlreadyTerminal)
}

func (t *settlementTx) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := t.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m      domain.Market
		status string
		actual *string
	)
	err := row.Scan(&m.ID, &m.Title, &status, &m.WinningOutcomeID, &actual,
		&m.LockedAt, &m.ResolvedAt, &m.OutcomeIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if actual != nil {
		v, err := decimal.NewFromString(*actual)
		if err != nil {
			return domain.Market{}, fmt.Errorf("parse actual_value %q: %w", *actual, err)
		}
		m.ActualValue = &v
	}
	return m, nil
}

func loadOutcomes(ctx context.Context, tx pgx.Tx, marketID string) ([]domain.Outcome, error) {
	const query = `
		SELECT o.id, o.market_id, o.label, o.implied_probability,
		       COALESCE(SUM(b.stake), 0)::text
		FROM outcomes o
		LEFT JOIN bets b ON b.market_id = o.market_id AND b.outcome_id = o.id
		WHERE o.market_id = $1
		GROUP BY o.market_id, o.id, o.label, o.implied_probability, o.position
		ORDER BY o.position, o.id`

	rows, err := tx.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes for %s: %w", marketID, err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var (
			o      domain.Outcome
			staked string
		)
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Label, &o.ImpliedProbability, &staked); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		if o.TotalStaked, err = decimal.NewFromString(staked); err != nil {
			return nil, fmt.Errorf("postgres: parse outcome %s stake %q: %w", o.ID, staked, err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return outcomes, nil
}

func loadBets(ctx context.Context, tx pgx.Tx, marketID string) ([]domain.Bet, error) {
	const query = `
		SELECT id, market_id, outcome_id, user_id, stake::text,
		       implied_probability_at_bet_time, placed_at
		FROM bets
		WHERE market_id = $1
		ORDER BY placed_at, id`

	rows, err := tx.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var (
			b     domain.Bet
			stake string
		)
		if err := rows.Scan(&b.ID, &b.MarketID, &b.OutcomeID, &b.UserID, &stake,
			&b.ImpliedProbabilityAtBetTime, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		if b.Stake, err = decimal.NewFromString(stake); err != nil {
			return nil, fmt.Errorf("postgres: parse bet %s stake %q: %w", b.ID, stake, err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

var (
	_ domain.SettlementStore = (*SettlementStore)(nil)
	_ domain.SettlementTx    = (*settlementTx)(nil)
)
