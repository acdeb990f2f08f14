// Package memory provides in-process implementations of the settlement
// persistence interfaces. They back the test suites and the memory store
// driver used for local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// Fault points passed to a FaultFunc.
const (
	OpLockMarket       = "lock_market"
	OpWriteLedger      = "write_ledger"
	OpWriteAwards      = "write_awards"
	OpWriteTasteMatch  = "write_taste_match"
	OpWriteRecord      = "write_record"
	OpUpdateResolution = "update_resolution"
	OpCommit           = "commit"
)

// FaultFunc is consulted before every transactional operation. A non-nil
// return fails that operation.
type FaultFunc func(op, marketID string) error

type awardKey struct {
	userID   string
	marketID string
}

type pairKey struct {
	userA string
	userB string
}

// SettlementStore implements domain.SettlementStore in memory. Each market has
// its own mutex, taken by LockMarket and held until the transaction ends, so
// commits on one market serialize while different markets proceed in
// parallel. Writes are staged on the transaction and become visible together
// on commit.
type SettlementStore struct {
	mu       sync.RWMutex
	markets  map[string]domain.Market
	outcomes map[string][]domain.Outcome
	bets     map[string][]domain.Bet
	ledger   []domain.BalanceLedgerEntry
	awards   map[awardKey]domain.TrendsetterAward
	edges    map[pairKey]domain.TasteMatchEdge
	records  map[string]domain.ResolutionResult

	locksMu     sync.Mutex
	marketLocks map[string]*sync.Mutex

	fault FaultFunc
}

// NewSettlementStore returns an empty store.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		markets:     make(map[string]domain.Market),
		outcomes:    make(map[string][]domain.Outcome),
		bets:        make(map[string][]domain.Bet),
		awards:      make(map[awardKey]domain.TrendsetterAward),
		edges:       make(map[pairKey]domain.TasteMatchEdge),
		records:     make(map[string]domain.ResolutionResult),
		marketLocks: make(map[string]*sync.Mutex),
	}
}

// SetFault installs f as the fault hook. Pass nil to clear it.
func (s *SettlementStore) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Seed inserts or replaces the market, outcomes and bets of snap. It rejects
// bets with a stake that is not positive.
func (s *SettlementStore) Seed(snap domain.MarketSnapshot) error {
	for _, b := range snap.Bets {
		if !b.Stake.IsPositive() {
			return fmt.Errorf("memory: seed market %s bet %s stake %s: %w", snap.Market.ID, b.ID, b.Stake, domain.ErrInvalidStake)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := snap.Market
	if len(m.OutcomeIDs) == 0 {
		for _, o := range snap.Outcomes {
			m.OutcomeIDs = append(m.OutcomeIDs, o.ID)
		}
	}
	if m.Status == "" {
		m.Status = domain.MarketStatusOpen
	}
	s.markets[m.ID] = m
	s.outcomes[m.ID] = append([]domain.Outcome(nil), snap.Outcomes...)
	s.bets[m.ID] = append([]domain.Bet(nil), snap.Bets...)
	return nil
}

// SetMarketStatus overwrites the status of a seeded market.
func (s *SettlementStore) SetMarketStatus(marketID string, status domain.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return fmt.Errorf("memory: set status market %s: %w", marketID, domain.ErrNotFound)
	}
	m.Status = status
	s.markets[marketID] = m
	return nil
}

// LoadMarketSnapshot returns copies of the market, its outcomes (with
// TotalStaked recomputed from bets) and its bets.
func (s *SettlementStore) LoadMarketSnapshot(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[marketID]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("memory: load market %s: %w", marketID, domain.ErrNotFound)
	}

	bets := append([]domain.Bet(nil), s.bets[marketID]...)
	staked := make(map[string]decimal.Decimal)
	for _, b := range bets {
		staked[b.OutcomeID] = staked[b.OutcomeID].Add(b.Stake)
	}
	outcomes := make([]domain.Outcome, 0, len(s.outcomes[marketID]))
	for _, o := range s.outcomes[marketID] {
		o.TotalStaked = staked[o.ID]
		outcomes = append(outcomes, o)
	}
	m.OutcomeIDs = append([]string(nil), m.OutcomeIDs...)

	return domain.MarketSnapshot{Market: m, Outcomes: outcomes, Bets: bets}, nil
}

// Market returns the committed state of one market.
func (s *SettlementStore) Market(marketID string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	return m, ok
}

// LedgerEntries returns the committed ledger for marketID in write order.
func (s *SettlementStore) LedgerEntries(marketID string) []domain.BalanceLedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.BalanceLedgerEntry
	for _, e := range s.ledger {
		if e.MarketID == marketID {
			out = append(out, e)
		}
	}
	return out
}

// Awards returns the committed awards for marketID sorted by user.
func (s *SettlementStore) Awards(marketID string) []domain.TrendsetterAward {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TrendsetterAward
	for k, a := range s.awards {
		if k.marketID == marketID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// LoadResolutionRecord returns a copy of the committed result for marketID.
func (s *SettlementStore) LoadResolutionRecord(_ context.Context, marketID string) (domain.ResolutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[marketID]
	if !ok {
		return domain.ResolutionResult{}, fmt.Errorf("memory: load resolution %s: %w", marketID, domain.ErrNotFound)
	}
	return cloneResult(r), nil
}

// TasteMatchEdges returns every edge sorted by (UserA, UserB).
func (s *SettlementStore) TasteMatchEdges() []domain.TasteMatchEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TasteMatchEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserA != out[j].UserA {
			return out[i].UserA < out[j].UserA
		}
		return out[i].UserB < out[j].UserB
	})
	return out
}

// WithTransaction runs fn against a staging transaction. Staged writes are
// applied only when fn returns nil and the commit-time checks pass. Market
// locks taken inside fn are released on every exit path.
func (s *SettlementStore) WithTransaction(ctx context.Context, fn func(tx domain.SettlementTx) error) error {
	tx := &settlementTx{store: s, held: make(map[string]*sync.Mutex)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	return s.commit(tx)
}

func (s *SettlementStore) marketLock(marketID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.marketLocks[marketID]
	if !ok {
		l = &sync.Mutex{}
		s.marketLocks[marketID] = l
	}
	return l
}

func (s *SettlementStore) check(op, marketID string) error {
	s.mu.RLock()
	f := s.fault
	s.mu.RUnlock()
	if f == nil {
		return nil
	}
	if err := f(op, marketID); err != nil {
		return fmt.Errorf("memory: %s market %s: %w", op, marketID, err)
	}
	return nil
}

// commit validates every staged write against committed state and applies
// them under one write lock.
func (s *SettlementStore) commit(tx *settlementTx) error {
	if err := s.check(OpCommit, tx.marketID()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range tx.updates {
		m, ok := s.markets[u.marketID]
		if !ok {
			return fmt.Errorf("memory: commit market %s: %w", u.marketID, domain.ErrNotFound)
		}
		if m.Status.IsTerminal() {
			return fmt.Errorf("memory: commit market %s: %w", u.marketID, domain.ErrMarketAlreadyTerminal)
		}
	}
	for _, a := range tx.awards {
		if _, dup := s.awards[awardKey{a.UserID, a.MarketID}]; dup {
			return fmt.Errorf("memory: commit award %s/%s: duplicate key", a.UserID, a.MarketID)
		}
	}
	for _, r := range tx.records {
		if _, dup := s.records[r.MarketID]; dup {
			return fmt.Errorf("memory: commit resolution %s: duplicate key", r.MarketID)
		}
	}

	s.ledger = append(s.ledger, tx.ledger...)
	for _, a := range tx.awards {
		s.awards[awardKey{a.UserID, a.MarketID}] = a
	}
	for _, d := range tx.deltas {
		k := pairKey{d.delta.UserA, d.delta.UserB}
		e := s.edges[k]
		e.UserA, e.UserB = d.delta.UserA, d.delta.UserB
		e.Score += d.delta.ScoreDelta
		e.SharedCorrectCalls += d.delta.SharedCorrectCallsDelta
		e.UpdatedAt = d.at
		s.edges[k] = e
	}
	for _, r := range tx.records {
		s.records[r.MarketID] = r
	}
	for _, u := range tx.updates {
		m := s.markets[u.marketID]
		winner := u.winningOutcomeID
		actual := u.actualValue
		resolvedAt := u.resolvedAt
		m.Status = domain.MarketStatusResolved
		m.WinningOutcomeID = &winner
		m.ActualValue = &actual
		m.ResolvedAt = &resolvedAt
		s.markets[u.marketID] = m
	}
	return nil
}

type stagedDelta struct {
	delta domain.TasteMatchDelta
	at    time.Time
}

type stagedUpdate struct {
	marketID         string
	winningOutcomeID string
	actualValue      decimal.Decimal
	resolvedAt       time.Time
}

type settlementTx struct {
	store *SettlementStore
	held  map[string]*sync.Mutex
	order []string

	ledger  []domain.BalanceLedgerEntry
	awards  []domain.TrendsetterAward
	deltas  []stagedDelta
	records []domain.ResolutionResult
	updates []stagedUpdate
}

func (tx *settlementTx) marketID() string {
	if len(tx.order) > 0 {
		return tx.order[0]
	}
	if len(tx.updates) > 0 {
		return tx.updates[0].marketID
	}
	return ""
}

func (tx *settlementTx) release() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.held[tx.order[i]].Unlock()
	}
	tx.held = nil
	tx.order = nil
}

func (tx *settlementTx) LockMarket(ctx context.Context, marketID string) (domain.Market, error) {
	if err := tx.store.check(OpLockMarket, marketID); err != nil {
		return domain.Market{}, err
	}
	if _, ok := tx.held[marketID]; !ok {
		l := tx.store.marketLock(marketID)
		if err := lockContext(ctx, l); err != nil {
			return domain.Market{}, fmt.Errorf("memory: lock market %s: %w", marketID, err)
		}
		tx.held[marketID] = l
		tx.order = append(tx.order, marketID)
	}

	m, ok := tx.store.Market(marketID)
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: lock market %s: %w", marketID, domain.ErrNotFound)
	}
	return m, nil
}

func (tx *settlementTx) WriteBalanceLedgerEntries(_ context.Context, entries []domain.BalanceLedgerEntry) error {
	if err := tx.store.check(OpWriteLedger, tx.marketID()); err != nil {
		return err
	}
	tx.ledger = append(tx.ledger, entries...)
	return nil
}

func (tx *settlementTx) WriteTrendsetterAwards(_ context.Context, awards []domain.TrendsetterAward) error {
	if err := tx.store.check(OpWriteAwards, tx.marketID()); err != nil {
		return err
	}
	seen := make(map[awardKey]struct{}, len(tx.awards)+len(awards))
	for _, a := range tx.awards {
		seen[awardKey{a.UserID, a.MarketID}] = struct{}{}
	}
	for _, a := range awards {
		k := awardKey{a.UserID, a.MarketID}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("memory: write award %s/%s: duplicate key", a.UserID, a.MarketID)
		}
		seen[k] = struct{}{}
	}
	tx.awards = append(tx.awards, awards...)
	return nil
}

func (tx *settlementTx) WriteTasteMatchDeltas(_ context.Context, deltas []domain.TasteMatchDelta, at time.Time) error {
	if err := tx.store.check(OpWriteTasteMatch, tx.marketID()); err != nil {
		return err
	}
	for _, d := range deltas {
		a, b := domain.OrderedPair(d.UserA, d.UserB)
		d.UserA, d.UserB = a, b
		tx.deltas = append(tx.deltas, stagedDelta{delta: d, at: at})
	}
	return nil
}

func (tx *settlementTx) WriteResolutionRecord(_ context.Context, result domain.ResolutionResult) error {
	if err := tx.store.check(OpWriteRecord, result.MarketID); err != nil {
		return err
	}
	for _, r := range tx.records {
		if r.MarketID == result.MarketID {
			return fmt.Errorf("memory: write resolution %s: duplicate key", result.MarketID)
		}
	}
	tx.records = append(tx.records, cloneResult(result))
	return nil
}

func (tx *settlementTx) UpdateMarketResolution(_ context.Context, marketID, winningOutcomeID string, actualValue decimal.Decimal, resolvedAt time.Time) error {
	if err := tx.store.check(OpUpdateResolution, marketID); err != nil {
		return err
	}
	m, ok := tx.store.Market(marketID)
	if !ok {
		return fmt.Errorf("memory: update market %s: %w", marketID, domain.ErrNotFound)
	}
	if m.Status.IsTerminal() {
		return fmt.Errorf("memory: update market %s: %w", marketID, domain.ErrMarketAlreadyTerminal)
	}
	tx.updates = append(tx.updates, stagedUpdate{
		marketID:         marketID,
		winningOutcomeID: winningOutcomeID,
		actualValue:      actualValue,
		resolvedAt:       resolvedAt,
	})
	return nil
}

// cloneResult copies the maps and slices of r so stored records never alias
// caller memory.
func cloneResult(r domain.ResolutionResult) domain.ResolutionResult {
	r.Payouts = slices.Clone(r.Payouts)
	r.TrendsetterPoints = maps.Clone(r.TrendsetterPoints)
	r.TasteMatchUpdates = slices.Clone(r.TasteMatchUpdates)
	r.BalanceChangedUsers = slices.Clone(r.BalanceChangedUsers)
	r.Errors = slices.Clone(r.Errors)
	if r.ActualValue != nil {
		v := *r.ActualValue
		r.ActualValue = &v
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		r.ResolvedAt = &t
	}
	return r
}

// lockContext acquires l unless ctx ends first.
func lockContext(ctx context.Context, l *sync.Mutex) error {
	for {
		if l.TryLock() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
