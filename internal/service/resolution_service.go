package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/settlement"
)

// Channel and stream names used for resolution events.
const (
	ResolutionChannel = "resolutions"
	ResolutionStream  = "stream:resolutions"
	EventResolved     = "market_resolved"
)

// Resolution outcomes reported to the Recorder.
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomePreview   = "preview"
)

// Notifier forwards operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder receives resolution metrics.
type Recorder interface {
	ResolutionFinished(outcome string, elapsed time.Duration)
	PayoutsSettled(summary domain.PayoutSummary)
	AffinityTruncated(skipped int)
}

// ResolveRequest asks for a market to be resolved and settled.
type ResolveRequest struct {
	MarketID         string           `json:"market_id"`
	WinningOutcomeID string           `json:"winning_outcome_id"`
	ActualValue      *decimal.Decimal `json:"actual_value"`
}

// ResolutionConfig holds the orchestration tunables.
type ResolutionConfig struct {
	// AllowEmptyMarkets resolves markets without any stake as a no-op
	// settlement instead of rejecting them with NO_STAKES.
	AllowEmptyMarkets bool
	LockTTL           time.Duration
	LockWait          time.Duration
}

// ResolutionOption configures optional collaborators of a ResolutionService.
type ResolutionOption func(*ResolutionService)

// WithLockManager serializes commit attempts for one market across workers.
func WithLockManager(l domain.LockManager) ResolutionOption {
	return func(s *ResolutionService) { s.locks = l }
}

// WithSignalBus publishes committed resolutions.
func WithSignalBus(b domain.SignalBus) ResolutionOption {
	return func(s *ResolutionService) { s.bus = b }
}

// WithResultCache stores committed results for GetResolution.
func WithResultCache(c domain.ResultCache) ResolutionOption {
	return func(s *ResolutionService) { s.cache = c }
}

// WithAuditStore records committed resolutions in the audit log.
func WithAuditStore(a domain.AuditStore) ResolutionOption {
	return func(s *ResolutionService) { s.audit = a }
}

// WithReportArchiver keeps a durable report of every committed resolution.
func WithReportArchiver(a domain.ReportArchiver) ResolutionOption {
	return func(s *ResolutionService) { s.archiver = a }
}

// WithNotifier sends a notification for every committed resolution.
func WithNotifier(n Notifier) ResolutionOption {
	return func(s *ResolutionService) { s.notifier = n }
}

// WithRecorder reports metrics.
func WithRecorder(r Recorder) ResolutionOption {
	return func(s *ResolutionService) { s.metrics = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ResolutionOption {
	return func(s *ResolutionService) { s.now = now }
}

// ResolutionService resolves markets and settles them atomically. Preview and
// commit compute their numbers through the same settlement.Engine call, and a
// commit applies every effect in one store transaction or none of them.
type ResolutionService struct {
	store  domain.SettlementStore
	engine *settlement.Engine
	cfg    ResolutionConfig
	logger *slog.Logger

	locks    domain.LockManager
	bus      domain.SignalBus
	cache    domain.ResultCache
	audit    domain.AuditStore
	archiver domain.ReportArchiver
	notifier Notifier
	metrics  Recorder
	now      func() time.Time
}

// NewResolutionService creates a ResolutionService. Only the store and the
// engine are required; every other collaborator is optional.
func NewResolutionService(
	store domain.SettlementStore,
	engine *settlement.Engine,
	cfg ResolutionConfig,
	logger *slog.Logger,
	opts ...ResolutionOption,
) *ResolutionService {
	s := &ResolutionService{
		store:  store,
		engine: engine,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "resolution_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve validates the request, computes the settlement and commits it. A
// client-fixable problem, including losing a race to another resolver, comes
// back as a result with Success false and a nil error. Infrastructure failures
// return an error wrapping domain.ErrSettlementFailed; the market is then
// untouched and the call can be retried.
func (s *ResolutionService) Resolve(ctx context.Context, req ResolveRequest) (*domain.ResolutionResult, error) {
	start := time.Now()

	snap, plan, rejected, err := s.evaluate(ctx, req.MarketID, req.WinningOutcomeID, req.ActualValue, false)
	if err != nil {
		s.finish(OutcomeFailed, start)
		return nil, err
	}
	if rejected != nil {
		s.logger.InfoContext(ctx, "resolution_service: resolution rejected",
			slog.String("market", req.MarketID),
			slog.String("outcome", req.WinningOutcomeID),
			slog.Any("errors", rejected.Errors),
		)
		s.finish(OutcomeRejected, start)
		return rejected, nil
	}

	if !plan.SumPayouts().Equal(plan.Payout.Summary.TotalPool) {
		s.finish(OutcomeFailed, start)
		return nil, fmt.Errorf("resolution_service: market %s: payouts %s do not match pool %s: %w",
			req.MarketID, plan.SumPayouts(), plan.Payout.Summary.TotalPool, domain.ErrSettlementFailed)
	}

	unlock := s.acquireLock(ctx, req.MarketID)
	defer unlock()

	resolvedAt := s.now()
	actual := *req.ActualValue
	result := plan.Result()
	result.ActualValue = &actual
	result.ResolvedAt = &resolvedAt

	err = s.store.WithTransaction(ctx, func(tx domain.SettlementTx) error {
		return s.apply(ctx, tx, snap.Market, plan, result)
	})

	if errors.Is(err, domain.ErrMarketAlreadyTerminal) {
		s.logger.InfoContext(ctx, "resolution_service: market resolved concurrently",
			slog.String("market", req.MarketID),
		)
		s.finish(OutcomeConflict, start)
		return failed(req.MarketID, req.WinningOutcomeID, false, domain.ValidationError{
			Code:    domain.CodeMarketAlreadyTerminal,
			Message: fmt.Sprintf("market %s changed state while this resolution was committing", req.MarketID),
		}), nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "resolution_service: settlement failed",
			slog.String("market", req.MarketID),
			slog.String("error", err.Error()),
		)
		s.finish(OutcomeFailed, start)
		return nil, fmt.Errorf("resolution_service: commit market %s: %w: %w", req.MarketID, domain.ErrSettlementFailed, err)
	}

	s.logger.InfoContext(ctx, "resolution_service: market resolved",
		slog.String("market", result.MarketID),
		slog.String("outcome", result.WinningOutcomeID),
		slog.String("total_pool", result.PayoutSummary.TotalPool.String()),
		slog.Int("winners", result.PayoutSummary.WinnerCount),
		slog.Int("losers", result.PayoutSummary.LoserCount),
		slog.Bool("refunded", result.PayoutSummary.Refunded),
	)
	if plan.Affinity.Truncated() {
		s.logger.WarnContext(ctx, "resolution_service: taste-match users capped",
			slog.String("market", result.MarketID),
			slog.Int("considered", plan.Affinity.Considered),
			slog.Int("skipped", plan.Affinity.Skipped),
		)
	}

	s.afterCommit(context.WithoutCancel(ctx), &result)
	if s.metrics != nil {
		s.metrics.PayoutsSettled(result.PayoutSummary)
		if plan.Affinity.Truncated() {
			s.metrics.AffinityTruncated(plan.Affinity.Skipped)
		}
	}
	s.finish(OutcomeCommitted, start)
	return &result, nil
}

// Preview computes what Resolve would do without writing anything. It needs
// no actual value and takes no locks.
func (s *ResolutionService) Preview(ctx context.Context, marketID, winningOutcomeID string) (*domain.ResolutionResult, error) {
	start := time.Now()
	defer s.finish(OutcomePreview, start)

	_, plan, rejected, err := s.evaluate(ctx, marketID, winningOutcomeID, nil, true)
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return rejected, nil
	}
	result := plan.Result()
	result.Preview = true
	return &result, nil
}

// GetResolution returns the committed result for marketID. On a cache miss
// it reads the result document written in the settlement transaction, so the
// numbers are the ones that were committed even if the tunables have changed
// since. Markets without a committed settlement return domain.ErrNotFound.
func (s *ResolutionService) GetResolution(ctx context.Context, marketID string) (*domain.ResolutionResult, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, marketID)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "resolution_service: cache read failed",
				slog.String("market", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	result, err := s.store.LoadResolutionRecord(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service: load resolution %s: %w", marketID, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, result); err != nil {
			s.logger.WarnContext(ctx, "resolution_service: cache write failed",
				slog.String("market", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return &result, nil
}

// evaluate loads the snapshot, validates the request and runs the engine.
// Exactly one of rejected and err is non-nil on failure.
func (s *ResolutionService) evaluate(
	ctx context.Context,
	marketID, winningOutcomeID string,
	actualValue *decimal.Decimal,
	preview bool,
) (domain.MarketSnapshot, settlement.Plan, *domain.ResolutionResult, error) {
	snap, err := s.store.LoadMarketSnapshot(ctx, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return snap, settlement.Plan{}, failed(marketID, winningOutcomeID, preview, domain.ValidationError{
			Code:    domain.CodeNotFound,
			Message: fmt.Sprintf("market %s does not exist", marketID),
		}), nil
	}
	if err != nil {
		return snap, settlement.Plan{}, nil, fmt.Errorf("resolution_service: load market %s: %w: %w", marketID, domain.ErrSettlementFailed, err)
	}

	if verrs := validate(snap.Market, winningOutcomeID, actualValue, preview); len(verrs) > 0 {
		return snap, settlement.Plan{}, failed(marketID, winningOutcomeID, preview, verrs...), nil
	}

	plan, err := s.plan(snap, winningOutcomeID)
	switch {
	case errors.Is(err, domain.ErrInvalidOutcome):
		return snap, plan, failed(marketID, winningOutcomeID, preview, domain.ValidationError{
			Code:    domain.CodeInvalidOutcome,
			Message: fmt.Sprintf("outcome %s has no outcome record in market %s", winningOutcomeID, marketID),
		}), nil
	case errors.Is(err, domain.ErrNoStakes):
		return snap, plan, failed(marketID, winningOutcomeID, preview, domain.ValidationError{
			Code:    domain.CodeNoStakes,
			Message: fmt.Sprintf("market %s has no stakes to settle", marketID),
		}), nil
	case err != nil:
		return snap, plan, nil, fmt.Errorf("resolution_service: plan market %s: %w: %w", marketID, domain.ErrSettlementFailed, err)
	}
	return snap, plan, nil, nil
}

// plan runs the engine, turning an empty market into an empty plan when
// AllowEmptyMarkets is set.
func (s *ResolutionService) plan(snap domain.MarketSnapshot, winningOutcomeID string) (settlement.Plan, error) {
	plan, err := s.engine.Plan(snap, winningOutcomeID)
	if errors.Is(err, domain.ErrNoStakes) && s.cfg.AllowEmptyMarkets {
		return settlement.EmptyPlan(snap.Market.ID, winningOutcomeID), nil
	}
	return plan, err
}

// validate collects every request problem detectable from the snapshot.
func validate(m domain.Market, winningOutcomeID string, actualValue *decimal.Decimal, preview bool) []domain.ValidationError {
	var errs []domain.ValidationError
	if m.Status.IsTerminal() {
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeMarketAlreadyTerminal,
			Message: fmt.Sprintf("market %s is already %s", m.ID, m.Status),
		})
	}
	if winningOutcomeID == "" || !m.HasOutcome(winningOutcomeID) {
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeInvalidOutcome,
			Message: fmt.Sprintf("outcome %q does not belong to market %s", winningOutcomeID, m.ID),
		})
	}
	if !preview && actualValue == nil {
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeMissingActualValue,
			Message: "actual_value is required to resolve a market",
		})
	}
	return errs
}

// apply performs every write of a commit inside tx. The market row is locked
// and re-checked first; a status change since the snapshot aborts the whole
// transaction.
func (s *ResolutionService) apply(
	ctx context.Context,
	tx domain.SettlementTx,
	seen domain.Market,
	plan settlement.Plan,
	result domain.ResolutionResult,
) error {
	resolvedAt := *result.ResolvedAt
	current, err := tx.LockMarket(ctx, seen.ID)
	if err != nil {
		return fmt.Errorf("lock market: %w", err)
	}
	if current.Status.IsTerminal() || current.Status != seen.Status {
		return fmt.Errorf("market moved from %s to %s: %w", seen.Status, current.Status, domain.ErrMarketAlreadyTerminal)
	}

	if entries := plan.LedgerEntries(resolvedAt); len(entries) > 0 {
		if err := tx.WriteBalanceLedgerEntries(ctx, entries); err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
	}
	if awards := plan.Awards(resolvedAt); len(awards) > 0 {
		if err := tx.WriteTrendsetterAwards(ctx, awards); err != nil {
			return fmt.Errorf("write awards: %w", err)
		}
	}
	if len(plan.Affinity.Deltas) > 0 {
		if err := tx.WriteTasteMatchDeltas(ctx, plan.Affinity.Deltas, resolvedAt); err != nil {
			return fmt.Errorf("write taste match: %w", err)
		}
	}
	if err := tx.WriteResolutionRecord(ctx, result); err != nil {
		return fmt.Errorf("write resolution record: %w", err)
	}
	if err := tx.UpdateMarketResolution(ctx, seen.ID, plan.WinningOutcomeID, *result.ActualValue, resolvedAt); err != nil {
		return fmt.Errorf("update market: %w", err)
	}
	return nil
}

// acquireLock takes the distributed resolve lock for marketID, polling until
// LockWait elapses. The store transaction stays authoritative, so a lock that
// cannot be taken is logged and the commit goes ahead.
func (s *ResolutionService) acquireLock(ctx context.Context, marketID string) func() {
	noop := func() {}
	if s.locks == nil {
		return noop
	}

	key := "resolve:" + marketID
	deadline := time.Now().Add(s.cfg.LockWait)
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return unlock
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			s.logger.WarnContext(ctx, "resolution_service: lock unavailable, relying on store guard",
				slog.String("market", marketID),
				slog.String("error", err.Error()),
			)
			return noop
		}
		if !time.Now().Before(deadline) {
			s.logger.WarnContext(ctx, "resolution_service: lock wait elapsed, relying on store guard",
				slog.String("market", marketID),
			)
			return noop
		}
		select {
		case <-ctx.Done():
			return noop
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// afterCommit fans the committed result out to the optional collaborators.
// Failures are logged and never change the result.
func (s *ResolutionService) afterCommit(ctx context.Context, result *domain.ResolutionResult) {
	warn := func(step string, err error) {
		s.logger.WarnContext(ctx, "resolution_service: "+step+" failed",
			slog.String("market", result.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":              EventResolved,
			"market_id":          result.MarketID,
			"winning_outcome_id": result.WinningOutcomeID,
			"total_pool":         result.PayoutSummary.TotalPool.String(),
			"winner_count":       result.PayoutSummary.WinnerCount,
			"refunded":           result.PayoutSummary.Refunded,
			"users":              result.BalanceChangedUsers,
			"resolved_at":        result.ResolvedAt,
		})
		if err := s.bus.Publish(ctx, ResolutionChannel, evt); err != nil {
			warn("publish event", err)
		}
		if err := s.bus.StreamAppend(ctx, ResolutionStream, evt); err != nil {
			warn("stream append", err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, *result); err != nil {
			warn("cache result", err)
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, EventResolved, map[string]any{
			"market_id":          result.MarketID,
			"winning_outcome_id": result.WinningOutcomeID,
			"actual_value":       result.ActualValue.String(),
			"total_pool":         result.PayoutSummary.TotalPool.String(),
			"winner_count":       result.PayoutSummary.WinnerCount,
			"loser_count":        result.PayoutSummary.LoserCount,
			"refunded":           result.PayoutSummary.Refunded,
			"affinity_skipped":   result.AffinityUsersSkipped,
		}); err != nil {
			warn("audit log", err)
		}
	}

	if s.archiver != nil {
		key, err := s.archiver.ArchiveResolution(ctx, *result)
		if err != nil {
			warn("archive report", err)
		} else {
			s.logger.DebugContext(ctx, "resolution_service: report archived",
				slog.String("market", result.MarketID),
				slog.String("key", key),
			)
		}
	}

	if s.notifier != nil {
		title := fmt.Sprintf("Market %s resolved", result.MarketID)
		msg := fmt.Sprintf("Winner: %s\nPool: %s\nWinning bets: %d, losing bets: %d",
			result.WinningOutcomeID,
			result.PayoutSummary.TotalPool,
			result.PayoutSummary.WinnerCount,
			result.PayoutSummary.LoserCount,
		)
		if result.PayoutSummary.Refunded {
			msg += "\nNo winning stakes: every bet was refunded."
		}
		if err := s.notifier.Notify(ctx, EventResolved, title, msg); err != nil {
			warn("notify", err)
		}
	}
}

func (s *ResolutionService) finish(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ResolutionFinished(outcome, time.Since(start))
	}
}

func failed(marketID, winningOutcomeID string, preview bool, errs ...domain.ValidationError) *domain.ResolutionResult {
	return &domain.ResolutionResult{
		MarketID:          marketID,
		WinningOutcomeID:  winningOutcomeID,
		Preview:           preview,
		TrendsetterPoints: map[string]int64{},
		TasteMatchUpdates: []domain.TasteMatchDelta{},
		Success:           false,
		Errors:            errs,
	}
}
