// Package settlement holds the pure calculators that turn a market snapshot
// and a declared winning outcome into payouts, trendsetter points and
// taste-match updates. Nothing in this package performs I/O.
package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// PayoutCalculator redistributes a parimutuel pool to the winning side.
// Scale is the number of decimal places of the currency's minor unit.
type PayoutCalculator struct {
	Scale int32
}

// PayoutPlan is the outcome of a payout computation. Payouts holds one entry
// per bet, in the order the bets were supplied.
type PayoutPlan struct {
	Summary domain.PayoutSummary
	Payouts []domain.BetPayout
}

// Compute splits the pool between the bets on winningOutcomeID. Every winning
// payout is stake * pool / winningStakes rounded half-even to the minor unit;
// the rounding remainder goes to the largest winning stake so the payouts
// always sum to the pool exactly. When nobody backed the winning outcome the
// whole pool is refunded to the original bettors. A bet with a stake that is
// not positive fails the whole computation with domain.ErrInvalidStake.
func (c PayoutCalculator) Compute(outcomes []domain.Outcome, bets []domain.Bet, winningOutcomeID string) (PayoutPlan, error) {
	if !containsOutcome(outcomes, winningOutcomeID) {
		return PayoutPlan{}, fmt.Errorf("settlement: outcome %s: %w", winningOutcomeID, domain.ErrInvalidOutcome)
	}

	totalPool := decimal.Zero
	totalWinning := decimal.Zero
	winners := 0
	for _, b := range bets {
		if !b.Stake.IsPositive() {
			return PayoutPlan{}, fmt.Errorf("settlement: bet %s stake %s: %w", b.ID, b.Stake, domain.ErrInvalidStake)
		}
		totalPool = totalPool.Add(b.Stake)
		if b.OutcomeID == winningOutcomeID {
			totalWinning = totalWinning.Add(b.Stake)
			winners++
		}
	}
	if !totalPool.IsPositive() {
		return PayoutPlan{}, domain.ErrNoStakes
	}

	if !totalWinning.IsPositive() {
		return c.refund(bets, totalPool), nil
	}

	plan := PayoutPlan{Payouts: make([]domain.BetPayout, len(bets))}
	allocated := decimal.Zero
	largest := -1
	for i, b := range bets {
		p := domain.BetPayout{BetID: b.ID, UserID: b.UserID, Stake: b.Stake, Amount: decimal.Zero}
		if b.OutcomeID == winningOutcomeID {
			p.Amount = b.Stake.Mul(totalPool).Div(totalWinning).RoundBank(c.Scale)
			p.Reason = domain.LedgerReasonPayout
			allocated = allocated.Add(p.Amount)
			if largest < 0 || absorbsRemainder(b, bets[largest]) {
				largest = i
			}
		}
		plan.Payouts[i] = p
	}

	if remainder := totalPool.Sub(allocated); !remainder.IsZero() {
		plan.Payouts[largest].Amount = plan.Payouts[largest].Amount.Add(remainder)
	}

	plan.Summary = domain.PayoutSummary{
		TotalPool:           totalPool,
		TotalWinningStakes:  totalWinning,
		TotalPayouts:        totalPool,
		AverageWinnerPayout: totalPool.Div(decimal.NewFromInt(int64(winners))).RoundBank(c.Scale),
		WinnerCount:         winners,
		LoserCount:          len(bets) - winners,
	}
	return plan, nil
}

func (c PayoutCalculator) refund(bets []domain.Bet, totalPool decimal.Decimal) PayoutPlan {
	plan := PayoutPlan{Payouts: make([]domain.BetPayout, len(bets))}
	for i, b := range bets {
		plan.Payouts[i] = domain.BetPayout{
			BetID:  b.ID,
			UserID: b.UserID,
			Stake:  b.Stake,
			Amount: b.Stake,
			Reason: domain.LedgerReasonRefund,
		}
	}
	plan.Summary = domain.PayoutSummary{
		TotalPool:           totalPool,
		TotalWinningStakes:  decimal.Zero,
		TotalPayouts:        totalPool,
		AverageWinnerPayout: decimal.Zero,
		WinnerCount:         0,
		LoserCount:          len(bets),
		Refunded:            true,
	}
	return plan
}

// absorbsRemainder orders candidates for the rounding remainder: largest
// stake first, then earliest placement, then lowest bet ID.
func absorbsRemainder(candidate, current domain.Bet) bool {
	if c := candidate.Stake.Cmp(current.Stake); c != 0 {
		return c > 0
	}
	if !candidate.PlacedAt.Equal(current.PlacedAt) {
		return candidate.PlacedAt.Before(current.PlacedAt)
	}
	return candidate.ID < current.ID
}

func containsOutcome(outcomes []domain.Outcome, id string) bool {
	for _, o := range outcomes {
		if o.ID == id {
			return true
		}
	}
	return false
}

// BalanceDeltas folds per-bet payouts into one amount per (user, reason).
// Zero amounts are dropped. The result is sorted by user then reason.
func (p PayoutPlan) BalanceDeltas() []UserDelta {
	type key struct {
		user   string
		reason domain.LedgerReason
	}
	sums := make(map[key]decimal.Decimal)
	for _, bp := range p.Payouts {
		if !bp.Amount.IsPositive() {
			continue
		}
		k := key{bp.UserID, bp.Reason}
		sums[k] = sums[k].Add(bp.Amount)
	}

	out := make([]UserDelta, 0, len(sums))
	for k, amt := range sums {
		out = append(out, UserDelta{UserID: k.user, Reason: k.reason, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// UserDelta is a per-user balance change derived from a payout plan.
type UserDelta struct {
	UserID string
	Reason domain.LedgerReason
	Amount decimal.Decimal
}
