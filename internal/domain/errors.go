package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidOutcome        = errors.New("winning outcome does not belong to market")
	ErrNoStakes              = errors.New("market has no stakes")
	ErrMissingActualValue    = errors.New("actual value is required")
	ErrMarketAlreadyTerminal = errors.New("market already terminal")
	ErrSettlementFailed      = errors.New("settlement failed")
	ErrLockHeld              = errors.New("lock already held")
	ErrInvalidStake          = errors.New("stake must be positive")
)
