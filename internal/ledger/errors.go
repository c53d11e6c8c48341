package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors (caller-facing, surfaced before any state changes)
var (
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrZeroTimestamp          = errors.New("timestamp is required")
	ErrNonPositiveAmount      = errors.New("amount must be positive")
	ErrNegativeFee            = errors.New("fee amount cannot be negative")
	ErrMissingFeeCurrency     = errors.New("fee currency is required when a fee is set")
	ErrInvalidFeeCurrency     = errors.New("fee currency is not legal for this transaction type")
	ErrUnknownAccount         = errors.New("unknown account")
	ErrSameAccount            = errors.New("from and to accounts must differ")
	ErrInvalidAccountPair     = errors.New("account pair is not legal for this transaction type")
	ErrCurrencyMismatch       = errors.New("transfer accounts must share a currency")
	ErrMissingCostBasis       = errors.New("cost basis is required for a buy")
	ErrMissingProceeds        = errors.New("proceeds are required")
)

// ValidationErrors returns every validation sentinel, for callers that map
// them to a common failure class (e.g. HTTP 400).
func ValidationErrors() []error {
	return []error{
		ErrInvalidTransactionType,
		ErrZeroTimestamp,
		ErrNonPositiveAmount,
		ErrNegativeFee,
		ErrMissingFeeCurrency,
		ErrInvalidFeeCurrency,
		ErrUnknownAccount,
		ErrSameAccount,
		ErrInvalidAccountPair,
		ErrCurrencyMismatch,
		ErrMissingCostBasis,
		ErrMissingProceeds,
		ErrEmptyGroup,
	}
}

// Service errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionLocked   = errors.New("transaction is locked")
	ErrEmptyGroup          = errors.New("transaction group is empty")
)

// Insufficiency errors (engine-detected, abort the whole replay)
var (
	ErrInsufficientBTC = errors.New("insufficient BTC across open lots")
)

// Consistency errors (engine-detected, indicate a bug; never coerced)
var (
	ErrUnbalancedEntries    = errors.New("ledger entries do not sum to zero per currency")
	ErrNegativeLotRemaining = errors.New("lot remaining quantity went negative")
)

// ReplayError identifies the transaction a replay pass failed on.
// Wraps the underlying validation, insufficiency, or consistency error.
type ReplayError struct {
	TransactionID int64
	Timestamp     time.Time
	Err           error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay aborted at transaction %d (%s): %v",
		e.TransactionID, e.Timestamp.UTC().Format(time.RFC3339), e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}
