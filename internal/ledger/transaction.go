package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of transaction types the engine replays
type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
	TxTransfer   TransactionType = "TRANSFER"
	TxBuy        TransactionType = "BUY"
	TxSell       TransactionType = "SELL"
)

// IsValid returns true for a known transaction type
func (t TransactionType) IsValid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer, TxBuy, TxSell:
		return true
	}
	return false
}

// Label returns a human-readable label for the transaction type
func (t TransactionType) Label() string {
	switch t {
	case TxDeposit:
		return "Deposit"
	case TxWithdrawal:
		return "Withdrawal"
	case TxTransfer:
		return "Transfer"
	case TxBuy:
		return "Buy"
	case TxSell:
		return "Sell"
	}
	return "Unknown"
}

// AllTransactionTypes returns every supported transaction type
func AllTransactionTypes() []TransactionType {
	return []TransactionType{TxDeposit, TxWithdrawal, TxTransfer, TxBuy, TxSell}
}

// HoldingPeriod classifies a disposal for capital-gains reporting
type HoldingPeriod string

const (
	HoldingShort HoldingPeriod = "SHORT"
	HoldingLong  HoldingPeriod = "LONG"
)

// PurposeSpent marks a withdrawal that pays for goods or services, which makes
// it a taxable disposition and requires proceeds (fair market value).
const PurposeSpent = "Spent"

// Transaction is the only entity external callers create directly. Ledger
// entries, lots, and disposals are derived from the ordered transaction
// history and rebuilt on every mutation.
//
// Amount is denominated in the source account's currency for Deposit,
// Withdrawal, and Transfer, and in BTC for Buy and Sell.
type Transaction struct {
	ID            int64           `json:"id"`
	Type          TransactionType `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	FromAccountID AccountID       `json:"from_account_id"`
	ToAccountID   AccountID       `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	FeeCurrency   Currency        `json:"fee_currency,omitempty"`
	CostBasisUSD  decimal.Decimal `json:"cost_basis_usd"`
	ProceedsUSD   decimal.Decimal `json:"proceeds_usd"`

	// Computed during replay for disposing transactions, nil otherwise.
	RealizedGainUSD *decimal.Decimal `json:"realized_gain_usd,omitempty"`
	HoldingPeriod   *HoldingPeriod   `json:"holding_period,omitempty"`

	Purpose   string     `json:"purpose,omitempty"`
	Source    string     `json:"source,omitempty"`
	IsLocked  bool       `json:"is_locked"`
	GroupID   *uuid.UUID `json:"group_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HasFee returns true if the transaction carries a fee
func (t *Transaction) HasFee() bool {
	return t.FeeAmount.IsPositive()
}

// BTCFee returns the fee amount when it is denominated in BTC, zero otherwise
func (t *Transaction) BTCFee() decimal.Decimal {
	if t.HasFee() && t.FeeCurrency == BTC {
		return t.FeeAmount
	}
	return decimal.Zero
}

// Validate checks structural validity and the account-role rules for the
// transaction's type. The engine relies on these checks having passed before
// a transaction enters the replay set.
func (t *Transaction) Validate() error {
	if !t.Type.IsValid() {
		return ErrInvalidTransactionType
	}
	if t.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if !t.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if t.FeeAmount.IsNegative() {
		return ErrNegativeFee
	}
	if t.HasFee() && !t.FeeCurrency.IsValid() {
		return ErrMissingFeeCurrency
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrSameAccount
	}

	from, ok := AccountByID(t.FromAccountID)
	if !ok {
		return ErrUnknownAccount
	}
	to, ok := AccountByID(t.ToAccountID)
	if !ok {
		return ErrUnknownAccount
	}

	return t.validateRoles(from, to)
}

// validateRoles enforces the per-type account-role table:
//
//	Deposit     External -> user-held          fee matches deposited asset
//	Withdrawal  user-held -> External          fee matches withdrawn asset
//	Transfer    user-held -> user-held, same currency   fee BTC only
//	Buy         Bank|Exchange USD -> Exchange BTC       fee USD only
//	Sell        Exchange BTC -> Exchange USD            fee USD only
func (t *Transaction) validateRoles(from, to Account) error {
	switch t.Type {
	case TxDeposit:
		if !from.IsExternal() || !to.IsUserHeld() {
			return ErrInvalidAccountPair
		}
		if t.HasFee() && t.FeeCurrency != to.Currency {
			return ErrInvalidFeeCurrency
		}
	case TxWithdrawal:
		if !from.IsUserHeld() || !to.IsExternal() {
			return ErrInvalidAccountPair
		}
		if t.HasFee() && t.FeeCurrency != from.Currency {
			return ErrInvalidFeeCurrency
		}
		if from.IsBTC() && t.Purpose == PurposeSpent && !t.ProceedsUSD.IsPositive() {
			return ErrMissingProceeds
		}
	case TxTransfer:
		if !from.IsUserHeld() || !to.IsUserHeld() {
			return ErrInvalidAccountPair
		}
		if from.Currency != to.Currency {
			return ErrCurrencyMismatch
		}
		if t.HasFee() && (t.FeeCurrency != BTC || !from.IsBTC()) {
			return ErrInvalidFeeCurrency
		}
	case TxBuy:
		if (from.ID != AccountBank && from.ID != AccountExchangeUSD) || to.ID != AccountExchangeBTC {
			return ErrInvalidAccountPair
		}
		if !t.CostBasisUSD.IsPositive() {
			return ErrMissingCostBasis
		}
		if t.HasFee() && t.FeeCurrency != USD {
			return ErrInvalidFeeCurrency
		}
	case TxSell:
		if from.ID != AccountExchangeBTC || to.ID != AccountExchangeUSD {
			return ErrInvalidAccountPair
		}
		if !t.ProceedsUSD.IsPositive() {
			return ErrMissingProceeds
		}
		if t.HasFee() && t.FeeCurrency != USD {
			return ErrInvalidFeeCurrency
		}
	}
	return nil
}
