package ledger

import (
	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry
type EntryType string

const (
	// EntryTransfer is a principal movement within one currency
	EntryTransfer EntryType = "transfer"
	// EntryTrade is one leg of a cross-currency buy or sell
	EntryTrade EntryType = "trade"
	// EntryFee is a fee settlement against a fee-collection account
	EntryFee EntryType = "fee"
)

// LedgerEntry is one signed posting of a transaction's double-entry set.
// Negative amounts are debits (outflow), positive are credits (inflow).
// Entries are owned by their transaction and rebuilt wholesale on every
// recalculation; they are never edited in place.
type LedgerEntry struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	AccountID     AccountID       `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	EntryType     EntryType       `json:"entry_type"`
}

// IsDebit returns true for an outflow entry
func (e *LedgerEntry) IsDebit() bool {
	return e.Amount.IsNegative()
}

// IsCredit returns true for an inflow entry
func (e *LedgerEntry) IsCredit() bool {
	return e.Amount.IsPositive()
}

// AccountBalance is the signed sum of a single account's entries in one
// currency, derived entirely from the ledger.
type AccountBalance struct {
	AccountID AccountID       `json:"account_id"`
	Currency  Currency        `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
}
