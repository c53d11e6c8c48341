package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PostEntries translates one validated transaction into its balanced set of
// ledger entries. Same-currency types post a single principal pair; Buy and
// Sell post two pairs routed through the External account (a USD pair and a
// BTC pair), the clearing construction that keeps every currency's signed sum
// at zero. A fee adds one more pair against the fee-collection account
// matching the fee currency.
//
// The returned entries carry no IDs; the recalculation engine assigns them.
func PostEntries(tx *Transaction) ([]*LedgerEntry, error) {
	from, ok := AccountByID(tx.FromAccountID)
	if !ok {
		return nil, ErrUnknownAccount
	}
	to, ok := AccountByID(tx.ToAccountID)
	if !ok {
		return nil, ErrUnknownAccount
	}

	var entries []*LedgerEntry
	switch tx.Type {
	case TxDeposit:
		entries = pair(tx, from.ID, to.ID, tx.Amount, to.Currency, EntryTransfer)
		// Fee comes out of the receiving account.
		entries = appendFeePair(entries, tx, to.ID)
	case TxWithdrawal:
		entries = pair(tx, from.ID, to.ID, tx.Amount, from.Currency, EntryTransfer)
		entries = appendFeePair(entries, tx, from.ID)
	case TxTransfer:
		entries = pair(tx, from.ID, to.ID, tx.Amount, from.Currency, EntryTransfer)
		entries = appendFeePair(entries, tx, from.ID)
	case TxBuy:
		entries = pair(tx, from.ID, AccountExternal, tx.CostBasisUSD, USD, EntryTrade)
		entries = append(entries, pair(tx, AccountExternal, to.ID, tx.Amount, BTC, EntryTrade)...)
		entries = appendFeePair(entries, tx, from.ID)
	case TxSell:
		entries = pair(tx, from.ID, AccountExternal, tx.Amount, BTC, EntryTrade)
		entries = append(entries, pair(tx, AccountExternal, to.ID, tx.ProceedsUSD, USD, EntryTrade)...)
		entries = appendFeePair(entries, tx, to.ID)
	default:
		return nil, ErrInvalidTransactionType
	}

	if err := verifyBalanced(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// pair emits a balanced debit/credit pair: amount out of the from account,
// into the to account, both in the same currency.
func pair(tx *Transaction, from, to AccountID, amount decimal.Decimal, cur Currency, et EntryType) []*LedgerEntry {
	return []*LedgerEntry{
		{TransactionID: tx.ID, AccountID: from, Amount: amount.Neg(), Currency: cur, EntryType: et},
		{TransactionID: tx.ID, AccountID: to, Amount: amount, Currency: cur, EntryType: et},
	}
}

// appendFeePair adds the fee settlement pair, debiting the paying account
// and crediting the fee-collection account of the fee currency.
func appendFeePair(entries []*LedgerEntry, tx *Transaction, payer AccountID) []*LedgerEntry {
	if !tx.HasFee() {
		return entries
	}
	return append(entries, pair(tx, payer, FeeAccount(tx.FeeCurrency), tx.FeeAmount, tx.FeeCurrency, EntryFee)...)
}

// verifyBalanced checks the double-entry invariant: for every currency
// present in the transaction's entries the signed sum is exactly zero. A
// violation is a bug in the poster, never tolerated.
func verifyBalanced(entries []*LedgerEntry) error {
	sums := make(map[Currency]decimal.Decimal, 2)
	for _, e := range entries {
		sums[e.Currency] = sums[e.Currency].Add(e.Amount)
	}
	for cur, sum := range sums {
		if !sum.IsZero() {
			return fmt.Errorf("%w: %s off by %s", ErrUnbalancedEntries, cur, sum.String())
		}
	}
	return nil
}
