package ledger

import (
	"slices"
	"time"
)

// ReplayOptions carries the policy knobs of a replay pass.
type ReplayOptions struct {
	// TransferFeeDisposal controls whether a BTC network fee on a transfer
	// between the user's own accounts is treated as a taxable micro-disposal.
	TransferFeeDisposal bool
}

// DefaultReplayOptions returns the engine's default policy
func DefaultReplayOptions() ReplayOptions {
	return ReplayOptions{TransferFeeDisposal: true}
}

// Result is the complete derived state produced by one replay pass. It fully
// replaces whatever derived state existed before.
type Result struct {
	Entries   []*LedgerEntry
	Lots      []*BitcoinLot
	Disposals []*LotDisposal
}

// Replay deterministically rebuilds ledger entries, lots, and disposals from
// the full transaction history. It is a pure function of the transaction set:
// transactions are processed in ascending (timestamp, id) order regardless of
// submission order, which is what makes backdated inserts safe — an earlier
// lot retroactively changes which lots later disposals draw from, so derived
// state is never patched incrementally.
//
// Replay mutates the computed fields (cost basis rollup, realized gain,
// holding period) of disposing transactions in place and assigns derived-row
// IDs sequentially in processing order, so two replays of the same history
// produce identical results.
//
// Any failure aborts the whole pass: the returned error identifies the
// offending transaction and no partial Result is returned.
func Replay(txs []*Transaction, opts ReplayOptions) (*Result, error) {
	ordered := make([]*Transaction, len(txs))
	copy(ordered, txs)
	slices.SortStableFunc(ordered, func(a, b *Transaction) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	res := &Result{}
	book := &lotBook{}
	var entryID, lotID, disposalID int64

	for _, tx := range ordered {
		if err := tx.Validate(); err != nil {
			return nil, &ReplayError{TransactionID: tx.ID, Timestamp: tx.Timestamp, Err: err}
		}

		entries, err := PostEntries(tx)
		if err != nil {
			return nil, &ReplayError{TransactionID: tx.ID, Timestamp: tx.Timestamp, Err: err}
		}
		for _, e := range entries {
			entryID++
			e.ID = entryID
		}
		res.Entries = append(res.Entries, entries...)

		if CreatesLot(tx) {
			lot := NewLot(tx)
			lotID++
			lot.ID = lotID
			book.add(lot)
			res.Lots = append(res.Lots, lot)
		}

		tx.RealizedGainUSD = nil
		tx.HoldingPeriod = nil
		if qty := DisposalQuantity(tx, opts); qty.IsPositive() {
			disposals, err := book.dispose(tx, qty, disposalProceeds(tx))
			if err != nil {
				return nil, &ReplayError{TransactionID: tx.ID, Timestamp: tx.Timestamp, Err: err}
			}
			for _, d := range disposals {
				disposalID++
				d.ID = disposalID
			}
			res.Disposals = append(res.Disposals, disposals...)
			rollUp(tx, disposals)
		}
	}

	return res, nil
}

// ReplayThrough replays only the transactions dated strictly before asOf,
// yielding the derived state as it stood at that instant — open lots with
// their carried-forward remaining quantities, in particular. Used for
// point-in-time queries; the full-history state is restored by a regular
// Replay before any further mutation.
func ReplayThrough(txs []*Transaction, asOf time.Time, opts ReplayOptions) (*Result, error) {
	var before []*Transaction
	for _, tx := range txs {
		if tx.Timestamp.Before(asOf) {
			before = append(before, tx)
		}
	}
	return Replay(before, opts)
}
