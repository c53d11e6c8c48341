package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CreatesLot reports whether a transaction brings new BTC into a user-held
// account and therefore opens an acquisition lot. Transfers never create
// lots: moving BTC between the user's own accounts preserves the original
// lot's identity and acquisition date.
func CreatesLot(tx *Transaction) bool {
	if tx.Type != TxDeposit && tx.Type != TxBuy {
		return false
	}
	to, ok := AccountByID(tx.ToAccountID)
	return ok && to.IsUserHeld() && to.IsBTC()
}

// NewLot opens the acquisition lot for a Deposit or Buy. Cost basis is the
// transaction's basis, zero when absent (e.g. gifted BTC with unknown basis).
func NewLot(tx *Transaction) *BitcoinLot {
	return &BitcoinLot{
		CreatedTxnID: tx.ID,
		AcquiredDate: tx.Timestamp,
		TotalBTC:     tx.Amount,
		RemainingBTC: tx.Amount,
		CostBasisUSD: tx.CostBasisUSD,
	}
}

// DisposalQuantity returns how much BTC a transaction disposes of: the full
// amount for a Sell or a BTC-sourced Withdrawal (plus the BTC fee), and only
// the fee for a Transfer when transfer-fee disposals are enabled.
func DisposalQuantity(tx *Transaction, opts ReplayOptions) decimal.Decimal {
	switch tx.Type {
	case TxSell:
		return tx.Amount
	case TxWithdrawal:
		from, ok := AccountByID(tx.FromAccountID)
		if !ok || !from.IsBTC() {
			return decimal.Zero
		}
		return tx.Amount.Add(tx.BTCFee())
	case TxTransfer:
		if !opts.TransferFeeDisposal {
			return decimal.Zero
		}
		return tx.BTCFee()
	}
	return decimal.Zero
}

// disposalProceeds returns the total USD proceeds (or fair market value for
// non-sale dispositions) allocated across a transaction's disposal fragments.
func disposalProceeds(tx *Transaction) decimal.Decimal {
	switch tx.Type {
	case TxSell, TxWithdrawal:
		return tx.ProceedsUSD
	}
	return decimal.Zero
}

// lotBook holds the open lots of an in-progress replay.
//
// Lots are appended in replay order, which is ascending (timestamp, id), so
// the slice is already in FIFO order with the required tie-break: earliest
// acquired first, then lowest creating transaction id.
type lotBook struct {
	lots []*BitcoinLot
}

func (b *lotBook) add(lot *BitcoinLot) {
	b.lots = append(b.lots, lot)
}

// dispose consumes open lots oldest-first to cover qty BTC, splitting the
// last lot touched when the disposal is smaller than its remainder. One
// disposal fragment is emitted per lot touched, carrying a proportional share
// of the lot's basis and of the transaction's proceeds, both rounded
// half-down to cents. If the open lots cannot cover qty the disposal is
// infeasible and the whole pass must abort.
func (b *lotBook) dispose(tx *Transaction, qty, proceeds decimal.Decimal) ([]*LotDisposal, error) {
	required := qty
	var disposals []*LotDisposal

	for _, lot := range b.lots {
		if !required.IsPositive() {
			break
		}
		if !lot.Open() {
			continue
		}

		consumed := minDecimal(required, lot.RemainingBTC)
		basis := roundHalfDown(lot.CostBasisUSD.Mul(consumed).Div(lot.TotalBTC), centPlaces)
		portion := roundHalfDown(proceeds.Mul(consumed).Div(qty), centPlaces)

		lot.RemainingBTC = lot.RemainingBTC.Sub(consumed)
		if lot.RemainingBTC.IsNegative() {
			return nil, fmt.Errorf("%w: lot %d from transaction %d", ErrNegativeLotRemaining, lot.ID, lot.CreatedTxnID)
		}
		required = required.Sub(consumed)

		disposals = append(disposals, &LotDisposal{
			LotID:            lot.ID,
			TransactionID:    tx.ID,
			DisposedBTC:      consumed,
			DisposalBasisUSD: basis,
			ProceedsUSD:      portion,
			RealizedGainUSD:  portion.Sub(basis),
			HoldingPeriod:    holdingPeriodFor(lot.AcquiredDate, tx.Timestamp),
		})
	}

	if required.IsPositive() {
		return nil, fmt.Errorf("%w: need %s BTC, %s short", ErrInsufficientBTC, qty.String(), required.String())
	}
	return disposals, nil
}

// rollUp writes the transaction-level summary computed from its disposal
// fragments. The holding period reflects the oldest fragment; fragment rows
// remain the source of truth when a disposal spans both periods.
func rollUp(tx *Transaction, disposals []*LotDisposal) {
	basis := decimal.Zero
	gain := decimal.Zero
	for _, d := range disposals {
		basis = basis.Add(d.DisposalBasisUSD)
		gain = gain.Add(d.RealizedGainUSD)
	}
	tx.CostBasisUSD = basis
	tx.RealizedGainUSD = &gain
	if len(disposals) > 0 {
		hp := disposals[0].HoldingPeriod
		tx.HoldingPeriod = &hp
	}
}
