package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// BitcoinLot is a quantity of BTC acquired at a specific time and cost basis,
// tracked until fully disposed. A lot is created by the Deposit or Buy that
// brought the BTC into a user-held account and keeps that transaction's
// timestamp as its FIFO and holding-period anchor, even when the coins later
// move between internal accounts.
type BitcoinLot struct {
	ID           int64           `json:"id"`
	CreatedTxnID int64           `json:"created_txn_id"`
	AcquiredDate time.Time       `json:"acquired_date"`
	TotalBTC     decimal.Decimal `json:"total_btc"`
	RemainingBTC decimal.Decimal `json:"remaining_btc"`
	CostBasisUSD decimal.Decimal `json:"cost_basis_usd"`
}

// Open returns true while the lot has undisposed BTC
func (l *BitcoinLot) Open() bool {
	return l.RemainingBTC.IsPositive()
}

// LotDisposal records the consumption of part or all of one lot by a
// disposing transaction. A disposing transaction owns one row per lot it
// touched; the fragment rows are the source of truth for tax reporting.
type LotDisposal struct {
	ID               int64           `json:"id"`
	LotID            int64           `json:"lot_id"`
	TransactionID    int64           `json:"transaction_id"`
	DisposedBTC      decimal.Decimal `json:"disposed_btc"`
	DisposalBasisUSD decimal.Decimal `json:"disposal_basis_usd"`
	ProceedsUSD      decimal.Decimal `json:"proceeds_usd"`
	RealizedGainUSD  decimal.Decimal `json:"realized_gain_usd"`
	HoldingPeriod    HoldingPeriod   `json:"holding_period"`
}

// holdingPeriodDays is the short/long boundary: a disposal held for more
// than 365 whole days is long-term, 365 or fewer is short-term.
const holdingPeriodDays = 365

func holdingPeriodFor(acquired, disposed time.Time) HoldingPeriod {
	days := int(disposed.Sub(acquired).Hours() / 24)
	if days > holdingPeriodDays {
		return HoldingLong
	}
	return HoldingShort
}
