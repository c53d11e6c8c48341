package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valekseev/satledger/internal/ledger"
)

func TestCreatesLot(t *testing.T) {
	tests := []struct {
		name string
		tx   *ledger.Transaction
		want bool
	}{
		{
			name: "buy creates lot",
			tx: &ledger.Transaction{Type: ledger.TxBuy,
				FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC},
			want: true,
		},
		{
			name: "BTC deposit creates lot",
			tx: &ledger.Transaction{Type: ledger.TxDeposit,
				FromAccountID: ledger.AccountExternal, ToAccountID: ledger.AccountColdStorage},
			want: true,
		},
		{
			name: "USD deposit does not",
			tx: &ledger.Transaction{Type: ledger.TxDeposit,
				FromAccountID: ledger.AccountExternal, ToAccountID: ledger.AccountBank},
			want: false,
		},
		{
			name: "transfer preserves the existing lot",
			tx: &ledger.Transaction{Type: ledger.TxTransfer,
				FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountColdStorage},
			want: false,
		},
		{
			name: "sell does not",
			tx: &ledger.Transaction{Type: ledger.TxSell,
				FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.CreatesLot(tt.tx))
		})
	}
}

func TestNewLot(t *testing.T) {
	tx := &ledger.Transaction{
		ID: 7, Type: ledger.TxBuy, Timestamp: day("2024-02-01"),
		FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC,
		Amount: dec("1.5"), CostBasisUSD: dec("60000"),
	}

	lot := ledger.NewLot(tx)
	assert.Equal(t, int64(7), lot.CreatedTxnID)
	assert.Equal(t, day("2024-02-01"), lot.AcquiredDate)
	assert.True(t, lot.TotalBTC.Equal(dec("1.5")))
	assert.True(t, lot.RemainingBTC.Equal(dec("1.5")))
	assert.True(t, lot.CostBasisUSD.Equal(dec("60000")))
	assert.True(t, lot.Open())
}

func TestDisposalQuantity(t *testing.T) {
	opts := ledger.DefaultReplayOptions()

	sell := &ledger.Transaction{Type: ledger.TxSell, Amount: dec("0.4")}
	assert.True(t, ledger.DisposalQuantity(sell, opts).Equal(dec("0.4")))

	// BTC withdrawal disposes the amount plus the BTC fee.
	wd := &ledger.Transaction{Type: ledger.TxWithdrawal,
		FromAccountID: ledger.AccountColdStorage,
		Amount:        dec("0.2"), FeeAmount: dec("0.0005"), FeeCurrency: ledger.BTC}
	assert.True(t, ledger.DisposalQuantity(wd, opts).Equal(dec("0.2005")))

	// USD withdrawal is not a disposal.
	usdWd := &ledger.Transaction{Type: ledger.TxWithdrawal,
		FromAccountID: ledger.AccountBank, Amount: dec("100")}
	assert.True(t, ledger.DisposalQuantity(usdWd, opts).IsZero())

	// Transfer disposes only its BTC fee, and only when the policy says so.
	tr := &ledger.Transaction{Type: ledger.TxTransfer,
		FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountColdStorage,
		Amount: dec("1"), FeeAmount: dec("0.0002"), FeeCurrency: ledger.BTC}
	assert.True(t, ledger.DisposalQuantity(tr, opts).Equal(dec("0.0002")))
	assert.True(t, ledger.DisposalQuantity(tr, ledger.ReplayOptions{TransferFeeDisposal: false}).IsZero())
}

// =============================================================================
// Disposal matching via replay
// =============================================================================

// history builds the shared two-buy fixture used by the matcher tests.
func twoBuys() []*ledger.Transaction {
	return []*ledger.Transaction{
		{ID: 1, Type: ledger.TxBuy, Timestamp: day("2024-02-01"),
			FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC,
			Amount: dec("1"), CostBasisUSD: dec("40000")},
		{ID: 2, Type: ledger.TxBuy, Timestamp: day("2024-03-01"),
			FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC,
			Amount: dec("1"), CostBasisUSD: dec("50000")},
	}
}

func TestDispose_PartialLotSplit(t *testing.T) {
	txs := []*ledger.Transaction{
		{ID: 1, Type: ledger.TxBuy, Timestamp: day("2024-01-01"),
			FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC,
			Amount: dec("1.0"), CostBasisUSD: dec("20000")},
		{ID: 2, Type: ledger.TxSell, Timestamp: day("2024-02-01"),
			FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD,
			Amount: dec("0.3"), ProceedsUSD: dec("9000")},
	}

	res, err := ledger.Replay(txs, ledger.DefaultReplayOptions())
	require.NoError(t, err)
	require.Len(t, res.Disposals, 1)

	d := res.Disposals[0]
	assert.True(t, d.DisposedBTC.Equal(dec("0.3")))
	assert.True(t, d.DisposalBasisUSD.Equal(dec("6000.00")), "basis = %s", d.DisposalBasisUSD)
	assert.True(t, d.ProceedsUSD.Equal(dec("9000.00")))
	assert.True(t, d.RealizedGainUSD.Equal(dec("3000.00")))

	require.Len(t, res.Lots, 1)
	assert.True(t, res.Lots[0].RemainingBTC.Equal(dec("0.7")))
}

func TestDispose_SpansLotsOldestFirst(t *testing.T) {
	txs := append(twoBuys(), &ledger.Transaction{
		ID: 3, Type: ledger.TxSell, Timestamp: day("2024-04-01"),
		FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD,
		Amount: dec("1.5"), ProceedsUSD: dec("90000"),
	})

	res, err := ledger.Replay(txs, ledger.DefaultReplayOptions())
	require.NoError(t, err)
	require.Len(t, res.Disposals, 2)

	first, second := res.Disposals[0], res.Disposals[1]
	assert.True(t, first.DisposedBTC.Equal(dec("1")), "oldest lot fully consumed first")
	assert.True(t, first.DisposalBasisUSD.Equal(dec("40000.00")))
	assert.True(t, second.DisposedBTC.Equal(dec("0.5")))
	assert.True(t, second.DisposalBasisUSD.Equal(dec("25000.00")))

	// FIFO ordering: the older lot is never left open while the newer was consumed.
	assert.False(t, res.Lots[0].Open())
	assert.True(t, res.Lots[1].RemainingBTC.Equal(dec("0.5")))
}

func TestDispose_SameTimestampTieBreaksByCreatingTxn(t *testing.T) {
	ts := day("2024-02-01")
	txs := []*ledger.Transaction{
		{ID: 9, Type: ledger.TxBuy, Timestamp: ts,
			FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC,
			Amount: dec("1"), CostBasisUSD: dec("45000")},
		{ID: 4, Type: ledger.TxBuy, Timestamp: ts,
			FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC,
			Amount: dec("1"), CostBasisUSD: dec("41000")},
		{ID: 12, Type: ledger.TxSell, Timestamp: day("2024-03-01"),
			FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD,
			Amount: dec("1"), ProceedsUSD: dec("50000")},
	}

	res, err := ledger.Replay(txs, ledger.DefaultReplayOptions())
	require.NoError(t, err)
	require.Len(t, res.Disposals, 1)

	// Lowest creating transaction id wins among same-timestamp lots.
	assert.True(t, res.Disposals[0].DisposalBasisUSD.Equal(dec("41000.00")))
}

func TestDispose_InsufficientBTCFailsWholePass(t *testing.T) {
	txs := append(twoBuys(), &ledger.Transaction{
		ID: 3, Type: ledger.TxSell, Timestamp: day("2024-04-01"),
		FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD,
		Amount: dec("2.5"), ProceedsUSD: dec("150000"),
	})

	res, err := ledger.Replay(txs, ledger.DefaultReplayOptions())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBTC)

	var replayErr *ledger.ReplayError
	require.ErrorAs(t, err, &replayErr)
	assert.Equal(t, int64(3), replayErr.TransactionID)
}

func TestDispose_ConservationInvariant(t *testing.T) {
	txs := append(twoBuys(),
		&ledger.Transaction{ID: 3, Type: ledger.TxSell, Timestamp: day("2024-04-01"),
			FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD,
			Amount: dec("0.7"), ProceedsUSD: dec("42000")},
		&ledger.Transaction{ID: 4, Type: ledger.TxSell, Timestamp: day("2024-05-01"),
			FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD,
			Amount: dec("0.8"), ProceedsUSD: dec("48000")},
	)

	res, err := ledger.Replay(txs, ledger.DefaultReplayOptions())
	require.NoError(t, err)

	for _, lot := range res.Lots {
		disposed := decimal.Zero
		for _, d := range res.Disposals {
			if d.LotID == lot.ID {
				disposed = disposed.Add(d.DisposedBTC)
			}
		}
		total := disposed.Add(lot.RemainingBTC)
		assert.True(t, total.Equal(lot.TotalBTC),
			"lot %d: disposed %s + remaining %s != total %s", lot.ID, disposed, lot.RemainingBTC, lot.TotalBTC)
	}
}

func TestHoldingPeriod_Boundary(t *testing.T) {
	buy := &ledger.Transaction{ID: 1, Type: ledger.TxBuy, Timestamp: day("2023-01-01"),
		FromAccountID: ledger.AccountExchangeUSD, ToAccountID: ledger.AccountExchangeBTC,
		Amount: dec("1"), CostBasisUSD: dec("20000")}

	tests := []struct {
		name     string
		sellDate string
		want     ledger.HoldingPeriod
	}{
		{"365 days is short", "2024-01-01", ledger.HoldingShort},
		{"366 days is long", "2024-01-02", ledger.HoldingLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sell := &ledger.Transaction{ID: 2, Type: ledger.TxSell, Timestamp: day(tt.sellDate),
				FromAccountID: ledger.AccountExchangeBTC, ToAccountID: ledger.AccountExchangeUSD,
				Amount: dec("1"), ProceedsUSD: dec("30000")}

			res, err := ledger.Replay([]*ledger.Transaction{buy, sell}, ledger.DefaultReplayOptions())
			require.NoError(t, err)
			require.Len(t, res.Disposals, 1)
			assert.Equal(t, tt.want, res.Disposals[0].HoldingPeriod)
		})
	}
}
