package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valekseev/satledger/internal/ledger"
	"github.com/valekseev/satledger/pkg/logger"
)

// =============================================================================
// In-memory repository fake
// =============================================================================

// fakeRepo implements ledger.Repository with copy-on-begin transaction
// semantics: mutations apply to a staged copy that only replaces the
// committed state on CommitTx, which is what lets the atomicity tests
// observe rollback behaviour.
type fakeRepo struct {
	txs     map[int64]*ledger.Transaction
	derived *ledger.Result
	nextID  int64

	staged        map[int64]*ledger.Transaction
	stagedDerived *ledger.Result
	inTx          bool

	failReplace bool
	commits     int
	rollbacks   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{txs: map[int64]*ledger.Transaction{}, derived: &ledger.Result{}}
}

func (r *fakeRepo) active() map[int64]*ledger.Transaction {
	if r.inTx {
		return r.staged
	}
	return r.txs
}

func (r *fakeRepo) CreateTransaction(_ context.Context, tx *ledger.Transaction) error {
	r.nextID++
	tx.ID = r.nextID
	cp := *tx
	r.active()[tx.ID] = &cp
	return nil
}

func (r *fakeRepo) UpdateTransaction(_ context.Context, tx *ledger.Transaction) error {
	if _, ok := r.active()[tx.ID]; !ok {
		return ledger.ErrTransactionNotFound
	}
	cp := *tx
	r.active()[tx.ID] = &cp
	return nil
}

func (r *fakeRepo) DeleteTransaction(_ context.Context, id int64) error {
	if _, ok := r.active()[id]; !ok {
		return ledger.ErrTransactionNotFound
	}
	delete(r.active(), id)
	return nil
}

func (r *fakeRepo) GetTransaction(_ context.Context, id int64) (*ledger.Transaction, error) {
	tx, ok := r.active()[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *fakeRepo) ListTransactions(_ context.Context, _ ledger.TransactionFilters) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, tx := range r.active() {
		cp := *tx
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) LockTransactionsThrough(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, tx := range r.active() {
		if !tx.Timestamp.After(cutoff) && !tx.IsLocked {
			tx.IsLocked = true
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ReplaceDerivedState(_ context.Context, res *ledger.Result) error {
	if r.failReplace {
		return fmt.Errorf("replace derived state: %w", errDBDown)
	}
	if r.inTx {
		r.stagedDerived = res
	} else {
		r.derived = res
	}
	return nil
}

func (r *fakeRepo) UpdateComputedFields(_ context.Context, txs []*ledger.Transaction) error {
	for _, tx := range txs {
		cp := *tx
		r.active()[tx.ID] = &cp
	}
	return nil
}

func (r *fakeRepo) ListEntriesByTransaction(_ context.Context, txID int64) ([]*ledger.LedgerEntry, error) {
	var out []*ledger.LedgerEntry
	for _, e := range r.derived.Entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListLots(_ context.Context, openOnly bool) ([]*ledger.BitcoinLot, error) {
	var out []*ledger.BitcoinLot
	for _, lot := range r.derived.Lots {
		if openOnly && !lot.Open() {
			continue
		}
		out = append(out, lot)
	}
	return out, nil
}

func (r *fakeRepo) ListDisposals(_ context.Context, _ ledger.DisposalFilters) ([]*ledger.LotDisposal, error) {
	return r.derived.Disposals, nil
}

func (r *fakeRepo) AccountBalances(_ context.Context) ([]ledger.AccountBalance, error) {
	type key struct {
		id  ledger.AccountID
		cur ledger.Currency
	}
	sums := map[key]decimal.Decimal{}
	var order []key
	for _, e := range r.derived.Entries {
		k := key{e.AccountID, e.Currency}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(e.Amount)
	}
	var out []ledger.AccountBalance
	for _, k := range order {
		out = append(out, ledger.AccountBalance{AccountID: k.id, Currency: k.cur, Balance: sums[k]})
	}
	return out, nil
}

func (r *fakeRepo) BeginTx(ctx context.Context) (context.Context, error) {
	r.inTx = true
	r.staged = make(map[int64]*ledger.Transaction, len(r.txs))
	for id, tx := range r.txs {
		cp := *tx
		r.staged[id] = &cp
	}
	r.stagedDerived = r.derived
	return ctx, nil
}

func (r *fakeRepo) CommitTx(context.Context) error {
	r.txs = r.staged
	r.derived = r.stagedDerived
	r.inTx = false
	r.commits++
	return nil
}

func (r *fakeRepo) RollbackTx(context.Context) error {
	r.inTx = false
	r.staged = nil
	r.rollbacks++
	return nil
}

var errDBDown = errors.New("database unavailable")

func newTestService(repo ledger.Repository) *ledger.Service {
	return ledger.NewService(repo, ledger.DefaultReplayOptions(), logger.NewDefault("test"))
}

func buyTx(ts time.Time, amount, basis string) *ledger.Transaction {
	return &ledger.Transaction{
		Type:          ledger.TxBuy,
		Timestamp:     ts,
		FromAccountID: ledger.AccountExchangeUSD,
		ToAccountID:   ledger.AccountExchangeBTC,
		Amount:        dec(amount),
		CostBasisUSD:  dec(basis),
	}
}

func sellTx(ts time.Time, amount, proceeds string) *ledger.Transaction {
	return &ledger.Transaction{
		Type:          ledger.TxSell,
		Timestamp:     ts,
		FromAccountID: ledger.AccountExchangeBTC,
		ToAccountID:   ledger.AccountExchangeUSD,
		Amount:        dec(amount),
		ProceedsUSD:   dec(proceeds),
	}
}

// =============================================================================
// Mutation + recalculation
// =============================================================================

func TestService_CreateTransactionRecalculates(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-02-01"), "1", "40000")))
	require.NoError(t, svc.CreateTransaction(ctx, sellTx(day("2024-03-01"), "0.4", "20000")))

	lots, err := svc.ListLots(ctx, true)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].RemainingBTC.Equal(dec("0.6")))

	disposals, err := svc.ListDisposals(ctx, ledger.DisposalFilters{})
	require.NoError(t, err)
	require.Len(t, disposals, 1)
	assert.True(t, disposals[0].RealizedGainUSD.Equal(dec("4000.00")))

	assert.Equal(t, 2, repo.commits)
}

func TestService_CreateRejectsInvalidBeforePersisting(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	tx := buyTx(day("2024-02-01"), "0", "40000")
	err := svc.CreateTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, ledger.ErrNonPositiveAmount)
	assert.Empty(t, repo.txs)
	assert.Zero(t, repo.commits)
}

func TestService_FailedReplayRollsBackMutation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-02-01"), "1", "40000")))

	// Selling more than the open lots can cover fails the replay; the
	// sell row itself must not survive.
	err := svc.CreateTransaction(ctx, sellTx(day("2024-03-01"), "5", "300000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBTC)

	txs, listErr := svc.ListTransactions(ctx, ledger.TransactionFilters{})
	require.NoError(t, listErr)
	assert.Len(t, txs, 1)

	lots, lotErr := svc.ListLots(ctx, true)
	require.NoError(t, lotErr)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].RemainingBTC.Equal(dec("1")), "prior derived state untouched")
	assert.Equal(t, 1, repo.rollbacks)
}

func TestService_PersistenceFailureRollsBack(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-02-01"), "1", "40000")))

	repo.failReplace = true
	err := svc.CreateTransaction(ctx, buyTx(day("2024-03-01"), "1", "50000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errDBDown)

	txs, _ := svc.ListTransactions(ctx, ledger.TransactionFilters{})
	assert.Len(t, txs, 1)
}

func TestService_BackdatedInsertRematchesExistingSale(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-02-01"), "1", "40000")))
	sell := sellTx(day("2024-06-01"), "1", "60000")
	require.NoError(t, svc.CreateTransaction(ctx, sell))

	got, err := svc.GetTransaction(ctx, sell.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RealizedGainUSD)
	assert.True(t, got.RealizedGainUSD.Equal(dec("20000.00")))

	// A backdated cheaper buy re-anchors the sale's basis.
	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-01-15"), "1", "30000")))

	got, err = svc.GetTransaction(ctx, sell.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RealizedGainUSD)
	assert.True(t, got.RealizedGainUSD.Equal(dec("30000.00")))
}

func TestService_GroupCreateIsAllOrNothing(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	deposit := &ledger.Transaction{
		Type: ledger.TxDeposit, Timestamp: day("2024-02-01"),
		FromAccountID: ledger.AccountExternal, ToAccountID: ledger.AccountExchangeUSD,
		Amount: dec("40000"),
	}
	buy := buyTx(day("2024-02-01"), "1", "40000")

	require.NoError(t, svc.CreateTransactionGroup(ctx, []*ledger.Transaction{deposit, buy}))
	require.NotNil(t, deposit.GroupID)
	require.NotNil(t, buy.GroupID)
	assert.Equal(t, *deposit.GroupID, *buy.GroupID)

	// A group whose replay fails leaves no legs behind.
	badSell := sellTx(day("2024-03-01"), "9", "500000")
	err := svc.CreateTransactionGroup(ctx, []*ledger.Transaction{
		buyTx(day("2024-02-15"), "1", "45000"),
		badSell,
	})
	require.Error(t, err)

	txs, _ := svc.ListTransactions(ctx, ledger.TransactionFilters{})
	assert.Len(t, txs, 2)
}

func TestService_EmptyGroupRejected(t *testing.T) {
	svc := newTestService(newFakeRepo())
	err := svc.CreateTransactionGroup(context.Background(), nil)
	assert.ErrorIs(t, err, ledger.ErrEmptyGroup)
}

// =============================================================================
// Locking
// =============================================================================

func TestService_LockedTransactionRejectsEditAndDelete(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	tx := buyTx(day("2024-02-01"), "1", "40000")
	require.NoError(t, svc.CreateTransaction(ctx, tx))

	n, err := svc.LockThrough(ctx, day("2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	edited := buyTx(day("2024-02-01"), "1", "41000")
	edited.ID = tx.ID
	err = svc.UpdateTransaction(ctx, edited)
	assert.ErrorIs(t, err, ledger.ErrTransactionLocked)

	err = svc.DeleteTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, ledger.ErrTransactionLocked)
}

func TestService_LockThroughSkipsLaterTransactions(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	early := buyTx(day("2024-02-01"), "1", "40000")
	late := buyTx(day("2024-05-01"), "1", "50000")
	require.NoError(t, svc.CreateTransaction(ctx, early))
	require.NoError(t, svc.CreateTransaction(ctx, late))

	n, err := svc.LockThrough(ctx, day("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The later transaction still accepts edits.
	edited := buyTx(day("2024-05-01"), "1", "51000")
	edited.ID = late.ID
	assert.NoError(t, svc.UpdateTransaction(ctx, edited))
}

// =============================================================================
// Recalculation surface
// =============================================================================

func TestService_RecalculateFromSnapshotsThenRestore(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-02-01"), "1", "40000")))
	require.NoError(t, svc.CreateTransaction(ctx, sellTx(day("2024-06-01"), "1", "60000")))

	// Snapshot before the sale: the lot is open again.
	require.NoError(t, svc.RecalculateFrom(ctx, day("2024-05-01")))
	lots, err := svc.ListLots(ctx, true)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].RemainingBTC.Equal(dec("1")))

	disposals, err := svc.ListDisposals(ctx, ledger.DisposalFilters{})
	require.NoError(t, err)
	assert.Empty(t, disposals)

	// Full recalculation restores the authoritative state.
	require.NoError(t, svc.RecalculateAll(ctx))
	lots, err = svc.ListLots(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestService_MutationHookFiresAfterCommitOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	var fired int
	svc.OnMutation(func(context.Context) { fired++ })

	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-02-01"), "1", "40000")))
	assert.Equal(t, 1, fired)

	err := svc.CreateTransaction(ctx, sellTx(day("2024-03-01"), "5", "300000"))
	require.Error(t, err)
	assert.Equal(t, 1, fired, "hook must not fire on rollback")
}

func TestService_BalancesSumToZeroAcrossChart(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.CreateTransaction(ctx, &ledger.Transaction{
		Type: ledger.TxDeposit, Timestamp: day("2024-01-10"),
		FromAccountID: ledger.AccountExternal, ToAccountID: ledger.AccountExchangeUSD,
		Amount: dec("50000"),
	}))
	require.NoError(t, svc.CreateTransaction(ctx, buyTx(day("2024-02-01"), "1", "40000")))

	balances, err := svc.Balances(ctx)
	require.NoError(t, err)

	sums := map[ledger.Currency]decimal.Decimal{}
	for _, b := range balances {
		sums[b.Currency] = sums[b.Currency].Add(b.Balance)
	}
	assert.True(t, sums[ledger.USD].IsZero(), "USD entries sum to zero: %s", sums[ledger.USD])
	assert.True(t, sums[ledger.BTC].IsZero(), "BTC entries sum to zero: %s", sums[ledger.BTC])
}
