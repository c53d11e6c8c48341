package ledger

import (
	"context"
	"time"
)

// TransactionFilters narrows transaction listings
type TransactionFilters struct {
	Type     *TransactionType
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}

// DisposalFilters narrows disposal listings for reporting
type DisposalFilters struct {
	FromDate *time.Time
	ToDate   *time.Time
	Period   *HoldingPeriod
}

// Repository defines the persistence operations the engine needs. Derived
// state (entries, lots, disposals) is only ever replaced wholesale, inside
// the same database transaction as the mutation that invalidated it.
type Repository interface {
	// Transaction operations
	CreateTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	ListTransactions(ctx context.Context, filters TransactionFilters) ([]*Transaction, error)
	LockTransactionsThrough(ctx context.Context, cutoff time.Time) (int64, error)

	// Derived state: wiped and rebuilt by the recalculation engine
	ReplaceDerivedState(ctx context.Context, res *Result) error
	UpdateComputedFields(ctx context.Context, txs []*Transaction) error

	// Read surface for reporting and inspection
	ListEntriesByTransaction(ctx context.Context, txID int64) ([]*LedgerEntry, error)
	ListLots(ctx context.Context, openOnly bool) ([]*BitcoinLot, error)
	ListDisposals(ctx context.Context, filters DisposalFilters) ([]*LotDisposal, error)
	AccountBalances(ctx context.Context) ([]AccountBalance, error)

	// Transaction-boundary management (tx travels in the context)
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
}
