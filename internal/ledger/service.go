package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valekseev/satledger/pkg/logger"
)

// Service orchestrates all mutations of the transaction history. External
// callers never write entries, lots, or disposals directly: they create,
// update, or delete transactions here, and the service rebuilds every piece
// of derived state by replaying the full history inside one database
// transaction.
//
// The service is logically single-writer. A replay must run to completion
// without another mutation interleaving — partially rebuilt lots are not a
// valid FIFO snapshot — so every mutating operation holds the writer mutex
// for its whole duration. Reads run against the last committed state.
type Service struct {
	repo  Repository
	opts  ReplayOptions
	log   *logger.Logger
	hooks []func(context.Context)

	mu sync.Mutex
}

// NewService creates a new ledger service
func NewService(repo Repository, opts ReplayOptions, log *logger.Logger) *Service {
	return &Service{
		repo: repo,
		opts: opts,
		log:  log.WithField("component", "ledger"),
	}
}

// OnMutation registers a hook invoked after every committed mutation,
// e.g. report-cache invalidation.
func (s *Service) OnMutation(fn func(context.Context)) {
	s.hooks = append(s.hooks, fn)
}

// Options returns the replay policy the service was configured with
func (s *Service) Options() ReplayOptions {
	return s.opts
}

// CreateTransaction validates and persists one transaction, then rebuilds
// all derived state. Nothing is persisted if validation or the replay fails.
func (s *Service) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateTransaction(txCtx, tx); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		return nil
	})
}

// CreateTransactionGroup persists several transactions created together
// (e.g. an auto-buy with its funding deposit) under one shared group ID,
// with a single replay covering all of them. All legs commit or none do.
func (s *Service) CreateTransactionGroup(ctx context.Context, txs []*Transaction) error {
	if len(txs) == 0 {
		return ErrEmptyGroup
	}
	groupID := uuid.New()
	for _, tx := range txs {
		tx.GroupID = &groupID
		if err := tx.Validate(); err != nil {
			return err
		}
	}
	return s.mutate(ctx, func(txCtx context.Context) error {
		for _, tx := range txs {
			if err := s.repo.CreateTransaction(txCtx, tx); err != nil {
				return fmt.Errorf("failed to create transaction group leg: %w", err)
			}
		}
		return nil
	})
}

// UpdateTransaction replaces a transaction's caller-owned fields and
// rebuilds all derived state. Locked transactions reject edits.
func (s *Service) UpdateTransaction(ctx context.Context, tx *Transaction) error {
	existing, err := s.repo.GetTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	if existing.IsLocked {
		return fmt.Errorf("%w: transaction %d", ErrTransactionLocked, tx.ID)
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(txCtx context.Context) error {
		if err := s.repo.UpdateTransaction(txCtx, tx); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		return nil
	})
}

// DeleteTransaction removes a transaction and rebuilds all derived state.
// Locked transactions reject deletion.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsLocked {
		return fmt.Errorf("%w: transaction %d", ErrTransactionLocked, id)
	}
	return s.mutate(ctx, func(txCtx context.Context) error {
		if err := s.repo.DeleteTransaction(txCtx, id); err != nil {
			return fmt.Errorf("failed to delete transaction: %w", err)
		}
		return nil
	})
}

// RecalculateAll rebuilds every ledger entry, lot, and disposal from the
// full transaction history without mutating the history itself.
func (s *Service) RecalculateAll(ctx context.Context) error {
	return s.mutate(ctx, func(context.Context) error { return nil })
}

// RecalculateFrom rebuilds derived state from only the transactions dated
// strictly before cutoff, leaving pre-cutoff lots' remaining quantities as
// the balance carried forward at that instant. The persisted state is a
// snapshot: callers restore the authoritative full history with
// RecalculateAll before any further mutation.
func (s *Service) RecalculateFrom(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	txs, err := s.repo.ListTransactions(txCtx, TransactionFilters{})
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	res, err := ReplayThrough(txs, cutoff, s.opts)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceDerivedState(txCtx, res); err != nil {
		return fmt.Errorf("failed to replace derived state: %w", err)
	}
	if err := s.repo.CommitTx(txCtx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	committed = true

	s.log.Info("recalculated snapshot", "cutoff", cutoff, "lots", len(res.Lots))
	return nil
}

// LockThrough marks every transaction dated at or before cutoff as locked,
// closing the period against edits. Locked transactions still replay
// normally; locking is a caller-level rule, not an engine invariant.
func (s *Service) LockThrough(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.repo.LockTransactionsThrough(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to lock transactions: %w", err)
	}
	s.log.Info("locked period", "cutoff", cutoff, "transactions", n)
	return n, nil
}

// mutate runs one mutation plus the full recalculation as a single atomic
// unit of work under the writer mutex. On any error the database transaction
// rolls back and the previously committed state stays untouched.
func (s *Service) mutate(ctx context.Context, apply func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	if err := apply(txCtx); err != nil {
		return err
	}
	if err := s.recalculate(txCtx); err != nil {
		return err
	}
	if err := s.repo.CommitTx(txCtx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	committed = true

	for _, hook := range s.hooks {
		hook(ctx)
	}
	return nil
}

// recalculate wipes and rebuilds all derived state within the caller's
// database transaction.
func (s *Service) recalculate(txCtx context.Context) error {
	txs, err := s.repo.ListTransactions(txCtx, TransactionFilters{})
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}

	res, err := Replay(txs, s.opts)
	if err != nil {
		return err
	}

	if err := s.repo.ReplaceDerivedState(txCtx, res); err != nil {
		return fmt.Errorf("failed to replace derived state: %w", err)
	}
	if err := s.repo.UpdateComputedFields(txCtx, txs); err != nil {
		return fmt.Errorf("failed to update computed fields: %w", err)
	}

	s.log.Debug("recalculated ledger",
		"transactions", len(txs),
		"entries", len(res.Entries),
		"lots", len(res.Lots),
		"disposals", len(res.Disposals),
	)
	return nil
}

// Read surface

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists transactions with filters
func (s *Service) ListTransactions(ctx context.Context, filters TransactionFilters) ([]*Transaction, error) {
	return s.repo.ListTransactions(ctx, filters)
}

// ListEntriesByTransaction returns a transaction's postings
func (s *Service) ListEntriesByTransaction(ctx context.Context, txID int64) ([]*LedgerEntry, error) {
	return s.repo.ListEntriesByTransaction(ctx, txID)
}

// ListLots enumerates lots, optionally only those still open
func (s *Service) ListLots(ctx context.Context, openOnly bool) ([]*BitcoinLot, error) {
	return s.repo.ListLots(ctx, openOnly)
}

// ListDisposals enumerates disposal fragments for reporting
func (s *Service) ListDisposals(ctx context.Context, filters DisposalFilters) ([]*LotDisposal, error) {
	return s.repo.ListDisposals(ctx, filters)
}

// Balances returns per-account balances summed from ledger entries
func (s *Service) Balances(ctx context.Context) ([]AccountBalance, error) {
	return s.repo.AccountBalances(ctx)
}
