package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/valekseev/satledger/internal/ledger"
)

// LedgerRepository implements ledger.Repository using PostgreSQL.
//
// All NUMERIC columns travel as strings in both directions: decimal values
// are bound with String() and scanned back through ::text casts into
// shopspring decimals, so the database never coerces amounts through a
// binary float.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

const transactionColumns = `
	id, type, timestamp, from_account_id, to_account_id,
	amount::text, fee_amount::text, fee_currency,
	cost_basis_usd::text, proceeds_usd::text, realized_gain_usd::text,
	holding_period, purpose, source, is_locked, group_id, created_at, updated_at
`

// Transaction operations

// CreateTransaction inserts one transaction and assigns its generated ID
func (r *LedgerRepository) CreateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	query := `
		INSERT INTO transactions (
			type, timestamp, from_account_id, to_account_id,
			amount, fee_amount, fee_currency, cost_basis_usd, proceeds_usd,
			purpose, source, is_locked, group_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING id, created_at, updated_at
	`

	q := r.getQueryer(ctx)
	err := q.QueryRow(ctx, query,
		string(tx.Type),
		tx.Timestamp,
		int64(tx.FromAccountID),
		int64(tx.ToAccountID),
		tx.Amount.String(),
		tx.FeeAmount.String(),
		nullCurrency(tx.FeeCurrency),
		tx.CostBasisUSD.String(),
		tx.ProceedsUSD.String(),
		nullString(tx.Purpose),
		nullString(tx.Source),
		tx.IsLocked,
		tx.GroupID,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// UpdateTransaction replaces a transaction's caller-owned fields
func (r *LedgerRepository) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	query := `
		UPDATE transactions SET
			type = $2, timestamp = $3, from_account_id = $4, to_account_id = $5,
			amount = $6, fee_amount = $7, fee_currency = $8,
			cost_basis_usd = $9, proceeds_usd = $10,
			purpose = $11, source = $12, updated_at = now()
		WHERE id = $1
	`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query,
		tx.ID,
		string(tx.Type),
		tx.Timestamp,
		int64(tx.FromAccountID),
		int64(tx.ToAccountID),
		tx.Amount.String(),
		tx.FeeAmount.String(),
		nullCurrency(tx.FeeCurrency),
		tx.CostBasisUSD.String(),
		tx.ProceedsUSD.String(),
		nullString(tx.Purpose),
		nullString(tx.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}

	return nil
}

// DeleteTransaction removes a transaction by ID
func (r *LedgerRepository) DeleteTransaction(ctx context.Context, id int64) error {
	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

// GetTransaction retrieves a transaction by ID
func (r *LedgerRepository) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	q := r.getQueryer(ctx)
	tx, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions lists transactions with filters and pagination
func (r *LedgerRepository) ListTransactions(ctx context.Context, filters ledger.TransactionFilters) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`

	args := make([]any, 0)
	argPos := 1

	if filters.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, string(*filters.Type))
		argPos++
	}

	if filters.FromDate != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argPos)
		args = append(args, *filters.FromDate)
		argPos++
	}

	if filters.ToDate != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argPos)
		args = append(args, *filters.ToDate)
		argPos++
	}

	query += " ORDER BY timestamp ASC, id ASC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filters.Limit)
		argPos++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filters.Offset)
		argPos++
	}

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// LockTransactionsThrough marks every transaction dated at or before cutoff
// as locked and returns how many rows changed.
func (r *LedgerRepository) LockTransactionsThrough(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE transactions SET is_locked = TRUE, updated_at = now()
		WHERE timestamp <= $1 AND is_locked = FALSE
	`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to lock transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Derived state

// ReplaceDerivedState wipes and re-inserts all entries, lots, and disposals.
// Meant to run inside the same database transaction as the mutation that
// invalidated them.
func (r *LedgerRepository) ReplaceDerivedState(ctx context.Context, res *ledger.Result) error {
	q := r.getQueryer(ctx)

	// lot_disposals references bitcoin_lots; delete children first.
	for _, table := range []string{"lot_disposals", "bitcoin_lots", "ledger_entries"} {
		if _, err := q.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	batch := &pgx.Batch{}
	for _, e := range res.Entries {
		batch.Queue(`
			INSERT INTO ledger_entries (id, transaction_id, account_id, amount, currency, entry_type)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.TransactionID, int64(e.AccountID), e.Amount.String(), string(e.Currency), string(e.EntryType),
		)
	}
	for _, lot := range res.Lots {
		batch.Queue(`
			INSERT INTO bitcoin_lots (id, created_txn_id, acquired_date, total_btc, remaining_btc, cost_basis_usd)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			lot.ID, lot.CreatedTxnID, lot.AcquiredDate, lot.TotalBTC.String(), lot.RemainingBTC.String(), lot.CostBasisUSD.String(),
		)
	}
	for _, d := range res.Disposals {
		batch.Queue(`
			INSERT INTO lot_disposals (id, lot_id, transaction_id, disposed_btc, disposal_basis_usd, proceeds_usd, realized_gain_usd, holding_period)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			d.ID, d.LotID, d.TransactionID, d.DisposedBTC.String(), d.DisposalBasisUSD.String(),
			d.ProceedsUSD.String(), d.RealizedGainUSD.String(), string(d.HoldingPeriod),
		)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert derived state: %w", err)
		}
	}

	return nil
}

// UpdateComputedFields persists the replay-computed rollup fields of every
// transaction that carries them.
func (r *LedgerRepository) UpdateComputedFields(ctx context.Context, txs []*ledger.Transaction) error {
	query := `
		UPDATE transactions SET
			cost_basis_usd = $2, realized_gain_usd = $3, holding_period = $4
		WHERE id = $1
	`

	q := r.getQueryer(ctx)
	batch := &pgx.Batch{}
	for _, tx := range txs {
		var gain, period any
		if tx.RealizedGainUSD != nil {
			gain = tx.RealizedGainUSD.String()
		}
		if tx.HoldingPeriod != nil {
			period = string(*tx.HoldingPeriod)
		}
		batch.Queue(query, tx.ID, tx.CostBasisUSD.String(), gain, period)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to update computed fields: %w", err)
		}
	}

	return nil
}

// Read surface

// ListEntriesByTransaction retrieves a transaction's postings in posting order
func (r *LedgerRepository) ListEntriesByTransaction(ctx context.Context, txID int64) ([]*ledger.LedgerEntry, error) {
	query := `
		SELECT id, transaction_id, account_id, amount::text, currency, entry_type
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY id ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.LedgerEntry
	for rows.Next() {
		var e ledger.LedgerEntry
		var accountID int64
		var amountStr string
		if err := rows.Scan(&e.ID, &e.TransactionID, &accountID, &amountStr, &e.Currency, &e.EntryType); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.AccountID = ledger.AccountID(accountID)
		if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// ListLots enumerates lots in FIFO order, optionally only open ones
func (r *LedgerRepository) ListLots(ctx context.Context, openOnly bool) ([]*ledger.BitcoinLot, error) {
	query := `
		SELECT id, created_txn_id, acquired_date, total_btc::text, remaining_btc::text, cost_basis_usd::text
		FROM bitcoin_lots
	`
	if openOnly {
		query += ` WHERE remaining_btc > 0`
	}
	query += ` ORDER BY acquired_date ASC, created_txn_id ASC`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []*ledger.BitcoinLot
	for rows.Next() {
		var lot ledger.BitcoinLot
		var totalStr, remainingStr, basisStr string
		if err := rows.Scan(&lot.ID, &lot.CreatedTxnID, &lot.AcquiredDate, &totalStr, &remainingStr, &basisStr); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if lot.TotalBTC, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("failed to parse total_btc: %w", err)
		}
		if lot.RemainingBTC, err = decimal.NewFromString(remainingStr); err != nil {
			return nil, fmt.Errorf("failed to parse remaining_btc: %w", err)
		}
		if lot.CostBasisUSD, err = decimal.NewFromString(basisStr); err != nil {
			return nil, fmt.Errorf("failed to parse cost_basis_usd: %w", err)
		}
		lots = append(lots, &lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}

// ListDisposals enumerates disposal fragments, filtered by the disposing
// transaction's timestamp and by holding period.
func (r *LedgerRepository) ListDisposals(ctx context.Context, filters ledger.DisposalFilters) ([]*ledger.LotDisposal, error) {
	query := `
		SELECT d.id, d.lot_id, d.transaction_id,
			d.disposed_btc::text, d.disposal_basis_usd::text,
			d.proceeds_usd::text, d.realized_gain_usd::text, d.holding_period
		FROM lot_disposals d
		JOIN transactions t ON t.id = d.transaction_id
		WHERE 1=1
	`

	args := make([]any, 0)
	argPos := 1

	if filters.FromDate != nil {
		query += fmt.Sprintf(" AND t.timestamp >= $%d", argPos)
		args = append(args, *filters.FromDate)
		argPos++
	}

	if filters.ToDate != nil {
		query += fmt.Sprintf(" AND t.timestamp < $%d", argPos)
		args = append(args, *filters.ToDate)
		argPos++
	}

	if filters.Period != nil {
		query += fmt.Sprintf(" AND d.holding_period = $%d", argPos)
		args = append(args, string(*filters.Period))
		argPos++
	}

	query += " ORDER BY d.id ASC"

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query disposals: %w", err)
	}
	defer rows.Close()

	var disposals []*ledger.LotDisposal
	for rows.Next() {
		var d ledger.LotDisposal
		var disposedStr, basisStr, proceedsStr, gainStr string
		if err := rows.Scan(&d.ID, &d.LotID, &d.TransactionID, &disposedStr, &basisStr, &proceedsStr, &gainStr, &d.HoldingPeriod); err != nil {
			return nil, fmt.Errorf("failed to scan disposal: %w", err)
		}
		if d.DisposedBTC, err = decimal.NewFromString(disposedStr); err != nil {
			return nil, fmt.Errorf("failed to parse disposed_btc: %w", err)
		}
		if d.DisposalBasisUSD, err = decimal.NewFromString(basisStr); err != nil {
			return nil, fmt.Errorf("failed to parse disposal_basis_usd: %w", err)
		}
		if d.ProceedsUSD, err = decimal.NewFromString(proceedsStr); err != nil {
			return nil, fmt.Errorf("failed to parse proceeds_usd: %w", err)
		}
		if d.RealizedGainUSD, err = decimal.NewFromString(gainStr); err != nil {
			return nil, fmt.Errorf("failed to parse realized_gain_usd: %w", err)
		}
		disposals = append(disposals, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating disposals: %w", err)
	}

	return disposals, nil
}

// AccountBalances sums ledger entries per account and currency
func (r *LedgerRepository) AccountBalances(ctx context.Context) ([]ledger.AccountBalance, error) {
	query := `
		SELECT account_id, currency, COALESCE(SUM(amount), 0)::text
		FROM ledger_entries
		GROUP BY account_id, currency
		ORDER BY account_id ASC, currency ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []ledger.AccountBalance
	for rows.Next() {
		var b ledger.AccountBalance
		var accountID int64
		var balanceStr string
		if err := rows.Scan(&accountID, &b.Currency, &balanceStr); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.AccountID = ledger.AccountID(accountID)
		if b.Balance, err = decimal.NewFromString(balanceStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance: %w", err)
		}
		balances = append(balances, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}

// scanTransaction scans one transaction row
func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var fromID, toID int64
	var amountStr, feeStr, basisStr, proceedsStr string
	var gainStr, feeCurrency, holdingPeriod, purpose, source sql.NullString
	var groupID *uuid.UUID

	err := row.Scan(
		&tx.ID,
		&tx.Type,
		&tx.Timestamp,
		&fromID,
		&toID,
		&amountStr,
		&feeStr,
		&feeCurrency,
		&basisStr,
		&proceedsStr,
		&gainStr,
		&holdingPeriod,
		&purpose,
		&source,
		&tx.IsLocked,
		&groupID,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.FromAccountID = ledger.AccountID(fromID)
	tx.ToAccountID = ledger.AccountID(toID)
	tx.GroupID = groupID

	if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if tx.FeeAmount, err = decimal.NewFromString(feeStr); err != nil {
		return nil, fmt.Errorf("failed to parse fee_amount: %w", err)
	}
	if tx.CostBasisUSD, err = decimal.NewFromString(basisStr); err != nil {
		return nil, fmt.Errorf("failed to parse cost_basis_usd: %w", err)
	}
	if tx.ProceedsUSD, err = decimal.NewFromString(proceedsStr); err != nil {
		return nil, fmt.Errorf("failed to parse proceeds_usd: %w", err)
	}

	if feeCurrency.Valid {
		tx.FeeCurrency = ledger.Currency(feeCurrency.String)
	}
	if gainStr.Valid {
		gain, err := decimal.NewFromString(gainStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse realized_gain_usd: %w", err)
		}
		tx.RealizedGainUSD = &gain
	}
	if holdingPeriod.Valid {
		hp := ledger.HoldingPeriod(holdingPeriod.String)
		tx.HoldingPeriod = &hp
	}
	if purpose.Valid {
		tx.Purpose = purpose.String
	}
	if source.Valid {
		tx.Source = source.String
	}

	return &tx, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullCurrency(c ledger.Currency) any {
	if c == "" {
		return nil
	}
	return string(c)
}

// Transaction management using pgx transactions; the open transaction
// travels in the context.

type ctxKey string

const txContextKey ctxKey = "ledger_tx"

// BeginTx starts a new database transaction and stores it in the context
func (r *LedgerRepository) BeginTx(ctx context.Context) (context.Context, error) {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the database transaction from the context
func (r *LedgerRepository) CommitTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RollbackTx rolls back the database transaction from the context
func (r *LedgerRepository) RollbackTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

// getTxFromContext retrieves the transaction from context if one exists
func (r *LedgerRepository) getTxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// getQueryer returns the transaction if one exists in context, otherwise the
// pool. Repository methods work both inside and outside transactions.
func (r *LedgerRepository) getQueryer(ctx context.Context) interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
} {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}
