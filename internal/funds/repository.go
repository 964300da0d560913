package funds

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/docflow/docflow/internal/platform/db"
)

// Repository provides PostgreSQL backed fund reads and credit transactions.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, txOpts db.TxOptions) *Repository {
	return &Repository{pool: pool, txOpts: txOpts}
}

// WithTx runs fn inside a retried transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithRetryTx(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// Balance returns the balance of a department fund.
func (r *Repository) Balance(ctx context.Context, departmentID string) (Balance, error) {
	row := r.pool.QueryRow(ctx, `SELECT department_id, initial_amount, used_amount, current_balance, updated_at
FROM fund_balances WHERE department_id = $1`, departmentID)
	b, err := scanBalance(row)
	if errors.Is(err, ErrFundNotConfigured) {
		return Balance{}, ErrNotFound
	}
	return b, err
}

// Entries lists the most recent ledger entries of a department.
func (r *Repository) Entries(ctx context.Context, departmentID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, department_id, type, amount, description, created_at, created_by
FROM fund_ledger WHERE department_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, departmentID, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// EntriesForDocument lists the ledger entries that reference a document.
func (r *Repository) EntriesForDocument(ctx context.Context, documentID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, department_id, type, amount, description, created_at, created_by
FROM fund_ledger WHERE strpos(description, $1) > 0 ORDER BY id ASC`, DocumentMarker(documentID))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

type pgTxStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &pgTxStore{tx: tx}
}

func (s *pgTxStore) HasEntry(ctx context.Context, departmentID string, entryType EntryType, label, marker string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM fund_ledger
WHERE department_id = $1 AND type = $2 AND strpos(description, $3) = 1 AND strpos(description, $4) > 0)`,
		departmentID, string(entryType), label, marker).Scan(&exists)
	return exists, err
}

func (s *pgTxStore) InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	var createdBy any
	if entry.CreatedBy != 0 {
		createdBy = entry.CreatedBy
	}
	err := s.tx.QueryRow(ctx, `INSERT INTO fund_ledger (department_id, type, amount, description, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, entry.DepartmentID, string(entry.Type), entry.Amount, entry.Description, entry.CreatedAt, createdBy).Scan(&entry.ID)
	if err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

func (s *pgTxStore) ApplyDeduction(ctx context.Context, departmentID string, amount decimal.Decimal) (Balance, error) {
	row := s.tx.QueryRow(ctx, `UPDATE fund_balances
SET used_amount = used_amount + $2, current_balance = current_balance - $2, updated_at = NOW()
WHERE department_id = $1
RETURNING department_id, initial_amount, used_amount, current_balance, updated_at`, departmentID, amount)
	return scanBalance(row)
}

func (s *pgTxStore) ApplyCredit(ctx context.Context, departmentID string, amount decimal.Decimal) (Balance, error) {
	row := s.tx.QueryRow(ctx, `UPDATE fund_balances
SET initial_amount = initial_amount + $2, current_balance = current_balance + $2, updated_at = NOW()
WHERE department_id = $1
RETURNING department_id, initial_amount, used_amount, current_balance, updated_at`, departmentID, amount)
	return scanBalance(row)
}

func scanBalance(row pgx.Row) (Balance, error) {
	var (
		b         Balance
		updatedAt time.Time
	)
	if err := row.Scan(&b.DepartmentID, &b.InitialAmount, &b.UsedAmount, &b.CurrentBalance, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrFundNotConfigured
		}
		return Balance{}, err
	}
	b.UpdatedAt = updatedAt
	return b, nil
}

func collectEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var (
			e         LedgerEntry
			entryType string
			createdBy *int64
		)
		if err := rows.Scan(&e.ID, &e.DepartmentID, &entryType, &e.Amount, &e.Description, &e.CreatedAt, &createdBy); err != nil {
			return nil, err
		}
		e.Type = EntryType(entryType)
		if createdBy != nil {
			e.CreatedBy = *createdBy
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
