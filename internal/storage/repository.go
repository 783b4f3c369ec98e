// Package storage is the durable ledger backend on SQLite.
//
// Write units run in IMMEDIATE transactions, so SQLite serializes writers
// and a unit never observes a half-applied transfer. Balance writes are
// additionally guarded by the account version read inside the same
// transaction.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/log"
)

const driverName = "sqlite"

type Options struct {
	// BusyTimeout is how long a writer waits for the database lock before
	// the unit fails with Conflict.
	BusyTimeout time.Duration
	Logger      *log.Logger
}

type SQLiteRepository struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *log.Logger
}

var _ ledger.Backend = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteRepository(dbPath string, opts Options) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open(driverName, dsn(dbPath, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}

	return &SQLiteRepository{
		db:     db,
		path:   dbPath,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentStorage),
	}, nil
}

func dsn(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx, selectAccount+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.AccountNotFound("get account", id)
	}
	if err != nil {
		return core.Account{}, translate("get account", err)
	}
	return acc, nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, selectAccount+` ORDER BY id`)
	if err != nil {
		return nil, translate("list accounts", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, translate("list accounts", err)
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list accounts", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return getTransaction(ctx, r.db, id)
}

// ListByAccount streams the account's entries in insertion order. Ranging
// over the result twice issues two queries.
func (r *SQLiteRepository) ListByAccount(ctx context.Context, accountID int64) iter.Seq2[core.Transaction, error] {
	return func(yield func(core.Transaction, error) bool) {
		rows, err := r.db.QueryContext(ctx, selectTransaction+` WHERE account_id = ? ORDER BY id`, accountID)
		if err != nil {
			yield(core.Transaction{}, translate("list ledger", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			tx, err := scanTransaction(rows)
			if err != nil {
				yield(core.Transaction{}, translate("list ledger", err))
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(core.Transaction{}, translate("list ledger", err))
		}
	}
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != nil {
		where = append(where, "account_id = ?")
		args = append(args, *f.AccountID)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.Until.UnixNano())
	}
	query := selectTransaction
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("list transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, translate("list transactions", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list transactions", err)
	}
	return out, nil
}

const (
	selectAccount     = `SELECT id, name, balance, currency, version, created_at FROM accounts`
	selectTransaction = `SELECT id, amount, currency, ts, description, account_id, category_id FROM transactions`
)

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanAccount(s scanner) (core.Account, error) {
	var (
		acc     core.Account
		created int64
	)
	if err := s.Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.Currency, &acc.Version, &created); err != nil {
		return core.Account{}, err
	}
	acc.CreatedAt = time.Unix(0, created).UTC()
	return acc, nil
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		tx       core.Transaction
		ts       int64
		category sql.NullInt64
	)
	if err := s.Scan(&tx.ID, &tx.Amount, &tx.Currency, &ts, &tx.Description, &tx.AccountID, &category); err != nil {
		return core.Transaction{}, err
	}
	tx.Timestamp = time.Unix(0, ts).UTC()
	if category.Valid {
		id := category.Int64
		tx.CategoryID = &id
	}
	return tx, nil
}

func getTransaction(ctx context.Context, q queryer, id int64) (core.Transaction, error) {
	tx, err := scanTransaction(q.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("get transaction", "transaction", id)
	}
	if err != nil {
		return core.Transaction{}, translate("get transaction", err)
	}
	return tx, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// translate maps driver errors onto the domain taxonomy. Lock contention and
// cancellation are Conflict; everything else is Persistence.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var domain *core.Error
	if errors.As(err, &domain) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.Conflict(op, "request cancelled before commit", err)
	}
	if isBusy(err) {
		return core.Conflict(op, "database is busy", err)
	}
	return core.Persistence(op, err)
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
