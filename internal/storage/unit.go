package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
)

// WithinUnit runs fn inside one IMMEDIATE transaction and commits only if fn
// returns nil.
func (r *SQLiteRepository) WithinUnit(ctx context.Context, fn ledger.UnitFunc) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return translate("begin unit", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.WarnContext(ctx, "Rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(ctx, &unit{tx: tx, now: r.now}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return translate("commit unit", err)
	}
	return nil
}

type unit struct {
	tx  *sql.Tx
	now func() time.Time
}

func (u *unit) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	acc, err := scanAccount(u.tx.QueryRowContext(ctx, selectAccount+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.AccountNotFound("get account", id)
	}
	if err != nil {
		return core.Account{}, translate("get account", err)
	}
	return acc, nil
}

func (u *unit) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return getTransaction(ctx, u.tx, id)
}

func (u *unit) InsertAccount(ctx context.Context, name, currency string) (core.Account, error) {
	created := u.now().UTC()
	res, err := u.tx.ExecContext(ctx,
		`INSERT INTO accounts (name, balance, currency, version, created_at) VALUES (?, ?, ?, 0, ?)`,
		name, decimal.Zero.String(), currency, created.UnixNano())
	if err != nil {
		return core.Account{}, translate("insert account", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Account{}, translate("insert account", err)
	}
	return core.Account{ID: id, Name: name, Balance: decimal.Zero, Currency: currency, CreatedAt: created}, nil
}

func (u *unit) AdjustPair(ctx context.Context, a, b core.Adjustment, currency string) (core.Account, core.Account, error) {
	const op = "adjust pair"
	if a.AccountID == b.AccountID {
		return core.Account{}, core.Account{}, core.SameAccount(op, a.AccountID)
	}
	first, second := a, b
	if second.AccountID < first.AccountID {
		first, second = second, first
	}
	nf, err := u.adjust(ctx, op, first, currency)
	if err != nil {
		return core.Account{}, core.Account{}, err
	}
	ns, err := u.adjust(ctx, op, second, currency)
	if err != nil {
		return core.Account{}, core.Account{}, err
	}
	if nf.ID == a.AccountID {
		return nf, ns, nil
	}
	return ns, nf, nil
}

func (u *unit) AdjustOne(ctx context.Context, adj core.Adjustment, currency string) (core.Account, error) {
	return u.adjust(ctx, "adjust account", adj, currency)
}

// adjust re-reads the row, checks it, and writes it back conditioned on the
// version it just read.
func (u *unit) adjust(ctx context.Context, op string, adj core.Adjustment, currency string) (core.Account, error) {
	current, err := u.GetAccount(ctx, adj.AccountID)
	if err != nil {
		return core.Account{}, err
	}
	next, err := ledger.ApplyAdjustment(op, current, adj, currency)
	if err != nil {
		return core.Account{}, err
	}
	res, err := u.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, version = version + 1 WHERE id = ? AND version = ?`,
		next.Balance.String(), current.ID, current.Version)
	if err != nil {
		return core.Account{}, translate(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Account{}, translate(op, err)
	}
	if n != 1 {
		return core.Account{}, core.Conflict(op, fmt.Sprintf("account %d changed concurrently", current.ID), nil)
	}
	return next, nil
}

func (u *unit) Append(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	const op = "append transaction"
	var last int64
	if err := u.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(ts), 0) FROM transactions`).Scan(&last); err != nil {
		return core.Transaction{}, translate(op, err)
	}
	ts := u.now().UTC().UnixNano()
	if ts < last {
		ts = last
	}

	res, err := u.tx.ExecContext(ctx,
		`INSERT INTO transactions (amount, currency, ts, description, account_id, category_id) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Amount.String(), t.Currency, ts, t.Description, t.AccountID, nullableID(t.CategoryID))
	if err != nil {
		if isConstraint(err) {
			return core.Transaction{}, core.Invalid(op, "unknown account or category")
		}
		return core.Transaction{}, translate(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, translate(op, err)
	}
	t.ID = id
	t.Timestamp = time.Unix(0, ts).UTC()
	return t, nil
}

func (u *unit) LookupIdempotency(ctx context.Context, key string) (core.IdempotencyRecord, bool, error) {
	var (
		rec     core.IdempotencyRecord
		created int64
	)
	err := u.tx.QueryRowContext(ctx,
		`SELECT idem_key, fingerprint, from_tx_id, to_tx_id, created_at FROM idempotency_keys WHERE idem_key = ?`, key).
		Scan(&rec.Key, &rec.Fingerprint, &rec.FromTxID, &rec.ToTxID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return core.IdempotencyRecord{}, false, translate("lookup idempotency key", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, true, nil
}

func (u *unit) SaveIdempotency(ctx context.Context, rec core.IdempotencyRecord) error {
	const op = "save idempotency key"
	_, err := u.tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (idem_key, fingerprint, from_tx_id, to_tx_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Key, rec.Fingerprint, rec.FromTxID, rec.ToTxID, u.now().UTC().UnixNano())
	if isConstraint(err) {
		return core.Conflict(op, "idempotency key already used", err)
	}
	return translate(op, err)
}
