// Package ledger defines the storage ports shared by every backend: the
// account store, the append-only transaction ledger, and the atomic unit
// through which all balance changes flow.
package ledger

import (
	"context"
	"iter"

	"homebuh/internal/core"
)

type (
	AccountReader interface {
		// GetAccount returns core.ErrAccountNotFound when id is unknown.
		GetAccount(ctx context.Context, id int64) (core.Account, error)
		ListAccounts(ctx context.Context) ([]core.Account, error)
	}

	TransactionReader interface {
		GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
		// ListByAccount yields an account's entries in insertion order. Each
		// range over the returned sequence performs a fresh read.
		ListByAccount(ctx context.Context, accountID int64) iter.Seq2[core.Transaction, error]
		// ListTransactions returns entries newest first.
		ListTransactions(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error)
	}

	// Unit is one atomic unit of work. Everything written through it becomes
	// visible together on commit or not at all.
	Unit interface {
		GetAccount(ctx context.Context, id int64) (core.Account, error)
		GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
		InsertAccount(ctx context.Context, name, currency string) (core.Account, error)

		// AdjustPair applies both deltas or neither. It re-reads both rows in
		// ascending id order and fails with Conflict if either version moved,
		// CurrencyMismatch if an account is not in currency, and
		// InsufficientFunds if a non-overdraft delta would go below zero.
		AdjustPair(ctx context.Context, a, b core.Adjustment, currency string) (core.Account, core.Account, error)
		// AdjustOne is AdjustPair for a single account.
		AdjustOne(ctx context.Context, adj core.Adjustment, currency string) (core.Account, error)

		// Append assigns id and timestamp and stores the entry immutably.
		Append(ctx context.Context, tx core.Transaction) (core.Transaction, error)

		LookupIdempotency(ctx context.Context, key string) (core.IdempotencyRecord, bool, error)
		SaveIdempotency(ctx context.Context, rec core.IdempotencyRecord) error
	}

	// UnitFunc runs inside a unit; returning an error rolls the unit back.
	UnitFunc func(ctx context.Context, u Unit) error

	Store interface {
		AccountReader
		TransactionReader
		WithinUnit(ctx context.Context, fn UnitFunc) error
	}

	CategoryStore interface {
		CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
		GetCategory(ctx context.Context, id int64) (core.Category, error)
		ListCategories(ctx context.Context) ([]core.Category, error)
	}

	BudgetStore interface {
		CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error)
		// ListBudgets returns every budget when yearMonth is empty.
		ListBudgets(ctx context.Context, yearMonth string) ([]core.Budget, error)
	}

	PlannedStore interface {
		CreatePlanned(ctx context.Context, p core.PlannedItem) (core.PlannedItem, error)
		ListPlanned(ctx context.Context) ([]core.PlannedItem, error)
	}

	Catalog interface {
		CategoryStore
		BudgetStore
		PlannedStore
	}

	// Backend is a complete storage engine.
	Backend interface {
		Store
		Catalog
		Close() error
	}
)
