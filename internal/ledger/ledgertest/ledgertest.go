// Package ledgertest holds a conformance suite run against every
// ledger.Backend, plus seeding helpers shared by higher-level tests.
package ledgertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
)

// Factory returns a fresh, empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) ledger.Backend

// Seed creates an account holding balance. A non-zero balance is recorded as
// an opening ledger entry so the balance invariant holds.
func Seed(t *testing.T, s ledger.Store, name, currency, balance string) core.Account {
	t.Helper()
	amount := decimal.RequireFromString(balance)
	var acc core.Account
	err := s.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
		var err error
		acc, err = u.InsertAccount(ctx, name, currency)
		if err != nil || amount.IsZero() {
			return err
		}
		acc, err = u.AdjustOne(ctx, core.Adjustment{AccountID: acc.ID, Delta: amount, Version: acc.Version, Overdraft: true}, currency)
		if err != nil {
			return err
		}
		_, err = u.Append(ctx, core.Transaction{AccountID: acc.ID, Amount: amount, Currency: currency, Description: "Opening balance"})
		return err
	})
	require.NoError(t, err)
	return acc
}

// Balance reads an account's current balance.
func Balance(t *testing.T, s ledger.AccountReader, id int64) decimal.Decimal {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

// AssertInvariant fails the test if an account's balance differs from the sum
// of its ledger entries.
func AssertInvariant(t *testing.T, s ledger.Store, id int64) {
	t.Helper()
	acc, total, ok, err := ledger.CheckInvariant(context.Background(), s, id)
	require.NoError(t, err)
	assert.True(t, ok, "account %d: balance %s, ledger %s", id, acc.Balance, total)
}

// Run exercises the storage contract every backend must honour.
func Run(t *testing.T, newBackend Factory) {
	t.Run("GetAccountNotFound", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.GetAccount(context.Background(), 999)
		assert.True(t, errors.Is(err, core.ErrAccountNotFound))
	})

	t.Run("SeedKeepsInvariant", func(t *testing.T) {
		b := newBackend(t)
		acc := Seed(t, b, "Wallet", "USD", "125.50")
		assert.True(t, Balance(t, b, acc.ID).Equal(decimal.RequireFromString("125.50")))
		assert.Equal(t, int64(1), mustAccount(t, b, acc.ID).Version)
		AssertInvariant(t, b, acc.ID)

		accounts, err := b.ListAccounts(context.Background())
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		assert.Equal(t, "Wallet", accounts[0].Name)
	})

	t.Run("FailedUnitLeavesNoTrace", func(t *testing.T) {
		b := newBackend(t)
		a := Seed(t, b, "A", "USD", "100")
		c := Seed(t, b, "B", "USD", "0")
		boom := errors.New("boom")

		err := b.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
			_, _, err := u.AdjustPair(ctx,
				core.Adjustment{AccountID: a.ID, Delta: decimal.NewFromInt(-40), Version: 1},
				core.Adjustment{AccountID: c.ID, Delta: decimal.NewFromInt(40), Version: 0},
				"USD")
			require.NoError(t, err)
			_, err = u.Append(ctx, core.Transaction{AccountID: a.ID, Amount: decimal.NewFromInt(-40), Currency: "USD"})
			require.NoError(t, err)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		assert.True(t, Balance(t, b, a.ID).Equal(decimal.NewFromInt(100)))
		assert.True(t, Balance(t, b, c.ID).IsZero())
		txs, err := ledger.Collect(b.ListByAccount(context.Background(), a.ID))
		require.NoError(t, err)
		assert.Len(t, txs, 1)
		AssertInvariant(t, b, a.ID)
		AssertInvariant(t, b, c.ID)
	})

	t.Run("AdjustPairChecks", func(t *testing.T) {
		b := newBackend(t)
		a := Seed(t, b, "A", "USD", "10")
		c := Seed(t, b, "B", "USD", "0")
		e := Seed(t, b, "E", "EUR", "0")

		cases := []struct {
			name string
			x, y core.Adjustment
			cur  string
			want error
		}{
			{"stale version", adj(a.ID, "-1", 0), adj(c.ID, "1", 0), "USD", core.ErrConflict},
			{"overdraw", adj(a.ID, "-11", 1), adj(c.ID, "11", 0), "USD", core.ErrInsufficientFunds},
			{"currency", adj(a.ID, "-1", 1), adj(e.ID, "1", 0), "USD", core.ErrCurrencyMismatch},
			{"missing", adj(a.ID, "-1", 1), adj(404, "1", 0), "USD", core.ErrAccountNotFound},
			{"same", adj(a.ID, "-1", 1), adj(a.ID, "1", 1), "USD", core.ErrSameAccount},
		}
		for _, tc := range cases {
			err := b.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
				_, _, err := u.AdjustPair(ctx, tc.x, tc.y, tc.cur)
				return err
			})
			assert.ErrorIs(t, err, tc.want, tc.name)
		}
		assert.True(t, Balance(t, b, a.ID).Equal(decimal.NewFromInt(10)))
		assert.Equal(t, int64(1), mustAccount(t, b, a.ID).Version)
	})

	t.Run("AdjustPairReturnsArgumentOrder", func(t *testing.T) {
		b := newBackend(t)
		low := Seed(t, b, "Low", "USD", "0")
		high := Seed(t, b, "High", "USD", "50")

		err := b.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
			from, to, err := u.AdjustPair(ctx, adj(high.ID, "-20", 1), adj(low.ID, "20", 0), "USD")
			require.NoError(t, err)
			assert.Equal(t, high.ID, from.ID)
			assert.Equal(t, low.ID, to.ID)
			assert.Equal(t, "30", from.Balance.String())
			assert.Equal(t, int64(2), from.Version)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("AppendOrderingAndLazyListing", func(t *testing.T) {
		b := newBackend(t)
		a := Seed(t, b, "A", "USD", "0")
		other := Seed(t, b, "Other", "USD", "0")

		var appended []core.Transaction
		err := b.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
			for i, acc := range []int64{a.ID, other.ID, a.ID, a.ID} {
				tx, err := u.Append(ctx, core.Transaction{AccountID: acc, Amount: decimal.NewFromInt(int64(i + 1)), Currency: "USD"})
				if err != nil {
					return err
				}
				appended = append(appended, tx)
			}
			return nil
		})
		require.NoError(t, err)
		for i := 1; i < len(appended); i++ {
			assert.Greater(t, appended[i].ID, appended[i-1].ID)
			assert.False(t, appended[i].Timestamp.Before(appended[i-1].Timestamp))
		}

		seq := b.ListByAccount(context.Background(), a.ID)
		first, err := ledger.Collect(seq)
		require.NoError(t, err)
		require.Len(t, first, 3)
		assert.Equal(t, []int64{appended[0].ID, appended[2].ID, appended[3].ID},
			[]int64{first[0].ID, first[1].ID, first[2].ID})

		// restartable
		second, err := ledger.Collect(seq)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// early exit
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
			break
		}
		assert.Equal(t, 1, n)

		empty, err := ledger.Collect(b.ListByAccount(context.Background(), 12345))
		require.NoError(t, err)
		assert.Empty(t, empty)

		newest, err := b.ListTransactions(context.Background(), core.TransactionFilter{AccountID: &a.ID, Limit: 2})
		require.NoError(t, err)
		require.Len(t, newest, 2)
		assert.Equal(t, appended[3].ID, newest[0].ID)
		assert.Equal(t, appended[2].ID, newest[1].ID)

		got, err := b.GetTransaction(context.Background(), appended[1].ID)
		require.NoError(t, err)
		assert.Equal(t, other.ID, got.AccountID)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(2)))

		_, err = b.GetTransaction(context.Background(), 9999)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Idempotency", func(t *testing.T) {
		b := newBackend(t)
		a := Seed(t, b, "A", "USD", "10")
		txs, err := ledger.Collect(b.ListByAccount(context.Background(), a.ID))
		require.NoError(t, err)
		rec := core.IdempotencyRecord{Key: "k1", Fingerprint: "fp", FromTxID: txs[0].ID, ToTxID: txs[0].ID}

		err = b.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
			_, ok, err := u.LookupIdempotency(ctx, "k1")
			require.NoError(t, err)
			assert.False(t, ok)
			return u.SaveIdempotency(ctx, rec)
		})
		require.NoError(t, err)

		err = b.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
			got, ok, err := u.LookupIdempotency(ctx, "k1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "fp", got.Fingerprint)
			assert.Equal(t, txs[0].ID, got.FromTxID)
			return u.SaveIdempotency(ctx, rec)
		})
		assert.ErrorIs(t, err, core.ErrConflict)
	})

	t.Run("Catalog", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		food, err := b.CreateCategory(ctx, core.Category{Name: " Food "})
		require.NoError(t, err)
		assert.Equal(t, "Food", food.Name)
		groceries, err := b.CreateCategory(ctx, core.Category{Name: "Groceries", ParentID: &food.ID})
		require.NoError(t, err)
		require.NotNil(t, groceries.ParentID)

		missing := int64(777)
		_, err = b.CreateCategory(ctx, core.Category{Name: "Orphan", ParentID: &missing})
		assert.ErrorIs(t, err, core.ErrNotFound)

		cats, err := b.ListCategories(ctx)
		require.NoError(t, err)
		assert.Len(t, cats, 2)

		got, err := b.GetCategory(ctx, groceries.ID)
		require.NoError(t, err)
		assert.Equal(t, food.ID, *got.ParentID)

		_, err = b.CreateBudget(ctx, core.Budget{YearMonth: "2025-12", CategoryID: &food.ID, Amount: decimal.NewFromInt(300)})
		require.NoError(t, err)
		_, err = b.CreateBudget(ctx, core.Budget{YearMonth: "2026-01", Amount: decimal.NewFromInt(50)})
		require.NoError(t, err)
		dec, err := b.ListBudgets(ctx, "2025-12")
		require.NoError(t, err)
		require.Len(t, dec, 1)
		assert.True(t, dec[0].Amount.Equal(decimal.NewFromInt(300)))
		all, err := b.ListBudgets(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		due := mustDate(t, "2026-02-01")
		_, err = b.CreatePlanned(ctx, core.PlannedItem{Title: "Holiday", Amount: decimal.NewFromInt(900), Type: core.PlannedExpense})
		require.NoError(t, err)
		_, err = b.CreatePlanned(ctx, core.PlannedItem{Title: "Rent", Amount: decimal.NewFromInt(800), DueDate: &due, Type: core.PlannedExpense})
		require.NoError(t, err)
		planned, err := b.ListPlanned(ctx)
		require.NoError(t, err)
		require.Len(t, planned, 2)
		assert.Equal(t, "Rent", planned[0].Title)
		assert.Nil(t, planned[1].DueDate)
	})
}

func adj(id int64, delta string, version int64) core.Adjustment {
	return core.Adjustment{AccountID: id, Delta: decimal.RequireFromString(delta), Version: version}
}

func mustAccount(t *testing.T, s ledger.AccountReader, id int64) core.Account {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
