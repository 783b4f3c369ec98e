package transfer_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/ledger/ledgertest"
	"homebuh/internal/lock"
	"homebuh/internal/storage"
	"homebuh/internal/storage/memory"
	"homebuh/internal/transfer"
)

func backends() map[string]ledgertest.Factory {
	return map[string]ledgertest.Factory{
		"memory": func(t *testing.T) ledger.Backend { return memory.New() },
		"sqlite": func(t *testing.T) ledger.Backend {
			repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "t.db"), storage.Options{BusyTimeout: 5 * time.Second})
			require.NoError(t, err)
			t.Cleanup(func() { repo.Close() })
			return repo
		},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, b ledger.Backend)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) { fn(t, factory(t)) })
	}
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ledgerOf(t *testing.T, b ledger.Store, id int64) []core.Transaction {
	t.Helper()
	txs, err := ledger.Collect(b.ListByAccount(context.Background(), id))
	require.NoError(t, err)
	return txs
}

func TestTransferMovesMoney(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		a := ledgertest.Seed(t, b, "Checking", "USD", "100")
		c := ledgertest.Seed(t, b, "Savings", "USD", "0")
		o := transfer.New(b, lock.NewAccounts(), transfer.DefaultOptions())

		res, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("30")})
		require.NoError(t, err)

		assert.Equal(t, "70", ledgertest.Balance(t, b, a.ID).String())
		assert.Equal(t, "30", ledgertest.Balance(t, b, c.ID).String())

		// leg symmetry
		assert.True(t, res.From.Amount.Equal(amount("-30")))
		assert.True(t, res.To.Amount.Equal(amount("30")))
		assert.Equal(t, a.ID, res.From.AccountID)
		assert.Equal(t, c.ID, res.To.AccountID)
		assert.Equal(t, "USD", res.From.Currency)
		assert.Equal(t, "Transfer to Savings", res.From.Description)
		assert.Equal(t, "Transfer from Checking", res.To.Description)
		assert.False(t, res.Replayed)
		assert.True(t, res.From.Amount.Add(res.To.Amount).IsZero())

		assert.Len(t, ledgerOf(t, b, a.ID), 2)
		assert.Len(t, ledgerOf(t, b, c.ID), 1)
		ledgertest.AssertInvariant(t, b, a.ID)
		ledgertest.AssertInvariant(t, b, c.ID)
	})
}

func TestTransferEntireBalance(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		a := ledgertest.Seed(t, b, "A", "USD", "50")
		c := ledgertest.Seed(t, b, "B", "USD", "0")
		o := transfer.New(b, nil, transfer.DefaultOptions())

		_, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("50")})
		require.NoError(t, err)
		assert.True(t, ledgertest.Balance(t, b, a.ID).IsZero())
		assert.Equal(t, "50", ledgertest.Balance(t, b, c.ID).String())
	})
}

func TestTransferRejections(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		a := ledgertest.Seed(t, b, "A", "USD", "50")
		c := ledgertest.Seed(t, b, "B", "USD", "10")
		e := ledgertest.Seed(t, b, "Euro", "EUR", "10")
		o := transfer.New(b, nil, transfer.DefaultOptions())

		cases := []struct {
			name string
			req  transfer.Request
			want error
		}{
			{"zero amount", transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("0")}, core.ErrInvalidAmount},
			{"negative amount", transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("-5")}, core.ErrInvalidAmount},
			{"amount before same account", transfer.Request{FromAccountID: a.ID, ToAccountID: a.ID, Amount: amount("0")}, core.ErrInvalidAmount},
			{"same account", transfer.Request{FromAccountID: a.ID, ToAccountID: a.ID, Amount: amount("5")}, core.ErrSameAccount},
			{"same account before not found", transfer.Request{FromAccountID: 99, ToAccountID: 99, Amount: amount("5")}, core.ErrSameAccount},
			{"missing source", transfer.Request{FromAccountID: 99, ToAccountID: c.ID, Amount: amount("5")}, core.ErrAccountNotFound},
			{"missing destination", transfer.Request{FromAccountID: a.ID, ToAccountID: 99, Amount: amount("5")}, core.ErrAccountNotFound},
			{"not found before currency", transfer.Request{FromAccountID: e.ID, ToAccountID: 99, Amount: amount("5"), Currency: "USD"}, core.ErrAccountNotFound},
			{"currency mismatch", transfer.Request{FromAccountID: a.ID, ToAccountID: e.ID, Amount: amount("5")}, core.ErrCurrencyMismatch},
			{"explicit currency mismatch", transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("5"), Currency: "EUR"}, core.ErrCurrencyMismatch},
			{"currency before funds", transfer.Request{FromAccountID: c.ID, ToAccountID: e.ID, Amount: amount("500")}, core.ErrCurrencyMismatch},
			{"insufficient funds", transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("50.01")}, core.ErrInsufficientFunds},
		}
		for _, tc := range cases {
			_, err := o.Transfer(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want, tc.name)
			assert.False(t, core.IsRetryable(err), tc.name)
		}

		// no side effects
		assert.Equal(t, "50", ledgertest.Balance(t, b, a.ID).String())
		assert.Equal(t, "10", ledgertest.Balance(t, b, c.ID).String())
		assert.Equal(t, "10", ledgertest.Balance(t, b, e.ID).String())
		for _, id := range []int64{a.ID, c.ID, e.ID} {
			assert.Len(t, ledgerOf(t, b, id), 1)
			ledgertest.AssertInvariant(t, b, id)
		}
	})
}

func TestTransferCustomDescriptionAndCurrency(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		a := ledgertest.Seed(t, b, "A", "EUR", "20")
		c := ledgertest.Seed(t, b, "B", "EUR", "0")
		o := transfer.New(b, nil, transfer.DefaultOptions())

		res, err := o.Transfer(context.Background(), transfer.Request{
			FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("7.25"), Currency: "eur", Description: "rent share",
		})
		require.NoError(t, err)
		assert.Equal(t, "rent share", res.From.Description)
		assert.Equal(t, "rent share", res.To.Description)
		assert.Equal(t, "EUR", res.To.Currency)
		assert.Equal(t, "12.75", ledgertest.Balance(t, b, a.ID).StringFixed(2))
	})
}

func TestTransferIdempotencyKey(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		a := ledgertest.Seed(t, b, "A", "USD", "100")
		c := ledgertest.Seed(t, b, "B", "USD", "0")
		o := transfer.New(b, nil, transfer.DefaultOptions())
		req := transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("10"), IdempotencyKey: "key-1"}

		first, err := o.Transfer(context.Background(), req)
		require.NoError(t, err)
		again, err := o.Transfer(context.Background(), req)
		require.NoError(t, err)

		assert.True(t, again.Replayed)
		assert.Equal(t, first.From.ID, again.From.ID)
		assert.Equal(t, first.To.ID, again.To.ID)
		assert.Equal(t, "90", ledgertest.Balance(t, b, a.ID).String())
		assert.Len(t, ledgerOf(t, b, c.ID), 1)

		changed := req
		changed.Amount = amount("11")
		_, err = o.Transfer(context.Background(), changed)
		assert.ErrorIs(t, err, core.ErrInvalid)
		assert.False(t, core.IsRetryable(err))
		assert.Equal(t, "90", ledgertest.Balance(t, b, a.ID).String())
	})
}

func TestReusedKeyIsNotRetried(t *testing.T) {
	b := memory.New()
	a := ledgertest.Seed(t, b, "A", "USD", "100")
	c := ledgertest.Seed(t, b, "B", "USD", "0")

	fs := &flakyStore{Store: b}
	o := transfer.New(fs, nil, transfer.Options{MaxRetries: 3, Backoff: time.Second})
	req := transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("10"), IdempotencyKey: "k"}
	_, err := o.Transfer(context.Background(), req)
	require.NoError(t, err)

	req.Amount = amount("20")
	start := time.Now()
	_, err = o.Transfer(context.Background(), req)
	require.ErrorIs(t, err, core.ErrInvalid)
	assert.Equal(t, int32(2), fs.calls.Load())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "90", ledgertest.Balance(t, b, a.ID).String())
}

// Alternating transfers between the same pair from many goroutines must not
// lose updates, deadlock, or break conservation.
func TestConcurrentOppositeTransfers(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		a := ledgertest.Seed(t, b, "A", "USD", "1000")
		c := ledgertest.Seed(t, b, "B", "USD", "1000")
		o := transfer.New(b, lock.NewAccounts(), transfer.Options{MaxRetries: 5})

		const n = 50
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		g, ctx := errgroup.WithContext(ctx)
		for i := 0; i < n; i++ {
			from, to := a.ID, c.ID
			if i%2 == 1 {
				from, to = to, from
			}
			g.Go(func() error {
				_, err := o.Transfer(ctx, transfer.Request{FromAccountID: from, ToAccountID: to, Amount: amount("1")})
				return err
			})
		}
		require.NoError(t, g.Wait())

		// n/2 each way: balances unchanged, every leg recorded
		assert.Equal(t, "1000", ledgertest.Balance(t, b, a.ID).String())
		assert.Equal(t, "1000", ledgertest.Balance(t, b, c.ID).String())
		assert.Len(t, ledgerOf(t, b, a.ID), n+1)
		assert.Len(t, ledgerOf(t, b, c.ID), n+1)
		ledgertest.AssertInvariant(t, b, a.ID)
		ledgertest.AssertInvariant(t, b, c.ID)
	})
}

func TestConcurrentDrainNeverOverdraws(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		a := ledgertest.Seed(t, b, "A", "USD", "10")
		c := ledgertest.Seed(t, b, "B", "USD", "0")
		o := transfer.New(b, nil, transfer.Options{MaxRetries: 5})

		var ok, short atomic.Int32
		g := errgroup.Group{}
		for i := 0; i < 25; i++ {
			g.Go(func() error {
				_, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("1")})
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, core.ErrInsufficientFunds):
					short.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(10), ok.Load())
		assert.Equal(t, int32(15), short.Load())
		assert.True(t, ledgertest.Balance(t, b, a.ID).IsZero())
		assert.Equal(t, "10", ledgertest.Balance(t, b, c.ID).String())
	})
}

func TestLockTimeoutIsConflict(t *testing.T) {
	b := memory.New()
	a := ledgertest.Seed(t, b, "A", "USD", "10")
	c := ledgertest.Seed(t, b, "B", "USD", "0")
	locks := lock.NewAccounts()
	o := transfer.New(b, locks, transfer.Options{LockTimeout: 20 * time.Millisecond, Backoff: time.Millisecond})

	release, err := locks.Acquire(context.Background(), c.ID)
	require.NoError(t, err)
	defer release()

	_, err = o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("1")})
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, "10", ledgertest.Balance(t, b, a.ID).String())
}

// flakyStore fails the first n units with Conflict.
type flakyStore struct {
	ledger.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) WithinUnit(ctx context.Context, fn ledger.UnitFunc) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return core.Conflict("commit unit", "database is busy", nil)
	}
	return f.Store.WithinUnit(ctx, fn)
}

func TestConflictIsRetried(t *testing.T) {
	b := memory.New()
	a := ledgertest.Seed(t, b, "A", "USD", "10")
	c := ledgertest.Seed(t, b, "B", "USD", "0")

	fs := &flakyStore{Store: b}
	fs.failures.Store(2)
	o := transfer.New(fs, nil, transfer.Options{MaxRetries: 3, Backoff: time.Millisecond})

	_, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("4")})
	require.NoError(t, err)
	assert.Equal(t, int32(3), fs.calls.Load())
	assert.Equal(t, "6", ledgertest.Balance(t, b, a.ID).String())
}

func TestConflictSurfacesAfterRetries(t *testing.T) {
	b := memory.New()
	a := ledgertest.Seed(t, b, "A", "USD", "10")
	c := ledgertest.Seed(t, b, "B", "USD", "0")

	fs := &flakyStore{Store: b}
	fs.failures.Store(100)
	o := transfer.New(fs, nil, transfer.Options{MaxRetries: 2, Backoff: time.Millisecond})

	_, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("4")})
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, int32(3), fs.calls.Load())
	assert.Equal(t, "10", ledgertest.Balance(t, b, a.ID).String())
}

func TestPreconditionFailuresAreNotRetried(t *testing.T) {
	b := memory.New()
	a := ledgertest.Seed(t, b, "A", "USD", "1")
	c := ledgertest.Seed(t, b, "B", "USD", "0")
	fs := &flakyStore{Store: b}
	o := transfer.New(fs, nil, transfer.Options{MaxRetries: 3, Backoff: time.Millisecond})

	_, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("5")})
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)
	assert.Equal(t, int32(1), fs.calls.Load())

	_, err = o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("0")})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	assert.Equal(t, int32(1), fs.calls.Load())
}

// brokenStore fails every unit with a storage error.
type brokenStore struct{ ledger.Store }

func (brokenStore) WithinUnit(context.Context, ledger.UnitFunc) error {
	return core.Persistence("commit unit", errors.New("disk I/O error"))
}

func TestPersistenceFailureIsInternal(t *testing.T) {
	b := memory.New()
	a := ledgertest.Seed(t, b, "A", "USD", "10")
	c := ledgertest.Seed(t, b, "B", "USD", "0")
	o := transfer.New(brokenStore{b}, nil, transfer.Options{MaxRetries: 3})

	_, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: a.ID, ToAccountID: c.ID, Amount: amount("1")})
	assert.ErrorIs(t, err, core.ErrPersistence)
	assert.False(t, core.IsRetryable(err))
	assert.Equal(t, "persistence failure", core.Message(err))
	assert.NotContains(t, core.Message(err), "disk")
}

func TestScenarios(t *testing.T) {
	type setup struct{ a, b string }
	cases := []struct {
		name         string
		balances     setup
		from, to     string // "A", "B" or "missing"
		amount       string
		want         error
		wantA, wantB string
	}{
		{"transfer between funded accounts", setup{"500", "100"}, "A", "B", "100", nil, "400", "200"},
		{"insufficient funds", setup{"10", "0"}, "A", "B", "100", core.ErrInsufficientFunds, "10", "0"},
		{"same account", setup{"500", "100"}, "A", "A", "50", core.ErrSameAccount, "500", "100"},
		{"negative amount", setup{"500", "100"}, "A", "B", "-50", core.ErrInvalidAmount, "500", "100"},
		{"zero amount", setup{"500", "100"}, "A", "B", "0", core.ErrInvalidAmount, "500", "100"},
		{"unknown destination", setup{"500", "100"}, "A", "missing", "100", core.ErrAccountNotFound, "500", "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eachBackend(t, func(t *testing.T, b ledger.Backend) {
				a := ledgertest.Seed(t, b, "A", "USD", tc.balances.a)
				bb := ledgertest.Seed(t, b, "B", "USD", tc.balances.b)
				ids := map[string]int64{"A": a.ID, "B": bb.ID, "missing": 4242}
				before := len(ledgerOf(t, b, a.ID)) + len(ledgerOf(t, b, bb.ID))

				o := transfer.New(b, nil, transfer.DefaultOptions())
				res, err := o.Transfer(context.Background(), transfer.Request{
					FromAccountID: ids[tc.from], ToAccountID: ids[tc.to], Amount: amount(tc.amount),
				})

				after := len(ledgerOf(t, b, a.ID)) + len(ledgerOf(t, b, bb.ID))
				if tc.want != nil {
					assert.ErrorIs(t, err, tc.want)
					assert.Equal(t, before, after)
				} else {
					require.NoError(t, err)
					assert.Equal(t, before+2, after)
					assert.True(t, res.From.Amount.Equal(amount(tc.amount).Neg()))
					assert.Equal(t, a.ID, res.From.AccountID)
					assert.True(t, res.To.Amount.Equal(amount(tc.amount)))
					assert.Equal(t, bb.ID, res.To.AccountID)
				}
				assert.True(t, ledgertest.Balance(t, b, a.ID).Equal(amount(tc.wantA)))
				assert.True(t, ledgertest.Balance(t, b, bb.ID).Equal(amount(tc.wantB)))
				ledgertest.AssertInvariant(t, b, a.ID)
				ledgertest.AssertInvariant(t, b, bb.ID)
			})
		})
	}
}

// X starts with everything, Y with nothing; some Y->X transfers may be
// rejected, but the total never changes.
func TestNoLostUpdateFromEmptyAccount(t *testing.T) {
	eachBackend(t, func(t *testing.T, b ledger.Backend) {
		x := ledgertest.Seed(t, b, "X", "USD", "100")
		y := ledgertest.Seed(t, b, "Y", "USD", "0")
		o := transfer.New(b, lock.NewAccounts(), transfer.Options{MaxRetries: 5})

		var committed atomic.Int32
		g := errgroup.Group{}
		for i := 0; i < 40; i++ {
			from, to := x.ID, y.ID
			if i%2 == 1 {
				from, to = to, from
			}
			g.Go(func() error {
				_, err := o.Transfer(context.Background(), transfer.Request{FromAccountID: from, ToAccountID: to, Amount: amount("5")})
				if errors.Is(err, core.ErrInsufficientFunds) {
					return nil
				}
				if err == nil {
					committed.Add(1)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())

		total := ledgertest.Balance(t, b, x.ID).Add(ledgertest.Balance(t, b, y.ID))
		assert.True(t, total.Equal(amount("100")), "total %s", total)
		assert.False(t, ledgertest.Balance(t, b, y.ID).IsNegative())
		assert.Len(t, ledgerOf(t, b, x.ID), 1+int(committed.Load()))
		ledgertest.AssertInvariant(t, b, x.ID)
		ledgertest.AssertInvariant(t, b, y.ID)
	})
}
