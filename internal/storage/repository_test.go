package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/ledger/ledgertest"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "homebuh.db"), Options{BusyTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestBackendContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Backend { return newTestRepo(t) })
}

func TestDecimalRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	acc := ledgertest.Seed(t, repo, "Savings", "EUR", "1234567.89")

	got, err := repo.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1234567.89", got.Balance.StringFixed(2))
	assert.Equal(t, "EUR", got.Currency)
	assert.WithinDuration(t, acc.CreatedAt, got.CreatedAt, time.Microsecond)
}

func TestLedgerRowsAreImmutable(t *testing.T) {
	repo := newTestRepo(t)
	ledgertest.Seed(t, repo, "Wallet", "USD", "10")

	_, err := repo.db.Exec(`UPDATE transactions SET amount = '999'`)
	assert.Error(t, err)
	_, err = repo.db.Exec(`DELETE FROM transactions`)
	assert.Error(t, err)
}

func TestWriterBlockedPastBusyTimeoutIsConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	holder, err := NewSQLiteRepository(path, Options{BusyTimeout: time.Second})
	require.NoError(t, err)
	defer holder.Close()
	waiter, err := NewSQLiteRepository(path, Options{BusyTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer waiter.Close()

	acc := ledgertest.Seed(t, holder, "Wallet", "USD", "10")

	inside := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = holder.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
			close(inside)
			<-done
			return nil
		})
	}()
	<-inside

	err = waiter.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
		_, err := u.AdjustOne(ctx, core.Adjustment{AccountID: acc.ID, Delta: decimal.NewFromInt(1), Version: 1}, "USD")
		return err
	})
	close(done)

	require.Error(t, err)
	assert.True(t, core.IsRetryable(err), "got %v", err)
	assert.True(t, ledgertest.Balance(t, holder, acc.ID).Equal(decimal.NewFromInt(10)))
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	require.NoError(t, RunMigrations(path))

	v, dirty, err := MigrationVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	// idempotent
	require.NoError(t, RunMigrations(path))

	require.NoError(t, RollbackMigrations(path, 0))
	v, _, err = MigrationVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
}

func TestDSN(t *testing.T) {
	got := dsn("/tmp/x.db", 0)
	assert.Contains(t, got, "_txlock=immediate")
	assert.Contains(t, got, "busy_timeout%285000%29")
	assert.Contains(t, got, "journal_mode%28WAL%29")
}
