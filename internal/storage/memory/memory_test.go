package memory

import (
	"context"
	"os"
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

func TestBackendContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Backend { return New() })
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	s := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	acc := ledgertest.Seed(t, s, "Wallet", "USD", "10")

	now = now.Add(-time.Hour)
	err := s.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
		_, err := u.Append(ctx, core.Transaction{AccountID: acc.ID, Amount: decimal.NewFromInt(1), Currency: "USD"})
		return err
	})
	require.NoError(t, err)

	txs, err := ledger.Collect(s.ListByAccount(context.Background(), acc.ID))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, txs[0].Timestamp, txs[1].Timestamp)
}

func TestCancelledUnitDoesNotCommit(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		_, err := u.InsertAccount(ctx, "Ghost", "USD")
		cancel()
		return err
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	accounts, err := s.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRolledBackUnitDoesNotConsumeIDs(t *testing.T) {
	s := New()
	_ = s.WithinUnit(context.Background(), func(ctx context.Context, u ledger.Unit) error {
		_, _ = u.InsertAccount(ctx, "Rolled back", "USD")
		return assert.AnError
	})
	acc := ledgertest.Seed(t, s, "Kept", "USD", "0")
	assert.Equal(t, int64(1), acc.ID)
}

func TestNewFromFilesSeedsCategories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed_categories.txt"),
		[]byte("# comment\nHouse\nHouse/Rent\nFun\n\n"), 0o644))

	s := NewFromFiles(dir)
	cats, err := s.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 3)

	byName := map[string]core.Category{}
	for _, c := range cats {
		byName[c.Name] = c
	}
	require.NotNil(t, byName["Rent"].ParentID)
	assert.Equal(t, byName["House"].ID, *byName["Rent"].ParentID)
}

func TestNewFromFilesDefaults(t *testing.T) {
	s := NewFromFiles(t.TempDir())
	cats, err := s.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, 5)
}
