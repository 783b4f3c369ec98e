package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebuh/internal/config"
	"homebuh/internal/ledger/ledgertest"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", DataDirectory: "seed"})
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, cfg.Type)
	assert.Equal(t, "x.db", cfg.SQLiteDBPath)
	assert.Equal(t, "seed", cfg.DataDirectory)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{Type: "postgres"}.Validate())
	assert.Error(t, Config{Type: SQLiteBackend}.Validate())
	assert.NoError(t, Config{Type: MemoryBackend}.Validate())
	assert.Equal(t, []string{"sqlite", "memory"}, GetBackendTypeStrings())
}

func TestCreateBackend(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	for _, cfg := range []Config{
		{Type: MemoryBackend, DataDirectory: t.TempDir()},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "homebuh.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.CreateBackend(ctx, cfg)
			require.NoError(t, err)
			require.NotNil(t, res.Cleanup)
			defer res.Cleanup()

			acc := ledgertest.Seed(t, res.Backend, "Wallet", "USD", "5")
			ledgertest.AssertInvariant(t, res.Backend, acc.ID)

			cats, err := res.Backend.ListCategories(ctx)
			require.NoError(t, err)
			if cfg.Type == MemoryBackend {
				assert.Len(t, cats, 5)
			} else {
				assert.Empty(t, cats)
			}
		})
	}

	_, err := f.CreateBackend(ctx, Config{Type: "sheets"})
	assert.Error(t, err)
}
