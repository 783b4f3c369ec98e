package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "homebuh/internal/sheets"
)

func TestAppendEntriesSkipsMirroredTransactions(t *testing.T) {
	s := New()
	ctx := context.Background()

	ref, err := s.AppendEntries(ctx, []ports.Entry{{TxID: 1}, {TxID: 2}})
	require.NoError(t, err)
	assert.Equal(t, "mem:1-2", ref)

	_, err = s.AppendEntries(ctx, []ports.Entry{{TxID: 2}, {TxID: 3}})
	require.NoError(t, err)

	got, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].TxID)
}
