package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

func TestLedgerRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ledger.db")
	l, err := New(ctx, path, "")
	require.NoError(t, err)

	key := archive.Key{Source: archive.KindANNO, Scope: "sam", ID: "18090104"}
	other := archive.Key{Source: archive.KindANNO, Scope: "vlb", ID: "18090104"}

	status, err := l.Status(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusAbsent, status)

	require.NoError(t, l.Begin(ctx, key))
	require.NoError(t, l.Fail(ctx, key, "timeout"))
	status, err = l.Status(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusFailed, status)

	require.NoError(t, l.Complete(ctx, key))
	fetched, err := l.IsFetched(ctx, key)
	require.NoError(t, err)
	assert.True(t, fetched)

	fetched, err = l.IsFetched(ctx, other)
	require.NoError(t, err)
	assert.False(t, fetched, "scope is part of the key")
	require.NoError(t, l.Close())

	reopened, err := New(ctx, path, "")
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck // test cleanup
	fetched, err = reopened.IsFetched(ctx, key)
	require.NoError(t, err)
	assert.True(t, fetched, "state survives reopening")
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "", "")
	require.Error(t, err)

	_, err = New(context.Background(), filepath.Join(t.TempDir(), "l.db"), "bad-name;")
	require.Error(t, err)
}
