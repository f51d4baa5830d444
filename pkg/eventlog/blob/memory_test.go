package blob_test

import (
	"context"
	"io"
	"testing"

	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FailReads(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	require.NoError(t, store.CreateIfMissing(ctx, "seg"))
	require.NoError(t, store.Append(ctx, "seg", []byte("data")))

	store.FailReads("seg", 2)

	for i := 0; i < 2; i++ {
		_, err := store.OpenReadAt(ctx, "seg", 0)
		assert.ErrorIs(t, err, blob.ErrNotVisible)
	}

	r, err := store.OpenReadAt(ctx, "seg", 0)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestMemoryStore_ReaderIsolatedFromLaterAppends(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	require.NoError(t, store.CreateIfMissing(ctx, "seg"))
	require.NoError(t, store.Append(ctx, "seg", []byte("one\n")))

	r, err := store.OpenReadAt(ctx, "seg", 0)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "seg", []byte("two\n")))

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(data))
}

func TestMemoryStore_DeleteAndLen(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	require.NoError(t, store.Upload(ctx, "a", []byte("x"), true))
	require.NoError(t, store.Upload(ctx, "b", []byte("y"), true))
	assert.Equal(t, 2, store.Len())

	store.Delete("a")
	assert.Equal(t, 1, store.Len())
	_, err := store.Download(ctx, "a")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestMemoryStore_Cancelled(t *testing.T) {
	store := blob.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.CreateIfMissing(ctx, "a"), context.Canceled)
	_, err := store.OpenReadAt(ctx, "a", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
