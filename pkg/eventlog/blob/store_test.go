package blob_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T, opts ...blob.Option) blob.Store

func readAll(t *testing.T, s blob.Store, name string, offset int64) string {
	t.Helper()
	r, err := s.OpenReadAt(context.Background(), name, offset)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Append_and_Read", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.CreateIfMissing(ctx, "log/a.tsv"))
		require.NoError(t, store.Append(ctx, "log/a.tsv", []byte("hello ")))
		require.NoError(t, store.Append(ctx, "log/a.tsv", []byte("world\n")))

		assert.Equal(t, "hello world\n", readAll(t, store, "log/a.tsv", 0))
		assert.Equal(t, "world\n", readAll(t, store, "log/a.tsv", 6))
		assert.Equal(t, "", readAll(t, store, "log/a.tsv", 100))
	})

	t.Run(name+"/CreateIfMissing_Idempotent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.CreateIfMissing(ctx, "x"))
		require.NoError(t, store.Append(ctx, "x", []byte("abc")))
		require.NoError(t, store.CreateIfMissing(ctx, "x"))
		assert.Equal(t, "abc", readAll(t, store, "x", 0))
	})

	t.Run(name+"/Append_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		err := store.Append(ctx, "missing", []byte("x"))
		assert.ErrorIs(t, err, blob.ErrNotFound)
	})

	t.Run(name+"/Read_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.OpenReadAt(ctx, "missing", 0)
		assert.ErrorIs(t, err, blob.ErrNotFound)
	})

	t.Run(name+"/Properties", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.CreateIfMissing(ctx, "p"))
		info, err := store.Properties(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, 0, info.Blocks)
		assert.Equal(t, int64(0), info.Length)

		require.NoError(t, store.Append(ctx, "p", []byte("12345")))
		require.NoError(t, store.Append(ctx, "p", []byte("678")))
		info, err = store.Properties(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, "p", info.Name)
		assert.Equal(t, 2, info.Blocks)
		assert.Equal(t, int64(8), info.Length)

		_, err = store.Properties(ctx, "missing")
		assert.ErrorIs(t, err, blob.ErrNotFound)
	})

	t.Run(name+"/List_ByPrefix_Sorted", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for _, n := range []string{"log/2.tsv", "other/1.tsv", "log/1.tsv"} {
			require.NoError(t, store.CreateIfMissing(ctx, n))
		}
		require.NoError(t, store.Append(ctx, "log/1.tsv", []byte("abc")))

		infos, err := store.List(ctx, "log/")
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "log/1.tsv", infos[0].Name)
		assert.Equal(t, int64(3), infos[0].Length)
		assert.Equal(t, "log/2.tsv", infos[1].Name)
	})

	t.Run(name+"/List_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		infos, err := store.List(ctx, "nothing/")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run(name+"/Upload_Download", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Upload(ctx, "snap", []byte{0x01, 0x00, 0xff}, false))
		data, err := store.Download(ctx, "snap")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x00, 0xff}, data)

		err = store.Upload(ctx, "snap", []byte("second"), false)
		assert.ErrorIs(t, err, blob.ErrExists)

		require.NoError(t, store.Upload(ctx, "snap", []byte("second"), true))
		data, err = store.Download(ctx, "snap")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), data)
	})

	t.Run(name+"/Download_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Download(ctx, "missing")
		assert.ErrorIs(t, err, blob.ErrNotFound)
	})

	t.Run(name+"/Limits", func(t *testing.T) {
		store := factory(t, blob.WithLimits(blob.Limits{MaxAppendBytes: 4, MaxBlocks: 2}))
		defer store.Close()

		require.NoError(t, store.CreateIfMissing(ctx, "l"))
		assert.ErrorIs(t, store.Append(ctx, "l", []byte("12345")), blob.ErrBlockTooLarge)
		require.NoError(t, store.Append(ctx, "l", []byte("1234")))
		require.NoError(t, store.Append(ctx, "l", []byte("5")))
		assert.ErrorIs(t, store.Append(ctx, "l", []byte("6")), blob.ErrTooManyBlocks)
		assert.Equal(t, blob.Limits{MaxAppendBytes: 4, MaxBlocks: 2}, store.Limits())
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.CreateIfMissing(ctx, "x"), blob.ErrStoreClosed)
		_, err := store.Download(ctx, "x")
		assert.ErrorIs(t, err, blob.ErrStoreClosed)
		_, err = store.List(ctx, "")
		assert.ErrorIs(t, err, blob.ErrStoreClosed)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContractTest(t, "MemoryStore", func(t *testing.T, opts ...blob.Option) blob.Store {
		return blob.NewMemoryStore(opts...)
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContractTest(t, "SQLiteStore", func(t *testing.T, opts ...blob.Option) blob.Store {
		store, err := blob.NewSQLiteStore(filepath.Join(t.TempDir(), "blobs.db"), opts...)
		require.NoError(t, err)
		return store
	})
}

func TestBoltStore_Contract(t *testing.T) {
	storeContractTest(t, "BoltStore", func(t *testing.T, opts ...blob.Option) blob.Store {
		store, err := blob.NewBoltStore(filepath.Join(t.TempDir(), "blobs.bolt"), opts...)
		require.NoError(t, err)
		return store
	})
}
