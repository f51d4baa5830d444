package blob

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	dataBucket = []byte("blobs")
	metaBucket = []byte("blob_meta")
)

// BoltStore keeps blobs in a bbolt file: content in one bucket, block
// count and modification time in another.
type BoltStore struct {
	db     *bolt.DB
	limits Limits
	mu     sync.RWMutex
	closed bool
}

// NewBoltStore opens (or creates) a bbolt blob store at path.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	o := applyOptions(opts)

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(dataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db, limits: o.limits}, nil
}

// meta is encoded as blocks (8 bytes) + unix nanos (8 bytes).
func encodeMeta(blocks int, modified time.Time) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(blocks))
	binary.BigEndian.PutUint64(buf[8:], uint64(modified.UnixNano()))
	return buf
}

func decodeMeta(buf []byte) (int, time.Time) {
	if len(buf) < 16 {
		return 0, time.Time{}
	}
	blocks := int(binary.BigEndian.Uint64(buf[:8]))
	modified := time.Unix(0, int64(binary.BigEndian.Uint64(buf[8:]))).UTC()
	return blocks, modified
}

func (b *BoltStore) update(ctx context.Context, fn func(data, meta *bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(dataBucket), tx.Bucket(metaBucket))
	})
}

func (b *BoltStore) view(ctx context.Context, fn func(data, meta *bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(dataBucket), tx.Bucket(metaBucket))
	})
}

// CreateIfMissing implements Store.
func (b *BoltStore) CreateIfMissing(ctx context.Context, name string) error {
	return b.update(ctx, func(data, meta *bolt.Bucket) error {
		key := []byte(name)
		if meta.Get(key) != nil {
			return nil
		}
		if err := data.Put(key, []byte{}); err != nil {
			return err
		}
		return meta.Put(key, encodeMeta(0, time.Now()))
	})
}

// Append implements Store.
func (b *BoltStore) Append(ctx context.Context, name string, chunk []byte) error {
	return b.update(ctx, func(data, meta *bolt.Bucket) error {
		key := []byte(name)
		m := meta.Get(key)
		if m == nil {
			return ErrNotFound
		}
		current := data.Get(key)
		blocks, _ := decodeMeta(m)
		if err := checkAppend(b.limits, chunk, blocks); err != nil {
			return err
		}

		// Values returned by Get are only valid inside the transaction
		next := make([]byte, 0, len(current)+len(chunk))
		next = append(next, current...)
		next = append(next, chunk...)
		if err := data.Put(key, next); err != nil {
			return err
		}
		return meta.Put(key, encodeMeta(blocks+1, time.Now()))
	})
}

// OpenReadAt implements Store.
func (b *BoltStore) OpenReadAt(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	var out []byte
	err := b.view(ctx, func(data, meta *bolt.Bucket) error {
		key := []byte(name)
		if meta.Get(key) == nil {
			return ErrNotFound
		}
		current := data.Get(key)
		if offset < 0 {
			offset = 0
		}
		if offset > int64(len(current)) {
			offset = int64(len(current))
		}
		out = bytes.Clone(current[offset:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

// Properties implements Store.
func (b *BoltStore) Properties(ctx context.Context, name string) (Info, error) {
	var info Info
	err := b.view(ctx, func(data, meta *bolt.Bucket) error {
		key := []byte(name)
		m := meta.Get(key)
		if m == nil {
			return ErrNotFound
		}
		blocks, modified := decodeMeta(m)
		current := data.Get(key)
		info = Info{Name: name, Length: int64(len(current)), Blocks: blocks, Modified: modified}
		return nil
	})
	return info, err
}

// List implements Store.
func (b *BoltStore) List(ctx context.Context, prefix string) ([]Info, error) {
	infos := make([]Info, 0)
	err := b.view(ctx, func(data, meta *bolt.Bucket) error {
		p := []byte(prefix)
		c := meta.Cursor()
		for k, m := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, m = c.Next() {
			blocks, modified := decodeMeta(m)
			infos = append(infos, Info{
				Name:     string(k),
				Length:   int64(len(data.Get(k))),
				Blocks:   blocks,
				Modified: modified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Upload implements Store.
func (b *BoltStore) Upload(ctx context.Context, name string, content []byte, overwrite bool) error {
	return b.update(ctx, func(data, meta *bolt.Bucket) error {
		key := []byte(name)
		if !overwrite && meta.Get(key) != nil {
			return ErrExists
		}
		if content == nil {
			content = []byte{}
		}
		if err := data.Put(key, content); err != nil {
			return err
		}
		return meta.Put(key, encodeMeta(1, time.Now()))
	})
}

// Download implements Store.
func (b *BoltStore) Download(ctx context.Context, name string) ([]byte, error) {
	var out []byte
	err := b.view(ctx, func(data, meta *bolt.Bucket) error {
		key := []byte(name)
		if meta.Get(key) == nil {
			return ErrNotFound
		}
		out = bytes.Clone(data.Get(key))
		if out == nil {
			out = []byte{}
		}
		return nil
	})
	return out, err
}

// Limits implements Store.
func (b *BoltStore) Limits() Limits {
	return b.limits
}

// Close implements Store.
func (b *BoltStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
