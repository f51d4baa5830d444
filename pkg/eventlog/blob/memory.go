package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory blob store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*object
	stale   map[string]int // name -> remaining reads that report ErrNotVisible
	limits  Limits
	closed  bool
}

type object struct {
	data     []byte
	blocks   int
	modified time.Time
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		objects: make(map[string]*object),
		stale:   make(map[string]int),
		limits:  o.limits,
	}
}

// CreateIfMissing implements Store.
func (m *MemoryStore) CreateIfMissing(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &object{modified: time.Now().UTC()}
	}
	return nil
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	obj, ok := m.objects[name]
	if !ok {
		return ErrNotFound
	}
	if err := checkAppend(m.limits, data, obj.blocks); err != nil {
		return err
	}

	obj.data = append(obj.data, data...)
	obj.blocks++
	obj.modified = time.Now().UTC()
	return nil
}

// OpenReadAt implements Store.
func (m *MemoryStore) OpenReadAt(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if n := m.stale[name]; n > 0 {
		m.stale[name] = n - 1
		return nil, ErrNotVisible
	}
	obj, ok := m.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(obj.data)) {
		offset = int64(len(obj.data))
	}

	// Copy data to avoid exposing later appends to the reader
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data[offset:]))), nil
}

// Properties implements Store.
func (m *MemoryStore) Properties(ctx context.Context, name string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Info{}, ErrStoreClosed
	}
	obj, ok := m.objects[name]
	if !ok {
		return Info{}, ErrNotFound
	}
	return obj.info(name), nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	infos := make([]Info, 0)
	for name, obj := range m.objects {
		if strings.HasPrefix(name, prefix) {
			infos = append(infos, obj.info(name))
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// Upload implements Store.
func (m *MemoryStore) Upload(ctx context.Context, name string, data []byte, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.objects[name]; ok && !overwrite {
		return ErrExists
	}
	m.objects[name] = &object{
		data:     bytes.Clone(data),
		blocks:   1,
		modified: time.Now().UTC(),
	}
	return nil
}

// Download implements Store.
func (m *MemoryStore) Download(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	obj, ok := m.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(obj.data), nil
}

// Limits implements Store.
func (m *MemoryStore) Limits() Limits {
	return m.limits
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.objects = nil
	return nil
}

// Delete removes a blob. Returns nil if it doesn't exist.
// Useful for testing cache loss.
func (m *MemoryStore) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
}

// FailReads makes the next n reads of name report ErrNotVisible, as a
// store would while an append is still propagating.
func (m *MemoryStore) FailReads(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale[name] = n
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (o *object) info(name string) Info {
	return Info{
		Name:     name,
		Length:   int64(len(o.data)),
		Blocks:   o.blocks,
		Modified: o.modified,
	}
}
