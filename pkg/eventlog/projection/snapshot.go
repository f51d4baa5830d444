package projection

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/randalmurphal/eventlog/pkg/eventlog"
	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	"github.com/randalmurphal/eventlog/pkg/eventlog/observability"
)

// snapshotExt is the suffix of snapshot blobs.
const snapshotExt = ".json.zst"

type snapshotDoc[T any] struct {
	Version    int                          `json:"version"`
	Projection string                       `json:"projection"`
	TakenAt    time.Time                    `json:"taken_at"`
	Cursor     eventlog.Cursor              `json:"cursor"`
	Items      map[string]*T                `json:"items"`
	IDs        []string                     `json:"ids"`
	Index      map[string]map[string][]byte `json:"index"`
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// SnapshotKey returns the stable key of T's snapshots at version: the
// base64url-encoded 64-bit xxhash of T's qualified type name, then
// "@version".
func SnapshotKey[T any](version int) string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64String(t.PkgPath()+"."+t.Name()))
	return base64.RawURLEncoding.EncodeToString(sum[:]) + "@" + strconv.Itoa(version)
}

// SnapshotName returns the blob name this store's snapshot is saved under.
func (s *Store[T]) SnapshotName() string {
	return s.opts.snapshotPrefix + SnapshotKey[T](s.def.version) + snapshotExt
}

// SaveSnapshot uploads the current state, replacing the previous
// snapshot, and clears the dirty flag. Returns an error when snapshots are
// not configured.
func (s *Store[T]) SaveSnapshot(ctx context.Context) (err error) {
	if s.opts.snapshots == nil {
		return errors.New("projection: snapshots not configured")
	}

	ctx, span := s.opts.spans.StartSnapshotSpan(ctx, s.def.name, "save")
	defer func() { s.opts.spans.EndSpanWithError(span, err) }()

	// Cleared before encoding so a sweep committed after the encode marks
	// the store dirty again.
	s.dirty.Store(false)
	data, err := s.encodeSnapshot()
	if err != nil {
		s.dirty.Store(true)
		return err
	}

	name := s.SnapshotName()
	if err := s.opts.snapshots.Upload(ctx, name, data, true); err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("upload snapshot %s: %w", name, err)
	}

	s.opts.spans.AddSpanEvent(ctx, "uploaded")
	s.opts.metrics.RecordSnapshot(ctx, s.def.name, int64(len(data)))
	observability.LogSnapshotSaved(s.logger, s.def.name, name, len(data))
	return nil
}

func (s *Store[T]) saveIfDirty(ctx context.Context) error {
	if !s.dirty.Load() {
		return nil
	}
	return s.SaveSnapshot(ctx)
}

func (s *Store[T]) encodeSnapshot() ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}

	s.mu.RLock()
	doc := snapshotDoc[T]{
		Version:    s.def.version,
		Projection: s.def.name,
		TakenAt:    time.Now().UTC(),
		Cursor:     s.cursor,
		Items:      s.items,
		IDs:        s.interned.names,
		Index:      make(map[string]map[string][]byte, len(s.index)),
	}
	for field, values := range s.index {
		encoded := make(map[string][]byte, len(values))
		for v, bm := range values {
			b, err := bm.ToBytes()
			if err != nil {
				s.mu.RUnlock()
				return nil, fmt.Errorf("encode index %s: %w", field, err)
			}
			encoded[v] = b
		}
		doc.Index[field] = encoded
	}
	raw, err := json.Marshal(doc)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// loadSnapshot restores state from the stored snapshot, if any.
func (s *Store[T]) loadSnapshot(ctx context.Context) (err error) {
	ctx, span := s.opts.spans.StartSnapshotSpan(ctx, s.def.name, "load")
	defer func() { s.opts.spans.EndSpanWithError(span, err) }()

	data, err := s.opts.snapshots.Download(ctx, s.SnapshotName())
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}

	_, dec, err := codecs()
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}

	var doc snapshotDoc[T]
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if doc.Version != s.def.version {
		return fmt.Errorf("snapshot version %d, want %d", doc.Version, s.def.version)
	}

	items := doc.Items
	if items == nil {
		items = make(map[string]*T)
	}
	for id, item := range items {
		if item == nil {
			items[id] = s.def.newState(id)
		}
	}
	in := newInterner()
	for _, name := range doc.IDs {
		in.intern(name)
	}
	known := len(in.names)
	for _, id := range sortedKeys(items) {
		in.intern(id)
	}
	idx, ok := decodeIndex(doc.Index, s.def)
	if !ok || len(in.names) != known {
		idx = buildIndex(s.def.indexes, items, in)
	}
	cursor := doc.Cursor
	if cursor == nil {
		cursor = eventlog.Cursor{}
	}

	s.mu.Lock()
	s.items = items
	s.interned = in
	s.index = idx
	s.cursor = cursor
	s.mu.Unlock()

	observability.LogSnapshotLoaded(s.logger, s.def.name, len(items))
	return nil
}

// decodeIndex restores a stored index. It reports false when the stored
// fields differ from the declared ones or a bitmap is unreadable, in which
// case the caller rebuilds from the items.
func decodeIndex[T any](stored map[string]map[string][]byte, def *Definition[T]) (index, bool) {
	if len(stored) != len(def.indexes) {
		return nil, false
	}
	idx := make(index, len(stored))
	for _, d := range def.indexes {
		values, ok := stored[d.field]
		if !ok {
			return nil, false
		}
		decoded := make(map[string]*roaring.Bitmap, len(values))
		for v, b := range values {
			bm := roaring.New()
			if err := bm.UnmarshalBinary(b); err != nil {
				return nil, false
			}
			decoded[v] = bm
		}
		idx[d.field] = decoded
	}
	return idx, true
}
