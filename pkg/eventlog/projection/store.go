package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/randalmurphal/eventlog/pkg/eventlog"
	elerrors "github.com/randalmurphal/eventlog/pkg/eventlog/errors"
	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
	"github.com/randalmurphal/eventlog/pkg/eventlog/observability"
)

// closeTimeout bounds the final snapshot written by Close.
const closeTimeout = 30 * time.Second

// Store holds the projections of one Definition, kept up to date by
// replaying an event source. Safe for concurrent use.
type Store[T any] struct {
	def    *Definition[T]
	source eventlog.Source
	opts   options
	logger *slog.Logger

	// flight collapses concurrent Sync calls; syncMu serializes the rest.
	flight singleflight.Group
	syncMu sync.Mutex

	// mu guards everything below. Writers hold it only while applying
	// already-read events, never across I/O.
	mu       sync.RWMutex
	items    map[string]*T
	index    index
	interned *interner
	cursor   eventlog.Cursor
	dirty    atomic.Bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a projection store over source. When snapshots are
// configured, the latest snapshot for this Definition is loaded; a missing
// or unreadable snapshot is logged and the store starts empty.
//
// New does not sync. Call Sync, enable WithSyncBeforeRead or Start a
// background interval.
func New[T any](ctx context.Context, source eventlog.Source, def *Definition[T], opts ...Option) (*Store[T], error) {
	if source == nil {
		return nil, errors.New("projection: source is required")
	}
	if def == nil {
		return nil, errors.New("projection: definition is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store[T]{
		def:      def,
		source:   source,
		opts:     o,
		logger:   observability.EnrichLogger(o.logger, "projection", def.name),
		items:    make(map[string]*T),
		interned: newInterner(),
		cursor:   eventlog.Cursor{},
		done:     make(chan struct{}),
	}
	s.index = buildIndex(def.indexes, s.items, s.interned)

	if o.snapshots != nil {
		if err := s.loadSnapshot(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			observability.LogSnapshotError(s.logger, def.name, "load", err)
		}
	}
	return s, nil
}

// Name returns the projection name.
func (s *Store[T]) Name() string {
	return s.def.name
}

// Sync applies every event appended since the last sync and returns how
// many were applied. Concurrent callers share one pass; the pass does not
// depend on any caller's ctx, and each caller stops waiting when its own
// ctx is done. Close aborts a pass still in flight, and a Sync after Close
// fails with context.Canceled.
//
// An aborted pass keeps everything applied from fully read segments.
func (s *Store[T]) Sync(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ch := s.flight.DoChan("sync", func() (any, error) {
		s.syncMu.Lock()
		defer s.syncMu.Unlock()
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			select {
			case <-s.done:
				cancel()
			case <-fctx.Done():
			}
		}()
		return s.sync(fctx)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		n, _ := res.Val.(int)
		return n, res.Err
	}
}

func (s *Store[T]) sync(ctx context.Context) (applied int, err error) {
	ctx, span := s.opts.spans.StartSyncSpan(ctx, s.def.name)
	elapsed := observability.TimedOperation()
	start := time.Now()
	defer func() {
		s.opts.spans.EndSpanWithError(span, err)
		s.opts.metrics.RecordSync(ctx, s.def.name, applied, time.Since(start), err)
		if err != nil {
			observability.LogSyncError(s.logger, s.def.name, err)
			return
		}
		observability.LogSyncComplete(s.logger, s.def.name, applied, elapsed())
	}()

	slices, err := s.source.ListSlices(ctx)
	if err != nil {
		return 0, err
	}

	for _, sl := range slices {
		s.mu.RLock()
		from := s.cursor[sl.Segment]
		s.mu.RUnlock()
		if sl.EndOffset <= from {
			continue
		}

		res, err := s.source.ReadEvents(ctx, sl.Segment, from, sl.EndOffset)
		if err != nil {
			return applied, fmt.Errorf("sync %s: %w", s.def.name, err)
		}
		s.commit(ctx, sl.Segment, res)
		applied += len(res.Events)
	}
	return applied, nil
}

// commit applies one segment's events and advances its cursor. Items,
// index and cursor change together, so readers and snapshots never see
// applied events without their index entries.
func (s *Store[T]) commit(ctx context.Context, seg uint64, res eventlog.ReadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range res.Events {
		s.apply(ctx, e)
	}
	s.cursor[seg] = res.EndOffset
	if len(res.Events) > 0 {
		s.index = buildIndex(s.def.indexes, s.items, s.interned)
		s.dirty.Store(true)
	}
}

// apply runs the handlers for one event. Must be called with mu held.
func (s *Store[T]) apply(ctx context.Context, e event.Event) {
	state, ok := s.items[e.AggregateID]
	if !ok {
		err := s.invoke(ctx, e, func() error {
			state = s.def.newState(e.AggregateID)
			return nil
		})
		if err != nil {
			return
		}
		s.items[e.AggregateID] = state
		s.interned.intern(e.AggregateID)
	}

	if h, ok := s.def.handlers[e.Type]; ok {
		_ = s.invoke(ctx, e, func() error { return h(state, e) })
	} else if s.def.unexpected != nil {
		_ = s.invoke(ctx, e, func() error { return s.def.unexpected(state, e) })
	}
	if s.def.any != nil {
		_ = s.invoke(ctx, e, func() error { return s.def.any(state, e) })
	}
}

// invoke runs fn, converting a returned error or a panic into a reported
// *errors.HandlerError.
func (s *Store[T]) invoke(ctx context.Context, e event.Event, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		herr := &elerrors.HandlerError{
			Projection:  s.def.name,
			AggregateID: e.AggregateID,
			EventType:   e.Type,
			Err:         err,
		}
		observability.LogHandlerError(s.logger, s.def.name, e.AggregateID, e.Type, err)
		s.opts.metrics.RecordHandlerError(ctx, s.def.name, e.Type)
		if s.opts.sink != nil {
			s.opts.sink.Report(ctx, herr)
		}
		err = herr
	}()
	return fn()
}

func (s *Store[T]) maybeSync(ctx context.Context) error {
	if !s.opts.syncBeforeRead {
		return nil
	}
	_, err := s.Sync(ctx)
	return err
}

// Read returns a copy of the projection for id.
// Returns errors.ErrNotFound if no event for id has been applied.
//
// The copy is shallow: maps and slices inside T are shared with the store
// and must not be modified.
func (s *Store[T]) Read(ctx context.Context, id string) (T, error) {
	var zero T
	if err := s.maybeSync(ctx); err != nil {
		return zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[id]
	if !ok {
		return zero, fmt.Errorf("projection %s: aggregate %q: %w", s.def.name, id, elerrors.ErrNotFound)
	}
	return *state, nil
}

// List returns copies of every projection, ordered by aggregate id.
func (s *Store[T]) List(ctx context.Context) ([]T, error) {
	if err := s.maybeSync(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := sortedKeys(s.items)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.items[id])
	}
	return out, nil
}

// IDs returns every aggregate id, sorted.
func (s *Store[T]) IDs(ctx context.Context) ([]string, error) {
	if err := s.maybeSync(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.items), nil
}

// Len returns the number of aggregates held.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Query returns the projections whose indexed field equals value, ordered
// by aggregate id. Values are compared by their index rendering.
// Returns *errors.MissingIndexError if field has no declared index.
func (s *Store[T]) Query(ctx context.Context, field string, value any) ([]T, error) {
	return s.QueryAll(ctx, map[string]any{field: value})
}

// QueryAll returns the projections matching every field/value pair.
// An empty query matches everything.
func (s *Store[T]) QueryAll(ctx context.Context, query map[string]any) ([]T, error) {
	fields := make([]string, 0, len(query))
	values := make(map[string]string, len(query))
	for f, v := range query {
		if !s.def.hasIndex(f) {
			return nil, &elerrors.MissingIndexError{Projection: s.def.name, Field: f}
		}
		key, ok := renderValue(v)
		if !ok {
			return []T{}, nil
		}
		fields = append(fields, f)
		values[f] = key
	}
	sort.Strings(fields)

	if len(fields) == 0 {
		return s.List(ctx)
	}
	if err := s.maybeSync(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := s.index.lookup(fields, values)
	if matches == nil {
		return []T{}, nil
	}
	ids := make([]string, 0, matches.GetCardinality())
	it := matches.Iterator()
	for it.HasNext() {
		if name, ok := s.interned.name(it.Next()); ok {
			if _, live := s.items[name]; live {
				ids = append(ids, name)
			}
		}
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.items[id])
	}
	return out, nil
}

// Cursor returns a copy of the per-segment replay position.
func (s *Store[T]) Cursor() eventlog.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor.Clone()
}

// Dirty reports whether state changed since the last snapshot.
func (s *Store[T]) Dirty() bool {
	return s.dirty.Load()
}

// Start launches the background sync and snapshot loops configured with
// WithSyncInterval and WithSnapshots. Each loop waits for its work to
// finish before scheduling the next run. The loops stop when ctx is done
// or Close is called. Calling Start more than once has no effect.
func (s *Store[T]) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		if s.opts.syncInterval > 0 {
			s.wg.Add(1)
			go s.loop(ctx, s.opts.syncInterval, func(ctx context.Context) {
				// Failures are logged and counted by sync.
				_, _ = s.Sync(ctx)
			})
		}
		if s.opts.snapshots != nil && s.opts.snapshotInterval > 0 {
			s.wg.Add(1)
			go s.loop(ctx, s.opts.snapshotInterval, func(ctx context.Context) {
				if err := s.saveIfDirty(ctx); err != nil {
					observability.LogSnapshotError(s.logger, s.def.name, "save", err)
				}
			})
		}
	})
}

func (s *Store[T]) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-timer.C:
		}
		run(ctx)
		timer.Reset(interval)
	}
}

// Close stops background loops and, when snapshots are configured and
// state changed, saves a final snapshot. Close is idempotent.
func (s *Store[T]) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		if s.opts.snapshots == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err = s.saveIfDirty(ctx)
	})
	return err
}

func sortedKeys[T any](m map[string]*T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
