package projection_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventlog/pkg/eventlog"
	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	elerrors "github.com/randalmurphal/eventlog/pkg/eventlog/errors"
	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
	"github.com/randalmurphal/eventlog/pkg/eventlog/projection"
	"github.com/randalmurphal/eventlog/pkg/eventlog/segment"
)

type cakeBaked struct{}

type cakeIced struct {
	Color string
}

type cakeCut struct {
	Slices int
}

type cakeBinned struct {
	Reason string
}

type cake struct {
	ID               string
	Baked            bool
	Color            string
	Slices           int
	AnyEvents        int
	UnexpectedEvents int
}

func cakeDefinition() *projection.Definition[cake] {
	def := projection.Define[cake]("cakes", 1).
		Create(func(id string) *cake { return &cake{ID: id} }).
		Unexpected(func(c *cake, _ event.Event) error {
			c.UnexpectedEvents++
			return nil
		}).
		Any(func(c *cake, _ event.Event) error {
			c.AnyEvents++
			return nil
		}).
		Index("Color", func(c *cake) any {
			if c.Color == "" {
				return nil
			}
			return c.Color
		}).
		Index("Slices", func(c *cake) any { return c.Slices })

	projection.On(def, "CakeBaked", func(c *cake, _ cakeBaked, _ event.Event) error {
		c.Baked = true
		return nil
	})
	projection.On(def, "CakeIced", func(c *cake, p cakeIced, _ event.Event) error {
		c.Color = p.Color
		return nil
	})
	projection.On(def, "CakeCut", func(c *cake, p cakeCut, _ event.Event) error {
		c.Slices += p.Slices
		return nil
	})
	return def
}

func newRegistry() *event.Registry {
	reg := event.NewRegistry()
	event.MustRegisterType[cakeBaked](reg, "CakeBaked")
	event.MustRegisterType[cakeIced](reg, "CakeIced")
	event.MustRegisterType[cakeCut](reg, "CakeCut")
	event.MustRegisterType[cakeBinned](reg, "CakeBinned")
	return reg
}

var testTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func ev(id string, payload any) event.Event {
	return event.New(id, payload).WithTime(testTime)
}

type fixture struct {
	blobs    *blob.MemoryStore
	segments *segment.Store
	log      *eventlog.Log
}

func newFixture(t *testing.T, segOpts ...segment.Option) *fixture {
	t.Helper()
	blobs := blob.NewMemoryStore()
	segOpts = append([]segment.Option{
		segment.WithPrefix("log/"),
		segment.WithReadRetry(elerrors.RetrySchedule{Delays: []time.Duration{0, time.Millisecond, 0}}),
	}, segOpts...)
	segments := segment.New(blobs, segOpts...)
	return &fixture{
		blobs:    blobs,
		segments: segments,
		log:      eventlog.New(segments, event.NewCodec(newRegistry())),
	}
}

func (f *fixture) write(t *testing.T, events ...event.Event) {
	t.Helper()
	require.NoError(t, f.log.Write(context.Background(), events))
}

func (f *fixture) cakes(t *testing.T, opts ...projection.Option) *projection.Store[cake] {
	t.Helper()
	s, err := projection.New(context.Background(), f.log, cakeDefinition(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// countingSource counts segment reads.
type countingSource struct {
	eventlog.Source
	reads atomic.Int32
}

func (c *countingSource) ReadEvents(ctx context.Context, seg uint64, from, to int64) (eventlog.ReadResult, error) {
	c.reads.Add(1)
	return c.Source.ReadEvents(ctx, seg, from, to)
}

// gatedSource blocks reads of one segment until release is closed or the
// read's ctx ends. entered is closed on the first such read.
type gatedSource struct {
	eventlog.Source
	segment uint64
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedSource(src eventlog.Source, seg uint64) *gatedSource {
	return &gatedSource{
		Source:  src,
		segment: seg,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedSource) ReadEvents(ctx context.Context, seg uint64, from, to int64) (eventlog.ReadResult, error) {
	if seg == g.segment {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return eventlog.ReadResult{}, ctx.Err()
		}
	}
	return g.Source.ReadEvents(ctx, seg, from, to)
}
