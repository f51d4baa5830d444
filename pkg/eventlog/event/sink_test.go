package event_test

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
	"github.com/stretchr/testify/assert"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps errors in order", func(t *testing.T) {
		sink := event.NewMemorySink(10)
		sink.Report(ctx, errors.New("one"))
		sink.Report(ctx, nil)
		sink.Report(ctx, errors.New("two"))

		errs := sink.Errors()
		assert.Len(t, errs, 2)
		assert.EqualError(t, errs[0], "one")
		assert.EqualError(t, errs[1], "two")
	})

	t.Run("drops oldest when full", func(t *testing.T) {
		sink := event.NewMemorySink(2)
		for _, msg := range []string{"a", "b", "c"} {
			sink.Report(ctx, errors.New(msg))
		}
		assert.Equal(t, 2, sink.Len())
		assert.Equal(t, int64(1), sink.Dropped())
		assert.EqualError(t, sink.Errors()[0], "b")
	})

	t.Run("reset", func(t *testing.T) {
		sink := event.NewMemorySink(0)
		sink.Report(ctx, errors.New("a"))
		sink.Reset()
		assert.Zero(t, sink.Len())
	})
}

func TestTee(t *testing.T) {
	a := event.NewMemorySink(5)
	b := event.NewMemorySink(5)
	var calls int
	sink := event.Tee(a, nil, b, event.SinkFunc(func(context.Context, error) { calls++ }))

	sink.Report(context.Background(), errors.New("x"))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, calls)
}
