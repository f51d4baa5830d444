// Package projection derives typed read models from the event log.
//
// A projection keeps one value of type T per aggregate id. It is built by
// replaying events through handlers declared on a Definition:
//
//	type Cake struct {
//		Color  string
//		Slices int
//	}
//
//	def := projection.Define[Cake]("cakes", 1).
//		Index("Color", func(c *Cake) any { return c.Color })
//	projection.On(def, "CAKEICED", func(c *Cake, p CakeIced, _ event.Event) error {
//		c.Color = p.Color
//		return nil
//	})
//
//	cakes, err := projection.New(ctx, log, def, projection.WithSyncBeforeRead(true))
//	blue, err := cakes.Query(ctx, "Color", "BLUE")
//
// For each event, Sync creates the aggregate's value if it doesn't exist,
// runs the handler registered for the event type (or the Unexpected
// handler when there is none) and then the Any handler. A handler that
// returns an error or panics is reported and skipped; the sweep continues
// with the next event.
//
// Reads see state as of the last segment Sync applied. Enable
// WithSyncBeforeRead to catch up before every read, or WithSyncInterval to
// catch up in the background.
//
// # Snapshots
//
// WithSnapshots persists the whole projection (values, indexes and the
// per-segment cursor) as zstd-compressed JSON. A snapshot is loaded once in
// New so a restarted process only replays events appended after it was
// taken. A missing or unreadable snapshot costs a full replay, never an
// error. Bump the Definition version when T changes shape to invalidate
// old snapshots.
package projection
