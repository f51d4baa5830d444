package projection

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// Syncer is anything that can catch up with the log. *Store[T] implements
// it for every T.
type Syncer interface {
	Name() string
	Sync(ctx context.Context) (int, error)
}

// DefaultGroupConcurrency bounds parallel syncs in a Group.
const DefaultGroupConcurrency = 4

// Group syncs several projection stores. Different projections sync in
// parallel; each store still runs one sync at a time.
type Group struct {
	mu          sync.RWMutex
	members     []Syncer
	concurrency int
}

// NewGroup creates a group running at most concurrency syncs at once.
// Non-positive values use DefaultGroupConcurrency.
func NewGroup(concurrency int, members ...Syncer) *Group {
	if concurrency <= 0 {
		concurrency = DefaultGroupConcurrency
	}
	return &Group{members: members, concurrency: concurrency}
}

// Add registers another store.
func (g *Group) Add(s Syncer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, s)
}

// Len returns the number of members.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// SyncAll syncs every member and returns the events applied per member
// name. Failures don't stop the other members; they are joined into the
// returned error.
func (g *Group) SyncAll(ctx context.Context) (map[string]int, error) {
	g.mu.RLock()
	members := append([]Syncer(nil), g.members...)
	g.mu.RUnlock()

	var (
		mu      sync.Mutex
		applied = make(map[string]int, len(members))
	)
	p := pool.New().WithMaxGoroutines(g.concurrency).WithContext(ctx)
	for _, m := range members {
		p.Go(func(ctx context.Context) error {
			n, err := m.Sync(ctx)
			mu.Lock()
			applied[m.Name()] += n
			mu.Unlock()
			return err
		})
	}
	return applied, p.Wait()
}

// Start starts the background loops of every member that has them.
func (g *Group) Start(ctx context.Context) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, m := range g.members {
		if s, ok := m.(interface{ Start(context.Context) }); ok {
			s.Start(ctx)
		}
	}
}

// Close closes every member that can be closed and returns the first error.
func (g *Group) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var first error
	for _, m := range g.members {
		if c, ok := m.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
