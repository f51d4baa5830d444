package projection_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
	"github.com/randalmurphal/eventlog/pkg/eventlog/projection"
	"github.com/randalmurphal/eventlog/pkg/eventlog/segment"
)

func TestSnapshotKey(t *testing.T) {
	key := projection.SnapshotKey[cake](1)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9_-]{11}@1$`), key)
	assert.Equal(t, key, projection.SnapshotKey[cake](1), "key is stable")
	assert.NotEqual(t, key, projection.SnapshotKey[cake](2))
	assert.NotEqual(t, key, projection.SnapshotKey[cakeIced](1))
}

func TestSnapshot_RestartSkipsReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	snapshots := blob.NewMemoryStore()
	f.write(t,
		ev("A", cakeIced{Color: "BLUE"}),
		ev("A", cakeCut{Slices: 4}),
		ev("B", cakeIced{Color: "GREEN"}),
	)

	first := f.cakes(t, projection.WithSnapshots(snapshots, 0))
	_, err := first.Sync(ctx)
	require.NoError(t, err)
	require.True(t, first.Dirty())
	require.NoError(t, first.SaveSnapshot(ctx))
	assert.False(t, first.Dirty())

	_, err = snapshots.Properties(ctx, first.SnapshotName())
	require.NoError(t, err)

	// Restart with a fresh in-memory map.
	src := &countingSource{Source: f.log}
	second, err := projection.New(ctx, src, cakeDefinition(), projection.WithSnapshots(snapshots, 0))
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Read(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "BLUE", got.Color)
	assert.Equal(t, 4, got.Slices)
	assert.Equal(t, first.Cursor(), second.Cursor())

	green, err := second.Query(ctx, "Color", "GREEN")
	require.NoError(t, err)
	require.Len(t, green, 1)
	assert.Equal(t, "B", green[0].ID)

	n, err := second.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, src.reads.Load(), "nothing past the snapshot cursor to replay")

	// Only events after the snapshot are replayed.
	f.write(t, ev("A", cakeCut{Slices: 1}))
	n, err = second.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = second.Read(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Slices)
}

func TestSnapshot_MissingIsNotAnError(t *testing.T) {
	f := newFixture(t)
	s := f.cakes(t, projection.WithSnapshots(blob.NewMemoryStore(), 0))
	assert.Zero(t, s.Len())
	assert.False(t, s.Dirty())
}

func TestSnapshot_CorruptFallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	snapshots := blob.NewMemoryStore()
	f.write(t, ev("A", cakeCut{Slices: 2}))

	probe := f.cakes(t)
	name := projection.DefaultSnapshotPrefix + projection.SnapshotKey[cake](1) + ".json.zst"
	assert.Equal(t, name, probe.SnapshotName())
	require.NoError(t, snapshots.Upload(ctx, name, []byte("definitely not zstd"), true))

	s := f.cakes(t, projection.WithSnapshots(snapshots, 0))
	assert.Zero(t, s.Len())

	n, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := s.Read(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Slices)
}

func TestSnapshot_VersionBumpIgnoresOldSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	snapshots := blob.NewMemoryStore()
	f.write(t, ev("A", cakeCut{Slices: 2}))

	v1 := f.cakes(t, projection.WithSnapshots(snapshots, 0))
	_, err := v1.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, v1.SaveSnapshot(ctx))

	v2, err := projection.New(ctx, f.log, projection.Define[cake]("cakes", 2), projection.WithSnapshots(snapshots, 0))
	require.NoError(t, err)
	defer v2.Close()
	assert.Zero(t, v2.Len())
	assert.NotEqual(t, v1.SnapshotName(), v2.SnapshotName())
}

func TestSnapshot_CloseSavesWhenDirty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	snapshots := blob.NewMemoryStore()
	f.write(t, ev("A", cakeBaked{}))

	s, err := projection.New(ctx, f.log, cakeDefinition(),
		projection.WithSnapshots(snapshots, 0),
		projection.WithSnapshotPrefix("snaps/"),
	)
	require.NoError(t, err)
	_, err = s.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	infos, err := snapshots.List(ctx, "snaps/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, s.SnapshotName(), infos[0].Name)
}

func TestSnapshot_CloseSkipsWhenClean(t *testing.T) {
	f := newFixture(t)
	snapshots := blob.NewMemoryStore()

	s, err := projection.New(context.Background(), f.log, cakeDefinition(), projection.WithSnapshots(snapshots, 0))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, 0, snapshots.Len())
}

func TestSnapshot_BackgroundSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	snapshots := blob.NewMemoryStore()
	f.write(t, ev("A", cakeBaked{}))

	s := f.cakes(t,
		projection.WithSnapshots(snapshots, 5*time.Millisecond),
		projection.WithSyncInterval(5*time.Millisecond),
	)
	s.Start(ctx)

	require.Eventually(t, func() bool {
		_, err := snapshots.Properties(ctx, s.SnapshotName())
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSnapshot_SaveWithoutStore(t *testing.T) {
	s := newFixture(t).cakes(t)
	assert.Error(t, s.SaveSnapshot(context.Background()))
}

func TestSnapshot_IndexAddedWithoutVersionBumpIsRebuilt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	snapshots := blob.NewMemoryStore()
	f.write(t, ev("A", cakeIced{Color: "BLUE"}))

	plain := projection.Define[cake]("cakes", 1)
	projection.On(plain, "CakeIced", func(c *cake, p cakeIced, _ event.Event) error {
		c.Color = p.Color
		return nil
	})
	first, err := projection.New(ctx, f.log, plain, projection.WithSnapshots(snapshots, 0))
	require.NoError(t, err)
	_, err = first.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, first.SaveSnapshot(ctx))

	second := f.cakes(t, projection.WithSnapshots(snapshots, 0))
	got, err := second.Query(ctx, "Color", "BLUE")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSnapshot_SavedMidSyncKeepsIndexConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, segment.WithTargetWrites(1))
	snapshots := blob.NewMemoryStore()
	f.write(t, ev("A", cakeIced{Color: "BLUE"}))
	require.NoError(t, f.segments.Write(ctx, 1, []byte("not an event\n")))

	src := newGatedSource(f.log, 1)
	first, err := projection.New(ctx, src, cakeDefinition(), projection.WithSnapshots(snapshots, 0))
	require.NoError(t, err)
	defer first.Close()

	done := make(chan error, 1)
	go func() {
		_, err := first.Sync(ctx)
		done <- err
	}()
	<-src.entered
	require.NoError(t, first.SaveSnapshot(ctx))
	close(src.release)
	require.NoError(t, <-done)

	second, err := projection.New(ctx, f.log, cakeDefinition(), projection.WithSnapshots(snapshots, 0))
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Sync(ctx)
	require.NoError(t, err)

	got, err := second.Read(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "BLUE", got.Color)
	blue, err := second.Query(ctx, "Color", "BLUE")
	require.NoError(t, err)
	require.Len(t, blue, 1)
	assert.Equal(t, "A", blue[0].ID)
}

func TestSnapshot_SyncDuringSaveStaysDirty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	snapshots := &slowUploads{Store: blob.NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	f.write(t, ev("A", cakeBaked{}))
	s := f.cakes(t, projection.WithSnapshots(snapshots, 0))
	_, err := s.Sync(ctx)
	require.NoError(t, err)

	saved := make(chan error, 1)
	go func() { saved <- s.SaveSnapshot(ctx) }()
	<-snapshots.entered

	f.write(t, ev("B", cakeBaked{}))
	_, err = s.Sync(ctx)
	require.NoError(t, err)
	close(snapshots.release)
	require.NoError(t, <-saved)

	assert.True(t, s.Dirty(), "events applied during the upload are not in the snapshot")
}

// slowUploads holds the first Upload until release is closed.
type slowUploads struct {
	blob.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowUploads) Upload(ctx context.Context, name string, data []byte, overwrite bool) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Upload(ctx, name, data, overwrite)
}
