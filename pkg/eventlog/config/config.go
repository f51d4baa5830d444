package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	"github.com/randalmurphal/eventlog/pkg/eventlog/projection"
	"github.com/randalmurphal/eventlog/pkg/eventlog/segment"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Config is the full event log configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" json:"storage" envPrefix:"STORAGE_"`
	Log        LogConfig        `yaml:"log" json:"log" envPrefix:"LOG_"`
	Projection ProjectionConfig `yaml:"projection" json:"projection" envPrefix:"PROJECTION_"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	Path   string `yaml:"path" json:"path" env:"PATH"`
}

// LogConfig controls segment layout.
type LogConfig struct {
	Prefix         string `yaml:"prefix" json:"prefix" env:"PREFIX"`
	TargetWrites   int    `yaml:"target_writes" json:"target_writes" env:"TARGET_WRITES"`
	MaxAppendBytes int    `yaml:"max_append_bytes" json:"max_append_bytes" env:"MAX_APPEND_BYTES"`
}

// ProjectionConfig controls projection sync and snapshots.
type ProjectionConfig struct {
	SyncInterval     Duration `yaml:"sync_interval" json:"sync_interval" env:"SYNC_INTERVAL"`
	SnapshotInterval Duration `yaml:"snapshot_interval" json:"snapshot_interval" env:"SNAPSHOT_INTERVAL"`
	SyncBeforeRead   bool     `yaml:"sync_before_read" json:"sync_before_read" env:"SYNC_BEFORE_READ"`
	SnapshotPrefix   string   `yaml:"snapshot_prefix" json:"snapshot_prefix" env:"SNAPSHOT_PREFIX"`
}

// Default returns the configuration used for unset values.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: DriverMemory},
		Log: LogConfig{
			Prefix:         "log/",
			TargetWrites:   segment.DefaultTargetWrites,
			MaxAppendBytes: blob.DefaultLimits.MaxAppendBytes,
		},
		Projection: ProjectionConfig{
			SnapshotInterval: Duration(time.Minute),
			SnapshotPrefix:   projection.DefaultSnapshotPrefix,
		},
	}
}

// Validate checks the configuration for values no component accepts.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverBolt:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, bolt", c.Storage.Driver))
	}
	if c.Log.TargetWrites <= 0 {
		errs = append(errs, fmt.Errorf("log.target_writes must be positive, got %d", c.Log.TargetWrites))
	}
	if c.Log.MaxAppendBytes <= 0 {
		errs = append(errs, fmt.Errorf("log.max_append_bytes must be positive, got %d", c.Log.MaxAppendBytes))
	}
	if c.Projection.SyncInterval < 0 {
		errs = append(errs, errors.New("projection.sync_interval must not be negative"))
	}
	if c.Projection.SnapshotInterval < 0 {
		errs = append(errs, errors.New("projection.snapshot_interval must not be negative"))
	}
	return errors.Join(errs...)
}

// OpenStore opens the configured blob backend. The caller closes it.
func (c Config) OpenStore() (blob.Store, error) {
	opts := []blob.Option{blob.WithLimits(blob.Limits{MaxAppendBytes: c.Log.MaxAppendBytes})}
	switch c.Storage.Driver {
	case DriverMemory, "":
		return blob.NewMemoryStore(opts...), nil
	case DriverSQLite:
		store, err := blob.NewSQLiteStore(c.Storage.Path, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverBolt:
		store, err := blob.NewBoltStore(c.Storage.Path, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
}

// SegmentOptions returns the segment store options for this configuration.
func (c Config) SegmentOptions() []segment.Option {
	return []segment.Option{
		segment.WithPrefix(c.Log.Prefix),
		segment.WithTargetWrites(c.Log.TargetWrites),
	}
}

// ProjectionOptions returns the projection options for this configuration.
// Snapshots are enabled when snapshots is non-nil.
func (c Config) ProjectionOptions(snapshots blob.Store) []projection.Option {
	opts := []projection.Option{
		projection.WithSyncBeforeRead(c.Projection.SyncBeforeRead),
		projection.WithSyncInterval(c.Projection.SyncInterval.Std()),
	}
	if snapshots != nil {
		opts = append(opts,
			projection.WithSnapshots(snapshots, c.Projection.SnapshotInterval.Std()),
			projection.WithSnapshotPrefix(c.Projection.SnapshotPrefix),
		)
	}
	return opts
}
