/*
Package config loads event log settings from YAML or JSON files and the
environment.

# File Format

	storage:
	  driver: sqlite          # memory | sqlite | bolt
	  path: /var/lib/events.db
	log:
	  prefix: log/
	  target_writes: 40000
	  max_append_bytes: 4194304
	projection:
	  sync_interval: 5s       # or integer seconds
	  snapshot_interval: 1m
	  sync_before_read: false
	  snapshot_prefix: snapshots/

Missing keys keep their Default values.

# Environment

Every setting can be overridden with an EVENTLOG_ variable named after its
section and key, e.g. EVENTLOG_STORAGE_DRIVER or
EVENTLOG_PROJECTION_SYNC_INTERVAL.

# Usage

	cfg, err := config.Load("eventlog.yaml")
	store, err := cfg.OpenStore()
	segments := segment.New(store, cfg.SegmentOptions()...)
*/
package config
