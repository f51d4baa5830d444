package blob

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore keeps blobs in a single SQLite table.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	limits Limits
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite blob store.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := applyOptions(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			name TEXT NOT NULL PRIMARY KEY,
			data BLOB NOT NULL,
			blocks INTEGER NOT NULL,
			modified TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db, limits: o.limits}, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateIfMissing implements Store.
func (s *SQLiteStore) CreateIfMissing(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (name, data, blocks, modified)
		VALUES (?, X'', 0, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, now())
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var blocks int
	err = tx.QueryRowContext(ctx, `SELECT blocks FROM blobs WHERE name = ?`, name).Scan(&blocks)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read blob blocks: %w", err)
	}
	if err := checkAppend(s.limits, data, blocks); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE blobs
		SET data = CAST(data || ? AS BLOB), blocks = blocks + 1, modified = ?
		WHERE name = ?
	`, data, now(), name); err != nil {
		return fmt.Errorf("append blob: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// OpenReadAt implements Store.
func (s *SQLiteStore) OpenReadAt(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

// Properties implements Store.
func (s *SQLiteStore) Properties(ctx context.Context, name string) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Info{}, ErrStoreClosed
	}

	info, err := scanInfo(s.db.QueryRowContext(ctx, `
		SELECT name, LENGTH(CAST(data AS BLOB)), blocks, modified
		FROM blobs WHERE name = ?
	`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("blob properties: %w", err)
	}
	return info, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, LENGTH(CAST(data AS BLOB)), blocks, modified
		FROM blobs
		WHERE substr(name, 1, ?) = ?
		ORDER BY name
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer rows.Close()

	infos := make([]Info, 0)
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blob info: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blobs: %w", err)
	}
	return infos, nil
}

// Upload implements Store.
func (s *SQLiteStore) Upload(ctx context.Context, name string, data []byte, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if data == nil {
		data = []byte{}
	}
	query := `
		INSERT INTO blobs (name, data, blocks, modified) VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data, blocks = 1, modified = excluded.modified
	`
	if !overwrite {
		query = `INSERT INTO blobs (name, data, blocks, modified) VALUES (?, ?, 1, ?)
			ON CONFLICT(name) DO NOTHING`
	}
	res, err := s.db.ExecContext(ctx, query, name, data, now())
	if err != nil {
		return fmt.Errorf("upload blob: %w", err)
	}
	if !overwrite {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrExists
		}
	}
	return nil
}

// Download implements Store.
func (s *SQLiteStore) Download(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("download blob: %w", err)
	}
	return data, nil
}

// Limits implements Store.
func (s *SQLiteStore) Limits() Limits {
	return s.limits
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfo(row rowScanner) (Info, error) {
	var (
		info     Info
		modified string
	)
	if err := row.Scan(&info.Name, &info.Length, &info.Blocks, &modified); err != nil {
		return Info{}, err
	}
	info.Modified, _ = time.Parse(time.RFC3339Nano, modified)
	return info, nil
}
