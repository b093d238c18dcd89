package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// index is the SQLite entry index. It exists so the store can enumerate
// entries, compute total size, and evict by key without walking the
// filesystem.
type index struct {
	db *sql.DB
}

// Entry is one indexed cache entry.
type Entry struct {
	Key        string
	Size       int64
	FileCount  int
	Duration   time.Duration
	CreatedAt  time.Time
}

func openIndex(dbPath string) (*index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		file_count INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_created_at ON entries(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &index{db: db}, nil
}

func (ix *index) close() error { return ix.db.Close() }

func (ix *index) put(ctx context.Context, e Entry) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO entries (key, size, file_count, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET size=excluded.size, file_count=excluded.file_count,
		   duration_ms=excluded.duration_ms, created_at=excluded.created_at`,
		e.Key, e.Size, e.FileCount, e.Duration.Milliseconds(), e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("index entry %s: %w", e.Key, err)
	}
	return nil
}

func (ix *index) get(ctx context.Context, key string) (Entry, bool, error) {
	row := ix.db.QueryRowContext(ctx,
		`SELECT key, size, file_count, duration_ms, created_at FROM entries WHERE key = ?`, key)
	var e Entry
	var durationMS, createdAt int64
	if err := row.Scan(&e.Key, &e.Size, &e.FileCount, &durationMS, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("query entry %s: %w", key, err)
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.CreatedAt = time.Unix(createdAt, 0)
	return e, true, nil
}

func (ix *index) delete(ctx context.Context, key string) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", key, err)
	}
	return nil
}

func (ix *index) list(ctx context.Context) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT key, size, file_count, duration_ms, created_at FROM entries ORDER BY created_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS, createdAt int64
		if err := rows.Scan(&e.Key, &e.Size, &e.FileCount, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// totals returns the entry count and cumulative size.
func (ix *index) totals(ctx context.Context) (count int64, size int64, err error) {
	row := ix.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM entries`)
	if err := row.Scan(&count, &size); err != nil {
		return 0, 0, fmt.Errorf("query totals: %w", err)
	}
	return count, size, nil
}

func (ix *index) clear(ctx context.Context) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}
