// Package db provides the embedded SQLite store that backs octosync workspaces.
//
// The store keeps two kinds of data:
//   - an append-only log of document updates per workspace (see Docs)
//   - chunked binary blobs, either scoped to a workspace or global (see Blobs)
//
// Architecture:
//   - Database file: opened with open-or-create read-write semantics (mode=rwc)
//   - WAL mode: concurrent readers during writes
//   - Schema: updates, blobs, blob_chunks tables
//
// The store is deliberately small; merge semantics live in the document engine
// and the wire protocol lives in syncproto.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a blob does not exist.
//
// Callers should test with errors.Is. It maps to os.ErrNotExist so generic
// file-handling code treats a missing blob like a missing file.
var ErrNotFound = os.ErrNotExist

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("database is closed")

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string

	docs  *Docs
	blobs *Blobs
}

// Open opens the database at path, creating it (and its parent directory)
// if it does not exist.
//
// The path may carry a "sqlite:" or "file:" prefix and a query string; both
// are stripped and the database is always opened with mode=rwc.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(".octosync/store.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext opens the database with context support.
func OpenContext(ctx context.Context, path string) (*DB, error) {
	path = normalizePath(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sql.Open is lazy; force the file to be opened (or created) now.
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}
	db.docs = &Docs{db: db}
	db.blobs = &Blobs{db: db, chunkSize: DefaultChunkSize}

	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// normalizePath strips the address forms accepted by Open down to a file path.
func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "sqlite:")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// dsn builds the connection string. Pragmas are set through the DSN so every
// pooled connection gets them, not just the first one.
func dsn(path string) string {
	q := url.Values{}
	q.Set("mode", "rwc")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?" + q.Encode()
}

// Path returns the file path of the database.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Docs returns the document-update sub-interface.
func (db *DB) Docs() *Docs {
	return db.docs
}

// Blobs returns the blob sub-interface.
func (db *DB) Blobs() *Blobs {
	return db.blobs
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// It is idempotent and is called by Open.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if db.conn == nil {
		return ErrClosed
	}

	schema := `
	-- Append-only document update log
	CREATE TABLE IF NOT EXISTS updates (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Blob metadata; workspace_id '' holds global blobs
	CREATE TABLE IF NOT EXISTS blobs (
		workspace_id TEXT NOT NULL,
		blob_id TEXT NOT NULL,
		size INTEGER NOT NULL,
		chunks INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (workspace_id, blob_id)
	);

	CREATE TABLE IF NOT EXISTS blob_chunks (
		workspace_id TEXT NOT NULL,
		blob_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (workspace_id, blob_id, idx),
		FOREIGN KEY (workspace_id, blob_id)
		    REFERENCES blobs(workspace_id, blob_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_updates_workspace ON updates(workspace_id, seq);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Stats summarises the contents of the database.
type Stats struct {
	Path       string `json:"path" yaml:"path"`
	Workspaces int    `json:"workspaces" yaml:"workspaces"`
	Updates    int    `json:"updates" yaml:"updates"`
	Blobs      int    `json:"blobs" yaml:"blobs"`
	BlobBytes  int64  `json:"blob_bytes" yaml:"blob_bytes"`
}

// Stats returns row counts for the database.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	if db.conn == nil {
		return nil, ErrClosed
	}

	stats := &Stats{Path: db.path}

	query := `SELECT COUNT(DISTINCT workspace_id), COUNT(*) FROM updates`
	if err := db.conn.QueryRowContext(ctx, query).Scan(&stats.Workspaces, &stats.Updates); err != nil {
		return nil, fmt.Errorf("failed to count updates: %w", err)
	}

	query = `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM blobs`
	if err := db.conn.QueryRowContext(ctx, query).Scan(&stats.Blobs, &stats.BlobBytes); err != nil {
		return nil, fmt.Errorf("failed to count blobs: %w", err)
	}

	return stats, nil
}
