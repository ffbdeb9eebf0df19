package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the SQLite database holding the content and query caches.
type DB struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger
}

// Open creates or opens a SQLite database at the given path.
//
// A file SQLite reports as corrupt or not a database is moved aside to <path>.corrupt-<unix> and a
// fresh database is created in its place, so a damaged cache never blocks
// startup.
func Open(dbPath string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := openConn(dbPath, logger)
	if err == nil {
		return &DB{conn: conn, path: dbPath, logger: logger}, nil
	}

	if _, statErr := os.Stat(dbPath); statErr != nil || !isCorrupt(err) {
		return nil, err
	}

	quarantined := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	logger.Warn("cache database unreadable, starting with an empty cache",
		zap.String("path", dbPath),
		zap.String("moved_to", quarantined),
		zap.Error(err))
	if renameErr := os.Rename(dbPath, quarantined); renameErr != nil {
		return nil, fmt.Errorf("moving corrupt database aside: %w", renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}

	conn, err = openConn(dbPath, logger)
	if err != nil {
		return nil, err
	}
	return &DB{conn: conn, path: dbPath, logger: logger}, nil
}

// isCorrupt reports whether err means the file itself is damaged, as opposed
// to locked or unreadable.
func isCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

func openConn(dbPath string, logger *zap.Logger) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes concurrent cache writes from the stage workers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return conn, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// GetStats returns row counts for both caches.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM query_cache").Scan(&s.CachedQueries); err != nil {
		return nil, fmt.Errorf("counting cached queries: %w", err)
	}
	if err := db.conn.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN doc_type IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN summary IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM content_cache`,
	).Scan(&s.CachedDocuments, &s.ClassifiedDocuments, &s.SummarizedDocuments); err != nil {
		return nil, fmt.Errorf("counting cached documents: %w", err)
	}
	return &s, nil
}
