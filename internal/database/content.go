package database

import (
	"database/sql"
)

// GetContentEntry returns the cached row for a content hash, or nil.
func (db *DB) GetContentEntry(contentHash string) (*ContentEntry, error) {
	row := db.conn.QueryRow(
		`SELECT content_hash, doc_type, summary, created_at, updated_at
		FROM content_cache WHERE content_hash = ?`, contentHash,
	)

	var e ContentEntry
	if err := row.Scan(&e.ContentHash, &e.DocType, &e.Summary, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// UpsertContentEntry merges the given fields into the row for contentHash.
// A nil field keeps whatever value the row already holds.
func (db *DB) UpsertContentEntry(contentHash string, docType, summary *string) error {
	_, err := db.conn.Exec(
		`INSERT INTO content_cache (content_hash, doc_type, summary)
		VALUES (?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			doc_type = COALESCE(excluded.doc_type, content_cache.doc_type),
			summary = COALESCE(excluded.summary, content_cache.summary),
			updated_at = datetime('now')`,
		contentHash, docType, summary,
	)
	return err
}

// ClearContentCache deletes every content cache row and returns the count.
func (db *DB) ClearContentCache() (int64, error) {
	result, err := db.conn.Exec("DELETE FROM content_cache")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
