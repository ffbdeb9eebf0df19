package database

import (
	"database/sql"
)

// PutQueryEntry inserts or replaces the snapshot for a query hash.
func (db *DB) PutQueryEntry(e QueryEntry) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO query_cache
		(query_hash, query, run_id, format, docs, final_output)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.QueryHash, e.Query, e.RunID, e.Format, e.Docs, e.FinalOutput,
	)
	return err
}

// GetQueryEntry returns the snapshot for a query hash, or nil.
func (db *DB) GetQueryEntry(queryHash string) (*QueryEntry, error) {
	row := db.conn.QueryRow(
		`SELECT query_hash, query, run_id, format, docs, final_output, created_at
		FROM query_cache WHERE query_hash = ?`, queryHash,
	)

	var e QueryEntry
	if err := row.Scan(&e.QueryHash, &e.Query, &e.RunID, &e.Format, &e.Docs,
		&e.FinalOutput, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// ListQueryEntries returns all snapshots, newest first.
func (db *DB) ListQueryEntries() ([]QueryEntry, error) {
	rows, err := db.conn.Query(
		`SELECT query_hash, query, run_id, format, docs, final_output, created_at
		FROM query_cache ORDER BY created_at DESC, query ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []QueryEntry
	for rows.Next() {
		var e QueryEntry
		if err := rows.Scan(&e.QueryHash, &e.Query, &e.RunID, &e.Format, &e.Docs,
			&e.FinalOutput, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteQueryEntry removes one snapshot. Returns false when nothing matched.
func (db *DB) DeleteQueryEntry(queryHash string) (bool, error) {
	result, err := db.conn.Exec("DELETE FROM query_cache WHERE query_hash = ?", queryHash)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearQueryCache deletes every snapshot and returns the count.
func (db *DB) ClearQueryCache() (int64, error) {
	result, err := db.conn.Exec("DELETE FROM query_cache")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
