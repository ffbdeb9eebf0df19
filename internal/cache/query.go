package cache

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/assemble"
	"github.com/TobiSchelling/medbrief/internal/database"
	"github.com/TobiSchelling/medbrief/internal/document"
)

// Snapshot is everything a finished run produced for one question.
type Snapshot struct {
	Hash        string
	Query       string
	RunID       string
	Docs        []document.Document
	FinalOutput assemble.Report
	CreatedAt   string
}

// QueryCache stores finished runs keyed by the normalized question. Entries
// never expire on their own.
type QueryCache struct {
	db     *database.DB
	logger *zap.Logger
}

// NewQueryCache creates a query cache backed by db.
func NewQueryCache(db *database.DB, logger *zap.Logger) *QueryCache {
	return &QueryCache{db: db, logger: logger}
}

// Get returns the snapshot for query, or nil on a miss.
func (c *QueryCache) Get(query string) (*Snapshot, error) {
	return c.GetByHash(HashQuery(query))
}

// GetByHash returns the snapshot stored under a query hash, or nil.
func (c *QueryCache) GetByHash(hash string) (*Snapshot, error) {
	row, err := c.db.GetQueryEntry(hash)
	if err != nil {
		return nil, fmt.Errorf("reading query cache: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	snap, err := c.decode(*row)
	if err != nil {
		c.logger.Warn("treating undecodable query cache row as a miss",
			zap.String("hash", hash), zap.Error(err))
		return nil, nil
	}
	return snap, nil
}

// Put stores snap under query, replacing any previous snapshot.
func (c *QueryCache) Put(query string, snap Snapshot) error {
	docs := snap.Docs
	if docs == nil {
		docs = []document.Document{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encoding documents: %w", err)
	}

	var runID *string
	if snap.RunID != "" {
		runID = &snap.RunID
	}
	entry := database.QueryEntry{
		QueryHash:   HashQuery(query),
		Query:       query,
		RunID:       runID,
		Format:      string(snap.FinalOutput.Format),
		Docs:        string(data),
		FinalOutput: snap.FinalOutput.Body,
	}
	if err := c.db.PutQueryEntry(entry); err != nil {
		return fmt.Errorf("writing query cache: %w", err)
	}
	return nil
}

// List returns all snapshots, newest first. Rows that fail to decode are skipped.
func (c *QueryCache) List() ([]Snapshot, error) {
	rows, err := c.db.ListQueryEntries()
	if err != nil {
		return nil, fmt.Errorf("listing query cache: %w", err)
	}
	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := c.decode(row)
		if err != nil {
			c.logger.Warn("skipping undecodable query cache row",
				zap.String("hash", row.QueryHash), zap.Error(err))
			continue
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

// Forget removes the snapshot for query. It reports whether one existed.
func (c *QueryCache) Forget(query string) (bool, error) {
	return c.db.DeleteQueryEntry(HashQuery(query))
}

// Clear removes every snapshot.
func (c *QueryCache) Clear() (int64, error) {
	return c.db.ClearQueryCache()
}

func (c *QueryCache) decode(row database.QueryEntry) (*Snapshot, error) {
	var docs []document.Document
	if err := json.Unmarshal([]byte(row.Docs), &docs); err != nil {
		return nil, fmt.Errorf("decoding documents: %w", err)
	}
	snap := &Snapshot{
		Hash:  row.QueryHash,
		Query: row.Query,
		Docs:  docs,
		FinalOutput: assemble.Report{
			Format: assemble.Format(row.Format),
			Body:   row.FinalOutput,
		},
	}
	if row.RunID != nil {
		snap.RunID = *row.RunID
	}
	if row.CreatedAt != nil {
		snap.CreatedAt = *row.CreatedAt
	}
	return snap, nil
}
