package cache

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/database"
	"github.com/TobiSchelling/medbrief/internal/document"
)

// Entry is the cached work for one piece of content. Either field may be
// missing when only one stage has run.
type Entry struct {
	Type    string
	Summary *document.Summary
}

// ContentCache stores classification and summarization results keyed by
// content hash.
type ContentCache struct {
	db     *database.DB
	logger *zap.Logger
}

// NewContentCache creates a content cache backed by db.
func NewContentCache(db *database.DB, logger *zap.Logger) *ContentCache {
	return &ContentCache{db: db, logger: logger}
}

// Get returns the entry for hash, or nil on a miss. A stored summary that no
// longer decodes is dropped from the entry so it gets regenerated.
func (c *ContentCache) Get(hash string) (*Entry, error) {
	row, err := c.db.GetContentEntry(hash)
	if err != nil {
		return nil, fmt.Errorf("reading content cache: %w", err)
	}
	if row == nil {
		return nil, nil
	}

	entry := &Entry{}
	if row.DocType != nil {
		entry.Type = *row.DocType
	}
	if row.Summary != nil && *row.Summary != "" {
		var s document.Summary
		if err := json.Unmarshal([]byte(*row.Summary), &s); err != nil {
			c.logger.Warn("discarding undecodable cached summary",
				zap.String("hash", hash), zap.Error(err))
		} else {
			entry.Summary = &s
		}
	}
	return entry, nil
}

// Put merges e into the entry for hash. An empty Type or nil Summary leaves
// the stored value untouched.
func (c *ContentCache) Put(hash string, e Entry) error {
	var docType, summary *string
	if e.Type != "" {
		docType = &e.Type
	}
	if e.Summary != nil {
		data, err := json.Marshal(e.Summary)
		if err != nil {
			return fmt.Errorf("encoding summary: %w", err)
		}
		s := string(data)
		summary = &s
	}
	if docType == nil && summary == nil {
		return nil
	}
	if err := c.db.UpsertContentEntry(hash, docType, summary); err != nil {
		return fmt.Errorf("writing content cache: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (c *ContentCache) Clear() (int64, error) {
	return c.db.ClearContentCache()
}
