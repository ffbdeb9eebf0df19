package database

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func TestContentEntryMiss(t *testing.T) {
	db := openTestDB(t)
	entry, err := db.GetContentEntry("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Error("expected nil entry for unknown hash")
	}
}

func TestUpsertContentEntryMerges(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertContentEntry("h1", ptr("clinical trial"), nil); err != nil {
		t.Fatalf("type upsert: %v", err)
	}
	if err := db.UpsertContentEntry("h1", nil, ptr(`{"type":"clinical trial"}`)); err != nil {
		t.Fatalf("summary upsert: %v", err)
	}

	entry, err := db.GetContentEntry("h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.DocType == nil || *entry.DocType != "clinical trial" {
		t.Errorf("expected type to survive summary write, got %v", entry.DocType)
	}
	if entry.Summary == nil || !strings.Contains(*entry.Summary, "clinical trial") {
		t.Errorf("expected summary to be stored, got %v", entry.Summary)
	}

	// Overwriting a single field replaces only that field.
	if err := db.UpsertContentEntry("h1", ptr("review"), nil); err != nil {
		t.Fatalf("second type upsert: %v", err)
	}
	entry, _ = db.GetContentEntry("h1")
	if *entry.DocType != "review" {
		t.Errorf("expected type 'review', got %q", *entry.DocType)
	}
	if entry.Summary == nil {
		t.Error("expected summary to survive type overwrite")
	}
}

func TestQueryEntryLifecycle(t *testing.T) {
	db := openTestDB(t)

	e := QueryEntry{
		QueryHash:   "q1",
		Query:       "diabetes treatment options",
		RunID:       ptr("run-1"),
		Format:      "markdown",
		Docs:        "[]",
		FinalOutput: "# Query: diabetes treatment options",
	}
	if err := db.PutQueryEntry(e); err != nil {
		t.Fatalf("PutQueryEntry: %v", err)
	}

	got, err := db.GetQueryEntry("q1")
	if err != nil {
		t.Fatalf("GetQueryEntry: %v", err)
	}
	if got == nil || got.FinalOutput != e.FinalOutput || got.Query != e.Query {
		t.Fatalf("unexpected entry: %+v", got)
	}

	entries, err := db.ListQueryEntries()
	if err != nil {
		t.Fatalf("ListQueryEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}

	deleted, err := db.DeleteQueryEntry("q1")
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got %v %v", deleted, err)
	}
	deleted, _ = db.DeleteQueryEntry("q1")
	if deleted {
		t.Error("expected second delete to report nothing removed")
	}
}

func TestClearCaches(t *testing.T) {
	db := openTestDB(t)
	db.UpsertContentEntry("a", ptr("review"), nil)
	db.UpsertContentEntry("b", nil, ptr("{}"))
	db.PutQueryEntry(QueryEntry{QueryHash: "q", Query: "q", Format: "json", Docs: "[]", FinalOutput: "{}"})

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.CachedDocuments != 2 || stats.ClassifiedDocuments != 1 || stats.SummarizedDocuments != 1 {
		t.Errorf("unexpected content stats: %+v", stats)
	}
	if stats.CachedQueries != 1 {
		t.Errorf("expected 1 cached query, got %d", stats.CachedQueries)
	}

	n, err := db.ClearContentCache()
	if err != nil || n != 2 {
		t.Errorf("expected 2 content rows cleared, got %d (%v)", n, err)
	}
	n, err = db.ClearQueryCache()
	if err != nil || n != 1 {
		t.Errorf("expected 1 query row cleared, got %d (%v)", n, err)
	}
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "medbrief.db")
	garbage := bytes.Repeat([]byte("this is not a sqlite database "), 200)
	if err := os.WriteFile(dbPath, garbage, 0o644); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}

	db, err := Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("expected corrupt store to be replaced, got %v", err)
	}
	defer db.Close()

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.CachedQueries != 0 || stats.CachedDocuments != 0 {
		t.Errorf("expected empty store, got %+v", stats)
	}

	matches, _ := filepath.Glob(dbPath + ".corrupt-*")
	if len(matches) != 1 {
		t.Errorf("expected corrupt file to be moved aside, found %v", matches)
	}
}

func TestOpenKeepsFileOnNonCorruptionError(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "medbrief.db")
	// A directory in place of the file cannot be opened, but is not corrupt.
	if err := os.Mkdir(dbPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if db, err := Open(dbPath, zap.NewNop()); err == nil {
		db.Close()
		t.Fatal("expected open to fail")
	}

	matches, _ := filepath.Glob(dbPath + ".corrupt-*")
	if len(matches) != 0 {
		t.Errorf("expected nothing moved aside, found %v", matches)
	}
	if info, err := os.Stat(dbPath); err != nil || !info.IsDir() {
		t.Errorf("expected original path untouched, got %v %v", info, err)
	}
}

func TestIsCorrupt(t *testing.T) {
	if isCorrupt(errors.New("database is locked")) {
		t.Error("plain errors are not corruption")
	}
	if isCorrupt(nil) {
		t.Error("nil is not corruption")
	}
}

func TestOpenEmptyFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	if err := os.WriteFile(dbPath, nil, 0o644); err != nil {
		t.Fatalf("writing empty file: %v", err)
	}

	db, err := Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("expected empty file to open, got %v", err)
	}
	defer db.Close()

	if _, err := db.GetStats(); err != nil {
		t.Errorf("GetStats: %v", err)
	}
}
