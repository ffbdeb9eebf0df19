package database

// ContentEntry is a row of the content cache. Nil fields have not been
// produced yet for that content.
type ContentEntry struct {
	ContentHash string
	DocType     *string
	Summary     *string // JSON-encoded summary
	CreatedAt   *string
	UpdatedAt   *string
}

// QueryEntry is a row of the query cache: a full snapshot of one run.
type QueryEntry struct {
	QueryHash   string
	Query       string
	RunID       *string
	Format      string
	Docs        string // JSON-encoded document list
	FinalOutput string
	CreatedAt   *string
}

// Stats contains aggregate cache statistics.
type Stats struct {
	CachedQueries       int
	CachedDocuments     int
	ClassifiedDocuments int
	SummarizedDocuments int
}
