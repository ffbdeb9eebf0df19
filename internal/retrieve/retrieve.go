// Package retrieve turns a question into the documents a run works on.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/document"
	"github.com/TobiSchelling/medbrief/internal/fetch"
	"github.com/TobiSchelling/medbrief/internal/search"
)

// ErrNoDocuments is returned when the search produced no usable results.
var ErrNoDocuments = errors.New("no documents found")

// DefaultMaxResults is the number of documents requested per query.
const DefaultMaxResults = 3

// Retriever runs the search and converts results into documents.
type Retriever struct {
	searcher   search.Provider
	fetcher    *fetch.ContentFetcher
	maxResults int
	minChars   int
	logger     *zap.Logger
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithFullText enables full-text enrichment of snippets shorter than minChars.
func WithFullText(f *fetch.ContentFetcher, minChars int) Option {
	return func(r *Retriever) {
		r.fetcher = f
		r.minChars = minChars
	}
}

// NewRetriever creates a retriever. maxResults <= 0 uses DefaultMaxResults.
func NewRetriever(searcher search.Provider, maxResults int, logger *zap.Logger, opts ...Option) *Retriever {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	r := &Retriever{searcher: searcher, maxResults: maxResults, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve searches for query and returns one document per result, in the
// order the search returned them. Content is kept whole.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]document.Document, error) {
	results, err := r.searcher.Search(ctx, query, r.maxResults)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	docs := make([]document.Document, 0, len(results))
	for _, res := range results {
		docs = append(docs, document.New(res.Title, res.URL, res.Content))
		if len(docs) >= r.maxResults {
			break
		}
	}

	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	if r.fetcher != nil {
		res := r.fetcher.Enrich(ctx, docs, r.minChars)
		r.logger.Debug("full-text enrichment",
			zap.Int("fetched", res.Fetched), zap.Int("failed", res.Failed))
	}

	r.logger.Info("retrieved documents",
		zap.String("provider", r.searcher.Name()),
		zap.Int("count", len(docs)),
		zap.String("query", strings.TrimSpace(query)))
	return docs, nil
}
