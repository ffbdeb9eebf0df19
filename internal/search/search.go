// Package search finds web documents for a question.
package search

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Result is a single search hit.
type Result struct {
	Title   string
	URL     string
	Content string
}

// Provider runs a web search.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Options selects and configures a provider.
type Options struct {
	Provider      string // tavily, newsapi or feed
	TavilyKeyEnv  string
	SearchDepth   string
	NewsAPIKeyEnv string
	FeedURL       string
}

// New builds the configured provider.
func New(opts Options) (Provider, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "tavily":
		key := os.Getenv(opts.TavilyKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("tavily: API key not set (%s)", opts.TavilyKeyEnv)
		}
		return NewTavily(key, opts.SearchDepth), nil
	case "newsapi":
		c := NewNewsAPI(opts.NewsAPIKeyEnv)
		if !c.IsConfigured() {
			return nil, fmt.Errorf("newsapi: API key not set (%s)", opts.NewsAPIKeyEnv)
		}
		return c, nil
	case "feed":
		return NewFeed(opts.FeedURL), nil
	}
	return nil, fmt.Errorf("unknown search provider %q", opts.Provider)
}

// limit trims results to at most n entries. n <= 0 means no limit.
func limit(results []Result, n int) []Result {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}
