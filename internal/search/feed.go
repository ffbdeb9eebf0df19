package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// DefaultFeedURL is a search feed that needs no API key.
const DefaultFeedURL = "https://news.google.com/rss/search?q={query}&hl=en-US&gl=US&ceid=US:en"

// Feed searches through an RSS or Atom search endpoint. The URL template
// must contain a {query} placeholder.
type Feed struct {
	URLTemplate string
	parser      *gofeed.Parser
}

// NewFeed creates a feed search provider. An empty template uses DefaultFeedURL.
func NewFeed(urlTemplate string) *Feed {
	if urlTemplate == "" {
		urlTemplate = DefaultFeedURL
	}
	return &Feed{URLTemplate: urlTemplate, parser: gofeed.NewParser()}
}

// Name implements Provider.
func (f *Feed) Name() string { return "feed" }

// Search fetches the feed for query and converts its items.
func (f *Feed) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	feedURL := strings.ReplaceAll(f.URLTemplate, "{query}", url.QueryEscape(query))

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	var results []Result
	for _, item := range feed.Items {
		if r, ok := parseItem(item); ok {
			results = append(results, r)
		}
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

func parseItem(item *gofeed.Item) (Result, bool) {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if itemURL == "" || title == "" {
		return Result{}, false
	}

	var content string
	if item.Content != "" {
		content = stripHTML(item.Content)
	} else if item.Description != "" {
		content = stripHTML(item.Description)
	}

	return Result{Title: title, URL: itemURL, Content: content}, true
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			result.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	s := entityReplacer.Replace(result.String())
	return strings.Join(strings.Fields(s), " ")
}

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)
