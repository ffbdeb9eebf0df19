// Package fetch enriches short search snippets with the full page text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/document"
)

const (
	userAgent      = "MedBrief/1.0 (medical research assistant)"
	maxBodyBytes   = 5 << 20
	minExtractable = 100
)

// Result holds the results of an enrichment pass.
type Result struct {
	Fetched    int
	LongEnough int
	Failed     int
}

// ContentFetcher fetches full article text via HTTP + readability extraction.
type ContentFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(timeout time.Duration, logger *zap.Logger) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logger,
	}
}

// Enrich replaces the content of documents shorter than minChars with the
// extracted page text. Failures keep the original snippet. After an HTTP
// error status the remaining documents from that domain are skipped.
func (f *ContentFetcher) Enrich(ctx context.Context, docs []document.Document, minChars int) *Result {
	result := &Result{}
	failedDomains := make(map[string]struct{})

	for i := range docs {
		d := &docs[i]
		if len(strings.TrimSpace(d.Content)) >= minChars {
			result.LongEnough++
			continue
		}
		if ctx.Err() != nil {
			result.Failed++
			continue
		}

		domain := domainOf(d.Link)
		if _, failed := failedDomains[domain]; failed {
			result.Failed++
			continue
		}

		text, err := f.fetchArticleContent(ctx, d.Link)
		var statusErr *httpError
		switch {
		case errors.As(err, &statusErr):
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			f.logger.Warn("HTTP error, skipping remaining documents from domain",
				zap.String("link", d.Link), zap.String("domain", domain), zap.Int("status", statusErr.code))
		case err != nil:
			result.Failed++
			f.logger.Debug("fetch failed", zap.String("link", d.Link), zap.Error(err))
		case len(text) > len(d.Content):
			d.Content = text
			result.Fetched++
			f.logger.Debug("fetched full text", zap.String("title", d.Title), zap.Int("chars", len(text)))
		default:
			result.Failed++
			f.logger.Debug("no extractable content", zap.String("link", d.Link))
		}
	}
	return result
}

func (f *ContentFetcher) fetchArticleContent(ctx context.Context, articleURL string) (string, error) {
	parsedURL, err := url.Parse(articleURL)
	if err != nil || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL %q", articleURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBodyBytes), parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > minExtractable {
		return text, nil
	}
	return "", nil
}

func domainOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, http.StatusText(e.code))
}
