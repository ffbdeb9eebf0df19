// Package summarize produces a structured medical summary for each document.
package summarize

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/medbrief/internal/cache"
	"github.com/TobiSchelling/medbrief/internal/document"
	"github.com/TobiSchelling/medbrief/internal/llm"
)

// DefaultExcerptChars is how much of each document the model sees.
const DefaultExcerptChars = 3000

const systemPrompt = "You are a medical research summarizer."

const summaryPrompt = `Summarize the following %s as JSON in exactly this shape:

{
  "type": "<restate the document type>",
  "causes": ["cause 1", "cause 2"],
  "key_findings": ["finding 1", "finding 2", "finding 3"],
  "treatment_methods": [{"name": "method", "approach": "how the method works"}],
  "treatment_limitations": [{"limitation": "limitation of a treatment", "alternative": "the alternative treatment"}],
  "latest_treatments": [{"name": "treatment", "institution": "proposing institution", "year": "year of proposal", "approval_status": "Approved or Under Trials", "approach": "how the treatment works"}]
}

Rules:
- Return only valid JSON, no markdown and no commentary.
- At most 5 key findings.
- Include at least 3 latest treatments if the document mentions them.
- Every method, treatment or limitation appears only once.
- Only report what the document states. Never invent treatments or methods that are not in the source.
- Do not include citations.

Document:
"""%s"""`

// Result holds the results of a summarization pass.
type Result struct {
	Processed int
	CacheHits int
	Generated int
	Fallbacks int
}

// Summarizer summarizes documents, reusing cached summaries.
type Summarizer struct {
	provider llm.Provider
	cache    *cache.ContentCache
	logger   *zap.Logger
	workers  int
	chars    int
}

// NewSummarizer creates a summarizer. workers < 1 runs sequentially and
// chars <= 0 uses DefaultExcerptChars.
func NewSummarizer(provider llm.Provider, c *cache.ContentCache, logger *zap.Logger, workers, chars int) *Summarizer {
	if workers < 1 {
		workers = 1
	}
	if chars <= 0 {
		chars = DefaultExcerptChars
	}
	return &Summarizer{provider: provider, cache: c, logger: logger, workers: workers, chars: chars}
}

type outcome int

const (
	fromCache outcome = iota
	generated
	fallback
)

// Summarize sets the summary of every document in docs. Order is unchanged.
// Unparseable model output yields a fallback summary; only collaborator
// errors are returned.
func (s *Summarizer) Summarize(ctx context.Context, docs []document.Document) (*Result, error) {
	if s.provider == nil {
		return nil, errors.New("no LLM provider available for summarization")
	}

	outcomes := make([]outcome, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range docs {
		g.Go(func() error {
			o, err := s.summarizeOne(gctx, &docs[i])
			if err != nil {
				return fmt.Errorf("summarizing %q: %w", docs[i].Title, err)
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Result{Processed: len(docs)}
	for _, o := range outcomes {
		switch o {
		case fromCache:
			r.CacheHits++
		case generated:
			r.Generated++
		case fallback:
			r.Generated++
			r.Fallbacks++
		}
	}
	s.logger.Info("summarization complete",
		zap.Int("processed", r.Processed), zap.Int("cache_hits", r.CacheHits),
		zap.Int("generated", r.Generated), zap.Int("fallbacks", r.Fallbacks))
	return r, nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, d *document.Document) (outcome, error) {
	hash := cache.HashContent(d.Content)

	entry, err := s.cache.Get(hash)
	if err != nil {
		s.logger.Warn("content cache read failed, treating as miss", zap.String("hash", hash), zap.Error(err))
		entry = nil
	}
	if entry != nil && entry.Summary != nil {
		d.SetSummary(entry.Summary)
		s.logger.Debug("summary cache hit", zap.String("hash", hash), zap.String("title", d.Title))
		return fromCache, nil
	}

	docType := d.DeclaredType()
	resp, err := s.provider.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(summaryPrompt, docType, d.Excerpt(s.chars)),
		MaxTokens:   2048,
		Temperature: 0,
	})
	if err != nil {
		return generated, err
	}

	result := generated
	summary := Parse(resp, docType)
	if summary.IsFallback() {
		result = fallback
		s.logger.Warn("summary was not valid JSON, keeping raw text",
			zap.String("hash", hash), zap.String("title", d.Title))
	}

	d.SetSummary(summary)
	if err := s.cache.Put(hash, cache.Entry{Type: d.Type, Summary: summary}); err != nil {
		s.logger.Warn("content cache write failed", zap.String("hash", hash), zap.Error(err))
	}
	return result, nil
}

// Parse decodes a model reply into a Summary. A reply that holds no JSON
// object becomes a fallback summary carrying the raw text.
func Parse(resp, docType string) *document.Summary {
	parsed := llm.ParseJSONResponse(resp)
	if parsed == nil {
		return document.NewFallbackSummary(docType, resp)
	}
	return decodeSummary(parsed, docType)
}
