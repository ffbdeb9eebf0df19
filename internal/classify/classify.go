// Package classify labels each document with its study type.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/medbrief/internal/cache"
	"github.com/TobiSchelling/medbrief/internal/document"
	"github.com/TobiSchelling/medbrief/internal/llm"
)

// Unknown is the label used when the model gives no answer.
const Unknown = "unknown"

// DefaultExcerptChars is how much of each document the model sees.
const DefaultExcerptChars = 2000

const systemPrompt = "You are a medical research classifier."

const classifyPrompt = `Classify the following document as one of: clinical trial, meta-analysis, review, case study.
If none of these fit, answer unknown.

Respond with ONLY the label, nothing else.

Document:
%s`

// Result holds the results of a classification pass.
type Result struct {
	Processed int
	CacheHits int
	Generated int
}

// Classifier classifies documents, reusing cached labels.
type Classifier struct {
	provider llm.Provider
	cache    *cache.ContentCache
	logger   *zap.Logger
	workers  int
	chars    int
}

// NewClassifier creates a classifier. workers < 1 runs sequentially and
// chars <= 0 uses DefaultExcerptChars.
func NewClassifier(provider llm.Provider, c *cache.ContentCache, logger *zap.Logger, workers, chars int) *Classifier {
	if workers < 1 {
		workers = 1
	}
	if chars <= 0 {
		chars = DefaultExcerptChars
	}
	return &Classifier{provider: provider, cache: c, logger: logger, workers: workers, chars: chars}
}

// Classify sets the type of every document in docs. Order is unchanged. The
// first collaborator error stops the pass and is returned.
func (c *Classifier) Classify(ctx context.Context, docs []document.Document) (*Result, error) {
	if c.provider == nil {
		return nil, errors.New("no LLM provider available for classification")
	}

	hits := make([]bool, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := range docs {
		g.Go(func() error {
			hit, err := c.classifyOne(gctx, &docs[i])
			if err != nil {
				return fmt.Errorf("classifying %q: %w", docs[i].Title, err)
			}
			hits[i] = hit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Result{Processed: len(docs)}
	for _, hit := range hits {
		if hit {
			r.CacheHits++
		} else {
			r.Generated++
		}
	}
	c.logger.Info("classification complete",
		zap.Int("processed", r.Processed), zap.Int("cache_hits", r.CacheHits), zap.Int("generated", r.Generated))
	return r, nil
}

// classifyOne reports whether the label came from the cache.
func (c *Classifier) classifyOne(ctx context.Context, d *document.Document) (bool, error) {
	hash := cache.HashContent(d.Content)

	entry, err := c.cache.Get(hash)
	if err != nil {
		c.logger.Warn("content cache read failed, treating as miss", zap.String("hash", hash), zap.Error(err))
		entry = nil
	}
	if entry != nil && entry.Type != "" {
		d.SetType(entry.Type)
		c.logger.Debug("classification cache hit", zap.String("hash", hash), zap.String("title", d.Title))
		return true, nil
	}

	resp, err := c.provider.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(classifyPrompt, d.Excerpt(c.chars)),
		MaxTokens:   20,
		Temperature: 0,
	})
	if err != nil {
		return false, err
	}

	label := Normalize(resp)
	d.SetType(label)
	if err := c.cache.Put(hash, cache.Entry{Type: label}); err != nil {
		c.logger.Warn("content cache write failed", zap.String("hash", hash), zap.Error(err))
	}
	c.logger.Debug("classified", zap.String("title", d.Title), zap.String("type", label))
	return false, nil
}

// Normalize lowercases and trims a model answer. The label is not checked
// against the closed set; an empty answer becomes Unknown.
func Normalize(s string) string {
	label := strings.ToLower(strings.TrimSpace(s))
	if label == "" {
		return Unknown
	}
	return label
}
