// Package llm wraps the language model backends used for classification and
// summarization.
package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
}

// Options selects and configures a provider.
type Options struct {
	Provider      string // ollama, openai or gemini
	Model         string
	OllamaURL     string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIKeyEnv  string
	GeminiModel   string
	GeminiKeyEnv  string
}

// CreateProvider creates an LLM provider based on configuration. Ollama falls
// back to OpenAI when the local server is unavailable.
func CreateProvider(ctx context.Context, opts Options, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(opts.Provider) {
	case "gemini":
		p, err := NewGeminiProvider(ctx, opts.GeminiModel, opts.GeminiKeyEnv)
		if err != nil {
			return nil, err
		}
		logger.Info("using Gemini", zap.String("model", p.Model))
		return p, nil
	case "ollama":
		p := NewOllamaProvider(opts.Model, opts.OllamaURL)
		if p.IsConfigured() {
			logger.Info("using Ollama", zap.String("model", opts.Model))
			return p, nil
		}
		logger.Warn("Ollama not available, trying OpenAI fallback")
	case "openai":
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", opts.Provider)
	}

	p := NewOpenAIProvider(opts.OpenAIModel, opts.OpenAIKeyEnv)
	if opts.OpenAIBaseURL != "" {
		p.BaseURL = strings.TrimRight(opts.OpenAIBaseURL, "/")
	}
	if p.IsConfigured() {
		logger.Info("using OpenAI", zap.String("model", opts.OpenAIModel))
		return p, nil
	}
	return nil, fmt.Errorf("no LLM provider available: start Ollama or set %s", opts.OpenAIKeyEnv)
}
