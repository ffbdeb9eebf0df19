package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/assemble"
	"github.com/TobiSchelling/medbrief/internal/cache"
	"github.com/TobiSchelling/medbrief/internal/cite"
	"github.com/TobiSchelling/medbrief/internal/classify"
	"github.com/TobiSchelling/medbrief/internal/config"
	"github.com/TobiSchelling/medbrief/internal/database"
	"github.com/TobiSchelling/medbrief/internal/document"
	"github.com/TobiSchelling/medbrief/internal/fetch"
	"github.com/TobiSchelling/medbrief/internal/llm"
	"github.com/TobiSchelling/medbrief/internal/retrieve"
	"github.com/TobiSchelling/medbrief/internal/search"
	"github.com/TobiSchelling/medbrief/internal/summarize"
)

// ErrEmptyQuery is returned by Run for a blank question.
var ErrEmptyQuery = errors.New("query must not be empty")

// State is the record the stages pass along. No stage reorders Docs.
type State struct {
	Query       string
	Docs        []document.Document
	FinalOutput *assemble.Report
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID     string
	Query     string
	Docs      []document.Document
	Report    assemble.Report
	CacheHit  bool
	NoResults bool
	Steps     []StepResult
}

// Structured returns the machine-readable form of the result.
func (r *Result) Structured() *assemble.Structured {
	return assemble.NewStructured(r.Query, r.Docs)
}

// Pipeline runs CheckCache, Retrieve, Classify, Summarize, Cite, Assemble
// and Store in that order.
type Pipeline struct {
	queries    *cache.QueryCache
	retriever  *retrieve.Retriever
	classifier *classify.Classifier
	summarizer *summarize.Summarizer
	format     assemble.Format
	timeout    time.Duration
	maxResults int
	logger     *zap.Logger
	newRunID   func() string

	cfg       *config.Config
	contents  *cache.ContentCache
	mu        sync.Mutex
	connector func(context.Context) (llm.Provider, search.Provider, error)
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithFormat overrides the configured report format.
func WithFormat(f assemble.Format) Option {
	return func(p *Pipeline) { p.format = f }
}

// New creates a pipeline from its collaborators.
func New(cfg *config.Config, db *database.DB, provider llm.Provider, searcher search.Provider, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	format, err := assemble.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		queries:    cache.NewQueryCache(db, logger),
		format:     format,
		timeout:    time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
		maxResults: cfg.Search.MaxResults,
		logger:     logger,
		newRunID:   uuid.NewString,
		cfg:        cfg,
		contents:   cache.NewContentCache(db, logger),
	}
	p.bind(provider, searcher)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) bind(provider llm.Provider, searcher search.Provider) {
	cfg := p.cfg
	var retrieveOpts []retrieve.Option
	if cfg.Retrieval.FetchFullText {
		fetcher := fetch.NewContentFetcher(time.Duration(cfg.Retrieval.TimeoutSeconds)*time.Second, p.logger)
		retrieveOpts = append(retrieveOpts, retrieve.WithFullText(fetcher, cfg.Retrieval.MinContentChars))
	}
	p.retriever = retrieve.NewRetriever(searcher, cfg.Search.MaxResults, p.logger, retrieveOpts...)
	p.classifier = classify.NewClassifier(provider, p.contents, p.logger, cfg.Pipeline.Workers, cfg.Pipeline.ClassifyChars)
	p.summarizer = summarize.NewSummarizer(provider, p.contents, p.logger, cfg.Pipeline.Workers, cfg.Pipeline.SummarizeChars)
}

// FromConfig creates a pipeline with the search and LLM providers named in
// cfg. The providers are created on the first cache miss, so cached answers
// need no credentials.
func FromConfig(ctx context.Context, cfg *config.Config, db *database.DB, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	p, err := New(cfg, db, nil, nil, logger, opts...)
	if err != nil {
		return nil, err
	}
	p.connector = func(ctx context.Context) (llm.Provider, search.Provider, error) {
		return providersFromConfig(ctx, cfg, logger)
	}
	return p, nil
}

func providersFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (llm.Provider, search.Provider, error) {
	searcher, err := search.New(search.Options{
		Provider:      cfg.Search.Provider,
		TavilyKeyEnv:  cfg.Search.TavilyAPIKeyEnv,
		SearchDepth:   cfg.Search.Depth,
		NewsAPIKeyEnv: cfg.Search.NewsAPIAPIKeyEnv,
		FeedURL:       cfg.Search.FeedURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("search provider: %w", err)
	}

	gen := cfg.Generation
	provider, err := llm.CreateProvider(ctx, llm.Options{
		Provider:      gen.Provider,
		Model:         gen.Model,
		OllamaURL:     gen.OllamaURL,
		OpenAIModel:   gen.OpenAIModel,
		OpenAIBaseURL: gen.OpenAIBaseURL,
		OpenAIKeyEnv:  gen.OpenAIAPIKeyEnv,
		GeminiModel:   gen.GeminiModel,
		GeminiKeyEnv:  gen.GeminiAPIKeyEnv,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("LLM provider: %w", err)
	}
	return provider, searcher, nil
}

// Connect creates the search and LLM providers if they have not been created
// yet. Run calls it on a cache miss.
func (p *Pipeline) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connector == nil {
		return nil
	}
	provider, searcher, err := p.connector(ctx)
	if err != nil {
		return err
	}
	p.bind(provider, searcher)
	p.connector = nil
	return nil
}

// Format returns the report format runs produce.
func (p *Pipeline) Format() assemble.Format {
	return p.format
}

// Run answers query. A cached answer is returned without calling any
// collaborator. On failure the partial Result is returned with the error and
// nothing is written to the query cache.
func (p *Pipeline) Run(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	runID := p.newRunID()
	log := p.logger.With(zap.String("run_id", runID), zap.String("query", query))
	r := &Result{RunID: runID, Query: query}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	hit, step := p.checkCache(query, r, log)
	r.Steps = append(r.Steps, step)
	if hit {
		return r, nil
	}

	if err := p.Connect(ctx); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Connect", Err: err})
		log.Error("run aborted", zap.String("stage", "Connect"), zap.Error(err))
		return r, err
	}

	state := &State{Query: query}

	step = p.runRetrieve(ctx, state, r, log)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r, step.Err
	}

	for _, stage := range []func(context.Context, *State, *zap.Logger) StepResult{
		p.runClassify,
		p.runSummarize,
		p.runCite,
		p.runAssemble,
	} {
		step = stage(ctx, state, log)
		r.Steps = append(r.Steps, step)
		if step.Err != nil {
			log.Error("run aborted", zap.String("stage", step.Name), zap.Error(step.Err))
			return r, step.Err
		}
	}

	r.Docs = state.Docs
	r.Report = *state.FinalOutput

	r.Steps = append(r.Steps, p.runStore(state, r, log))
	log.Info("run complete", zap.Int("documents", len(r.Docs)), zap.Bool("no_results", r.NoResults))
	return r, nil
}

// DryRun reports what Run would do for query without calling any collaborator.
func (p *Pipeline) DryRun(query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	r := &Result{Query: query}

	snap, err := p.queries.Get(query)
	if err != nil {
		p.logger.Warn("query cache read failed", zap.Error(err))
	}
	if snap != nil {
		r.CacheHit = true
		r.RunID = snap.RunID
		r.Steps = append(r.Steps, StepResult{
			Name:    "CheckCache",
			Summary: fmt.Sprintf("[dry-run] Cached answer from %s with %d documents would be returned", snap.CreatedAt, len(snap.Docs)),
		})
		return r, nil
	}

	r.Steps = append(r.Steps,
		StepResult{Name: "CheckCache", Summary: "[dry-run] No cached answer"},
		StepResult{Name: "Retrieve", Summary: fmt.Sprintf("[dry-run] Would search for up to %d documents", p.maxResults)},
		StepResult{Name: "Classify", Summary: "[dry-run] Would classify documents not in the content cache"},
		StepResult{Name: "Summarize", Summary: "[dry-run] Would summarize documents not in the content cache"},
		StepResult{Name: "Cite", Summary: "[dry-run] Would attach citations"},
		StepResult{Name: "Assemble", Summary: fmt.Sprintf("[dry-run] Would assemble a %s report", p.format)},
		StepResult{Name: "Store", Summary: "[dry-run] Would store the answer in the query cache"},
	)
	return r, nil
}

func (p *Pipeline) checkCache(query string, r *Result, log *zap.Logger) (bool, StepResult) {
	snap, err := p.queries.Get(query)
	if err != nil {
		log.Warn("query cache read failed, running pipeline", zap.Error(err))
		return false, StepResult{Name: "CheckCache", Summary: "Cache unavailable"}
	}
	if snap == nil {
		log.Debug("query cache miss")
		return false, StepResult{Name: "CheckCache", Summary: "Cache miss"}
	}

	report := snap.FinalOutput
	if report.Format != p.format {
		reassembled, err := p.assemble(snap.Query, snap.Docs)
		if err != nil {
			log.Warn("re-assembling cached answer failed, running pipeline", zap.Error(err))
			return false, StepResult{Name: "CheckCache", Summary: "Cached answer unusable"}
		}
		report = reassembled
	}

	r.CacheHit = true
	r.NoResults = len(snap.Docs) == 0
	if snap.RunID != "" {
		r.RunID = snap.RunID
	}
	r.Query = snap.Query
	r.Docs = snap.Docs
	r.Report = report
	log.Info("query cache hit", zap.String("cached_run_id", snap.RunID))
	return true, StepResult{
		Name:    "CheckCache",
		Summary: fmt.Sprintf("Cache hit: %d documents from %s", len(snap.Docs), snap.CreatedAt),
	}
}

func (p *Pipeline) runRetrieve(ctx context.Context, s *State, r *Result, log *zap.Logger) StepResult {
	log.Debug("step 1/5: retrieving documents")
	docs, err := p.retriever.Retrieve(ctx, s.Query)
	if errors.Is(err, retrieve.ErrNoDocuments) {
		log.Warn("no documents found")
		r.NoResults = true
		s.Docs = []document.Document{}
		return StepResult{Name: "Retrieve", Summary: "No documents found"}
	}
	if err != nil {
		log.Error("retrieval failed", zap.Error(err))
		return StepResult{Name: "Retrieve", Err: fmt.Errorf("retrieve: %w", err)}
	}
	s.Docs = docs
	return StepResult{Name: "Retrieve", Summary: fmt.Sprintf("Retrieved %d documents", len(docs))}
}

func (p *Pipeline) runClassify(ctx context.Context, s *State, log *zap.Logger) StepResult {
	log.Debug("step 2/5: classifying documents")
	if len(s.Docs) == 0 {
		return StepResult{Name: "Classify", Summary: "Nothing to classify"}
	}
	res, err := p.classifier.Classify(ctx, s.Docs)
	if err != nil {
		return StepResult{Name: "Classify", Err: fmt.Errorf("classify: %w", err)}
	}
	return StepResult{
		Name:    "Classify",
		Summary: fmt.Sprintf("Classified %d documents (%d cached, %d generated)", res.Processed, res.CacheHits, res.Generated),
	}
}

func (p *Pipeline) runSummarize(ctx context.Context, s *State, log *zap.Logger) StepResult {
	log.Debug("step 3/5: summarizing documents")
	if len(s.Docs) == 0 {
		return StepResult{Name: "Summarize", Summary: "Nothing to summarize"}
	}
	res, err := p.summarizer.Summarize(ctx, s.Docs)
	if err != nil {
		return StepResult{Name: "Summarize", Err: fmt.Errorf("summarize: %w", err)}
	}
	return StepResult{
		Name: "Summarize",
		Summary: fmt.Sprintf("Summarized %d documents (%d cached, %d generated, %d fallback)",
			res.Processed, res.CacheHits, res.Generated, res.Fallbacks),
	}
}

func (p *Pipeline) runCite(_ context.Context, s *State, log *zap.Logger) StepResult {
	log.Debug("step 4/5: attaching citations")
	if err := cite.CiteAll(s.Docs); err != nil {
		return StepResult{Name: "Cite", Err: fmt.Errorf("cite: %w", err)}
	}
	return StepResult{Name: "Cite", Summary: fmt.Sprintf("Cited %d documents", len(s.Docs))}
}

func (p *Pipeline) runAssemble(_ context.Context, s *State, log *zap.Logger) StepResult {
	log.Debug("step 5/5: assembling report")
	report, err := p.assemble(s.Query, s.Docs)
	if err != nil {
		return StepResult{Name: "Assemble", Err: fmt.Errorf("assemble: %w", err)}
	}
	s.FinalOutput = &report
	return StepResult{Name: "Assemble", Summary: fmt.Sprintf("Assembled %s report (%d bytes)", report.Format, len(report.Body))}
}

func (p *Pipeline) runStore(s *State, r *Result, log *zap.Logger) StepResult {
	err := p.queries.Put(s.Query, cache.Snapshot{
		Query:       s.Query,
		RunID:       r.RunID,
		Docs:        s.Docs,
		FinalOutput: *s.FinalOutput,
	})
	if err != nil {
		log.Warn("storing answer in query cache failed", zap.Error(err))
		return StepResult{Name: "Store", Summary: "Answer not cached"}
	}
	return StepResult{Name: "Store", Summary: "Answer cached"}
}

func (p *Pipeline) assemble(query string, docs []document.Document) (assemble.Report, error) {
	a, err := assemble.ForFormat(p.format)
	if err != nil {
		return assemble.Report{}, err
	}
	return a.Assemble(query, docs)
}
