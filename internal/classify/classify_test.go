package classify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/cache"
	"github.com/TobiSchelling/medbrief/internal/database"
	"github.com/TobiSchelling/medbrief/internal/document"
	"github.com/TobiSchelling/medbrief/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type mockProvider struct {
	mu       sync.Mutex
	calls    int
	prompts  []string
	response func(prompt string) string
	err      error
}

func (m *mockProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response(req.Prompt), nil
}

func (m *mockProvider) IsConfigured() bool { return true }

func openTestCache(t *testing.T) *cache.ContentCache {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return cache.NewContentCache(db, zap.NewNop())
}

func testDocs() []document.Document {
	return []document.Document{
		document.New("Trial of metformin", "https://a.example", "randomized controlled trial content"),
		document.New("Review of insulin", "https://b.example", "systematic review content"),
		document.New("Case of rare diabetes", "https://c.example", "single patient case content"),
	}
}

func labelFor(prompt string) string {
	switch {
	case strings.Contains(prompt, "randomized"):
		return "  Clinical Trial\n"
	case strings.Contains(prompt, "systematic"):
		return "REVIEW"
	default:
		return "case study"
	}
}

func TestClassifyAndCache(t *testing.T) {
	c := openTestCache(t)
	p := &mockProvider{response: labelFor}
	cl := NewClassifier(p, c, zap.NewNop(), 4, 0)

	docs := testDocs()
	r, err := cl.Classify(context.Background(), docs)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if r.Processed != 3 || r.Generated != 3 || r.CacheHits != 0 {
		t.Errorf("unexpected result %+v", r)
	}

	want := []string{"clinical trial", "review", "case study"}
	for i, d := range docs {
		if d.Type != want[i] {
			t.Errorf("doc %d: expected %q, got %q", i, want[i], d.Type)
		}
	}

	// A second pass over the same content is served from the cache.
	again := testDocs()
	r, err = cl.Classify(context.Background(), again)
	if err != nil {
		t.Fatalf("second Classify: %v", err)
	}
	if p.calls != 3 {
		t.Errorf("expected no additional model calls, got %d total", p.calls)
	}
	if r.CacheHits != 3 {
		t.Errorf("expected 3 cache hits, got %d", r.CacheHits)
	}
	for i, d := range again {
		if d.Type != want[i] {
			t.Errorf("cached doc %d: expected %q, got %q", i, want[i], d.Type)
		}
	}
}

func TestClassifyTruncatesContent(t *testing.T) {
	p := &mockProvider{response: func(string) string { return "review" }}
	cl := NewClassifier(p, openTestCache(t), zap.NewNop(), 1, 0)

	long := strings.Repeat("x", 5000) + "TAIL"
	docs := []document.Document{document.New("Long", "https://l.example", long)}
	if _, err := cl.Classify(context.Background(), docs); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if strings.Contains(p.prompts[0], "TAIL") {
		t.Error("expected content beyond the excerpt to be cut")
	}
	if docs[0].Content != long {
		t.Error("document content must not be modified")
	}
}

func TestClassifyEmptyAnswerIsUnknown(t *testing.T) {
	p := &mockProvider{response: func(string) string { return "   " }}
	cl := NewClassifier(p, openTestCache(t), zap.NewNop(), 1, 0)

	docs := testDocs()[:1]
	if _, err := cl.Classify(context.Background(), docs); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if docs[0].Type != Unknown {
		t.Errorf("expected %q, got %q", Unknown, docs[0].Type)
	}
}

func TestClassifyProviderError(t *testing.T) {
	p := &mockProvider{err: errors.New("timeout")}
	c := openTestCache(t)
	cl := NewClassifier(p, c, zap.NewNop(), 2, 0)

	docs := testDocs()
	if _, err := cl.Classify(context.Background(), docs); err == nil {
		t.Fatal("expected error from failing provider")
	}
	entry, err := c.Get(cache.HashContent(docs[0].Content))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry != nil {
		t.Error("expected nothing cached after a failed call")
	}
}

func TestClassifyEmpty(t *testing.T) {
	p := &mockProvider{response: labelFor}
	r, err := NewClassifier(p, openTestCache(t), zap.NewNop(), 4, 0).Classify(context.Background(), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if r.Processed != 0 || p.calls != 0 {
		t.Errorf("expected no work, got %+v and %d calls", r, p.calls)
	}
}

func TestClassifyNoProvider(t *testing.T) {
	cl := NewClassifier(nil, openTestCache(t), zap.NewNop(), 1, 0)
	if _, err := cl.Classify(context.Background(), testDocs()); err == nil {
		t.Error("expected error without a provider")
	}
}

// slowFirstProvider answers the "randomized" document only after the other
// two documents have been requested, so it finishes last.
type slowFirstProvider struct {
	others chan struct{}
}

func (p *slowFirstProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	if strings.Contains(req.Prompt, "randomized") {
		for i := 0; i < 2; i++ {
			select {
			case <-p.others:
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "", errors.New("other documents were never requested")
			}
		}
	} else {
		p.others <- struct{}{}
	}
	return labelFor(req.Prompt), nil
}

func (p *slowFirstProvider) IsConfigured() bool { return true }

func TestClassifyOutOfOrderCompletion(t *testing.T) {
	p := &slowFirstProvider{others: make(chan struct{}, 2)}
	cl := NewClassifier(p, openTestCache(t), zap.NewNop(), 3, 0)

	docs := testDocs()
	r, err := cl.Classify(context.Background(), docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Generated != 3 {
		t.Errorf("expected 3 generated, got %d", r.Generated)
	}

	want := []string{"clinical trial", "review", "case study"}
	for i, d := range docs {
		if d.Type != want[i] {
			t.Errorf("doc %d (%s): expected %q, got %q", i, d.Title, want[i], d.Type)
		}
	}
}
