package summarize

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	response string
	err      error
}

func (m *mockProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

func openTestCache(t *testing.T) *cache.ContentCache {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return cache.NewContentCache(db, zap.NewNop())
}

const structuredReply = "```json\n" + `{
  "type": "review",
  "causes": ["Insulin resistance", "insulin resistance", "Obesity"],
  "key_findings": ["f1", "f2", "f3", "f4", "f5", "f6", "f7"],
  "treatment_methods": [{"name": "Metformin", "approach": "Lowers hepatic glucose output"}],
  "treatment_limitations": [{"limitation": "Hypoglycemia with sulfonylureas", "alternative": "DPP-4 inhibitors"}],
  "latest_treatments": [
    {"name": "Tirzepatide", "institution": "Eli Lilly", "year": 2022, "approval_status": "Approved", "approach": "Dual GIP/GLP-1 agonist"},
    {"name": "Tirzepatide", "institution": "Duplicate"}
  ]
}` + "\n```"

func TestParseStructured(t *testing.T) {
	s := Parse(structuredReply, "review")
	require.False(t, s.IsFallback())

	assert.Equal(t, "review", s.Type)
	assert.Equal(t, []string{"Insulin resistance", "Obesity"}, s.Causes)
	assert.Len(t, s.KeyFindings, document.MaxKeyFindings)
	assert.Equal(t, []document.TreatmentMethod{{Name: "Metformin", Approach: "Lowers hepatic glucose output"}}, s.TreatmentMethods)
	assert.Equal(t, "DPP-4 inhibitors", s.TreatmentLimitations[0].Alternative)

	want := []document.LatestTreatment{{
		Name: "Tirzepatide", Institution: "Eli Lilly", Year: "2022",
		ApprovalStatus: "Approved", Approach: "Dual GIP/GLP-1 agonist",
	}}
	if diff := cmp.Diff(want, s.LatestTreatments); diff != "" {
		t.Errorf("latest treatments mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLegacyShape(t *testing.T) {
	reply := `{
  "type": "clinical trial",
  "causes": "Genetic predisposition",
  "key_findings": ["HbA1c reduced by 1.2%"],
  "common treatment methods": [{"Insulin therapy": "Replaces missing insulin"}, ["Diet", "Carbohydrate counting"]],
  "limitations of certain treatments": ["Weight gain: SGLT2 inhibitors"],
  "latest treatments": {
    "Islet transplantation": {"proposed institution": "Mayo Clinic", "year of proposal": 2019, "approved_for_use": "Under Trials", "treatment approach": "Transplants donor islets"}
  }
}`
	s := Parse(reply, "clinical trial")
	require.False(t, s.IsFallback())

	assert.Equal(t, []string{"Genetic predisposition"}, s.Causes)
	assert.Equal(t, []document.TreatmentMethod{
		{Name: "Insulin therapy", Approach: "Replaces missing insulin"},
		{Name: "Diet", Approach: "Carbohydrate counting"},
	}, s.TreatmentMethods)
	assert.Equal(t, []document.TreatmentLimitation{{Limitation: "Weight gain", Alternative: "SGLT2 inhibitors"}}, s.TreatmentLimitations)
	assert.Equal(t, []document.LatestTreatment{{
		Name: "Islet transplantation", Institution: "Mayo Clinic", Year: "2019",
		ApprovalStatus: "Under Trials", Approach: "Transplants donor islets",
	}}, s.LatestTreatments)
}

func TestParseFallback(t *testing.T) {
	s := Parse("Metformin is the first-line therapy.", "review")
	assert.True(t, s.IsFallback())
	assert.Equal(t, "review", s.Type)
	assert.Equal(t, "Metformin is the first-line therapy.", s.Raw)
	assert.Empty(t, s.KeyFindings)
	assert.Empty(t, s.LatestTreatments)
}

func TestParseMissingTypeUsesDeclared(t *testing.T) {
	s := Parse(`{"key_findings": ["a"]}`, "case study")
	assert.Equal(t, "case study", s.Type)
	assert.NotNil(t, s.Causes)
	assert.NotNil(t, s.TreatmentMethods)
}

func TestSummarizeAndCache(t *testing.T) {
	c := openTestCache(t)
	p := &mockProvider{response: structuredReply}
	sm := NewSummarizer(p, c, zap.NewNop(), 4, 0)

	docs := []document.Document{
		document.New("A", "https://a.example", "content a"),
		document.New("B", "https://b.example", "content b"),
	}
	docs[0].SetType("review")

	r, err := sm.Summarize(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, &Result{Processed: 2, Generated: 2}, r)
	assert.Contains(t, p.prompts[0]+p.prompts[1], "Summarize the following review")
	assert.Contains(t, p.prompts[0]+p.prompts[1], "Summarize the following "+document.DefaultType)

	for _, d := range docs {
		require.NotNil(t, d.Summary)
		assert.Equal(t, "Tirzepatide", d.Summary.LatestTreatments[0].Name)
	}

	again := []document.Document{
		document.New("A", "https://a.example", "content a"),
		document.New("B", "https://b.example", "content b"),
	}
	r, err = sm.Summarize(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, 2, r.CacheHits)
	assert.Equal(t, 2, p.calls)
	if diff := cmp.Diff(docs[0].Summary, again[0].Summary); diff != "" {
		t.Errorf("cached summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeFallbackIsNotAnError(t *testing.T) {
	p := &mockProvider{response: "plain prose answer"}
	sm := NewSummarizer(p, openTestCache(t), zap.NewNop(), 1, 0)

	docs := []document.Document{document.New("A", "https://a.example", "content")}
	r, err := sm.Summarize(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Fallbacks)
	assert.True(t, docs[0].Summary.IsFallback())
	assert.Equal(t, "plain prose answer", docs[0].Summary.Raw)
}

func TestSummarizeTruncatesContent(t *testing.T) {
	p := &mockProvider{response: `{"type": "review"}`}
	sm := NewSummarizer(p, openTestCache(t), zap.NewNop(), 1, 0)

	docs := []document.Document{document.New("A", "https://a.example", strings.Repeat("y", 4000)+"TAIL")}
	_, err := sm.Summarize(context.Background(), docs)
	require.NoError(t, err)
	assert.NotContains(t, p.prompts[0], "TAIL")
}

func TestSummarizeProviderError(t *testing.T) {
	boom := errors.New("rate limited")
	p := &mockProvider{err: boom}
	sm := NewSummarizer(p, openTestCache(t), zap.NewNop(), 2, 0)

	docs := []document.Document{
		document.New("A", "https://a.example", "a"),
		document.New("B", "https://b.example", "b"),
	}
	_, err := sm.Summarize(context.Background(), docs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

// orderedProvider holds back the reply for the first document until the
// others have been requested, then echoes a cause naming each document.
type orderedProvider struct {
	others chan struct{}
}

func (p *orderedProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	marker := "beta"
	switch {
	case strings.Contains(req.Prompt, "content alpha"):
		for i := 0; i < 2; i++ {
			select {
			case <-p.others:
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "", errors.New("other documents were never requested")
			}
		}
		marker = "alpha"
	case strings.Contains(req.Prompt, "content gamma"):
		marker = "gamma"
		p.others <- struct{}{}
	default:
		p.others <- struct{}{}
	}
	return `{"type": "review", "causes": ["` + marker + `"]}`, nil
}

func (p *orderedProvider) IsConfigured() bool { return true }

func TestSummarizeOutOfOrderCompletion(t *testing.T) {
	p := &orderedProvider{others: make(chan struct{}, 2)}
	sm := NewSummarizer(p, openTestCache(t), zap.NewNop(), 3, 0)

	docs := []document.Document{
		document.New("Alpha", "https://a.example", "content alpha"),
		document.New("Beta", "https://b.example", "content beta"),
		document.New("Gamma", "https://c.example", "content gamma"),
	}
	r, err := sm.Summarize(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Generated)

	for i, want := range []string{"alpha", "beta", "gamma"} {
		require.NotNil(t, docs[i].Summary, "doc %d", i)
		assert.Equal(t, []string{want}, docs[i].Summary.Causes, "doc %d", i)
	}
}
