package analyzer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pagelift/pagelift/internal/fault"
	"github.com/pagelift/pagelift/internal/fetch"
	"github.com/pagelift/pagelift/internal/storage"
)

type mockFetcher struct {
	page  fetch.Page
	err   error
	calls int
}

func (m *mockFetcher) FetchPage(ctx context.Context, pageURL string) (fetch.Page, error) {
	m.calls++
	if m.err != nil {
		return fetch.Page{}, m.err
	}
	return m.page, nil
}

type mockCache struct {
	fresh    *storage.TechnicalAnalysis
	appended []storage.TechnicalAnalysis
	history  []storage.ScorePoint
}

func (m *mockCache) Fresh(domain string) (storage.TechnicalAnalysis, bool, error) {
	if m.fresh == nil {
		return storage.TechnicalAnalysis{}, false, nil
	}
	return *m.fresh, true, nil
}

func (m *mockCache) Append(a storage.TechnicalAnalysis) error {
	m.appended = append(m.appended, a)
	return nil
}

func (m *mockCache) History(domain string, until time.Time) ([]storage.ScorePoint, error) {
	return m.history, nil
}

func cachedAnalysis() *storage.TechnicalAnalysis {
	return &storage.TechnicalAnalysis{
		ID:                  "ta-1",
		Domain:              "example.com",
		AuditID:             "audit-original",
		OverallScore:        82,
		ScoresJSON:          `{"performance":85,"content":80,"security":100,"mobile":70,"structuredData":60}`,
		IssuesJSON:          `[{"category":"mobile","severity":"error","message":"missing viewport meta tag"}]`,
		RecommendationsJSON: `["Add a viewport meta tag"]`,
		ComputedAt:          time.Now().UTC().Add(-time.Hour),
	}
}

func TestAnalyze_CacheHitSkipsFetch(t *testing.T) {
	f := &mockFetcher{page: perfectPage()}
	c := &mockCache{fresh: cachedAnalysis()}
	e := New(f, c)

	res, err := e.AnalyzeTechnicalSEO(context.Background(), "audit-new", "example.com", "https://example.com/", Options{})
	if err != nil {
		t.Fatalf("AnalyzeTechnicalSEO: %v", err)
	}

	if f.calls != 0 {
		t.Errorf("fetch calls = %d, want 0 on cache hit", f.calls)
	}
	if len(c.appended) != 0 {
		t.Errorf("appends = %d, want 0 on cache hit", len(c.appended))
	}
	if !res.FromCache {
		t.Error("FromCache = false, want true")
	}
	if res.AuditID != "audit-original" {
		t.Errorf("AuditID = %q, want the cached entry's audit id", res.AuditID)
	}
	if res.OverallScore != 82 || res.OverallGrade != "B" {
		t.Errorf("score/grade = %v/%q, want 82/B", res.OverallScore, res.OverallGrade)
	}
	if len(res.Issues) != 1 || len(res.Recommendations) != 1 {
		t.Errorf("cached issues/recs not decoded: %+v", res)
	}
}

func TestAnalyze_MissComputesAndAppends(t *testing.T) {
	f := &mockFetcher{page: perfectPage()}
	c := &mockCache{}
	e := New(f, c)

	res, err := e.AnalyzeTechnicalSEO(context.Background(), "audit-1", "example.com", "https://example.com/", Options{})
	if err != nil {
		t.Fatalf("AnalyzeTechnicalSEO: %v", err)
	}

	if f.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls)
	}
	if res.FromCache {
		t.Error("FromCache = true on a miss")
	}
	if res.OverallScore != 100 || res.OverallGrade != "A" {
		t.Errorf("score/grade = %v/%q, want 100/A", res.OverallScore, res.OverallGrade)
	}

	if len(c.appended) != 1 {
		t.Fatalf("appends = %d, want 1", len(c.appended))
	}
	row := c.appended[0]
	if row.Domain != "example.com" || row.AuditID != "audit-1" {
		t.Errorf("appended row = %+v", row)
	}
	if row.ID == "" {
		t.Error("appended row has no id")
	}

	var scores map[string]float64
	if err := json.Unmarshal([]byte(row.ScoresJSON), &scores); err != nil {
		t.Fatalf("unmarshal ScoresJSON: %v", err)
	}
	if scores[CategoryPerformance] != res.Scores[CategoryPerformance] {
		t.Error("persisted scores do not match the returned result")
	}
}

func TestAnalyze_ForceRefreshBypassesCache(t *testing.T) {
	f := &mockFetcher{page: perfectPage()}
	c := &mockCache{fresh: cachedAnalysis()}
	e := New(f, c)

	res, err := e.AnalyzeTechnicalSEO(context.Background(), "audit-2", "example.com", "https://example.com/", Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("AnalyzeTechnicalSEO: %v", err)
	}

	if f.calls != 1 {
		t.Errorf("fetch calls = %d, want 1 with ForceRefresh", f.calls)
	}
	if res.FromCache {
		t.Error("FromCache = true with ForceRefresh")
	}
	if len(c.appended) != 1 {
		t.Errorf("appends = %d, want 1", len(c.appended))
	}
}

func TestAnalyze_FetchErrorPropagates(t *testing.T) {
	f := &mockFetcher{err: fault.Errorf(fault.Fetch, "connection refused")}
	c := &mockCache{}
	e := New(f, c)

	_, err := e.AnalyzeTechnicalSEO(context.Background(), "audit-3", "example.com", "https://example.com/", Options{})
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if fault.KindOf(err) != fault.Fetch {
		t.Errorf("kind = %v, want fetch", fault.KindOf(err))
	}
	if len(c.appended) != 0 {
		t.Errorf("appends = %d, want 0 after fetch failure", len(c.appended))
	}
}

func TestHistoricalScores_AscendingAndRestartable(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := &mockCache{history: []storage.ScorePoint{
		{ComputedAt: base, OverallScore: 61},
		{ComputedAt: base.Add(24 * time.Hour), OverallScore: 72},
		{ComputedAt: base.Add(48 * time.Hour), OverallScore: 83},
	}}
	e := New(&mockFetcher{}, c)

	seq, err := e.GetHistoricalScores(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("GetHistoricalScores: %v", err)
	}

	collect := func() []float64 {
		var out []float64
		var prev time.Time
		for ts, score := range seq {
			if !prev.IsZero() && ts.Before(prev) {
				t.Error("timestamps not ascending")
			}
			prev = ts
			out = append(out, score)
		}
		return out
	}

	first := collect()
	second := collect()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("lengths = %d/%d, want 3/3 (sequence must be restartable)", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("restarted sequence diverged at %d: %v vs %v", i, first[i], second[i])
		}
	}
	if first[0] != 61 || first[2] != 83 {
		t.Errorf("scores = %v, want ascending 61..83", first)
	}

	// Early break must not panic or poison later iterations.
	for range seq {
		break
	}
	if got := collect(); len(got) != 3 {
		t.Errorf("after early break, restart yielded %d points, want 3", len(got))
	}
}
