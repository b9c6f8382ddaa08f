package rewrite

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pagelift/pagelift/internal/fault"
	"github.com/pagelift/pagelift/internal/llm"
	"github.com/pagelift/pagelift/internal/storage"
)

type mockGen struct {
	replies  []string
	errs     []error
	calls    int
	messages [][]llm.Message
}

func (m *mockGen) Complete(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error) {
	i := m.calls
	m.calls++
	m.messages = append(m.messages, append([]llm.Message(nil), messages...))
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return "", fmt.Errorf("unexpected generator call %d", i)
}

type mockStore struct {
	projects map[string]storage.Project
	rewrites map[string]storage.Rewrite
	saved    []storage.Rewrite
	deleted  []string
}

func newMockStore() *mockStore {
	return &mockStore{
		projects: map[string]storage.Project{
			"p1": {ID: "p1", UserID: "u1", Name: "Shop"},
			"p2": {ID: "p2", UserID: "u2", Name: "Foreign"},
		},
		rewrites: map[string]storage.Rewrite{},
	}
}

func (m *mockStore) GetProject(id string) (storage.Project, error) {
	p, ok := m.projects[id]
	if !ok {
		return storage.Project{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *mockStore) SaveRewrite(rw storage.Rewrite) error {
	m.saved = append(m.saved, rw)
	m.rewrites[rw.ID] = rw
	return nil
}

func (m *mockStore) GetRewrite(id string) (storage.Rewrite, error) {
	rw, ok := m.rewrites[id]
	if !ok {
		return storage.Rewrite{}, storage.ErrNotFound
	}
	return rw, nil
}

func (m *mockStore) ListContentRewrites(contentID, userID string) ([]storage.Rewrite, error) {
	var out []storage.Rewrite
	for _, rw := range m.rewrites {
		if rw.ContentID == contentID {
			out = append(out, rw)
		}
	}
	return out, nil
}

func (m *mockStore) ListProjectRewrites(projectID string, limit int) ([]storage.Rewrite, error) {
	var out []storage.Rewrite
	for _, rw := range m.rewrites {
		if rw.ProjectID == projectID {
			out = append(out, rw)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) DeleteRewrite(id string) error {
	if _, ok := m.rewrites[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.rewrites, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func validParams() Params {
	return Params{
		ProjectID:       "p1",
		ContentID:       "c1",
		OriginalContent: "Our widgets ship quickly and come with a two-year warranty.",
		TargetKeywords:  []string{"seo optimization"},
	}
}

func goodReply() string {
	return `{"rewrittenContent":"Our widgets ship quickly, and with the right SEO Optimization your product pages rank too. Two-year warranty included.","keywordsUsed":["seo optimization"]}`
}

func TestRewriteContent_Validation(t *testing.T) {
	e := New(newMockStore(), &mockGen{})

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"empty content", func(p *Params) { p.OriginalContent = "" }},
		{"whitespace content", func(p *Params) { p.OriginalContent = "   \n\t" }},
		{"no keywords", func(p *Params) { p.TargetKeywords = nil }},
		{"blank keywords", func(p *Params) { p.TargetKeywords = []string{" ", ""} }},
		{"missing project", func(p *Params) { p.ProjectID = "" }},
	}
	for _, tt := range tests {
		p := validParams()
		tt.mutate(&p)
		_, err := e.RewriteContent(context.Background(), "u1", p)
		if fault.KindOf(err) != fault.Validation {
			t.Errorf("%s: kind = %v, want validation", tt.name, fault.KindOf(err))
		}
	}
}

func TestRewriteContent_ForeignProjectLooksMissing(t *testing.T) {
	gen := &mockGen{}
	e := New(newMockStore(), gen)

	p := validParams()
	p.ProjectID = "p2"
	_, err := e.RewriteContent(context.Background(), "u1", p)
	if fault.KindOf(err) != fault.NotFound {
		t.Errorf("kind = %v, want not found", fault.KindOf(err))
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times before authorization", gen.calls)
	}
}

func TestRewriteContent_HappyPath(t *testing.T) {
	store := newMockStore()
	gen := &mockGen{replies: []string{goodReply()}}
	e := New(store, gen)

	p := validParams()
	rw, err := e.RewriteContent(context.Background(), "u1", p)
	if err != nil {
		t.Fatalf("RewriteContent: %v", err)
	}

	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if !strings.Contains(strings.ToLower(rw.RewrittenContent), "seo optimization") {
		t.Errorf("rewritten content missing keyword: %q", rw.RewrittenContent)
	}
	if rw.KeywordCoverageIncomplete {
		t.Error("KeywordCoverageIncomplete = true, want false")
	}
	if rw.OriginalContent != p.OriginalContent {
		t.Error("original content not retained verbatim")
	}
	if rw.TargetKeywordsJSON != `["seo optimization"]` {
		t.Errorf("TargetKeywordsJSON = %q", rw.TargetKeywordsJSON)
	}
	if rw.ID == "" || rw.CreatedAt.IsZero() {
		t.Errorf("row not fully populated: %+v", rw)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d rows, want 1", len(store.saved))
	}
}

func TestRewriteContent_SchemaRetryRecovers(t *testing.T) {
	gen := &mockGen{replies: []string{"Sure! Here is the rewrite you asked for.", goodReply()}}
	e := New(newMockStore(), gen)

	_, err := e.RewriteContent(context.Background(), "u1", validParams())
	if err != nil {
		t.Fatalf("RewriteContent: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", gen.calls)
	}

	second := gen.messages[1]
	last := second[len(second)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "valid JSON") {
		t.Errorf("second call did not end with the stricter re-prompt: %+v", last)
	}
}

func TestRewriteContent_SchemaRetriesExhausted(t *testing.T) {
	gen := &mockGen{replies: []string{"nope", "still nope", `{"rewrittenContent":""}`}}
	store := newMockStore()
	e := New(store, gen)

	_, err := e.RewriteContent(context.Background(), "u1", validParams())
	if fault.KindOf(err) != fault.Generation {
		t.Fatalf("kind = %v, want generation", fault.KindOf(err))
	}
	if gen.calls != 3 {
		t.Errorf("generator calls = %d, want 3 (initial + 2 re-prompts)", gen.calls)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d rows after generation failure, want 0", len(store.saved))
	}
}

func TestRewriteContent_KeywordRepairRecovers(t *testing.T) {
	gen := &mockGen{replies: []string{
		`{"rewrittenContent":"A rewrite that forgot the point.","keywordsUsed":[]}`,
		goodReply(),
	}}
	e := New(newMockStore(), gen)

	rw, err := e.RewriteContent(context.Background(), "u1", validParams())
	if err != nil {
		t.Fatalf("RewriteContent: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", gen.calls)
	}
	if rw.KeywordCoverageIncomplete {
		t.Error("KeywordCoverageIncomplete = true after successful repair")
	}

	second := gen.messages[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "seo optimization") {
		t.Errorf("repair prompt does not name the missing keyword: %q", last.Content)
	}
}

func TestRewriteContent_IncompleteCoverageFlagged(t *testing.T) {
	gen := &mockGen{replies: []string{
		`{"rewrittenContent":"First try, no keyword.","keywordsUsed":[]}`,
		`{"rewrittenContent":"Second try, still no keyword.","keywordsUsed":[]}`,
	}}
	store := newMockStore()
	e := New(store, gen)

	rw, err := e.RewriteContent(context.Background(), "u1", validParams())
	if err != nil {
		t.Fatalf("RewriteContent: %v", err)
	}
	if !rw.KeywordCoverageIncomplete {
		t.Error("KeywordCoverageIncomplete = false, want true")
	}
	if rw.RewrittenContent != "Second try, still no keyword." {
		t.Errorf("content = %q, want the repaired attempt", rw.RewrittenContent)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d rows, want 1 (partial success is persisted)", len(store.saved))
	}
}

func TestRewriteContent_RepairFailureKeepsFirstOutput(t *testing.T) {
	gen := &mockGen{
		replies: []string{`{"rewrittenContent":"Usable rewrite without the keyword.","keywordsUsed":[]}`, ""},
		errs:    []error{nil, fault.Errorf(fault.Generation, "gave up after 3 attempts")},
	}
	e := New(newMockStore(), gen)

	rw, err := e.RewriteContent(context.Background(), "u1", validParams())
	if err != nil {
		t.Fatalf("RewriteContent: %v", err)
	}
	if !rw.KeywordCoverageIncomplete {
		t.Error("KeywordCoverageIncomplete = false, want true")
	}
	if rw.RewrittenContent != "Usable rewrite without the keyword." {
		t.Errorf("content = %q, want the first output", rw.RewrittenContent)
	}
}

func TestRewriteContent_DeduplicatesKeywords(t *testing.T) {
	gen := &mockGen{replies: []string{goodReply()}}
	e := New(newMockStore(), gen)

	p := validParams()
	p.TargetKeywords = []string{"seo optimization", " SEO Optimization ", "seo optimization"}
	rw, err := e.RewriteContent(context.Background(), "u1", p)
	if err != nil {
		t.Fatalf("RewriteContent: %v", err)
	}
	if rw.TargetKeywordsJSON != `["seo optimization"]` {
		t.Errorf("TargetKeywordsJSON = %q, want deduplicated", rw.TargetKeywordsJSON)
	}
}

func TestContentRewrites_RequiresContentID(t *testing.T) {
	e := New(newMockStore(), &mockGen{})
	_, err := e.ContentRewrites(context.Background(), "u1", "")
	if fault.KindOf(err) != fault.Validation {
		t.Errorf("kind = %v, want validation", fault.KindOf(err))
	}
}

func TestProjectRewrites_ForeignProject(t *testing.T) {
	e := New(newMockStore(), &mockGen{})
	_, err := e.ProjectRewrites(context.Background(), "u1", "p2", 10)
	if fault.KindOf(err) != fault.NotFound {
		t.Errorf("kind = %v, want not found", fault.KindOf(err))
	}
}

func TestDeleteRewrite(t *testing.T) {
	store := newMockStore()
	store.rewrites["rw1"] = storage.Rewrite{ID: "rw1", ProjectID: "p1"}
	store.rewrites["rw2"] = storage.Rewrite{ID: "rw2", ProjectID: "p2"}
	e := New(store, &mockGen{})

	if err := e.DeleteRewrite(context.Background(), "u1", "rw1"); err != nil {
		t.Fatalf("DeleteRewrite: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "rw1" {
		t.Errorf("deleted = %v, want [rw1]", store.deleted)
	}

	if err := e.DeleteRewrite(context.Background(), "u1", "rw2"); fault.KindOf(err) != fault.NotFound {
		t.Errorf("foreign delete kind = %v, want not found", fault.KindOf(err))
	}
	if _, ok := store.rewrites["rw2"]; !ok {
		t.Error("foreign rewrite was deleted")
	}

	if err := e.DeleteRewrite(context.Background(), "u1", "ghost"); fault.KindOf(err) != fault.NotFound {
		t.Errorf("missing delete kind = %v, want not found", fault.KindOf(err))
	}
}
