package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAuditCreate(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /audits": `{"id":"rep-123","status":"pending","url":"https://example.com"}`,
	})

	client := ts.client()

	req := map[string]any{
		"projectId":  "proj-1",
		"reportName": "Homepage",
		"url":        "https://example.com",
		"options":    map[string]any{"forceRefresh": true},
	}
	resp, err := client.post(ctx, "/audits", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report reportView
	if err := decodeJSON(resp, &report); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if report.ID != "rep-123" {
		t.Errorf("id = %q, want rep-123", report.ID)
	}
	if report.Status != "pending" {
		t.Errorf("status = %q, want pending", report.Status)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["projectId"] != "proj-1" {
		t.Errorf("body.projectId = %v, want proj-1", body["projectId"])
	}
	opts, ok := body["options"].(map[string]any)
	if !ok {
		t.Fatal("expected options to be a map")
	}
	if opts["forceRefresh"] != true {
		t.Errorf("body.options.forceRefresh = %v, want true", opts["forceRefresh"])
	}
}

func TestAuditCreate_MissingFlags(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"audit", "create"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestRewriteRequestBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /rewrites": `{"rewrite":{"id":"rw-1","rewrittenContent":"better seo content","keywordCoverageIncomplete":false}}`,
	})

	client := ts.client()
	req := map[string]any{
		"action":          "rewriteContent",
		"projectId":       "proj-1",
		"originalContent": "old content",
		"targetKeywords":  []string{"seo"},
		"preserveEEAT":    true,
	}
	resp, err := client.post(ctx, "/rewrites", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Rewrite struct {
			ID               string `json:"id"`
			RewrittenContent string `json:"rewrittenContent"`
		} `json:"rewrite"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Rewrite.ID != "rw-1" {
		t.Errorf("id = %q, want rw-1", result.Rewrite.ID)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["action"] != "rewriteContent" {
		t.Errorf("body.action = %v, want rewriteContent", body["action"])
	}
	if body["preserveEEAT"] != true {
		t.Errorf("body.preserveEEAT = %v, want true", body["preserveEEAT"])
	}
}

func TestScores_PathEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /domains/example.com/scores": `{"domain":"example.com","scores":[{"timestamp":"2026-01-02T03:04:05Z","score":82}]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/domains/"+url.PathEscape("example.com")+"/scores")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Domain string `json:"domain"`
		Scores []struct {
			Timestamp string  `json:"timestamp"`
			Score     float64 `json:"score"`
		} `json:"scores"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(result.Scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(result.Scores))
	}
	if result.Scores[0].Score != 82 {
		t.Errorf("score = %f, want 82", result.Scores[0].Score)
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.get(ctx, "/audits/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention the status code", err.Error())
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to include the server message", err.Error())
	}
}

func TestProjectList_QueryAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /projects": `{"projects":[{"id":"proj-1","name":"Main site","domain":"example.com"}]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/projects")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Projects []struct {
			ID string `json:"id"`
		} `json:"projects"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(result.Projects) != 1 || result.Projects[0].ID != "proj-1" {
		t.Errorf("projects = %+v, want one entry proj-1", result.Projects)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
}

func TestCompetitorList_QueryEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /competitors": `{"competitors":[]}`,
	})

	client := ts.client()
	projectID := "proj 1&x"
	_, err := client.get(ctx, "/competitors?projectId="+url.QueryEscape(projectID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqPath := ts.requests[0].Path
	if strings.Contains(reqPath, "&x") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
	if !strings.Contains(reqPath, "projectId=proj+1%26x") {
		t.Errorf("unexpected encoded path: %q", reqPath)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "hello")
	if strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "hello" {
		t.Errorf("result = %q, want hello", result)
	}

	noColor = false
	result = colorize(colorGreen, "hello")
	if !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
	if !strings.Contains(result, "hello") {
		t.Errorf("result = %q, want it to contain hello", result)
	}
}
