// Package rewrite produces keyword-targeted content rewrites through an LLM
// with a strict structured-output contract.
package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pagelift/pagelift/internal/fault"
	"github.com/pagelift/pagelift/internal/llm"
	"github.com/pagelift/pagelift/internal/storage"
)

// schemaRetries bounds the stricter re-prompts after a malformed model reply.
const schemaRetries = 2

// Generator produces schema-constrained completions.
type Generator interface {
	Complete(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error)
}

// Store persists rewrites and resolves project ownership.
type Store interface {
	GetProject(id string) (storage.Project, error)
	SaveRewrite(rw storage.Rewrite) error
	GetRewrite(id string) (storage.Rewrite, error)
	ListContentRewrites(contentID, userID string) ([]storage.Rewrite, error)
	ListProjectRewrites(projectID string, limit int) ([]storage.Rewrite, error)
	DeleteRewrite(id string) error
}

// Params describe one rewrite request.
type Params struct {
	ProjectID       string   `json:"projectId"`
	ContentID       string   `json:"contentId"`
	OriginalContent string   `json:"originalContent"`
	TargetKeywords  []string `json:"targetKeywords"`
	PreserveEEAT    bool     `json:"preserveEEAT"`
}

// Engine drives rewrite generation, validation, and persistence.
type Engine struct {
	store  Store
	gen    Generator
	logger *slog.Logger
}

// New creates an Engine with the given collaborators.
func New(store Store, gen Generator) *Engine {
	return &Engine{
		store:  store,
		gen:    gen,
		logger: slog.Default(),
	}
}

var rewriteSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]llm.SchemaProperty{
		"rewrittenContent": {Type: "string", Description: "the complete rewritten content"},
		"keywordsUsed":     {Type: "array", Items: &llm.SchemaProperty{Type: "string"}},
	},
	Required: []string{"rewrittenContent", "keywordsUsed"},
}

type rewriteOutput struct {
	RewrittenContent string   `json:"rewrittenContent"`
	KeywordsUsed     []string `json:"keywordsUsed"`
}

// RewriteContent generates a rewrite of the supplied content that targets
// every keyword, persists it as a new immutable version, and returns the row.
// If keyword coverage is still incomplete after one repair attempt, the
// rewrite is saved with KeywordCoverageIncomplete set instead of failing.
func (e *Engine) RewriteContent(ctx context.Context, userID string, p Params) (storage.Rewrite, error) {
	keywords := cleanKeywords(p.TargetKeywords)
	if strings.TrimSpace(p.OriginalContent) == "" {
		return storage.Rewrite{}, fault.New(fault.Validation, "originalContent is required")
	}
	if len(keywords) == 0 {
		return storage.Rewrite{}, fault.New(fault.Validation, "targetKeywords must contain at least one keyword")
	}
	if err := e.authorizeProject(userID, p.ProjectID); err != nil {
		return storage.Rewrite{}, err
	}

	messages := buildPrompt(p.OriginalContent, keywords, p.PreserveEEAT)
	out, messages, err := e.generate(ctx, messages)
	if err != nil {
		return storage.Rewrite{}, err
	}

	missing := missingKeywords(out.RewrittenContent, keywords)
	if len(missing) > 0 {
		out, missing = e.repair(ctx, messages, out, keywords, missing)
	}
	incomplete := len(missing) > 0
	if incomplete {
		e.logger.Warn("rewrite persisted with incomplete keyword coverage",
			"project_id", p.ProjectID, "missing", missing)
	}

	kwJSON, err := json.Marshal(keywords)
	if err != nil {
		return storage.Rewrite{}, fmt.Errorf("encoding keywords: %w", err)
	}
	rw := storage.Rewrite{
		ID:                        uuid.New().String(),
		ProjectID:                 p.ProjectID,
		ContentID:                 p.ContentID,
		OriginalContent:           p.OriginalContent,
		RewrittenContent:          out.RewrittenContent,
		TargetKeywordsJSON:        string(kwJSON),
		PreserveEEAT:              p.PreserveEEAT,
		KeywordCoverageIncomplete: incomplete,
		CreatedAt:                 time.Now().UTC(),
	}
	if err := e.store.SaveRewrite(rw); err != nil {
		return storage.Rewrite{}, fmt.Errorf("saving rewrite: %w", err)
	}
	return rw, nil
}

// ContentRewrites returns a content item's versions newest-first, limited to
// projects the caller owns.
func (e *Engine) ContentRewrites(ctx context.Context, userID, contentID string) ([]storage.Rewrite, error) {
	if contentID == "" {
		return nil, fault.New(fault.Validation, "contentId is required")
	}
	return e.store.ListContentRewrites(contentID, userID)
}

// ProjectRewrites returns a project's rewrites newest-first, at most limit
// rows when limit is positive.
func (e *Engine) ProjectRewrites(ctx context.Context, userID, projectID string, limit int) ([]storage.Rewrite, error) {
	if err := e.authorizeProject(userID, projectID); err != nil {
		return nil, err
	}
	return e.store.ListProjectRewrites(projectID, limit)
}

// DeleteRewrite removes one version. Other versions of the same content are
// untouched.
func (e *Engine) DeleteRewrite(ctx context.Context, userID, id string) error {
	if id == "" {
		return fault.New(fault.Validation, "rewriteId is required")
	}
	rw, err := e.store.GetRewrite(id)
	if errors.Is(err, storage.ErrNotFound) {
		return fault.New(fault.NotFound, "rewrite not found")
	}
	if err != nil {
		return fmt.Errorf("loading rewrite: %w", err)
	}
	if err := e.authorizeProject(userID, rw.ProjectID); err != nil {
		return err
	}
	if err := e.store.DeleteRewrite(id); err != nil {
		return fmt.Errorf("deleting rewrite: %w", err)
	}
	return nil
}

// generate runs the completion loop, re-prompting after malformed replies up
// to schemaRetries times. The returned message history includes the accepted
// assistant reply so follow-up turns can build on it.
func (e *Engine) generate(ctx context.Context, messages []llm.Message) (rewriteOutput, []llm.Message, error) {
	for attempt := 0; ; attempt++ {
		raw, err := e.gen.Complete(ctx, messages, rewriteSchema)
		if err != nil {
			return rewriteOutput{}, messages, err
		}

		out, perr := parseOutput(raw)
		if perr == nil {
			messages = append(messages, llm.Message{Role: "assistant", Content: raw})
			return out, messages, nil
		}
		if attempt == schemaRetries {
			return rewriteOutput{}, messages,
				fault.Wrap(fault.Generation, perr, "model output failed schema validation after re-prompts")
		}

		e.logger.Warn("rewrite output failed schema validation",
			"attempt", attempt+1, "error", perr)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: raw},
			llm.Message{Role: "user", Content: strictReprompt},
		)
	}
}

// repair asks the model once to work the missing keywords in. Any failure
// keeps the original output; the caller records the remaining gap as a flag.
func (e *Engine) repair(ctx context.Context, messages []llm.Message, out rewriteOutput, keywords, missing []string) (rewriteOutput, []string) {
	messages = append(messages, llm.Message{Role: "user", Content: repairPrompt(missing)})

	raw, err := e.gen.Complete(ctx, messages, rewriteSchema)
	if err != nil {
		e.logger.Warn("keyword repair attempt failed", "error", err)
		return out, missing
	}
	repaired, err := parseOutput(raw)
	if err != nil {
		e.logger.Warn("keyword repair reply failed schema validation", "error", err)
		return out, missing
	}
	return repaired, missingKeywords(repaired.RewrittenContent, keywords)
}

func parseOutput(raw string) (rewriteOutput, error) {
	var out rewriteOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return rewriteOutput{}, fmt.Errorf("decoding model reply: %w", err)
	}
	if strings.TrimSpace(out.RewrittenContent) == "" {
		return rewriteOutput{}, errors.New("model reply has empty rewrittenContent")
	}
	return out, nil
}

// missingKeywords returns the keywords absent from content, matched
// case-insensitively.
func missingKeywords(content string, keywords []string) []string {
	lower := strings.ToLower(content)
	var missing []string
	for _, kw := range keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			missing = append(missing, kw)
		}
	}
	return missing
}

// cleanKeywords trims, drops empties, and removes case-insensitive
// duplicates while preserving order.
func cleanKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	var out []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	return out
}

func (e *Engine) authorizeProject(userID, projectID string) error {
	if projectID == "" {
		return fault.New(fault.Validation, "projectId is required")
	}
	project, err := e.store.GetProject(projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return fault.New(fault.NotFound, "project not found")
	}
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	if project.UserID != userID {
		// Foreign projects look identical to missing ones.
		return fault.New(fault.NotFound, "project not found")
	}
	return nil
}
