package competitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pagelift/pagelift/internal/llm"
)

// maxPromptRunes bounds how much competitor text goes into one prompt.
const maxPromptRunes = 12000

const systemPrompt = `You are an SEO content analyst. Study the competitor content the user provides and report what it does well, where it leaves gaps a rival could exploit, and which keywords it targets. Ground every observation in the text itself, do not speculate about the site behind it.`

const strictReprompt = `Your previous reply was not valid JSON for the required schema. Respond with ONLY a JSON object with exactly four fields: "summary" (string), "strengths" (array of strings), "contentGaps" (array of strings), and "topKeywords" (array of strings). No code fences, no commentary.`

var insightsSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]llm.SchemaProperty{
		"summary":     {Type: "string", Description: "two or three sentence summary of the content"},
		"strengths":   {Type: "array", Items: &llm.SchemaProperty{Type: "string"}},
		"contentGaps": {Type: "array", Items: &llm.SchemaProperty{Type: "string"}},
		"topKeywords": {Type: "array", Items: &llm.SchemaProperty{Type: "string"}},
	},
	Required: []string{"summary", "strengths", "contentGaps", "topKeywords"},
}

type insightsOutput struct {
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	ContentGaps []string `json:"contentGaps"`
	TopKeywords []string `json:"topKeywords"`
}

func buildPrompt(title, content string) []llm.Message {
	user := fmt.Sprintf("Title: %s\n\nContent:\n%s", title, clipRunes(content, maxPromptRunes))
	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

func parseInsights(raw string) (insightsOutput, error) {
	var out insightsOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return insightsOutput{}, fmt.Errorf("decoding model reply: %w", err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return insightsOutput{}, errors.New("model reply has empty summary")
	}
	return out, nil
}
