package rewrite

import (
	"fmt"
	"strings"

	"github.com/pagelift/pagelift/internal/llm"
)

const systemPrompt = `You are an SEO content editor. Rewrite the content the user provides so that every target keyword appears naturally at least once, while keeping the original meaning, structure, tone, and factual claims. Do not pad, do not invent facts, do not change the language of the text.`

const eeatPrompt = ` Preserve every experience, expertise, authoritativeness, and trust signal present in the original: named people and organizations, citations and sources, statistics, credentials, and first-person experience claims must all survive the rewrite.`

const strictReprompt = `Your previous reply was not valid JSON for the required schema. Respond with ONLY a JSON object with exactly two fields: "rewrittenContent" (string, the full rewritten text) and "keywordsUsed" (array of strings). No code fences, no commentary.`

func buildPrompt(content string, keywords []string, preserveEEAT bool) []llm.Message {
	system := systemPrompt
	if preserveEEAT {
		system += eeatPrompt
	}
	user := fmt.Sprintf("Target keywords: %s\n\nContent:\n%s",
		strings.Join(keywords, ", "), content)
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func repairPrompt(missing []string) string {
	return fmt.Sprintf("The rewrite is missing these required keywords: %s. Produce the complete rewritten content again with every target keyword included at least once.",
		strings.Join(missing, ", "))
}
