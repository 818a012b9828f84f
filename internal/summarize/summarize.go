// Package summarize provides the optional generative summary capability
// used to enrich embeddings with a dense technical digest.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"
)

// Summarizer condenses article text. Implementations bound their output
// by the configured token budget.
type Summarizer interface {
	Summarize(ctx context.Context, title, text string) (string, error)
}

// maxInputChars bounds the text sent per request; article bodies beyond
// this add cost without changing the summary.
const maxInputChars = 15000

const promptTemplate = `Summarize this technical blog post in 3-5 sentences.
Focus on the core technical contribution: what was built or changed, the key
design decisions, and any reported results. Skip marketing language.

Title: %s

%s`

// GenAI is a Gemini-backed Summarizer.
type GenAI struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGenAI builds the summarizer. An empty model defaults to a small
// flash-class model suited to summarization volume.
func NewGenAI(ctx context.Context, apiKey, model string, maxTokens int) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAI{client: client, model: model, maxTokens: int32(maxTokens)}, nil
}

// Summarize produces the digest for one article.
func (g *GenAI) Summarize(ctx context.Context, title, text string) (string, error) {
	prompt := fmt.Sprintf(promptTemplate, title, trimToByteBudget(text, maxInputChars))

	result, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{MaxOutputTokens: g.maxTokens})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(result.Text()), nil
}

// trimToByteBudget cuts s to at most n bytes, backing up to a rune
// boundary so the result stays valid UTF-8.
func trimToByteBudget(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
