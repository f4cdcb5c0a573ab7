package llm

import (
	"context"
	"fmt"
	"strings"
)

// EstimateTokens approximates the token count of a text. The usual
// rule of thumb for English-ish prose is ~4 characters per token; an exact
// count is not needed because phase budgets are enforced as hard truncation
// anyway.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// TruncateToBudget cuts text so EstimateTokens(result) <= budget, preferring
// a word boundary near the cut.
func TruncateToBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	maxChars := budget * 4
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

// Summarizer compresses record content down to a phase's token budget.
type Summarizer interface {
	Summarize(ctx context.Context, text string, tokenBudget int, hint string) (string, error)
}

// ClientSummarizer implements Summarizer over an LLM Client.
type ClientSummarizer struct {
	Client Client
}

// Summarize returns text compressed to at most tokenBudget tokens.
// Input already within budget is returned unchanged. The budget is a hard
// upper bound: an over-long completion is truncated, never passed through.
func (s *ClientSummarizer) Summarize(ctx context.Context, text string, tokenBudget int, hint string) (string, error) {
	if tokenBudget <= 0 {
		return "", nil
	}
	if EstimateTokens(text) <= tokenBudget {
		return text, nil
	}

	resp, err := s.Client.Complete(ctx, summarizePrompt(text, tokenBudget, hint))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("summarize: empty completion")
	}
	return TruncateToBudget(out, tokenBudget), nil
}

func summarizePrompt(text string, tokenBudget int, hint string) string {
	var b strings.Builder
	b.WriteString("Compress the following memory to at most ")
	fmt.Fprintf(&b, "%d tokens (~%d characters). ", tokenBudget, tokenBudget*4)
	b.WriteString("Keep concrete facts, names, and outcomes; drop filler. ")
	if hint != "" {
		b.WriteString(hint)
		b.WriteString(" ")
	}
	b.WriteString("Reply with the compressed text only.\n\n")
	b.WriteString(text)
	return b.String()
}
