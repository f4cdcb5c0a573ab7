package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.text); got != c.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(c.text), got, c.want)
		}
	}
}

func TestTruncateToBudget(t *testing.T) {
	text := strings.Repeat("word ", 100) // 500 chars, 125 tokens

	out := TruncateToBudget(text, 10)
	if EstimateTokens(out) > 10 {
		t.Errorf("truncated to %d tokens, budget 10", EstimateTokens(out))
	}
	if strings.HasSuffix(out, " ") {
		t.Error("truncation left trailing whitespace")
	}

	// Within budget passes through untouched.
	if got := TruncateToBudget("short", 10); got != "short" {
		t.Errorf("TruncateToBudget(short) = %q", got)
	}
	if got := TruncateToBudget("anything", 0); got != "" {
		t.Errorf("zero budget = %q, want empty", got)
	}
}

func TestSummarizePassthroughWithinBudget(t *testing.T) {
	mock := &MockClient{}
	s := &ClientSummarizer{Client: mock}

	out, err := s.Summarize(context.Background(), "already short", 100, "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "already short" {
		t.Errorf("out = %q, want passthrough", out)
	}
	if len(mock.Calls) != 0 {
		t.Errorf("LLM called %d times for in-budget text", len(mock.Calls))
	}
}

func TestSummarizeCompressesOverBudget(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: "the gist"}}
	s := &ClientSummarizer{Client: mock}

	long := strings.Repeat("detail ", 200)
	out, err := s.Summarize(context.Background(), long, 20, "keep names")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "the gist" {
		t.Errorf("out = %q, want completion", out)
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(mock.Calls))
	}
	if !strings.Contains(mock.Calls[0], "keep names") {
		t.Error("hint not forwarded in prompt")
	}
}

func TestSummarizeTruncatesOverlongCompletion(t *testing.T) {
	// The model ignored the budget; the budget still holds.
	mock := &MockClient{Response: &Response{Content: strings.Repeat("blah ", 200)}}
	s := &ClientSummarizer{Client: mock}

	out, err := s.Summarize(context.Background(), strings.Repeat("x ", 500), 10, "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if EstimateTokens(out) > 10 {
		t.Errorf("completion leaked %d tokens past a 10 token budget", EstimateTokens(out))
	}
}

func TestSummarizeEmptyCompletion(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: "   "}}
	s := &ClientSummarizer{Client: mock}

	if _, err := s.Summarize(context.Background(), strings.Repeat("x ", 500), 10, ""); err == nil {
		t.Error("empty completion accepted")
	}
}

func TestSummarizeClientError(t *testing.T) {
	mock := &MockClient{Err: errors.New("connection refused")}
	s := &ClientSummarizer{Client: mock}

	if _, err := s.Summarize(context.Background(), strings.Repeat("x ", 500), 10, ""); err == nil {
		t.Error("client error swallowed")
	}
}
