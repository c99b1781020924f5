package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"sat/internal/provider"
	"sat/internal/storage"
)

// Summarizer 摘要策略接口
// Summarizer condenses retired turns into a compact summary. The existing
// summary is passed in so summaries compound instead of discarding prior
// compression.
type Summarizer interface {
	Summarize(ctx context.Context, existingSummary string, turns []storage.Turn) (string, error)
}

// LLMSummarizer 使用 provider 单发调用生成摘要
// LLMSummarizer generates summaries with a single-shot provider call.
type LLMSummarizer struct {
	provider provider.Provider
}

// NewLLMSummarizer 创建 LLM 摘要器
// NewLLMSummarizer creates an LLM-backed summarizer
func NewLLMSummarizer(p provider.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: p}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, existingSummary string, turns []storage.Turn) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("summarizer provider not configured")
	}
	prompt := buildSummaryPrompt(existingSummary, turns)
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("no content to summarize")
	}

	summary, err := s.provider.Invoke(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("llm summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("llm summarize: empty result")
	}
	return summary, nil
}

// buildSummaryPrompt 构建摘要输入；带入旧摘要使压缩可叠加。
// buildSummaryPrompt renders the summarization input. The previous summary is
// embedded so each round compounds on the last.
func buildSummaryPrompt(existingSummary string, turns []storage.Turn) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation concisely, preserving key facts, decisions, and context. ")
	b.WriteString("Focus on information that would be useful for continuing the conversation.\n")

	if strings.TrimSpace(existingSummary) != "" {
		b.WriteString("\nPrevious summary to incorporate:\n")
		b.WriteString(existingSummary)
		b.WriteString("\n")
	}

	b.WriteString("\nConversation to summarize:\n")
	for _, turn := range turns {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nSummary:")
	return b.String()
}
