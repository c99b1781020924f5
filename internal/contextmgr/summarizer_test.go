package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"sat/internal/provider"
	"sat/internal/storage"
)

type fakeProvider struct {
	lastPrompt string
	reply      string
	err        error
}

func (f *fakeProvider) Chat(ctx context.Context, req provider.ChatRequest, cb provider.StreamCallbacks) (provider.ChatResponse, error) {
	return provider.ChatResponse{}, fmt.Errorf("not used")
}

func (f *fakeProvider) Invoke(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.reply, f.err
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) CurrentModel() string { return "fake-model" }

func TestLLMSummarizer_PromptShape(t *testing.T) {
	p := &fakeProvider{reply: "  the condensed summary  "}
	s := NewLLMSummarizer(p)

	turns := []storage.Turn{
		{Role: storage.RoleUser, Content: "What is Go?"},
		{Role: storage.RoleAssistant, Content: "A programming language."},
	}
	got, err := s.Summarize(context.Background(), "prior context", turns)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "the condensed summary" {
		t.Fatalf("summary not trimmed: %q", got)
	}
	for _, want := range []string{
		"Previous summary to incorporate:",
		"prior context",
		"user: What is Go?",
		"assistant: A programming language.",
		"Summary:",
	} {
		if !strings.Contains(p.lastPrompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p.lastPrompt)
		}
	}
}

func TestLLMSummarizer_NoPreviousSummary(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	s := NewLLMSummarizer(p)

	if _, err := s.Summarize(context.Background(), "", []storage.Turn{{Role: storage.RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if strings.Contains(p.lastPrompt, "Previous summary to incorporate:") {
		t.Fatal("empty previous summary must not appear in the prompt")
	}
}

func TestLLMSummarizer_EmptyResult(t *testing.T) {
	p := &fakeProvider{reply: "   "}
	s := NewLLMSummarizer(p)

	_, err := s.Summarize(context.Background(), "", []storage.Turn{{Role: storage.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("blank model output must be an error")
	}
}

func TestLLMSummarizer_ProviderError(t *testing.T) {
	p := &fakeProvider{err: fmt.Errorf("upstream down")}
	s := NewLLMSummarizer(p)

	_, err := s.Summarize(context.Background(), "", []storage.Turn{{Role: storage.RoleUser, Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("provider error not propagated: %v", err)
	}
}
