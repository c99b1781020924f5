package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_ConversationCRUD(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation()
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("conversation id should not be empty")
	}

	loaded, turns, err := store.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if loaded.ID != conv.ID {
		t.Fatalf("ID=%q, want %q", loaded.ID, conv.ID)
	}
	if len(turns) != 0 {
		t.Fatalf("new conversation should have no turns, got %d", len(turns))
	}

	if err := store.DeleteConversation(conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, _, err := store.GetConversation(conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSQLiteStore_GetConversation_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, _, err := store.GetConversation("nope"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSQLiteStore_AppendTurn_Ordering(t *testing.T) {
	store := newTestStore(t)
	conv, err := store.CreateConversation()
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	inputs := []Turn{
		{Role: RoleUser, Content: "What is the capital of France?"},
		{Role: RoleAssistant, Content: "Paris.", Reasoning: "simple fact"},
		{Role: RoleUser, Content: "And of Spain?"},
	}
	for i, in := range inputs {
		saved, err := store.AppendTurn(conv.ID, in)
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
		if saved.Seq != i {
			t.Fatalf("Seq=%d, want %d", saved.Seq, i)
		}
	}

	_, turns, err := store.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(turns) != len(inputs) {
		t.Fatalf("len(turns)=%d, want %d", len(turns), len(inputs))
	}
	for i, turn := range turns {
		if turn.Role != inputs[i].Role || turn.Content != inputs[i].Content {
			t.Fatalf("turn %d = %+v, want role=%q content=%q", i, turn, inputs[i].Role, inputs[i].Content)
		}
	}
	if turns[1].Reasoning != "simple fact" {
		t.Fatalf("Reasoning=%q, want %q", turns[1].Reasoning, "simple fact")
	}
}

func TestSQLiteStore_AppendTurn_ToolCalls(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.CreateConversation()

	turn := Turn{
		Role:    RoleAssistant,
		Content: "Found it.",
		ToolCalls: []ToolCallRecord{
			{ID: "call_1", Name: "search_web", Arguments: map[string]any{"query": "capital of France"}, Result: "Paris ..."},
			{ID: "call_2", Name: "fetch_page_contents", Arguments: map[string]any{"url": "https://example.com"}, Orphaned: true},
		},
	}
	if _, err := store.AppendTurn(conv.ID, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	_, turns, err := store.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(turns) != 1 || len(turns[0].ToolCalls) != 2 {
		t.Fatalf("expected 1 turn with 2 tool calls, got %+v", turns)
	}
	got := turns[0].ToolCalls
	if got[0].ID != "call_1" || got[0].Name != "search_web" || got[0].Result == "" {
		t.Fatalf("first call = %+v", got[0])
	}
	if q, ok := got[0].Arguments["query"].(string); !ok || q != "capital of France" {
		t.Fatalf("arguments round-trip broken: %+v", got[0].Arguments)
	}
	if !got[1].Orphaned || got[1].Result != "" {
		t.Fatalf("second call should be orphaned without result: %+v", got[1])
	}
}

func TestSQLiteStore_TitleFromFirstUserTurn(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.CreateConversation()

	long := strings.Repeat("x", 80)
	if _, err := store.AppendTurn(conv.ID, Turn{Role: RoleUser, Content: long}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	loaded, _, _ := store.GetConversation(conv.ID)
	if len([]rune(loaded.Title)) != 50 || !strings.HasSuffix(loaded.Title, "...") {
		t.Fatalf("Title=%q, want 47 chars + ellipsis", loaded.Title)
	}

	// 第二条用户消息不应覆盖标题 / second user turn must not overwrite the title
	if _, err := store.AppendTurn(conv.ID, Turn{Role: RoleUser, Content: "another"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	loaded2, _, _ := store.GetConversation(conv.ID)
	if loaded2.Title != loaded.Title {
		t.Fatalf("title changed: %q -> %q", loaded.Title, loaded2.Title)
	}
}

func TestSQLiteStore_UpdateSummary(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.CreateConversation()

	if err := store.UpdateSummary(conv.ID, "first summary", 3); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	if err := store.UpdateSummary(conv.ID, "second summary", 7); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	loaded, _, _ := store.GetConversation(conv.ID)
	if loaded.Summary != "second summary" {
		t.Fatalf("Summary=%q, want overwrite semantics", loaded.Summary)
	}
	if loaded.SummarizedThrough != 7 {
		t.Fatalf("SummarizedThrough=%d, want 7", loaded.SummarizedThrough)
	}

	if err := store.UpdateSummary("missing", "x", 0); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListConversations_Order(t *testing.T) {
	store := newTestStore(t)
	a, _ := store.CreateConversation()
	b, _ := store.CreateConversation()

	// 写入 b 使其 updated_at 领先 / touch b so it sorts first
	if _, err := store.AppendTurn(b.ID, Turn{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	convs, err := store.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("len=%d, want 2", len(convs))
	}
	_ = a
	if convs[0].ID != b.ID {
		// RFC3339 second resolution can tie; only fail when order is provably wrong
		if convs[0].UpdatedAt != convs[1].UpdatedAt {
			t.Fatalf("most recently updated should sort first, got %q", convs[0].ID)
		}
	}
}
