package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"sat/internal/contextmgr"
	"sat/internal/logging"
	"sat/internal/orchestrator"
	"sat/internal/provider"
	"sat/internal/runtime"
	"sat/internal/storage"
	"sat/internal/stream"
	"sat/internal/tools"
)

type cannedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *cannedProvider) Chat(ctx context.Context, req provider.ChatRequest, cb provider.StreamCallbacks) (provider.ChatResponse, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()
	if idx >= len(p.replies) {
		return provider.ChatResponse{}, fmt.Errorf("no canned reply %d", idx)
	}
	reply := p.replies[idx]
	if cb.OnTextChunk != nil {
		cb.OnTextChunk(reply)
	}
	return provider.ChatResponse{Content: reply}, nil
}

func (p *cannedProvider) Invoke(context.Context, string) (string, error) { return "summary", nil }
func (p *cannedProvider) Name() string                                   { return "canned" }
func (p *cannedProvider) CurrentModel() string                           { return "test-model" }

func newTestServer(t *testing.T, replies ...string) (*httptest.Server, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "sat.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := &cannedProvider{replies: replies}
	rec := contextmgr.NewReconciler(store, contextmgr.NewLLMSummarizer(p), contextmgr.DefaultTokenizer(), contextmgr.Config{})
	rt := runtime.NewRuntime(p, tools.NewRegistry(), runtime.Config{})
	orch := orchestrator.New(store, rec, rt, logging.Nop())

	srv := httptest.NewServer(New(orch, store, logging.Nop()))
	t.Cleanup(srv.Close)
	return srv, store
}

func postStream(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/stream", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStream_NewConversation(t *testing.T) {
	srv, store := newTestServer(t, "Paris.")

	resp := postStream(t, srv, `{"userInput":"capital of France?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("Content-Type=%q", ct)
	}
	convID := resp.Header.Get("X-Conversation-Id")
	if convID == "" {
		t.Fatal("X-Conversation-Id header missing for new conversation")
	}

	dec := stream.NewDecoder(resp.Body)
	var text strings.Builder
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Type == stream.EventToken {
			text.WriteString(ev.Content)
		}
	}
	if text.String() != "Paris." {
		t.Fatalf("streamed=%q", text.String())
	}

	_, turns, err := store.GetConversation(convID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns=%d", len(turns))
	}
}

func TestStream_ExistingConversation(t *testing.T) {
	srv, store := newTestServer(t, "first", "second")

	resp := postStream(t, srv, `{"userInput":"one"}`)
	io.Copy(io.Discard, resp.Body)
	convID := resp.Header.Get("X-Conversation-Id")

	resp2 := postStream(t, srv, fmt.Sprintf(`{"userInput":"two","conversationId":%q}`, convID))
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp2.StatusCode)
	}
	io.Copy(io.Discard, resp2.Body)

	_, turns, _ := store.GetConversation(convID)
	if len(turns) != 4 {
		t.Fatalf("turns=%d, want 4 after two rounds", len(turns))
	}
}

func TestStream_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	if resp := postStream(t, srv, `{"userInput":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank input status=%d", resp.StatusCode)
	}
	if resp := postStream(t, srv, `{not json`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d", resp.StatusCode)
	}
	if resp := postStream(t, srv, `{"userInput":"hi","conversationId":"nope"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation status=%d", resp.StatusCode)
	}
}

func TestConversationCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	// create
	resp, err := http.Post(srv.URL+"/api/conversations", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d", resp.StatusCode)
	}
	var conv storage.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("created conversation has no id")
	}

	// list
	listResp, err := http.Get(srv.URL + "/api/conversations")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer listResp.Body.Close()
	var convs []storage.Conversation
	if err := json.NewDecoder(listResp.Body).Decode(&convs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Fatalf("list=%+v", convs)
	}

	// get
	getResp, err := http.Get(srv.URL + "/api/conversations/" + conv.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status=%d", getResp.StatusCode)
	}

	// delete
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/conversations/"+conv.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status=%d", delResp.StatusCode)
	}

	// get after delete
	gone, err := http.Get(srv.URL + "/api/conversations/" + conv.ID)
	if err != nil {
		t.Fatalf("GET after delete: %v", err)
	}
	defer gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete=%d", gone.StatusCode)
	}
}
