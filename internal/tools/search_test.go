package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearchTool_Execute(t *testing.T) {
	var gotQuery, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path=%q, want /search", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{Results: []searchResult{
			{URL: "https://en.wikipedia.org/wiki/Paris", Title: "Paris", Content: "Capital of France", Score: 9.5},
			{URL: "https://example.com/paris", Title: "Paris travel", Content: "Visit Paris", Score: 3},
		}})
	}))
	defer srv.Close()

	tool := NewSearchTool(SearchConfig{BaseURL: srv.URL})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"capital of France"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotQuery != "capital of France" {
		t.Fatalf("query=%q", gotQuery)
	}
	if gotFormat != "json" {
		t.Fatalf("format=%q, want json", gotFormat)
	}

	blocks := strings.Split(out, "\n\n")
	if len(blocks) != 2 {
		t.Fatalf("blocks=%d, want 2:\n%s", len(blocks), out)
	}
	want := "Paris: Capital of France\n[score: 9.5] [source: https://en.wikipedia.org/wiki/Paris]"
	if blocks[0] != want {
		t.Fatalf("block[0]=%q\nwant %q", blocks[0], want)
	}
}

func TestSearchTool_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	tool := NewSearchTool(SearchConfig{BaseURL: srv.URL})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "No results found." {
		t.Fatalf("out=%q", out)
	}
}

func TestSearchTool_EmptyQuery(t *testing.T) {
	tool := NewSearchTool(SearchConfig{BaseURL: "http://localhost:1"})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`)); err == nil {
		t.Fatal("blank query must be rejected")
	}
}

func TestSearchTool_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := NewSearchTool(SearchConfig{BaseURL: srv.URL})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x"}`)); err == nil {
		t.Fatal("5xx must surface as an error")
	}
}
