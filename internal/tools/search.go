package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sat/internal/chat"
)

// SearchTool 调用 SearXNG 风格的元搜索接口
// SearchTool queries a SearXNG-style metasearch endpoint and renders the
// ranked results as plain text blocks the model can read directly.
type SearchTool struct {
	baseURL string
	client  *http.Client
}

type SearchConfig struct {
	BaseURL    string
	TimeoutSec int
}

type searchArgs struct {
	Query string `json:"query"`
}

type searchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func NewSearchTool(cfg SearchConfig) *SearchTool {
	timeout := cfg.TimeoutSec
	if timeout <= 0 {
		timeout = 15
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &SearchTool{
		baseURL: base,
		client:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func (t *SearchTool) Name() string {
	return "search_web"
}

func (t *SearchTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "search the web for a specified query string",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search terms to look for",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("search_web args: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("search_web: query is required")
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", t.baseURL, url.QueryEscape(in.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("search_web request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search_web: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search_web: upstream returned %d", resp.StatusCode)
	}

	var data searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("search_web decode: %w", err)
	}
	if len(data.Results) == 0 {
		return "No results found.", nil
	}

	return renderSearchResults(data.Results), nil
}

// renderSearchResults 渲染为 "标题: 摘要 / [score] [source]" 文本块
// renderSearchResults formats each hit as "title: content" followed by its
// score and source line, blocks separated by a blank line.
func renderSearchResults(results []searchResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("%s: %s\n[score: %g] [source: %s]", r.Title, r.Content, r.Score, r.URL))
	}
	return strings.Join(blocks, "\n\n")
}
