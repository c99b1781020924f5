package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"sat/internal/chat"
)

// FetchTool 抓取网页并提取正文文本，链接转为 markdown 形式。
// FetchTool downloads a web page and reduces it to readable plain text.
// Boilerplate markup is stripped, anchors become markdown links with absolute
// URLs, and block elements become paragraph breaks.
type FetchTool struct {
	cfg    FetchConfig
	client *http.Client
}

type FetchConfig struct {
	TimeoutSec    int
	MaxBodyKB     int
	SkipTLSVerify bool
}

type fetchArgs struct {
	URL string `json:"url"`
}

const fetchUserAgent = "Mozilla/5.0 (compatible; LLMFetcher/1.0)"

// strippedTags 不含正文的标签，整棵子树跳过。
// strippedTags lists tags whose subtrees carry no readable content.
var strippedTags = map[string]bool{
	"head": true, "img": true, "script": true, "style": true, "link": true,
	"noscript": true, "iframe": true, "svg": true, "nav": true, "footer": true,
	"header": true, "form": true, "input": true, "button": true, "select": true,
	"option": true, "label": true, "canvas": true, "figure": true,
	"figcaption": true, "object": true, "embed": true, "video": true,
	"audio": true, "source": true, "track": true, "picture": true, "map": true,
	"area": true, "meta": true, "base": true, "col": true, "colgroup": true,
	"frame": true, "frameset": true, "param": true, "dialog": true,
	"template": true, "menu": true, "menuitem": true, "output": true,
	"progress": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "li": true, "br": true,
}

func NewFetchTool(cfg FetchConfig) *FetchTool {
	timeout := cfg.TimeoutSec
	if timeout <= 0 {
		timeout = 10
	}
	return &FetchTool{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func (t *FetchTool) Name() string {
	return "fetch_page_contents"
}

func (t *FetchTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "fetch the contents of a web page",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "The URL to fetch",
					},
				},
				"required": []string{"url"},
			},
		},
	}
}

func (t *FetchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in fetchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("fetch_page_contents args: %w", err)
	}

	parsed, err := url.Parse(in.URL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("URL must use http or https scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch_page_contents request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch_page_contents: %w", err)
	}
	defer resp.Body.Close()

	// 非 2xx 返回可读文本而不是错误，让模型自行决定后续动作。
	// Non-2xx becomes readable text rather than an error so the model can
	// decide what to do next.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "Failed to fetch URL", nil
	}

	maxKB := t.cfg.MaxBodyKB
	if maxKB <= 0 {
		maxKB = 2048
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxKB)*1024))
	if err != nil {
		return "", fmt.Errorf("fetch_page_contents read: %w", err)
	}

	return ExtractPageText(string(body), parsed), nil
}

// ExtractPageText 剥离样板标签后提取正文，保留链接上下文。
// ExtractPageText strips boilerplate markup and extracts the readable text.
// Anchors are rendered as [text](absoluteURL) so the model keeps link context;
// relative hrefs are resolved against base.
func ExtractPageText(rawHTML string, base *url.URL) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return strings.TrimSpace(rawHTML)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if text := strings.TrimSpace(c.Data); text != "" {
					b.WriteString(text)
					b.WriteString(" ")
				}
			case html.ElementNode:
				tag := strings.ToLower(c.Data)
				if strippedTags[tag] {
					continue
				}
				if tag == "a" {
					// 链接不再深入子树，整体转为 markdown
					// Links are flattened, never traversed into.
					text := strings.TrimSpace(nodeText(c))
					href := attrValue(c, "href")
					if text != "" && href != "" {
						b.WriteString("[" + text + "](" + resolveURL(base, href) + ") ")
					} else if text != "" {
						b.WriteString(text + " ")
					}
					continue
				}
				walk(c)
				if blockTags[tag] {
					b.WriteString("\n\n")
				}
			}
		}
	}

	if body := findElement(doc, "body"); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	return collapseWhitespace(b.String())
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.ToLower(n.Data) == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func resolveURL(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n\s*\n`)
)

func collapseWhitespace(s string) string {
	s = spaceRuns.ReplaceAllString(s, " ")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
