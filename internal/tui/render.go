package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
)

const resultPreviewRunes = 160

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderToolCall 渲染一条工具调用提示
// RenderToolCall renders a one-line tool invocation notice
func RenderToolCall(name string, args map[string]any, theme Theme) string {
	label := theme.ToolCallStyle.Render("⚙ " + name)
	if len(args) == 0 {
		return label
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return label
	}
	return label + " " + theme.ToolArgsStyle.Render(string(encoded))
}

// RenderToolResult 渲染工具结果的截断预览
// RenderToolResult renders a truncated preview of a tool result
func RenderToolResult(result string, theme Theme) string {
	preview := strings.Join(strings.Fields(result), " ")
	if utf8.RuneCountInString(preview) > resultPreviewRunes {
		runes := []rune(preview)
		preview = string(runes[:resultPreviewRunes]) + "..."
	}
	return theme.NoticeStyle.Render("  ↳ " + preview)
}

// RenderSummarized 渲染历史压缩提示
// RenderSummarized renders a history condensation notice
func RenderSummarized(messageCount int, theme Theme) string {
	return theme.NoticeStyle.Render(
		fmt.Sprintf("(condensed %d earlier messages into a summary)", messageCount))
}
