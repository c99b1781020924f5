package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义终端客户端的色彩和样式
// Theme defines terminal client colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Danger  lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color

	// 预构建样式 / Pre-built styles
	PromptStyle    lipgloss.Style
	ToolCallStyle  lipgloss.Style
	ToolArgsStyle  lipgloss.Style
	NoticeStyle    lipgloss.Style
	ReasoningStyle lipgloss.Style
	ErrorStyle     lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Accent:  lipgloss.Color("#06B6D4"),
		Danger:  lipgloss.Color("#EF4444"),
		Muted:   lipgloss.Color("#6B7280"),
		Text:    lipgloss.Color("#E5E7EB"),
	}

	t.PromptStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)
	t.ToolCallStyle = lipgloss.NewStyle().
		Foreground(t.Accent)
	t.ToolArgsStyle = lipgloss.NewStyle().
		Foreground(t.Muted)
	t.NoticeStyle = lipgloss.NewStyle().
		Foreground(t.Muted).
		Italic(true)
	t.ReasoningStyle = lipgloss.NewStyle().
		Foreground(t.Muted).
		Faint(true)
	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	return t
}
