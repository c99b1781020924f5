package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// promptReader 读取用户输入；优先 readline（带历史），终端不支持时退回 stdin
// promptReader reads user turns, preferring readline with persistent history
// and falling back to plain stdin when the terminal cannot support it.
type promptReader struct {
	rl       *readline.Instance
	fallback *bufio.Reader
}

func newPromptReader(historyPath string) *promptReader {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			historyPath = ""
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
	})
	if err != nil {
		return &promptReader{fallback: bufio.NewReader(os.Stdin)}
	}
	return &promptReader{rl: rl}
}

func (p *promptReader) ReadLine(prompt string) (string, error) {
	if p.rl != nil {
		p.rl.SetPrompt(prompt)
		return p.rl.Readline()
	}
	fmt.Fprint(os.Stdout, prompt)
	line, err := p.fallback.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *promptReader) Close() error {
	if p.rl != nil {
		return p.rl.Close()
	}
	return nil
}
