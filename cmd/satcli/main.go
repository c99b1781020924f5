package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"sat/internal/stream"
	"sat/internal/tui"
)

const renderWidth = 100

type streamRequest struct {
	UserInput      string `json:"userInput"`
	ConversationID string `json:"conversationId,omitempty"`
}

func main() {
	var (
		serverURL      string
		conversationID string
	)
	flag.StringVar(&serverURL, "server", "http://localhost:8787", "Base URL of the sat server")
	flag.StringVar(&conversationID, "conversation", "", "Resume an existing conversation by id")
	flag.Parse()
	serverURL = strings.TrimRight(serverURL, "/")

	historyPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyPath = filepath.Join(home, ".sat", "satcli.history")
	}
	input := newPromptReader(historyPath)
	defer input.Close()

	theme := tui.DarkTheme()
	client := &http.Client{Timeout: 5 * time.Minute}

	fmt.Printf("connected to %s\n", serverURL)
	if conversationID != "" {
		fmt.Printf("conversation: %s\n", conversationID)
	}
	fmt.Println("commands: /new  start a fresh conversation, /exit  quit")

	for {
		line, err := input.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(os.Stdout)
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(os.Stderr, "\nexit")
				return
			default:
				fmt.Fprintf(os.Stderr, "read input failed: %v\n", err)
				return
			}
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		switch text {
		case "/exit", "/quit":
			return
		case "/new":
			conversationID = ""
			fmt.Println("started a fresh conversation")
			continue
		}

		newID, err := sendTurn(client, serverURL, conversationID, text, theme)
		if err != nil {
			fmt.Fprintln(os.Stderr, theme.ErrorStyle.Render(fmt.Sprintf("turn failed: %v", err)))
			continue
		}
		conversationID = newID
	}
}

// sendTurn 发送一轮用户输入并渲染流式响应，返回会话 id
// sendTurn posts one user turn, renders the event stream as it arrives, and
// returns the conversation id the server assigned or confirmed.
func sendTurn(client *http.Client, serverURL, conversationID, userInput string, theme tui.Theme) (string, error) {
	payload, err := json.Marshal(streamRequest{
		UserInput:      userInput,
		ConversationID: conversationID,
	})
	if err != nil {
		return conversationID, err
	}

	resp, err := client.Post(serverURL+"/api/stream", "application/json", bytes.NewReader(payload))
	if err != nil {
		return conversationID, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return conversationID, errors.New("a response is already being generated for this conversation")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return conversationID, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if id := resp.Header.Get("X-Conversation-Id"); id != "" {
		conversationID = id
	}

	var (
		answer    strings.Builder
		reasoning bool
	)
	dec := stream.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return conversationID, fmt.Errorf("read stream: %w", err)
		}

		switch ev.Type {
		case stream.EventSummarized:
			fmt.Println(tui.RenderSummarized(ev.MessageCount, theme))
		case stream.EventReasoning:
			// 只提示一次，不逐字回显思考内容
			// Announce once instead of echoing the thinking token by token.
			if !reasoning {
				fmt.Println(theme.ReasoningStyle.Render("∴ thinking..."))
				reasoning = true
			}
		case stream.EventToolCall:
			fmt.Println(tui.RenderToolCall(ev.Name, ev.Args, theme))
		case stream.EventToolResult:
			fmt.Println(tui.RenderToolResult(ev.Result, theme))
		case stream.EventToken:
			answer.WriteString(ev.Content)
		}
	}

	if rendered := tui.RenderMarkdown(answer.String(), renderWidth); rendered != "" {
		fmt.Println(rendered)
	}
	return conversationID, nil
}
