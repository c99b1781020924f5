package provider

import (
	"context"

	"sat/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Tools       []chat.ToolDef
	Temperature *float64
	MaxTokens   int
}

// StreamCallbacks 流式响应的回调集；零值表示不需要流式。
// StreamCallbacks is the callback set for streaming responses. The zero
// value disables streaming; unset fields are simply not invoked.
type StreamCallbacks struct {
	OnTextChunk      func(chunk string)
	OnReasoningChunk func(chunk string)
	OnToolCall       func(call chat.ToolCall)
}

// ChatResponse 完整响应
// ChatResponse is the complete response
type ChatResponse struct {
	Content      string
	Reasoning    string
	ToolCalls    []chat.ToolCall
	FinishReason string
}

// Provider 模型提供方接口：生成走流式 Chat，摘要走单发 Invoke。
// Provider is the model backend interface: generation goes through streaming
// Chat, summarization through single-shot Invoke.
type Provider interface {
	// Chat 发送聊天请求并返回响应（支持流式回调）
	// Chat sends a request and returns a response (supports streaming callbacks)
	Chat(ctx context.Context, req ChatRequest, cb StreamCallbacks) (ChatResponse, error)

	// Invoke 单发补全，用于摘要等非流式调用
	// Invoke is a single-shot completion used for summarization
	Invoke(ctx context.Context, prompt string) (string, error)

	// Name 返回 provider 名称
	// Name returns the provider name
	Name() string

	// CurrentModel 返回当前活跃模型
	// CurrentModel returns the current active model
	CurrentModel() string
}
