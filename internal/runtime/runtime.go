package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sat/internal/chat"
	"sat/internal/provider"
	"sat/internal/tools"
)

// ErrThreadBusy 同一会话同时只允许一个运行
// ErrThreadBusy is returned when a run is already in flight on the thread.
var ErrThreadBusy = errors.New("thread busy: a run is already in progress")

const defaultMaxSteps = 8

// stepBuffer 运行流的有界缓冲；生产者在消费者落后时阻塞。
// stepBuffer bounds the run stream. The producing goroutine blocks when the
// consumer falls behind, which keeps ordering intact without unbounded memory.
const stepBuffer = 64

// Config 运行时配置
// Config carries the runtime's tunables.
type Config struct {
	SystemPrompt string
	MaxSteps     int
}

// Runtime 持有唯一的长驻代理：模型、工具与每会话线程注册表。
// Runtime owns the single long-lived agent: the model provider, the tool
// registry, and the per-conversation thread registry. Threads are created on
// first access and live for the process lifetime.
type Runtime struct {
	provider provider.Provider
	registry *tools.Registry
	cfg      Config

	mu      sync.Mutex
	threads map[string]*Thread
}

// Thread 每会话执行上下文：自己的消息状态加一个运行槽。
// Thread is a conversation's execution context: its own message state plus a
// single run slot serializing executions per conversation.
type Thread struct {
	mu       sync.Mutex
	slot     chan struct{}
	messages []chat.Message
}

func NewRuntime(p provider.Provider, registry *tools.Registry, cfg Config) *Runtime {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	return &Runtime{
		provider: p,
		registry: registry,
		cfg:      cfg,
		threads:  make(map[string]*Thread),
	}
}

// thread 首次访问即创建
// thread returns the conversation's thread, constructing it on first access.
func (r *Runtime) thread(id string) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		t = &Thread{slot: make(chan struct{}, 1)}
		r.threads[id] = t
	}
	return t
}

// ThreadState 返回线程消息状态的副本
// ThreadState returns a copy of the thread's message state.
func (r *Runtime) ThreadState(id string) []chat.Message {
	t := r.thread(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chat.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// ReplaceThreadState 整体替换线程状态，用于从持久历史水合。
// ReplaceThreadState swaps the thread's message state wholesale. The
// orchestrator uses it to hydrate an empty thread from durable history.
func (r *Runtime) ReplaceThreadState(id string, messages []chat.Message) {
	t := r.thread(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = make([]chat.Message, len(messages))
	copy(t.messages, messages)
}

// Reservation 已占下的运行槽：要么 Start 一次运行，要么 Release 放弃。
// Reservation is a claimed run slot. Exactly one of Start or Release must be
// called; the slot is held until the started run finishes or the reservation
// is released. Claiming the slot before doing per-run preparation (history
// reconciliation, hydration) keeps a rejected request free of side effects.
type Reservation struct {
	r *Runtime
	t *Thread
}

// Reserve 非阻塞占槽；已有运行在途时返回 ErrThreadBusy。
// Reserve claims the thread's run slot without starting a run, returning
// ErrThreadBusy immediately when one is already in flight.
func (r *Runtime) Reserve(threadID string) (*Reservation, error) {
	t := r.thread(threadID)
	select {
	case t.slot <- struct{}{}:
		return &Reservation{r: r, t: t}, nil
	default:
		return nil, ErrThreadBusy
	}
}

// Start 在预留的槽上执行一轮代理循环，返回步骤流。
// Start executes one agent loop on the reserved slot and returns its step
// stream. The channel closes when the run completes; a terminal StepError
// marks failure. The slot is released as the stream closes.
func (res *Reservation) Start(ctx context.Context, userInput string) <-chan Step {
	steps := make(chan Step, stepBuffer)
	go func() {
		defer func() {
			<-res.t.slot
			close(steps)
		}()
		res.r.run(ctx, res.t, userInput, steps)
	}()
	return steps
}

// Release 放弃预留而不运行
// Release gives the slot back without running.
func (res *Reservation) Release() {
	<-res.t.slot
}

// Run 占槽并立即运行
// Run is Reserve followed by Start for callers with no preparation to do
// between the two.
func (r *Runtime) Run(ctx context.Context, threadID, userInput string) (<-chan Step, error) {
	res, err := r.Reserve(threadID)
	if err != nil {
		return nil, err
	}
	return res.Start(ctx, userInput), nil
}

func (r *Runtime) run(ctx context.Context, t *Thread, userInput string, steps chan<- Step) {
	t.append(chat.Message{Role: "user", Content: userInput})

	emit := func(s Step) bool {
		select {
		case steps <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for step := 0; step < r.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			emitFinal(steps, Step{Kind: StepError, Err: err})
			return
		}

		streamed := false
		resp, err := r.provider.Chat(ctx, provider.ChatRequest{
			Model:    r.provider.CurrentModel(),
			Messages: r.buildMessages(t),
			Tools:    r.registry.Definitions(),
		}, provider.StreamCallbacks{
			OnTextChunk: func(chunk string) {
				if chunk == "" {
					return
				}
				streamed = true
				emit(Step{Kind: StepText, Delta: chunk})
			},
			OnReasoningChunk: func(chunk string) {
				if chunk == "" {
					return
				}
				emit(Step{Kind: StepReasoning, Delta: chunk})
			},
		})
		if err != nil {
			emitFinal(steps, Step{Kind: StepError, Err: fmt.Errorf("provider chat: %w", err)})
			return
		}

		// 非流式路径下补发完整内容，保证 token 流与落盘内容一致。
		// When the provider did not stream, replay the full content as one
		// delta so the token stream always equals the persisted content.
		if !streamed && resp.Content != "" {
			if !emit(Step{Kind: StepText, Delta: resp.Content}) {
				return
			}
		}

		t.append(chat.Message{
			Role:      "assistant",
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				emitFinal(steps, Step{Kind: StepError, Err: err})
				return
			}
			call := call
			if !emit(Step{Kind: StepToolCall, Call: &call}) {
				return
			}

			result, err := r.registry.Execute(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				if ctx.Err() != nil {
					emitFinal(steps, Step{Kind: StepError, Err: ctx.Err()})
					return
				}
				// 工具失败不终止运行，错误作为结果交还给模型。
				// Tool failure never aborts the run; the error text becomes
				// the result the model sees.
				result = fmt.Sprintf("tool error: %v", err)
			}
			if !emit(Step{Kind: StepToolResult, CallID: call.ID, Result: result}) {
				return
			}
			t.append(chat.Message{
				Role:       "tool",
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}

	emitFinal(steps, Step{Kind: StepError, Err: fmt.Errorf("step limit reached (%d)", r.cfg.MaxSteps)})
}

// buildMessages 系统提示词不入线程状态，调用时前置。
// buildMessages prepends the system prompt at call time; it never lives in
// thread state, so hydration and persistence only ever see turn messages.
func (r *Runtime) buildMessages(t *Thread) []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chat.Message, 0, len(t.messages)+1)
	if r.cfg.SystemPrompt != "" {
		out = append(out, chat.Message{Role: "system", Content: r.cfg.SystemPrompt})
	}
	out = append(out, t.messages...)
	return out
}

func (t *Thread) append(msg chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

// emitFinal 终止步骤必须送达：消费方会把流排空到关闭为止，
// 所以阻塞发送不会卡死，而缓冲占满时的非阻塞发送会把失败原因弄丢。
// emitFinal delivers a terminal step with a blocking send. The consumer
// drains the stream until close, so blocking cannot deadlock — while a
// non-blocking send would drop the failure whenever the buffer happens to
// be full and the run would look like it produced nothing.
func emitFinal(steps chan<- Step, s Step) {
	steps <- s
}
