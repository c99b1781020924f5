// Package orchestrator wires the conversation pipeline together: resolve the
// conversation, reconcile its context window, run the agent on its thread,
// translate the step stream to wire events, and persist the resulting turns.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"sat/internal/contextmgr"
	"sat/internal/history"
	"sat/internal/runtime"
	"sat/internal/storage"
	"sat/internal/stream"
)

// 运行失败时用户可见并落盘的兜底文案。两处文案必须一致：
// 历史里存什么，用户就看到什么。
// Fallback texts shown to the user and persisted on failure. The persisted
// text and the streamed text are always the same string, so history and UI
// never diverge.
const (
	fallbackEmptyResponse = "I apologize, I could not respond."
	fallbackRunError      = "Sorry, there was an error processing your request. Please try again."
)

// Orchestrator 会话编排器
type Orchestrator struct {
	store      storage.Store
	reconciler *contextmgr.Reconciler
	runtime    *runtime.Runtime
	log        zerolog.Logger
}

func New(store storage.Store, reconciler *contextmgr.Reconciler, rt *runtime.Runtime, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		reconciler: reconciler,
		runtime:    rt,
		log:        log,
	}
}

// Resolve 返回目标会话，id 为空时新建。
// Resolve returns the target conversation, creating one when id is empty.
// Callers get the id before streaming starts so a fresh conversation can be
// reported in response headers.
func (o *Orchestrator) Resolve(conversationID string) (storage.Conversation, error) {
	if conversationID == "" {
		conv, err := o.store.CreateConversation()
		if err != nil {
			return storage.Conversation{}, fmt.Errorf("create conversation: %w", err)
		}
		o.log.Info().Str("conversation", conv.ID).Msg("conversation created")
		return conv, nil
	}
	conv, _, err := o.store.GetConversation(conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	return conv, nil
}

// Chat 处理一次用户输入，事件经 emit 推给客户端。
// Chat handles one user input on the conversation, pushing wire events
// through emit as they are produced. The only error returned before any
// event is runtime.ErrThreadBusy, and the slot is claimed before any other
// work: a rejected request must not reconcile, summarize, or persist
// anything, because its summarized event would have no client to reach.
// Everything after the stream has started is degraded into events and
// fallback turns instead of failing the request.
func (o *Orchestrator) Chat(ctx context.Context, conversationID, userInput string, emit func(stream.Event) error) error {
	res, err := o.runtime.Reserve(conversationID)
	if err != nil {
		return err
	}

	hist, summarizedCount := o.reconcile(ctx, conversationID)

	o.hydrateIfEmpty(conversationID, hist)

	steps := res.Start(ctx, userInput)

	// 用户轮在运行启动后立即落盘；此后流已经开始，失败只记录。
	// The user turn is persisted once the run is committed to happen.
	o.persistTurn(conversationID, storage.Turn{
		Role:    storage.RoleUser,
		Content: userInput,
	})

	if summarizedCount > 0 {
		// summarized 必须先于本轮任何 token 事件
		// The summarized notice precedes every token of this run.
		if err := emit(stream.Summarized(summarizedCount)); err != nil {
			o.log.Warn().Err(err).Str("conversation", conversationID).Msg("client gone before stream start")
		}
	}

	outcome := stream.Translate(steps, emit)

	content := outcome.Content
	if outcome.Err != nil {
		o.log.Error().Err(outcome.Err).Str("conversation", conversationID).Msg("agent run failed")
		if content == "" {
			content = fallbackRunError
			if err := emit(stream.Token(content)); err != nil {
				o.log.Warn().Err(err).Str("conversation", conversationID).Msg("fallback not delivered")
			}
		}
	}
	if content == "" {
		content = fallbackEmptyResponse
		if err := emit(stream.Token(content)); err != nil {
			o.log.Warn().Err(err).Str("conversation", conversationID).Msg("fallback not delivered")
		}
	}

	o.persistTurn(conversationID, storage.Turn{
		Role:      storage.RoleAssistant,
		Content:   content,
		Reasoning: outcome.Reasoning,
		ToolCalls: outcome.ToolCalls,
	})
	return nil
}

// reconcile 失败时降级：先退回全量未压缩历史，再退回空历史。
// reconcile degrades on failure: first to the full unsummarized history, then
// to an empty one. A failed summarization never discards turns.
func (o *Orchestrator) reconcile(ctx context.Context, conversationID string) (history.ChatHistory, int) {
	res, err := o.reconciler.Reconcile(ctx, conversationID)
	if err == nil {
		if res.SummarizedCount > 0 {
			o.log.Info().
				Str("conversation", conversationID).
				Int("summarized", res.SummarizedCount).
				Msg("history compacted")
		}
		return res.History, res.SummarizedCount
	}
	o.log.Warn().Err(err).Str("conversation", conversationID).Msg("reconcile failed, using raw history")

	conv, turns, loadErr := o.store.GetConversation(conversationID)
	if loadErr != nil {
		o.log.Error().Err(loadErr).Str("conversation", conversationID).Msg("history unavailable, running without it")
		return history.ChatHistory{}, 0
	}
	return history.ChatHistory{Summary: conv.Summary, Turns: turns}, 0
}

// hydrateIfEmpty 线程为空且有持久历史时先水合再运行。
// hydrateIfEmpty seeds the thread from durable history before the run when
// the thread has no state yet. A populated thread is left alone; it is the
// live copy of the same history.
func (o *Orchestrator) hydrateIfEmpty(conversationID string, hist history.ChatHistory) {
	if len(o.runtime.ThreadState(conversationID)) > 0 {
		return
	}
	msgs := hist.Messages()
	if len(msgs) == 0 {
		return
	}
	o.runtime.ReplaceThreadState(conversationID, msgs)
	o.log.Debug().
		Str("conversation", conversationID).
		Int("messages", len(msgs)).
		Msg("thread hydrated")
}

// persistTurn 落盘失败不阻断已推送的事件流，仅记录。
// persistTurn reports a failed write without failing the request: the events
// were already streamed, so storage being behind is logged as out-of-sync
// rather than surfaced as an error mid-stream.
func (o *Orchestrator) persistTurn(conversationID string, turn storage.Turn) {
	if _, err := o.store.AppendTurn(conversationID, turn); err != nil {
		o.log.Error().
			Err(err).
			Str("conversation", conversationID).
			Str("role", turn.Role).
			Msg("turn not persisted, storage out of sync")
	}
}
