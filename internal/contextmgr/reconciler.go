// Package contextmgr keeps a conversation's history inside the model context
// window. Reconciliation loads the durable turn log, estimates its size with
// a cheap token proxy and, past the threshold, compresses everything but the
// most recent turns into a rolling summary persisted on the conversation.
package contextmgr

import (
	"context"
	"fmt"

	"sat/internal/history"
	"sat/internal/storage"
)

// 默认值对应 ~75% 的 32k 上下文窗口
// Defaults correspond to ~75% of a 32k context window.
const (
	DefaultTokenThreshold = 24000
	DefaultKeepRecent     = 10
)

// Config reconciler 配置
// Config tunes the reconciler. The threshold is deliberately tunable: the
// token estimate is a proxy, not the serving model's real tokenization.
type Config struct {
	TokenThreshold int
	KeepRecent     int
}

// Result 一次 reconcile 的产出
// Result is the outcome of one reconciliation.
type Result struct {
	History         history.ChatHistory
	SummarizedCount int
}

// Reconciler 上下文窗口管理器
// Reconciler decides when to summarize and produces the history for a run.
type Reconciler struct {
	store      storage.Store
	summarizer Summarizer
	tokenizer  *Tokenizer
	cfg        Config
}

// NewReconciler 创建 reconciler；零值配置回退到默认
// NewReconciler creates a reconciler; zero config fields fall back to defaults.
func NewReconciler(store storage.Store, summarizer Summarizer, tokenizer *Tokenizer, cfg Config) *Reconciler {
	if cfg.TokenThreshold <= 0 {
		cfg.TokenThreshold = DefaultTokenThreshold
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	if tokenizer == nil {
		tokenizer = DefaultTokenizer()
	}
	return &Reconciler{
		store:      store,
		summarizer: summarizer,
		tokenizer:  tokenizer,
		cfg:        cfg,
	}
}

// Reconcile 加载会话历史，超限时压缩较旧的 turns。
// Reconcile loads the conversation history and, when the estimate exceeds the
// threshold and more than KeepRecent turns exist, summarizes the older part:
// the new summary (seeded with the existing one) is persisted on the
// conversation and the kept tail is returned. Re-invoking without new turns
// does not re-summarize: the persisted summary stands in for the retired
// turns, and only the kept tail is measured against the threshold again.
//
// A summarization failure is returned to the caller rather than silently
// truncating history; the caller decides whether to run with full history or
// abort.
func (r *Reconciler) Reconcile(ctx context.Context, conversationID string) (Result, error) {
	conv, turns, err := r.store.GetConversation(conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("load conversation: %w", err)
	}

	// 已压缩的 turns 留在日志里，但由 summary 代言，不再参与全文估算。
	// Retired turns stay in the log; the summary stands in for them, so only
	// turns past the persisted boundary are measured and eligible again.
	active := turnsAfter(turns, conv.SummarizedThrough)

	estimated := r.tokenizer.EstimateTurns(active)
	if estimated <= r.cfg.TokenThreshold || len(active) <= r.cfg.KeepRecent {
		return Result{
			History: history.ChatHistory{Summary: conv.Summary, Turns: active},
		}, nil
	}

	split := len(active) - r.cfg.KeepRecent
	older := active[:split]
	kept := active[split:]

	summary, err := r.summarizer.Summarize(ctx, conv.Summary, older)
	if err != nil {
		return Result{}, fmt.Errorf("summarize %d turns: %w", len(older), err)
	}

	if err := r.store.UpdateSummary(conversationID, summary, older[len(older)-1].Seq); err != nil {
		return Result{}, fmt.Errorf("persist summary: %w", err)
	}

	return Result{
		History:         history.ChatHistory{Summary: summary, Turns: kept},
		SummarizedCount: len(older),
	}, nil
}

func turnsAfter(turns []storage.Turn, seq int) []storage.Turn {
	for i, t := range turns {
		if t.Seq > seq {
			return turns[i:]
		}
	}
	return nil
}
