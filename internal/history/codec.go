// Package history converts the durable turn log into the agent's native
// message sequence. The mapping is deterministic: replaying the same turns
// always yields a byte-identical sequence, which is what makes thread
// rehydration idempotent.
package history

import (
	"encoding/json"

	"sat/internal/chat"
	"sat/internal/storage"
)

// summaryPrefix 标记摘要消息，便于调试时一眼识别
// summaryPrefix marks the compacted-summary message in agent state.
const summaryPrefix = "[COMPACTION_SUMMARY]\n"

// ChatHistory 喂给 agent 的历史快照；不落盘，按需从 Store 重建。
// ChatHistory is the ephemeral snapshot fed into a run. It is reconstructed
// from the Store on demand and never persisted as such.
type ChatHistory struct {
	Summary string
	Turns   []storage.Turn
}

// Messages 渲染为 agent 消息序列，摘要（如有）在最前。
// Messages renders the history as the agent message sequence, summary first.
func (h ChatHistory) Messages() []chat.Message {
	msgs := make([]chat.Message, 0, len(h.Turns)+1)
	if h.Summary != "" {
		msgs = append(msgs, chat.Message{
			Role:    "assistant",
			Content: summaryPrefix + h.Summary,
		})
	}
	return append(msgs, ToAgentMessages(h.Turns)...)
}

// ToAgentMessages 将持久化 turns 编码为模型消息序列。
// ToAgentMessages encodes persisted turns as the model message sequence:
// a user turn becomes one user message; an assistant turn with tool calls
// becomes one assistant message carrying the call list followed by one tool
// message per resolved call, in recorded order. Orphaned calls are carried
// on the assistant message but get no synthesized tool message; an empty
// result string is a resolved call and keeps its tool message.
// System-notice turns are UI artifacts and are skipped.
func ToAgentMessages(turns []storage.Turn) []chat.Message {
	msgs := make([]chat.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case storage.RoleUser:
			msgs = append(msgs, chat.Message{Role: "user", Content: turn.Content})

		case storage.RoleAssistant:
			if len(turn.ToolCalls) == 0 {
				msgs = append(msgs, chat.Message{Role: "assistant", Content: turn.Content})
				continue
			}
			calls := make([]chat.ToolCall, 0, len(turn.ToolCalls))
			for _, rec := range turn.ToolCalls {
				calls = append(calls, chat.ToolCall{
					ID:   rec.ID,
					Type: "function",
					Function: chat.ToolCallFunction{
						Name:      rec.Name,
						Arguments: marshalArgs(rec.Arguments),
					},
				})
			}
			msgs = append(msgs, chat.Message{
				Role:      "assistant",
				Content:   turn.Content,
				ToolCalls: calls,
			})
			for _, rec := range turn.ToolCalls {
				if rec.Orphaned {
					continue
				}
				msgs = append(msgs, chat.Message{
					Role:       "tool",
					Name:       rec.Name,
					ToolCallID: rec.ID,
					Content:    rec.Result,
				})
			}
		}
	}
	return msgs
}

// marshalArgs 编码参数为 JSON；encoding/json 对 map 键排序，结果稳定。
// marshalArgs encodes arguments as JSON; encoding/json sorts map keys, so
// the output is stable across replays.
func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
