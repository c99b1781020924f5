package stream

import (
	"encoding/json"
	"strings"

	"sat/internal/runtime"
	"sat/internal/storage"
)

// Outcome 一次运行的累积结果，供编排层落盘。
// Outcome is the accumulated result of one agent run: the assistant content
// as the concatenation of streamed tokens, the reasoning text, the tool-call
// records with their results, and the terminal error if the run failed.
type Outcome struct {
	Content   string
	Reasoning string
	ToolCalls []storage.ToolCallRecord
	Err       error
}

// Translate 消费运行步骤流：去重工具调用、保序发射事件并累积结果。
// Translate drains a run's step stream, emitting one wire event per step in
// causal order. Tool-call ids are deduplicated with a per-run set so each id
// is announced exactly once, always before its result. Emit failures (client
// gone) stop emission but never draining, so the run goroutine can finish and
// the outcome can still be persisted.
func Translate(steps <-chan runtime.Step, emit func(Event) error) Outcome {
	var out Outcome
	var content, reasoning strings.Builder
	seen := make(map[string]bool)
	emitting := true

	send := func(ev Event) {
		if !emitting {
			return
		}
		if err := emit(ev); err != nil {
			emitting = false
		}
	}

	for step := range steps {
		switch step.Kind {
		case runtime.StepText:
			content.WriteString(step.Delta)
			send(Token(step.Delta))
		case runtime.StepReasoning:
			reasoning.WriteString(step.Delta)
			send(Reasoning(step.Delta))
		case runtime.StepToolCall:
			call := step.Call
			if call == nil || call.ID == "" || seen[call.ID] {
				continue
			}
			seen[call.ID] = true
			args := parseArgs(call.Function.Arguments)
			// 在结果到达前都算孤儿；空字符串结果也是结果。
			// Orphaned until a result step arrives; an empty-string result is
			// still a result.
			out.ToolCalls = append(out.ToolCalls, storage.ToolCallRecord{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: args,
				Orphaned:  true,
			})
			send(ToolCallEvent(call.ID, call.Function.Name, args))
		case runtime.StepToolResult:
			for i := range out.ToolCalls {
				if out.ToolCalls[i].ID == step.CallID {
					out.ToolCalls[i].Result = step.Result
					out.ToolCalls[i].Orphaned = false
					break
				}
			}
			send(ToolResultEvent(step.CallID, step.Result))
		case runtime.StepError:
			out.Err = step.Err
		}
	}

	out.Content = content.String()
	out.Reasoning = reasoning.String()
	return out
}

func parseArgs(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
