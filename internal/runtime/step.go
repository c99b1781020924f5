package runtime

import "sat/internal/chat"

// StepKind 运行步骤的显式标签；翻译层按标签分发，不做类型探测。
// StepKind tags each step on the run stream. Consumers dispatch on the tag,
// never on dynamic type tests.
type StepKind string

const (
	StepText       StepKind = "text"
	StepReasoning  StepKind = "reasoning"
	StepToolCall   StepKind = "tool_call"
	StepToolResult StepKind = "tool_result"
	StepError      StepKind = "error"
)

// Step 单个代理执行步骤
// Step is one unit on an agent run's event stream. Which fields are set
// depends on Kind: Delta for text/reasoning, Call for tool_call, CallID and
// Result for tool_result, Err for error.
type Step struct {
	Kind   StepKind
	Delta  string
	Call   *chat.ToolCall
	CallID string
	Result string
	Err    error
}
