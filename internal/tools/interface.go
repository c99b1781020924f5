package tools

import (
	"context"
	"encoding/json"

	"sat/internal/chat"
)

// Tool 工具统一接口：声明 schema，执行返回文本结果。
// Tool is the contract every agent tool satisfies. Execute returns the text
// payload handed back to the model; errors are surfaced to the runtime, which
// decides how to report them.
type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}
