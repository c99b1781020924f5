package storage

import "errors"

// Turn 角色常量 / Turn role constants
const (
	RoleUser         = "user"
	RoleAssistant    = "assistant"
	RoleSystemNotice = "system-notice"
)

// ErrConversationNotFound 会话不存在 / returned when a conversation id resolves to nothing
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation 会话元数据；summary 是旧消息的压缩文本
// Conversation holds conversation metadata; summary is the compressed text of
// turns that have been retired from the context window. SummarizedThrough is
// the seq of the last turn the summary covers (-1 when nothing is retired);
// retired turns stay in the log but the summary stands in for them.
type Conversation struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Summary           string `json:"summary"`
	SummarizedThrough int    `json:"summarized_through"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// ToolCallRecord 单次工具调用记录；Result 在工具执行完成后填入。
// ToolCallRecord records one tool invocation; Result is filled in once the
// tool resolved. Orphaned marks calls whose result never arrived (e.g. the
// request was aborted mid-call) so later readers don't mistake them for
// pending work.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"args,omitempty"`
	Result    string         `json:"result,omitempty"`
	Orphaned  bool           `json:"orphaned,omitempty"`
}

// Turn 会话中的一条持久化消息
// Turn is one persisted message in a conversation, ordered by Seq.
type Turn struct {
	ID             int64            `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Seq            int              `json:"seq"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Reasoning      string           `json:"reasoning,omitempty"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

// Store 持久化接口 / Store is the durable turn-log interface.
// Every write advances the conversation's updated_at.
type Store interface {
	ListConversations() ([]Conversation, error)
	GetConversation(id string) (Conversation, []Turn, error)
	CreateConversation() (Conversation, error)
	AppendTurn(conversationID string, turn Turn) (Turn, error)
	UpdateSummary(conversationID, summary string, throughSeq int) error
	DeleteConversation(id string) error
	Close() error
}
