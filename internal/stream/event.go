package stream

import (
	"encoding/json"
	"fmt"
)

// EventType 线上事件标签
// EventType tags each wire event.
type EventType string

const (
	EventToken      EventType = "token"
	EventReasoning  EventType = "reasoning"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventSummarized EventType = "summarized"
)

// Event 流事件联合体；按 Type 决定哪些字段有效。
// Event is the tagged union carried on the wire. Which fields are meaningful
// depends on Type: Content for token/reasoning, ID+Name+Args for tool_call,
// ID+Result for tool_result, MessageCount for summarized. Emission order is
// significant: a tool_call for a given id always precedes its tool_result.
type Event struct {
	Type         EventType      `json:"type"`
	Content      string         `json:"content,omitempty"`
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	Result       string         `json:"result,omitempty"`
	MessageCount int            `json:"messageCount,omitempty"`
}

func Token(content string) Event {
	return Event{Type: EventToken, Content: content}
}

func Reasoning(content string) Event {
	return Event{Type: EventReasoning, Content: content}
}

func ToolCallEvent(id, name string, args map[string]any) Event {
	if args == nil {
		args = map[string]any{}
	}
	return Event{Type: EventToolCall, ID: id, Name: name, Args: args}
}

func ToolResultEvent(id, result string) Event {
	return Event{Type: EventToolResult, ID: id, Result: result}
}

func Summarized(messageCount int) Event {
	return Event{Type: EventSummarized, MessageCount: messageCount}
}

// MarshalJSON 每种事件只序列化自己的字段，保持线格式稳定。
// MarshalJSON emits exactly the fields belonging to the event's type so the
// wire shape never leaks unrelated zero values.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventToken, EventReasoning:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventToolCall:
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		return json.Marshal(struct {
			Type EventType      `json:"type"`
			ID   string         `json:"id"`
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		}{e.Type, e.ID, e.Name, args})
	case EventToolResult:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			ID     string    `json:"id"`
			Result string    `json:"result"`
		}{e.Type, e.ID, e.Result})
	case EventSummarized:
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			MessageCount int       `json:"messageCount"`
		}{e.Type, e.MessageCount})
	default:
		return nil, fmt.Errorf("unknown event type: %q", e.Type)
	}
}
