package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestEncoder_WireShape(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want string
	}{
		{"token", Token("Par"), `{"type":"token","content":"Par"}`},
		{"reasoning", Reasoning("thinking"), `{"type":"reasoning","content":"thinking"}`},
		{
			"tool_call",
			ToolCallEvent("call_1", "search_web", map[string]any{"query": "paris"}),
			`{"type":"tool_call","id":"call_1","name":"search_web","args":{"query":"paris"}}`,
		},
		{
			"tool_call_empty_args",
			ToolCallEvent("call_2", "fetch_page_contents", nil),
			`{"type":"tool_call","id":"call_2","name":"fetch_page_contents","args":{}}`,
		},
		{"tool_result", ToolResultEvent("call_1", "ok"), `{"type":"tool_result","id":"call_1","result":"ok"}`},
		{"summarized", Summarized(6), `{"type":"summarized","messageCount":6}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEncoder(&buf).Encode(tc.ev); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got := strings.TrimSuffix(buf.String(), "\n")
			if got != tc.want {
				t.Fatalf("got  %s\nwant %s", got, tc.want)
			}
			if !strings.HasSuffix(buf.String(), "\n") {
				t.Fatal("every event must end with a newline")
			}
		})
	}
}

func TestEncoder_UnknownType(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(Event{Type: "bogus"}); err == nil {
		t.Fatal("unknown event type must fail to encode")
	}
}

type flushCounter struct {
	bytes.Buffer
	flushes int
}

func (f *flushCounter) Flush() { f.flushes++ }

func TestEncoder_FlushPerEvent(t *testing.T) {
	var w flushCounter
	enc := NewEncoder(&w)
	enc.Encode(Token("a"))
	enc.Encode(Token("b"))
	if w.flushes != 2 {
		t.Fatalf("flushes=%d, want one per event", w.flushes)
	}
}

func TestDecoder_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"token","content":"Par"}`,
		`{"type":"token","con`, // cut mid-object
		`not json at all`,
		``,
		`{"type":"tool_result","id":"call_1","result":"done"}`,
	}, "\n") + "\n"

	dec := NewDecoder(strings.NewReader(input))
	var got []Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("events=%d, want 2 (malformed lines skipped): %+v", len(got), got)
	}
	if got[0].Type != EventToken || got[1].Type != EventToolResult {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDecoder_TrailingPartialLine(t *testing.T) {
	input := `{"type":"token","content":"a"}` + "\n" + `{"type":"token","conte`
	dec := NewDecoder(strings.NewReader(input))

	ev, err := dec.Next()
	if err != nil || ev.Content != "a" {
		t.Fatalf("first event: %+v, %v", ev, err)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("partial trailing line must end the stream with EOF, got %v", err)
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev := ToolCallEvent("call_9", "search_web", map[string]any{"query": "go"})
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Type != EventToolCall || back.ID != "call_9" || back.Args["query"] != "go" {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
