package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestType_Valid(t *testing.T) {
	t.Parallel()

	for _, typ := range Types {
		if !typ.Valid() {
			t.Errorf("Type(%q).Valid() = false, want true", typ)
		}
	}
	for _, typ := range []Type{"", "custom", "INPUT", "llm"} {
		if typ.Valid() {
			t.Errorf("Type(%q).Valid() = true, want false", typ)
		}
	}
}

func TestPayload_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload Payload
		field   string
	}{
		{"input ok", &Input{Role: "user", Content: "hi"}, ""},
		{"input missing role", &Input{Content: "hi"}, "role"},
		{"output missing content", &Output{Role: "assistant"}, "content"},
		{"llm ok", &LLMCall{Model: "gpt-4", Prompt: "p", Response: "r"}, ""},
		{"llm missing model", &LLMCall{Prompt: "p", Response: "r"}, "model"},
		{"llm missing prompt", &LLMCall{Model: "m", Response: "r"}, "prompt"},
		{"llm negative tokens", &LLMCall{Model: "m", Prompt: "p", Response: "r", Tokens: Tokens{Input: -1}}, "tokens"},
		{"tool ok", &ToolCall{Tool: "search", Success: true}, ""},
		{"tool missing name", &ToolCall{}, "tool"},
		{"state ok", &StateChange{Mode: ModeDelta, Values: map[string]any{"k": 1}}, ""},
		{"state bad mode", &StateChange{Mode: "merge", Values: map[string]any{}}, "mode"},
		{"state nil values", &StateChange{Mode: ModeSnapshot}, "values"},
		{"error ok", &ErrorInfo{Message: "boom"}, ""},
		{"error empty", &ErrorInfo{}, "error"},
		{"log ok", &Log{Level: "info", Message: "m"}, ""},
		{"log missing level", &Log{Message: "m"}, "level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("ValidationError.Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestEvent_UnmarshalDecodesConcretePayload(t *testing.T) {
	t.Parallel()

	raw := `{
		"id": 3,
		"timestamp": "2026-01-02T15:04:05Z",
		"type": "tool_call",
		"data": {"tool": "search", "args": {"q": "weather"}, "result": [1, 2], "success": true},
		"duration_ms": 12.5,
		"tags": ["slow"]
	}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	call, ok := ev.Data.(*ToolCall)
	if !ok {
		t.Fatalf("Data is %T, want *ToolCall", ev.Data)
	}
	if call.Tool != "search" || !call.Success {
		t.Fatalf("unexpected payload: %+v", call)
	}
	if call.Args["q"] != "weather" {
		t.Fatalf("Args[q] = %v, want weather", call.Args["q"])
	}
	if ev.DurationMS == nil || *ev.DurationMS != 12.5 {
		t.Fatalf("DurationMS = %v, want 12.5", ev.DurationMS)
	}
	if len(ev.Tags) != 1 || ev.Tags[0] != "slow" {
		t.Fatalf("Tags = %v, want [slow]", ev.Tags)
	}
}

func TestEvent_UnmarshalRejectsUnknownType(t *testing.T) {
	t.Parallel()

	raw := `{"id": 1, "timestamp": "2026-01-02T15:04:05Z", "type": "custom", "data": {}}`
	var ev Event
	err := json.Unmarshal([]byte(raw), &ev)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Unmarshal() error = %v, want *ValidationError", err)
	}
	if verr.Type != "custom" {
		t.Fatalf("ValidationError.Type = %q, want custom", verr.Type)
	}
}

func TestDecodePayload_EmptyData(t *testing.T) {
	t.Parallel()

	payload, err := DecodePayload(TypeLog, nil)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if _, ok := payload.(*Log); !ok {
		t.Fatalf("payload is %T, want *Log", payload)
	}
}

func TestEvent_EqualAfterRoundTrip(t *testing.T) {
	t.Parallel()

	orig := Event{
		ID:        1,
		Timestamp: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Type:      TypeLLMCall,
		Data: &LLMCall{
			Model:    "gpt-4",
			Prompt:   []any{map[string]any{"role": "user", "content": "hi"}},
			Response: "hello",
			Tokens:   Tokens{Input: 10, Output: 2},
		},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !orig.Equal(decoded) {
		t.Fatalf("round-tripped event not Equal to original")
	}

	decoded.Data.(*LLMCall).Tokens.Output = 3
	if orig.Equal(decoded) {
		t.Fatalf("Equal() = true after mutating the copy")
	}
}

func TestStateChange_Apply(t *testing.T) {
	t.Parallel()

	base := map[string]any{"a": 1, "nested": map[string]any{"x": true}}

	delta := &StateChange{Mode: ModeDelta, Values: map[string]any{"b": 2}}
	next := delta.Apply(base)
	if next["a"] != 1 || next["b"] != 2 {
		t.Fatalf("delta Apply() = %v", next)
	}
	if _, ok := base["b"]; ok {
		t.Fatalf("Apply() mutated base")
	}

	snap := &StateChange{Mode: ModeSnapshot, Values: map[string]any{"only": "this"}}
	next = snap.Apply(next)
	if len(next) != 1 || next["only"] != "this" {
		t.Fatalf("snapshot Apply() = %v", next)
	}

	// Deep values must not alias.
	next = delta.Apply(base)
	next["nested"].(map[string]any)["x"] = false
	if base["nested"].(map[string]any)["x"] != true {
		t.Fatalf("Apply() aliased nested map")
	}
}

func TestEvent_Summary(t *testing.T) {
	t.Parallel()

	ev := Event{Type: TypeInput, Data: &Input{Role: "user", Content: strings.Repeat("x", 80)}}
	sum := ev.Summary()
	if !strings.HasPrefix(sum, "Input: ") || !strings.HasSuffix(sum, "...") {
		t.Fatalf("Summary() = %q", sum)
	}

	ev = Event{Type: TypeLLMCall, Data: &LLMCall{Model: "gpt-4", Tokens: Tokens{Input: 5, Output: 7}}}
	if got := ev.Summary(); got != "LLM (gpt-4): 5 in / 7 out" {
		t.Fatalf("Summary() = %q", got)
	}
}
