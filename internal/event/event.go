package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Type classifies a recorded event. The set is closed: downstream consumers
// switch on it exhaustively, so new kinds are added here, never as free-form
// strings.
type Type string

const (
	TypeInput       Type = "input"
	TypeOutput      Type = "output"
	TypeLLMCall     Type = "llm_call"
	TypeToolCall    Type = "tool_call"
	TypeStateChange Type = "state_change"
	TypeError       Type = "error"
	TypeLog         Type = "log"
)

// Types lists every valid event type in a stable order.
var Types = []Type{
	TypeInput,
	TypeOutput,
	TypeLLMCall,
	TypeToolCall,
	TypeStateChange,
	TypeError,
	TypeLog,
}

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	switch t {
	case TypeInput, TypeOutput, TypeLLMCall, TypeToolCall, TypeStateChange, TypeError, TypeLog:
		return true
	default:
		return false
	}
}

// Payload is the type-specific data carried by an event. Exactly one concrete
// payload struct exists per Type.
type Payload interface {
	Kind() Type
	Validate() error
}

// ValidationError reports a payload rejected before append. The session is
// unaffected when it is returned.
type ValidationError struct {
	Type   Type
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s payload: field %q %s", e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Type, e.Reason)
}

// Event is a single immutable recorded occurrence. IDs are assigned by the
// session on append and form a gapless sequence starting at 1; timestamps are
// non-decreasing within a session.
type Event struct {
	ID         int       `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       Type      `json:"type"`
	Data       Payload   `json:"data"`
	DurationMS *float64  `json:"duration_ms,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

// envelope mirrors Event with the payload left raw so UnmarshalJSON can pick
// the concrete struct from the type tag.
type envelope struct {
	ID         int             `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Type       Type            `json:"type"`
	Data       json.RawMessage `json:"data"`
	DurationMS *float64        `json:"duration_ms,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	payload, err := DecodePayload(env.Type, env.Data)
	if err != nil {
		return err
	}
	e.ID = env.ID
	e.Timestamp = env.Timestamp
	e.Type = env.Type
	e.Data = payload
	e.DurationMS = env.DurationMS
	e.Tags = env.Tags
	return nil
}

// DecodePayload decodes a raw data object into the concrete payload struct
// for the given type. Unknown types are rejected.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var payload Payload
	switch t {
	case TypeInput:
		payload = &Input{}
	case TypeOutput:
		payload = &Output{}
	case TypeLLMCall:
		payload = &LLMCall{}
	case TypeToolCall:
		payload = &ToolCall{}
	case TypeStateChange:
		payload = &StateChange{}
	case TypeError:
		payload = &ErrorInfo{}
	case TypeLog:
		payload = &Log{}
	default:
		return nil, &ValidationError{Type: t, Reason: "unknown event type"}
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return payload, nil
}

// Equal reports structural equality: identity is nothing beyond the fields,
// and mapping comparison is key-order independent. Both events are compared
// through their canonical JSON form so that in-memory values and values that
// round-tripped through serialization compare equal.
func (e Event) Equal(other Event) bool {
	return canonical(e) != nil && reflect.DeepEqual(canonical(e), canonical(other))
}

func canonical(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// Summary renders a short one-line description of the event for listings.
func (e Event) Summary() string {
	switch data := e.Data.(type) {
	case *Input:
		return "Input: " + truncate(data.Content, 50)
	case *Output:
		return "Output: " + truncate(data.Content, 50)
	case *LLMCall:
		return fmt.Sprintf("LLM (%s): %d in / %d out", data.Model, data.Tokens.Input, data.Tokens.Output)
	case *ToolCall:
		return "Tool: " + data.Tool
	case *StateChange:
		return fmt.Sprintf("State: %s (%d keys)", data.Mode, len(data.Values))
	case *ErrorInfo:
		return "Error: " + truncate(data.Message, 60)
	case *Log:
		return fmt.Sprintf("[%s] %s", data.Level, truncate(data.Message, 50))
	default:
		return string(e.Type)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
