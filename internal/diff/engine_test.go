package diff

import (
	"strings"
	"testing"

	"retrace/internal/event"
	"retrace/internal/session"
)

func weatherSession(t *testing.T, id string, temp int) *session.Session {
	t.Helper()
	sess := session.New(id, nil)
	appends := []event.Payload{
		&event.Input{Role: "user", Content: "what is the weather"},
		&event.LLMCall{Model: "gpt-4", Prompt: "p", Response: "r", Tokens: event.Tokens{Input: 50, Output: 1}},
		&event.ToolCall{Tool: "weather", Args: map[string]any{"city": "Berlin"}, Result: map[string]any{"temp": temp}, Success: true},
		&event.Output{Role: "assistant", Content: "done"},
	}
	for _, p := range appends {
		if _, err := sess.Append(p); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	sess.Finalize()
	return sess
}

func TestDiff_IdenticalSessions(t *testing.T) {
	t.Parallel()

	a := weatherSession(t, "a", 22)
	b := weatherSession(t, "b", 22)
	if records := Diff(a, b); len(records) != 0 {
		t.Fatalf("Diff() of identical sessions = %v", records)
	}
}

func TestDiff_SingleFieldChange(t *testing.T) {
	t.Parallel()

	a := weatherSession(t, "a", 22)
	b := weatherSession(t, "b", 25)

	records := Diff(a, b)
	if len(records) != 1 {
		t.Fatalf("Diff() = %v, want exactly one record", records)
	}
	r := records[0]
	if r.Kind != KindChanged || r.FieldPath != "result.temp" {
		t.Fatalf("record = %+v", r)
	}
	if r.AEventID != 3 || r.BEventID != 3 {
		t.Fatalf("record ids = %d/%d, want 3/3", r.AEventID, r.BEventID)
	}
	// Values pass through JSON canonicalization.
	if r.Old != float64(22) || r.New != float64(25) {
		t.Fatalf("record values = %v -> %v", r.Old, r.New)
	}
}

func TestDiff_IsSymmetric(t *testing.T) {
	t.Parallel()

	a := weatherSession(t, "a", 22)

	// b changes one field and carries an extra event, so changed records and
	// added/removed swapping are both exercised.
	b := session.New("b", nil)
	appends := []event.Payload{
		&event.Input{Role: "user", Content: "what is the weather"},
		&event.LLMCall{Model: "gpt-4", Prompt: "p", Response: "r", Tokens: event.Tokens{Input: 50, Output: 1}},
		&event.ToolCall{Tool: "weather", Args: map[string]any{"city": "Berlin"}, Result: map[string]any{"temp": 25}, Success: true},
		&event.Output{Role: "assistant", Content: "done"},
		&event.Log{Level: "info", Message: "extra"},
	}
	for _, p := range appends {
		if _, err := b.Append(p); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	b.Finalize()

	forward := Diff(a, b)
	backward := Diff(b, a)
	if len(forward) != len(backward) {
		t.Fatalf("len(forward) = %d, len(backward) = %d", len(forward), len(backward))
	}
	for i := range forward {
		f, r := forward[i], backward[i]
		if f.FieldPath != r.FieldPath {
			t.Fatalf("record %d paths diverge: %q vs %q", i, f.FieldPath, r.FieldPath)
		}
		if swapKind(f.Kind) != r.Kind {
			t.Fatalf("record %d kinds not mirrored: %s vs %s", i, f.Kind, r.Kind)
		}
		if f.AEventID != r.BEventID || f.BEventID != r.AEventID {
			t.Fatalf("record %d ids not mirrored: %+v vs %+v", i, f, r)
		}
	}
}

func swapKind(k Kind) Kind {
	switch k {
	case KindAdded:
		return KindRemoved
	case KindRemoved:
		return KindAdded
	default:
		return k
	}
}

func TestDiff_AddedAndRemovedEvents(t *testing.T) {
	t.Parallel()

	a := weatherSession(t, "a", 22)
	b := session.New("b", nil)
	if _, err := b.Append(&event.Input{Role: "user", Content: "what is the weather"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	b.Finalize()

	records := Diff(a, b)
	removed := 0
	for _, r := range records {
		if r.Kind == KindRemoved && r.FieldPath == "" {
			removed++
			if r.BEventID != 0 {
				t.Fatalf("whole-event removal carries a B id: %+v", r)
			}
		}
	}
	if removed != 3 {
		t.Fatalf("removed whole events = %d, want 3", removed)
	}
}

func TestDiff_OrdinalAlignmentSkipsInsertedEvent(t *testing.T) {
	t.Parallel()

	// B has a log event inserted before the tool call; the tool calls still
	// pair with each other by type ordinal despite differing ids.
	a := session.New("a", nil)
	b := session.New("b", nil)
	if _, err := a.Append(&event.ToolCall{Tool: "weather", Success: true}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := b.Append(&event.Log{Level: "info", Message: "warmup"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := b.Append(&event.ToolCall{Tool: "weather", Success: true}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	records := Diff(a, b)
	if len(records) != 1 {
		t.Fatalf("Diff() = %v, want only the added log event", records)
	}
	if records[0].Kind != KindAdded || records[0].BEventID != 1 || records[0].FieldPath != "" {
		t.Fatalf("record = %+v", records[0])
	}
}

func TestDiff_TypeMismatchOnPositionalPair(t *testing.T) {
	t.Parallel()

	a := session.New("a", nil)
	b := session.New("b", nil)
	if _, err := a.Append(&event.Log{Level: "info", Message: "m"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := b.Append(&event.ErrorInfo{Message: "m"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	records := Diff(a, b)
	if len(records) != 1 {
		t.Fatalf("Diff() = %v, want one type-change record", records)
	}
	r := records[0]
	if r.Kind != KindChanged || r.FieldPath != "type" || r.Old != "log" || r.New != "error" {
		t.Fatalf("record = %+v", r)
	}
}

func TestDiff_MultilineStringCarriesTextDiff(t *testing.T) {
	t.Parallel()

	a := session.New("a", nil)
	b := session.New("b", nil)
	if _, err := a.Append(&event.Output{Role: "assistant", Content: "line one\nline two\n"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := b.Append(&event.Output{Role: "assistant", Content: "line one\nline 2\n"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	records := Diff(a, b)
	if len(records) != 1 {
		t.Fatalf("Diff() = %v, want one record", records)
	}
	r := records[0]
	if r.FieldPath != "content" || r.TextDiff == "" {
		t.Fatalf("record = %+v", r)
	}
	if !strings.Contains(r.TextDiff, "-") || !strings.Contains(r.TextDiff, "+") {
		t.Fatalf("TextDiff = %q", r.TextDiff)
	}
}

func TestDiff_NestedSliceChange(t *testing.T) {
	t.Parallel()

	a := session.New("a", nil)
	b := session.New("b", nil)
	if _, err := a.Append(&event.ToolCall{Tool: "list", Result: []any{"x", "y"}, Success: true}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := b.Append(&event.ToolCall{Tool: "list", Result: []any{"x", "z", "extra"}, Success: true}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	records := Diff(a, b)
	if len(records) != 2 {
		t.Fatalf("Diff() = %v, want 2 records", records)
	}
	if records[0].FieldPath != "result[1]" || records[0].Kind != KindChanged {
		t.Fatalf("records[0] = %+v", records[0])
	}
	if records[1].FieldPath != "result[2]" || records[1].Kind != KindAdded {
		t.Fatalf("records[1] = %+v", records[1])
	}
}
