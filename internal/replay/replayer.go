package replay

import (
	"encoding/json"
	"strings"
	"time"

	"retrace/internal/event"
	"retrace/internal/session"
)

// Replayer is a stateful cursor over a finalized session. Position 0 sits
// before event 1. The replayer only reads the session; independent replayers
// over the same session never interfere.
type Replayer struct {
	session     *session.Session
	events      []event.Event
	rec         *Reconstructor
	pos         int
	breakpoints map[int]struct{}
}

// New builds a replayer whose state queries go through a reconstructor with
// the given options.
func New(sess *session.Session, opts ...ReconstructorOption) *Replayer {
	return &Replayer{
		session:     sess,
		events:      sess.Timeline(),
		rec:         NewReconstructor(sess, opts...),
		breakpoints: make(map[int]struct{}),
	}
}

// Position returns the current cursor position in [0, TotalEvents].
func (r *Replayer) Position() int { return r.pos }

// TotalEvents returns the number of events in the session.
func (r *Replayer) TotalEvents() int { return len(r.events) }

// HasNext reports whether Step can advance.
func (r *Replayer) HasNext() bool { return r.pos < len(r.events) }

// HasPrev reports whether StepBack can retreat.
func (r *Replayer) HasPrev() bool { return r.pos > 0 }

// Step advances the cursor by exactly one event and returns it, failing with
// ErrEndOfSession past the last event.
func (r *Replayer) Step() (event.Event, error) {
	if !r.HasNext() {
		return event.Event{}, ErrEndOfSession
	}
	ev := r.events[r.pos]
	r.pos++
	return ev, nil
}

// StepBack retreats the cursor by one event and returns the event stepped
// over, failing with ErrEndOfSession at the beginning.
func (r *Replayer) StepBack() (event.Event, error) {
	if !r.HasPrev() {
		return event.Event{}, ErrEndOfSession
	}
	r.pos--
	return r.events[r.pos], nil
}

// Peek returns the next event without advancing.
func (r *Replayer) Peek() (event.Event, bool) {
	if !r.HasNext() {
		return event.Event{}, false
	}
	return r.events[r.pos], true
}

// Current returns the event the cursor last passed, if any.
func (r *Replayer) Current() (event.Event, bool) {
	if r.pos == 0 {
		return event.Event{}, false
	}
	return r.events[r.pos-1], true
}

// Goto moves the cursor directly to pos, forward or backward. Position pos
// means "after event pos"; event ids double as positions since ids are the
// contiguous sequence 1..N. The jump costs O(checkpoint interval), not
// O(session length).
func (r *Replayer) Goto(pos int) error {
	if pos < 0 || pos > len(r.events) {
		return &PositionError{Position: pos, Max: len(r.events)}
	}
	r.pos = pos
	return nil
}

// Rewind resets the cursor to the beginning. Equivalent to Goto(0).
func (r *Replayer) Rewind() { r.pos = 0 }

// State returns the agent state at the current cursor position. Repeated
// calls without moving the cursor return equal, independent values.
func (r *Replayer) State() (map[string]any, error) {
	return r.rec.StateAt(r.pos)
}

// StateAt returns the agent state at an arbitrary position without moving
// the cursor.
func (r *Replayer) StateAt(pos int) (map[string]any, error) {
	return r.rec.StateAt(pos)
}

// AddBreakpoint marks an event id for Continue to stop at.
func (r *Replayer) AddBreakpoint(eventID int) {
	r.breakpoints[eventID] = struct{}{}
}

// RemoveBreakpoint clears a breakpoint.
func (r *Replayer) RemoveBreakpoint(eventID int) {
	delete(r.breakpoints, eventID)
}

// Continue steps forward until the next breakpoint and returns the event
// there. The second result is false when the end was reached without
// hitting one.
func (r *Replayer) Continue() (event.Event, bool) {
	for r.HasNext() {
		ev, err := r.Step()
		if err != nil {
			return event.Event{}, false
		}
		if _, ok := r.breakpoints[ev.ID]; ok {
			return ev, true
		}
	}
	return event.Event{}, false
}

// FilterOptions selects a subset of the timeline.
type FilterOptions struct {
	Type   event.Type // zero value matches all types
	Tags   []string   // any match
	Search string     // case-insensitive substring over the JSON payload
}

// Filter returns the events matching every set criterion, in id order.
func (r *Replayer) Filter(opts FilterOptions) []event.Event {
	var out []event.Event
	search := strings.ToLower(opts.Search)
	for _, ev := range r.events {
		if opts.Type != "" && ev.Type != opts.Type {
			continue
		}
		if len(opts.Tags) > 0 && !anyTag(ev.Tags, opts.Tags) {
			continue
		}
		if search != "" {
			raw, err := json.Marshal(ev.Data)
			if err != nil || !strings.Contains(strings.ToLower(string(raw)), search) {
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Summary aggregates session-level statistics for listings and the info
// command.
type Summary struct {
	SessionID   string            `json:"session_id"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     *time.Time        `json:"ended_at"`
	Duration    time.Duration     `json:"duration"`
	TotalEvents int               `json:"total_events"`
	LLMCalls    int               `json:"llm_calls"`
	ToolCalls   int               `json:"tool_calls"`
	Errors      int               `json:"errors"`
	Tokens      event.Tokens      `json:"tokens"`
	Metadata    map[string]string `json:"metadata"`
}

// Summary computes the session summary.
func (r *Replayer) Summary() Summary {
	s := Summary{
		SessionID:   r.session.ID,
		StartedAt:   r.session.StartedAt,
		EndedAt:     r.session.EndedAt,
		Duration:    r.session.Duration(),
		TotalEvents: len(r.events),
		Tokens:      r.session.TotalTokens(),
		Metadata:    r.session.Metadata,
	}
	for _, ev := range r.events {
		switch ev.Type {
		case event.TypeLLMCall:
			s.LLMCalls++
		case event.TypeToolCall:
			s.ToolCalls++
		case event.TypeError:
			s.Errors++
		}
	}
	return s
}
