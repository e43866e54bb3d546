package session

import (
	"sync"
	"time"

	"retrace/internal/event"
)

// Session is one recorded agent run: an append-only, id-ordered sequence of
// events plus free-form metadata. All mutation goes through Append and
// Finalize; once EndedAt is set the session is read-only.
//
// Fields are exported for JSON round-tripping. Callers must not modify them
// directly.
type Session struct {
	ID        string            `json:"session_id"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at"`
	Events    []event.Event     `json:"events"`
	Metadata  map[string]string `json:"metadata"`

	mu  sync.Mutex
	now func() time.Time
}

// New creates an open session with the given caller-supplied id.
func New(sessionID string, metadata map[string]string) *Session {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Session{
		ID:        sessionID,
		StartedAt: time.Now().UTC(),
		Events:    []event.Event{},
		Metadata:  metadata,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AppendOption customizes optional event fields on append.
type AppendOption func(*event.Event)

// WithDuration attaches a duration in milliseconds to the event.
func WithDuration(ms float64) AppendOption {
	return func(e *event.Event) { e.DurationMS = &ms }
}

// WithTags attaches tags to the event.
func WithTags(tags ...string) AppendOption {
	return func(e *event.Event) { e.Tags = tags }
}

// Append validates the payload, assigns the next gapless id and a
// non-decreasing timestamp, and appends the finalized event. It is safe under
// concurrent producers: id assignment, timestamping and insertion happen in
// one critical section, so racing calls each get a unique id in some
// linearization of the calls.
//
// A failed validation leaves the session untouched. Appending to a finalized
// session fails with ErrSessionClosed.
func (s *Session) Append(payload event.Payload, opts ...AppendOption) (event.Event, error) {
	if payload == nil {
		return event.Event{}, &event.ValidationError{Reason: "nil payload"}
	}
	if !payload.Kind().Valid() {
		return event.Event{}, &event.ValidationError{Type: payload.Kind(), Reason: "unknown event type"}
	}
	if err := payload.Validate(); err != nil {
		return event.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.EndedAt != nil {
		return event.Event{}, ErrSessionClosed
	}

	ts := s.clock()
	if n := len(s.Events); n > 0 && ts.Before(s.Events[n-1].Timestamp) {
		// Wall clock stepped backwards; clamp to keep timestamps monotonic.
		ts = s.Events[n-1].Timestamp
	}

	ev := event.Event{
		ID:        len(s.Events) + 1,
		Timestamp: ts,
		Type:      payload.Kind(),
		Data:      payload,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	s.Events = append(s.Events, ev)
	return ev, nil
}

// Finalize sets EndedAt exactly once and makes the session read-only.
// Finalizing an already closed session is a no-op.
func (s *Session) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndedAt == nil {
		ts := s.clock()
		if n := len(s.Events); n > 0 && ts.Before(s.Events[n-1].Timestamp) {
			ts = s.Events[n-1].Timestamp
		}
		s.EndedAt = &ts
	}
}

// Closed reports whether the session has been finalized.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndedAt != nil
}

func (s *Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// EventCount returns the number of recorded events.
func (s *Session) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Events)
}

// Timeline returns an independent snapshot of the event sequence at call
// time. Repeated calls return fresh slices reflecting appended state.
func (s *Session) Timeline() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// EventsOfType returns the events with the given type, in id order.
func (s *Session) EventsOfType(t event.Type) []event.Event {
	var out []event.Event
	for _, ev := range s.Timeline() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Duration returns the wall-clock span of the session, or zero while the
// capture is still open.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// TotalTokens sums token usage across every llm_call event.
func (s *Session) TotalTokens() event.Tokens {
	var total event.Tokens
	for _, ev := range s.EventsOfType(event.TypeLLMCall) {
		if call, ok := ev.Data.(*event.LLMCall); ok {
			total.Input += call.Tokens.Input
			total.Output += call.Tokens.Output
		}
	}
	return total
}
