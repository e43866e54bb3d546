package session

import (
	"encoding/json"
	"fmt"

	"retrace/internal/event"
)

// Marshal serializes the session to its persisted JSON form. Object keys are
// order-insensitive on read; the events array is order-significant.
func (s *Session) Marshal() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type alias Session // drop methods to avoid recursion
	return json.MarshalIndent((*alias)(s), "", "  ")
}

// Unmarshal decodes a serialized session without validating invariants.
// Most callers want Load.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Events == nil {
		s.Events = []event.Event{}
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	return &s, nil
}

// Load decodes a serialized session and verifies its structural invariants,
// failing with *CorruptError when they do not hold.
func Load(data []byte) (*Session, error) {
	s, err := Unmarshal(data)
	if err != nil {
		return nil, &CorruptError{Reason: "invalid JSON", Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the contiguous-id and non-decreasing-timestamp invariants
// plus per-event payload shape. It returns *CorruptError on the first
// violation found.
func (s *Session) Validate() error {
	if s.ID == "" {
		return &CorruptError{Reason: "missing session_id"}
	}
	for i, ev := range s.Events {
		if ev.ID != i+1 {
			return &CorruptError{
				SessionID: s.ID,
				Reason:    fmt.Sprintf("event ids must be contiguous from 1: position %d has id %d", i, ev.ID),
			}
		}
		if !ev.Type.Valid() {
			return &CorruptError{
				SessionID: s.ID,
				Reason:    fmt.Sprintf("event %d has unknown type %q", ev.ID, ev.Type),
			}
		}
		if i > 0 && ev.Timestamp.Before(s.Events[i-1].Timestamp) {
			return &CorruptError{
				SessionID: s.ID,
				Reason:    fmt.Sprintf("event %d timestamp precedes event %d", ev.ID, ev.ID-1),
			}
		}
		if ev.Data == nil {
			return &CorruptError{SessionID: s.ID, Reason: fmt.Sprintf("event %d has no data", ev.ID)}
		}
		if err := ev.Data.Validate(); err != nil {
			return &CorruptError{
				SessionID: s.ID,
				Reason:    fmt.Sprintf("event %d payload invalid", ev.ID),
				Err:       err,
			}
		}
	}
	return nil
}

// Equal reports whether two sessions are structurally identical, comparing
// mappings independently of key order.
func (s *Session) Equal(other *Session) bool {
	a, err := s.Marshal()
	if err != nil {
		return false
	}
	b, err := other.Marshal()
	if err != nil {
		return false
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return deepEqualJSON(av, bv)
}

func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
