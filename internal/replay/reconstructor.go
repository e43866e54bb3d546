// Package replay reconstructs agent state at arbitrary points of a recorded
// session and exposes a stepping cursor over it. Reconstruction cost is
// bounded by a checkpoint interval, not by session length, so jumping around
// a long session stays interactive.
package replay

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"retrace/internal/event"
	"retrace/internal/session"
)

// DefaultCheckpointInterval is the default distance between materialized
// state snapshots.
const DefaultCheckpointInterval = 50

const stateCacheSize = 128

// Reconstructor computes agent state at any event position. State at
// position k is the fold of all state_change payloads over events 1..k;
// checkpoints every interval events keep a single query at O(interval).
// Checkpoints are materialized lazily on first use.
type Reconstructor struct {
	events   []event.Event
	interval int

	mu          sync.Mutex
	checkpoints map[int]map[string]any
	cache       *lru.Cache[int, map[string]any]
}

// ReconstructorOption configures a Reconstructor.
type ReconstructorOption func(*Reconstructor)

// WithCheckpointInterval overrides the default checkpoint distance.
// Values below 1 are ignored.
func WithCheckpointInterval(interval int) ReconstructorOption {
	return func(r *Reconstructor) {
		if interval >= 1 {
			r.interval = interval
		}
	}
}

// NewReconstructor builds a reconstructor over the session's event sequence
// as of the call. The session is only read.
func NewReconstructor(sess *session.Session, opts ...ReconstructorOption) *Reconstructor {
	r := &Reconstructor{
		events:      sess.Timeline(),
		interval:    DefaultCheckpointInterval,
		checkpoints: make(map[int]map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	// Error only on non-positive size, which stateCacheSize never is.
	r.cache, _ = lru.New[int, map[string]any](stateCacheSize)
	return r
}

// Len returns the number of events covered.
func (r *Reconstructor) Len() int { return len(r.events) }

// StateAt returns the agent state after applying events 1..pos. Position 0
// is the initial empty state. Every call returns an independent value:
// mutating a returned map never affects later queries.
func (r *Reconstructor) StateAt(pos int) (map[string]any, error) {
	if pos < 0 || pos > len(r.events) {
		return nil, &PositionError{Position: pos, Max: len(r.events)}
	}
	if pos == 0 {
		return map[string]any{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.cache.Get(pos); ok {
		return event.CloneState(state), nil
	}

	base, state := r.nearestCheckpointLocked(pos)
	for i := base; i < pos; i++ {
		ev := r.events[i]
		if change, ok := ev.Data.(*event.StateChange); ok {
			state = change.Apply(state)
		}
		at := i + 1
		if at%r.interval == 0 {
			if _, exists := r.checkpoints[at]; !exists {
				r.checkpoints[at] = event.CloneState(state)
			}
		}
	}

	r.cache.Add(pos, event.CloneState(state))
	return state, nil
}

// nearestCheckpointLocked returns the greatest materialized checkpoint
// position j <= pos and a private copy of its state, falling back to the
// empty state at position 0.
func (r *Reconstructor) nearestCheckpointLocked(pos int) (int, map[string]any) {
	for at := (pos / r.interval) * r.interval; at > 0; at -= r.interval {
		if state, ok := r.checkpoints[at]; ok {
			return at, event.CloneState(state)
		}
	}
	return 0, map[string]any{}
}
