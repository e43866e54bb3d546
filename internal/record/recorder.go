// Package record produces well-formed, ordered event streams into sessions.
// It is the single ingestion surface for event producers: integration shims,
// the CLI and the web UI all speak to a Recorder, never to a session directly.
package record

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"retrace/internal/event"
	"retrace/internal/logging"
	"retrace/internal/session"
)

// Recorder wraps a live session with one strongly-typed ingestion method per
// event kind. All methods are safe under concurrent producers.
type Recorder struct {
	session *session.Session
	store   session.Store
	logger  logging.Logger
	metrics *Metrics

	mu        sync.Mutex
	state     map[string]any // convenience mirror of the reconstructed state
	finalized bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Recorder) { r.logger = logging.OrNop(logger) }
}

// WithMetricsRegistry registers the recorder's collectors with reg instead of
// the global Prometheus registry.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(r *Recorder) { r.metrics = MustNewMetrics(reg) }
}

// New creates a recorder over a fresh in-memory session. An empty sessionID
// gets an auto-generated one.
func New(sessionID string, metadata map[string]string, opts ...Option) *Recorder {
	if sessionID == "" {
		sessionID = uuid.NewString()[:8]
	}
	r := &Recorder{
		session: session.New(sessionID, metadata),
		logger:  logging.NewComponentLogger("Recorder"),
		state:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = defaultMetrics()
	}
	r.logger.Info("Session %s opened", sessionID)
	return r
}

// Start creates a recorder whose session is registered at the given store.
// It fails with ErrDuplicateSession when the id is already taken there; the
// finalized session is saved back to the store when the capture ends.
func Start(ctx context.Context, store session.Store, sessionID string, metadata map[string]string, opts ...Option) (*Recorder, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()[:8]
	}
	sess, err := store.Create(ctx, sessionID, metadata)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		session: sess,
		store:   store,
		logger:  logging.NewComponentLogger("Recorder"),
		state:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = defaultMetrics()
	}
	r.logger.Info("Session %s opened at store", sessionID)
	return r, nil
}

// Session returns the recorder's underlying session.
func (r *Recorder) Session() *session.Session { return r.session }

// Timeline returns an independent snapshot of the events recorded so far.
// Each call returns a fresh slice reflecting appended state at call time.
func (r *Recorder) Timeline() []event.Event { return r.session.Timeline() }

func (r *Recorder) append(payload event.Payload, opts ...session.AppendOption) (event.Event, error) {
	ev, err := r.session.Append(payload, opts...)
	if err != nil {
		r.logger.Warn("Append rejected for %s event: %v", payload.Kind(), err)
		return event.Event{}, err
	}
	r.metrics.observeEvent(string(ev.Type))
	r.logger.Debug("Event %d recorded: %s", ev.ID, ev.Summary())
	return ev, nil
}

// RecordInput records a message handed to the agent.
func (r *Recorder) RecordInput(role, content string, metadata map[string]any) (event.Event, error) {
	return r.append(&event.Input{Role: role, Content: content, Metadata: metadata})
}

// RecordOutput records content the agent produced.
func (r *Recorder) RecordOutput(role, content string, metadata map[string]any) (event.Event, error) {
	return r.append(&event.Output{Role: role, Content: content, Metadata: metadata})
}

// RecordLLMCall records one model round trip.
func (r *Recorder) RecordLLMCall(model string, prompt, response any, tokens event.Tokens, opts ...session.AppendOption) (event.Event, error) {
	return r.append(&event.LLMCall{Model: model, Prompt: prompt, Response: response, Tokens: tokens}, opts...)
}

// RecordToolCall records one tool invocation. A non-nil callErr marks the
// call failed and carries its message.
func (r *Recorder) RecordToolCall(tool string, args map[string]any, result any, callErr error, opts ...session.AppendOption) (event.Event, error) {
	payload := &event.ToolCall{Tool: tool, Args: args, Result: result, Success: callErr == nil}
	if callErr != nil {
		payload.Error = callErr.Error()
	}
	return r.append(payload, opts...)
}

// RecordStateChange records a delta: only the given keys change. The
// recorder's convenience state mirror is updated to match.
func (r *Recorder) RecordStateChange(values map[string]any) (event.Event, error) {
	ev, err := r.append(&event.StateChange{Mode: event.ModeDelta, Values: event.CloneState(values)})
	if err != nil {
		return event.Event{}, err
	}
	r.mu.Lock()
	for k, v := range values {
		r.state[k] = v
	}
	r.mu.Unlock()
	return ev, nil
}

// RecordStateSnapshot records the full agent state, replacing everything
// accumulated so far.
func (r *Recorder) RecordStateSnapshot(state map[string]any) (event.Event, error) {
	ev, err := r.append(&event.StateChange{Mode: event.ModeSnapshot, Values: event.CloneState(state)})
	if err != nil {
		return event.Event{}, err
	}
	r.mu.Lock()
	r.state = event.CloneState(state)
	r.mu.Unlock()
	return ev, nil
}

// RecordError records a failure observed during the run.
func (r *Recorder) RecordError(runErr error, context map[string]any) (event.Event, error) {
	return r.append(&event.ErrorInfo{
		Message:   runErr.Error(),
		ErrorType: fmt.Sprintf("%T", runErr),
		Context:   context,
	}, session.WithTags("error"))
}

// RecordLog records a diagnostic line emitted by the agent.
func (r *Recorder) RecordLog(level, message string, fields map[string]any) (event.Event, error) {
	return r.append(&event.Log{Level: level, Message: message, Fields: fields})
}

// SetState updates the convenience state mirror without recording an event.
func (r *Recorder) SetState(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[key] = value
}

// State returns a copy of the convenience state mirror.
func (r *Recorder) State() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return event.CloneState(r.state)
}

// Capture runs fn inside a scoped capture. On any exit path the session is
// finalized exactly once; a failure (error or panic) is first recorded as an
// error event, then finalization happens, then the failure propagates to the
// caller. Capture never swallows a failure.
func (r *Recorder) Capture(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.recordFailure(fmt.Errorf("panic: %v", p), debug.Stack())
			r.finish(ctx, true)
			panic(p)
		}
		failed := err != nil
		if failed {
			r.recordFailure(err, nil)
		}
		if finishErr := r.finish(ctx, failed); finishErr != nil && err == nil {
			err = finishErr
		}
	}()
	return fn(ctx)
}

func (r *Recorder) recordFailure(failure error, stack []byte) {
	payload := &event.ErrorInfo{
		Message:   failure.Error(),
		ErrorType: fmt.Sprintf("%T", failure),
	}
	if stack != nil {
		payload.StackTrace = string(stack)
	}
	if _, err := r.append(payload, session.WithTags("error", "capture")); err != nil {
		r.logger.Error("Failed to record capture failure: %v", err)
	}
}

// Finish finalizes the session and, when the recorder was started against a
// store, saves the finalized session there. Finishing twice is a no-op.
func (r *Recorder) Finish(ctx context.Context) error {
	return r.finish(ctx, false)
}

func (r *Recorder) finish(ctx context.Context, failed bool) error {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return nil
	}
	r.finalized = true
	r.mu.Unlock()

	r.session.Finalize()
	r.metrics.observeFinalize(failed)
	r.logger.Info("Session %s finalized (%d events)", r.session.ID, r.session.EventCount())

	if r.store != nil {
		if err := r.store.Save(ctx, r.session); err != nil {
			r.logger.Error("Failed to save session %s: %v", r.session.ID, err)
			return fmt.Errorf("save session %s: %w", r.session.ID, err)
		}
	}
	return nil
}
