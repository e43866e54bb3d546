package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"retrace/internal/event"
	"retrace/internal/session"
	"retrace/internal/session/filestore"
)

func newTestServer(t *testing.T) (*Server, session.Store) {
	t.Helper()
	store := filestore.New(t.TempDir())
	cfg := DefaultServerConfig()
	cfg.EnableCORS = false
	return NewServer(store, cfg), store
}

func seedSession(t *testing.T, store session.Store, id string, temp int) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := store.Create(ctx, id, map[string]string{"agent": "weather"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	appends := []event.Payload{
		&event.Input{Role: "user", Content: "what is the weather"},
		&event.ToolCall{Tool: "weather", Result: map[string]any{"temp": temp}, Success: true},
		&event.StateChange{Mode: event.ModeDelta, Values: map[string]any{"queries": 1}},
		&event.Output{Role: "assistant", Content: "done"},
	}
	for _, p := range appends {
		if _, err := sess.Append(p); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	sess.Finalize()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return sess
}

func doGet(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body APIResponse
	if w.Header().Get("Content-Type") != "" {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal response for %s: %v (%s)", path, err, w.Body.String())
		}
	}
	return w, body
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	w, _ := doGet(t, s, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d", w.Code)
	}
}

func TestServer_ListSessions(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedSession(t, store, "run-1", 22)
	seedSession(t, store, "run-2", 25)

	w, body := doGet(t, s, "/api/sessions")
	if w.Code != http.StatusOK || !body.Success {
		t.Fatalf("GET /api/sessions status = %d body = %+v", w.Code, body)
	}
	data := body.Data.(map[string]any)
	if got := len(data["sessions"].([]any)); got != 2 {
		t.Fatalf("sessions = %v", data["sessions"])
	}
}

func TestServer_GetSessionSummary(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedSession(t, store, "run-1", 22)

	w, body := doGet(t, s, "/api/sessions/run-1")
	if w.Code != http.StatusOK || !body.Success {
		t.Fatalf("status = %d body = %+v", w.Code, body)
	}
	data := body.Data.(map[string]any)
	if data["session_id"] != "run-1" || data["total_events"] != float64(4) {
		t.Fatalf("summary = %v", data)
	}
}

func TestServer_GetMissingSessionIs404(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	w, body := doGet(t, s, "/api/sessions/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if body.Success || body.Error == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestServer_TimelinePaging(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedSession(t, store, "run-1", 22)

	w, body := doGet(t, s, "/api/sessions/run-1/timeline?offset=1&limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := body.Data.(map[string]any)
	if data["total"] != float64(4) {
		t.Fatalf("total = %v", data["total"])
	}
	events := data["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("events = %v", events)
	}
	first := events[0].(map[string]any)
	if first["id"] != float64(2) {
		t.Fatalf("first paged event id = %v", first["id"])
	}
}

func TestServer_StateAtPosition(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedSession(t, store, "run-1", 22)

	// Before the state_change event the state is empty.
	_, body := doGet(t, s, "/api/sessions/run-1/state?position=2")
	state := body.Data.(map[string]any)["state"].(map[string]any)
	if len(state) != 0 {
		t.Fatalf("state at position 2 = %v", state)
	}

	// At the end the delta has been applied.
	_, body = doGet(t, s, "/api/sessions/run-1/state")
	state = body.Data.(map[string]any)["state"].(map[string]any)
	if state["queries"] != float64(1) {
		t.Fatalf("final state = %v", state)
	}

	// An out-of-range position is a client error.
	w, _ := doGet(t, s, "/api/sessions/run-1/state?position=99")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status for out-of-range position = %d", w.Code)
	}
}

func TestServer_Diff(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedSession(t, store, "run-1", 22)
	seedSession(t, store, "run-2", 25)

	w, body := doGet(t, s, "/api/diff?a=run-1&b=run-2")
	if w.Code != http.StatusOK || !body.Success {
		t.Fatalf("status = %d body = %+v", w.Code, body)
	}
	records := body.Data.(map[string]any)["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records = %v", records)
	}
	rec := records[0].(map[string]any)
	if rec["kind"] != "changed" || rec["field_path"] != "result.temp" {
		t.Fatalf("record = %v", rec)
	}

	if w, _ := doGet(t, s, "/api/diff?a=run-1"); w.Code != http.StatusBadRequest {
		t.Fatalf("missing b param status = %d", w.Code)
	}
}

func TestServer_DiffIdenticalSessionsIsEmptyList(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedSession(t, store, "run-1", 22)
	seedSession(t, store, "run-2", 22)

	_, body := doGet(t, s, fmt.Sprintf("/api/diff?a=%s&b=%s", "run-1", "run-2"))
	records, ok := body.Data.(map[string]any)["records"].([]any)
	if !ok {
		t.Fatalf("records missing from %+v", body.Data)
	}
	if len(records) != 0 {
		t.Fatalf("records = %v, want empty list", records)
	}
}
