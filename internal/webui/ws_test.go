package webui

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestReplaySocket_StepAndGoto(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedSession(t, store, "run-1", 22)

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/run-1/replay"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	send := func(req replayRequest) replayResponse {
		t.Helper()
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("WriteJSON(%+v) error = %v", req, err)
		}
		var out replayResponse
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return out
	}

	out := send(replayRequest{Op: "step"})
	if !out.OK || out.Position != 1 || out.Event == nil || out.Event.ID != 1 {
		t.Fatalf("step response = %+v", out)
	}

	out = send(replayRequest{Op: "goto", Position: 4})
	if !out.OK || out.Position != 4 {
		t.Fatalf("goto response = %+v", out)
	}
	if out.State["queries"] != float64(1) {
		t.Fatalf("state after goto = %v", out.State)
	}

	out = send(replayRequest{Op: "back"})
	if !out.OK || out.Position != 3 || out.Event == nil || out.Event.ID != 4 {
		t.Fatalf("back response = %+v", out)
	}

	out = send(replayRequest{Op: "reset"})
	if !out.OK || out.Position != 0 {
		t.Fatalf("reset response = %+v", out)
	}

	out = send(replayRequest{Op: "warp"})
	if out.OK || out.Error == "" {
		t.Fatalf("unknown op response = %+v", out)
	}
}

func TestReplaySocket_MissingSession(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/nope/replay"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("Dial() to missing session succeeded")
	}
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
}
