package webui

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"retrace/internal/event"
	"retrace/internal/replay"
)

// replayRequest is one client command on the replay socket.
type replayRequest struct {
	Op       string `json:"op"` // step, back, goto, state, reset
	Position int    `json:"position,omitempty"`
}

// replayResponse answers a replayRequest. State is included for ops that
// moved the cursor or asked for it explicitly.
type replayResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error,omitempty"`
	Position int            `json:"position"`
	Event    *event.Event   `json:"event,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}

// handleReplaySocket drives one interactive replay cursor per connection.
// The session is read-only, so concurrent connections never interfere.
func (s *Server) handleReplaySocket(c *gin.Context) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, statusFor(err), err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	r := replay.New(sess, replay.WithCheckpointInterval(s.config.CheckpointInterval))

	for {
		var req replayRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Replay socket closed: %v", err)
			}
			return
		}
		resp := s.applyReplayOp(r, req)
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("Replay socket write failed: %v", err)
			return
		}
	}
}

func (s *Server) applyReplayOp(r *replay.Replayer, req replayRequest) replayResponse {
	var (
		ev    event.Event
		hasEv bool
		opErr error
	)

	switch req.Op {
	case "step":
		ev, opErr = r.Step()
		hasEv = opErr == nil
	case "back":
		ev, opErr = r.StepBack()
		hasEv = opErr == nil
	case "goto":
		opErr = r.Goto(req.Position)
	case "reset":
		r.Rewind()
	case "state":
		// position unchanged; state attached below
	default:
		opErr = errors.New("unknown op: " + req.Op)
	}

	resp := replayResponse{OK: opErr == nil, Position: r.Position()}
	if opErr != nil {
		resp.Error = opErr.Error()
		return resp
	}
	if hasEv {
		resp.Event = &ev
	}
	state, err := r.State()
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
		return resp
	}
	resp.State = state
	return resp
}
