package webui

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"retrace/internal/diff"
	"retrace/internal/replay"
	"retrace/internal/session"
)

// APIResponse is the JSON envelope shared by every API endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, APIResponse{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	var corrupt *session.CorruptError
	var position *replay.PositionError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &corrupt):
		return http.StatusUnprocessableEntity
	case errors.As(err, &position):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListSessions(c *gin.Context) {
	ids, err := s.store.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondOK(c, gin.H{"sessions": ids})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, statusFor(err), err)
		return
	}
	respondOK(c, replay.New(sess).Summary())
}

func (s *Server) handleTimeline(c *gin.Context) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, statusFor(err), err)
		return
	}
	events := sess.Timeline()

	offset, limit := 0, len(events)
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			limit = v
		}
	}
	if offset > len(events) {
		offset = len(events)
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}

	respondOK(c, gin.H{
		"session_id": sess.ID,
		"total":      len(events),
		"events":     events[offset:end],
	})
}

func (s *Server) handleStateAt(c *gin.Context) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, statusFor(err), err)
		return
	}

	position := sess.EventCount()
	if raw := c.Query("position"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, errors.New("position must be an integer"))
			return
		}
		position = v
	}

	rec := replay.NewReconstructor(sess, replay.WithCheckpointInterval(s.config.CheckpointInterval))
	state, err := rec.StateAt(position)
	if err != nil {
		respondError(c, statusFor(err), err)
		return
	}
	respondOK(c, gin.H{"session_id": sess.ID, "position": position, "state": state})
}

func (s *Server) handleDiff(c *gin.Context) {
	aID, bID := c.Query("a"), c.Query("b")
	if aID == "" || bID == "" {
		respondError(c, http.StatusBadRequest, errors.New("query parameters a and b are required"))
		return
	}

	var sessA, sessB *session.Session
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() (err error) {
		sessA, err = s.store.Get(ctx, aID)
		return err
	})
	g.Go(func() (err error) {
		sessB, err = s.store.Get(ctx, bID)
		return err
	})
	if err := g.Wait(); err != nil {
		respondError(c, statusFor(err), err)
		return
	}

	records := diff.Diff(sessA, sessB)
	if records == nil {
		records = []diff.Record{}
	}
	respondOK(c, gin.H{"a": aID, "b": bID, "records": records})
}
