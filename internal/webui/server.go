// Package webui serves the session inspection API: timeline listings,
// state-at-position queries, session diffs and a websocket replay channel.
// It is a read-only consumer of stored sessions.
package webui

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"retrace/internal/logging"
	"retrace/internal/session"
)

// ServerConfig holds the web UI server settings.
type ServerConfig struct {
	Addr               string        `json:"addr"`
	EnableCORS         bool          `json:"enable_cors"`
	Debug              bool          `json:"debug"`
	CheckpointInterval int           `json:"checkpoint_interval"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
}

// DefaultServerConfig returns the default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:               "localhost:8847",
		EnableCORS:         true,
		CheckpointInterval: 50,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
	}
}

// Server is the web UI HTTP server.
type Server struct {
	store      session.Store
	config     ServerConfig
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     logging.Logger
}

// NewServer builds a server over the given session store.
func NewServer(store session.Store, cfg ServerConfig) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.CheckpointInterval < 1 {
		cfg.CheckpointInterval = DefaultServerConfig().CheckpointInterval
	}

	s := &Server{
		store:  store,
		config: cfg,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger("WebUI"),
	}

	s.engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		s.engine.Use(cors.Default())
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.GET("/sessions/:id/timeline", s.handleTimeline)
	api.GET("/sessions/:id/state", s.handleStateAt)
	api.GET("/diff", s.handleDiff)

	s.engine.GET("/ws/sessions/:id/replay", s.handleReplaySocket)
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Web UI listening on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }
