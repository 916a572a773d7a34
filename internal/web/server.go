// Package web exposes the engine over HTTP: a JSON API for starting and
// inspecting runs, and a websocket stream of live run events.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raidx545/mend/internal/db"
	"github.com/raidx545/mend/internal/events"
	"github.com/raidx545/mend/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RunStarter executes a repair run. Interface for testing; the production
// implementation is the agent.
type RunStarter interface {
	Run(ctx context.Context, runID string, req model.RunRequest) (*model.RunSummary, error)
}

// Server wires the HTTP surface together.
type Server struct {
	agent       RunStarter
	store       *db.DB
	broadcaster *events.Broadcaster
	log         *slog.Logger

	mu     sync.RWMutex
	active map[string]*model.RunRequest
}

func NewServer(a RunStarter, store *db.DB, broadcaster *events.Broadcaster, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		agent:       a,
		store:       store,
		broadcaster: broadcaster,
		log:         log,
		active:      make(map[string]*model.RunRequest),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.POST("/api/runs", s.handleStartRun)
	r.GET("/api/runs", s.handleListRuns)
	r.GET("/api/runs/:id", s.handleGetRun)
	r.GET("/ws/:id", s.handleWebsocket)
	return r
}

// ListenAndServe runs the HTTP server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	return s.Router().Run(addr)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "mend",
		"message": "iterative repair engine",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// handleStartRun validates the request, assigns a run ID, and starts the
// repair in the background. The response returns immediately; progress
// streams over the run's websocket.
func (s *Server) handleStartRun(c *gin.Context) {
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID := uuid.New().String()
	s.mu.Lock()
	s.active[runID] = &req
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, runID)
			s.mu.Unlock()
		}()
		if _, err := s.agent.Run(context.Background(), runID, req); err != nil {
			s.log.Error("run failed", "run", runID, "err", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":    runID,
		"status":    "started",
		"websocket": "/ws/" + runID,
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []any{}})
		return
	}
	runs, err := s.store.ListRuns(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	s.mu.RLock()
	req, running := s.active[runID]
	s.mu.RUnlock()
	if running {
		c.JSON(http.StatusOK, gin.H{
			"run_id":   runID,
			"repo_url": req.RepoURL,
			"status":   "running",
		})
		return
	}

	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	summary, err := s.store.GetSummary(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": "running"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// handleWebsocket streams a run's events to the client until the run
// completes or the client goes away. Late joiners see only what happens
// after they connect.
func (s *Server) handleWebsocket(c *gin.Context) {
	runID := c.Param("id")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	ch, cancel := s.broadcaster.Subscribe(runID)
	defer cancel()
	s.log.Info("websocket client connected", "run", runID)

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				s.log.Info("websocket client disconnected", "run", runID, "err", err)
				return
			}
			if ev.Type == "run_complete" {
				return
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
