package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/raidx545/mend/internal/events"
	"github.com/raidx545/mend/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStarter struct {
	mu   sync.Mutex
	runs []model.RunRequest
	wait chan struct{} // when set, Run blocks until closed
}

func (f *fakeStarter) Run(_ context.Context, runID string, req model.RunRequest) (*model.RunSummary, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if f.wait != nil {
		<-f.wait
	}
	return &model.RunSummary{RepoURL: req.RepoURL, Phase: model.PhaseCompleted}, nil
}

func newTestServer(starter *fakeStarter, b *events.Broadcaster) *Server {
	if b == nil {
		b = events.NewBroadcaster(nil)
	}
	return NewServer(starter, nil, b, nil)
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeStarter{}, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStartRunValidatesRequest(t *testing.T) {
	s := newTestServer(&fakeStarter{}, nil)
	w := httptest.NewRecorder()
	body := strings.NewReader(`{"repo_url": "https://github.com/a/b"}`) // missing team/leader
	req := httptest.NewRequest(http.MethodPost, "/api/runs", body)
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStartRunIsAsync(t *testing.T) {
	starter := &fakeStarter{wait: make(chan struct{})}
	s := newTestServer(starter, nil)

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"repo_url": "https://github.com/a/b", "team_name": "T", "leader_name": "L"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/runs", body)
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	runID := resp["run_id"]
	if runID == "" {
		t.Fatal("no run_id in response")
	}

	// Run is still in flight, so the status endpoint reports running.
	deadline := time.Now().Add(time.Second)
	for {
		w2 := httptest.NewRecorder()
		s.Router().ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/runs/"+runID, nil))
		var status map[string]any
		json.Unmarshal(w2.Body.Bytes(), &status)
		if status["status"] == "running" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never reported running: %s", w2.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(starter.wait)
}

func TestGetUnknownRun(t *testing.T) {
	s := newTestServer(&fakeStarter{}, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	b := events.NewBroadcaster(nil)
	s := newTestServer(&fakeStarter{}, b)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/run-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscription.
	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount("run-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish("run-1", model.Event{Type: "phase_change", Phase: model.PhaseCloning, Message: "cloning"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "phase_change" || ev.Message != "cloning" {
		t.Errorf("event = %+v", ev)
	}

	// run_complete closes the stream server-side.
	b.Publish("run-1", model.Event{Type: "run_complete", Message: "done"})
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection left open after run_complete")
	}
}
