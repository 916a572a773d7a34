package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raidx545/mend/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.Client(), "https://github.com/acme/widgets.git", "tok", nil)
	if err != nil {
		t.Fatal(err)
	}
	return c.WithAPIBase(srv.URL), srv
}

func TestSplitRepoURL(t *testing.T) {
	owner, name, err := splitRepoURL("https://github.com/acme/widgets.git")
	if err != nil {
		t.Fatal(err)
	}
	if owner != "acme" || name != "widgets" {
		t.Errorf("got %s/%s", owner, name)
	}
	if _, _, err := splitRepoURL("nonsense"); err == nil {
		t.Error("expected error for unparseable url")
	}
}

func TestCreatePullRequestFallsBackToMaster(t *testing.T) {
	var bases []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		decodeJSON(t, r, &req)
		bases = append(bases, req["base"])
		if req["base"] == "main" {
			w.WriteHeader(422)
			w.Write([]byte(`{"message":"Validation Failed","errors":[{"message":"Field base is invalid"}]}`))
			return
		}
		w.Write([]byte(`{"number": 7, "html_url": "https://github.com/acme/widgets/pull/7"}`))
	}))

	pr, err := c.CreatePullRequest(context.Background(), "TEAM_LEADER_AI_FIX", "title", "body")
	if err != nil {
		t.Fatal(err)
	}
	if pr.Number != 7 {
		t.Errorf("number = %d", pr.Number)
	}
	if len(bases) != 2 || bases[0] != "main" || bases[1] != "master" {
		t.Errorf("bases tried = %v", bases)
	}
}

func TestCreatePullRequestAlreadyExists(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(422)
			w.Write([]byte(`{"message":"A pull request already exists for acme:TEAM_LEADER_AI_FIX."}`))
			return
		}
		w.Write([]byte(`[{"number": 3, "html_url": "https://github.com/acme/widgets/pull/3"}]`))
	}))

	pr, err := c.CreatePullRequest(context.Background(), "TEAM_LEADER_AI_FIX", "title", "body")
	if err != nil {
		t.Fatal(err)
	}
	if pr.Number != 3 {
		t.Errorf("existing PR not resolved: %+v", pr)
	}
}

func TestWatchCINoWorkflows(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_count": 0, "workflows": []}`))
	}))
	status := c.WatchCI(context.Background(), "TEAM_LEADER_AI_FIX", time.Second, time.Millisecond, nil)
	if status != model.CINoWorkflows {
		t.Errorf("status = %s", status)
	}
}

func TestWatchCIConcludes(t *testing.T) {
	polls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/actions/workflows":
			w.Write([]byte(`{"total_count": 1}`))
		case "/repos/acme/widgets/actions/runs":
			polls++
			if polls < 3 {
				w.Write([]byte(`{"workflow_runs": [{"status": "in_progress", "conclusion": "", "head_branch": "TEAM_LEADER_AI_FIX"}]}`))
				return
			}
			w.Write([]byte(`{"workflow_runs": [{"status": "completed", "conclusion": "success", "head_branch": "TEAM_LEADER_AI_FIX"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	var seen []model.CIStatus
	status := c.WatchCI(context.Background(), "TEAM_LEADER_AI_FIX", 5*time.Second, time.Millisecond,
		func(s model.CIStatus) { seen = append(seen, s) })
	if status != model.CIPassed {
		t.Errorf("status = %s", status)
	}
	if len(seen) < 2 || seen[0] != model.CIRunning || seen[len(seen)-1] != model.CIPassed {
		t.Errorf("observed transitions = %v", seen)
	}
}

func TestWatchCITimesOut(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/widgets/actions/workflows" {
			w.Write([]byte(`{"total_count": 1}`))
			return
		}
		w.Write([]byte(`{"workflow_runs": [{"status": "queued", "conclusion": "", "head_branch": "x"}]}`))
	}))
	status := c.WatchCI(context.Background(), "x", 20*time.Millisecond, 5*time.Millisecond, nil)
	if status != model.CITimeout {
		t.Errorf("status = %s", status)
	}
}

func decodeJSON(t *testing.T, r *http.Request, out any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}
