// Package github talks to the GitHub REST API for the publishing half of a
// repair run: opening the pull request and watching the CI that runs on it.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raidx545/mend/internal/model"
)

const defaultAPIBase = "https://api.github.com"

// Client is a minimal GitHub REST client scoped to one repository.
type Client struct {
	http    *http.Client
	apiBase string
	token   string
	owner   string
	repo    string
	log     *slog.Logger
}

// NewClient builds a client for the repository identified by repoURL
// (https://github.com/owner/name[.git]).
func NewClient(httpClient *http.Client, repoURL, token string, log *slog.Logger) (*Client, error) {
	owner, name, err := splitRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		http:    httpClient,
		apiBase: defaultAPIBase,
		token:   token,
		owner:   owner,
		repo:    name,
		log:     log,
	}, nil
}

// WithAPIBase overrides the API endpoint, used by tests.
func (c *Client) WithAPIBase(base string) *Client {
	c.apiBase = strings.TrimRight(base, "/")
	return c
}

func splitRepoURL(repoURL string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse owner/repo from %q", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// PullRequest is the subset of the API response the engine cares about.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// CreatePullRequest opens a PR from head into the repository's default
// branch, trying main first and falling back to master. An already-open PR
// for the same head is not an error: the existing PR is found and returned.
func (c *Client) CreatePullRequest(ctx context.Context, head, title, body string) (*PullRequest, error) {
	var lastErr error
	for _, base := range []string{"main", "master"} {
		pr, err := c.createPR(ctx, head, base, title, body)
		if err == nil {
			return pr, nil
		}
		if isAlreadyExists(err) {
			return c.findOpenPR(ctx, head)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create pull request: %w", lastErr)
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github api: status %d: %s", e.status, e.body)
}

func isAlreadyExists(err error) bool {
	ae, ok := err.(*apiError)
	return ok && ae.status == 422 && strings.Contains(ae.body, "already exists")
}

func (c *Client) createPR(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	payload := map[string]string{"title": title, "head": head, "base": base, "body": body}
	var pr PullRequest
	if err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/pulls", c.owner, c.repo), payload, &pr); err != nil {
		return nil, err
	}
	c.log.Info("opened pull request", "number", pr.Number, "url", pr.HTMLURL)
	return &pr, nil
}

func (c *Client) findOpenPR(ctx context.Context, head string) (*PullRequest, error) {
	var prs []PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=open&head=%s:%s", c.owner, c.repo, c.owner, head)
	if err := c.do(ctx, http.MethodGet, path, nil, &prs); err != nil {
		return nil, fmt.Errorf("list open pulls: %w", err)
	}
	if len(prs) == 0 {
		return nil, fmt.Errorf("pull request for %s reported as existing but not found", head)
	}
	return &prs[0], nil
}

// HasWorkflows reports whether the repository defines any GitHub Actions
// workflows. Without workflows there is no CI to wait for.
func (c *Client) HasWorkflows(ctx context.Context) bool {
	var resp struct {
		TotalCount int `json:"total_count"`
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows", c.owner, c.repo)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		c.log.Warn("workflow lookup failed", "err", err)
		return false
	}
	return resp.TotalCount > 0
}

type workflowRun struct {
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HeadBranch string `json:"head_branch"`
}

// WatchCI polls the latest workflow run for branch until it concludes or
// the timeout expires. onUpdate is invoked for every observed status change.
func (c *Client) WatchCI(ctx context.Context, branch string, timeout, interval time.Duration,
	onUpdate func(model.CIStatus)) model.CIStatus {

	if !c.HasWorkflows(ctx) {
		return model.CINoWorkflows
	}

	deadline := time.Now().Add(timeout)
	last := model.CIStatus("")
	notify := func(s model.CIStatus) {
		if s != last && onUpdate != nil {
			onUpdate(s)
		}
		last = s
	}

	for time.Now().Before(deadline) {
		status := c.latestRunStatus(ctx, branch)
		switch status {
		case model.CIPassed, model.CIFailed:
			notify(status)
			return status
		default:
			notify(status)
		}
		select {
		case <-ctx.Done():
			return model.CIPending
		case <-time.After(interval):
		}
	}
	return model.CITimeout
}

func (c *Client) latestRunStatus(ctx context.Context, branch string) model.CIStatus {
	var resp struct {
		WorkflowRuns []workflowRun `json:"workflow_runs"`
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/runs?branch=%s&per_page=1", c.owner, c.repo, branch)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		c.log.Warn("workflow run lookup failed", "err", err)
		return model.CIPending
	}
	if len(resp.WorkflowRuns) == 0 {
		return model.CIPending
	}
	run := resp.WorkflowRuns[0]
	if run.Status != "completed" {
		return model.CIRunning
	}
	if run.Conclusion == "success" {
		return model.CIPassed
	}
	return model.CIFailed
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
