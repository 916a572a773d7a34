// Package agent runs the repair loop: execute tests, localize and fix
// failures, commit each fix, and repeat until the suite passes or the
// iteration budget runs out. Whatever the outcome, results are published
// to a branch and a pull request.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/raidx545/mend/internal/db"
	"github.com/raidx545/mend/internal/events"
	"github.com/raidx545/mend/internal/gitops"
	"github.com/raidx545/mend/internal/model"
	"github.com/raidx545/mend/internal/repo"
	"github.com/raidx545/mend/internal/testparse"
	"github.com/raidx545/mend/internal/testrun"
)

// Cloner checks a repository out into a per-run directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, runID string) (string, error)
}

// TestRunner installs dependencies and executes the test suite.
type TestRunner interface {
	InstallDeps(ctx context.Context, dir, language string)
	Run(ctx context.Context, dir, language, framework string) (*testrun.Result, error)
}

// Fixer repairs one file against its localized failures. A nil result means
// no progress could be made on that file this round.
type Fixer interface {
	Fix(ctx context.Context, file string, failures []model.TestFailure) *model.FileChange
}

// Localizer maps a failure to the repo-relative source file to repair.
type Localizer interface {
	SourceFile(f model.TestFailure) string
}

// GitRepo covers the git operations the loop performs on a checkout.
type GitRepo interface {
	Configure(name, email string) error
	EnsureBranch(name string) (string, error)
	Commit(message string, files ...string) (string, error)
	Push(branch, authURL string) error
}

// Publisher opens the pull request and watches CI after the push.
type Publisher interface {
	CreatePullRequest(ctx context.Context, head, title, body string) (prURL string, err error)
	WatchCI(ctx context.Context, branch string, onUpdate func(model.CIStatus)) model.CIStatus
}

// Deps wires the agent's collaborators. Per-checkout collaborators are
// built through factories since the checkout directory only exists after
// the clone.
type Deps struct {
	Cloner       Cloner
	Runner       TestRunner
	Detect       func(dir string) repo.ProjectInfo
	NewRepo      func(dir string) GitRepo
	NewFixer     func(dir string) Fixer
	NewLocalizer func(dir string) Localizer
	NewPublisher func(repoURL string) (Publisher, error) // nil disables publishing
	Broadcaster  *events.Broadcaster
	Store        *db.DB // nil disables persistence
	Log          *slog.Logger
}

// Agent executes repair runs.
type Agent struct {
	deps          Deps
	maxIterations int
	authorName    string
	authorEmail   string
	token         string
	log           *slog.Logger
}

func New(deps Deps, maxIterations int, authorName, authorEmail, token string) *Agent {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &Agent{
		deps:          deps,
		maxIterations: maxIterations,
		authorName:    authorName,
		authorEmail:   authorEmail,
		token:         token,
		log:           deps.Log,
	}
}

// Run executes one complete repair run and returns its summary. The summary
// is produced for failed runs too; the error is reserved for setup problems
// that prevented the loop from running at all.
func (a *Agent) Run(ctx context.Context, runID string, req model.RunRequest) (*model.RunSummary, error) {
	start := time.Now()
	summary := &model.RunSummary{
		RepoURL:    req.RepoURL,
		TeamName:   req.TeamName,
		LeaderName: req.LeaderName,
		StartTime:  start,
		CIStatus:   model.CIUnknown,
	}
	if a.deps.Store != nil {
		if err := a.deps.Store.CreateRun(runID, req.RepoURL, start); err != nil {
			a.log.Warn("could not persist run", "run", runID, "err", err)
		}
	}

	err := a.run(ctx, runID, req, summary)
	summary.EndTime = time.Now()
	summary.TotalSeconds = summary.EndTime.Sub(summary.StartTime).Seconds()
	summary.Score = Score(summary)
	if err != nil {
		summary.Phase = model.PhaseFailed
		a.publishEvent(runID, model.Event{
			Type: "error", Phase: model.PhaseFailed, Message: err.Error(),
		})
	}
	if a.deps.Store != nil {
		if dbErr := a.deps.Store.FinishRun(runID, summary); dbErr != nil {
			a.log.Warn("could not persist summary", "run", runID, "err", dbErr)
		}
	}
	a.publishEvent(runID, model.Event{
		Type: "run_complete", Phase: summary.Phase,
		Message: fmt.Sprintf("run finished: %d fixes over %d iterations",
			summary.TotalFixesApplied, len(summary.Iterations)),
	})
	return summary, err
}

func (a *Agent) run(ctx context.Context, runID string, req model.RunRequest, summary *model.RunSummary) error {
	a.setPhase(runID, summary, model.PhaseCloning, "cloning "+req.RepoURL)
	dir, err := a.deps.Cloner.Clone(ctx, req.RepoURL, runID)
	if err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	a.setPhase(runID, summary, model.PhaseAnalyzing, "detecting project layout")
	info := a.deps.Detect(dir)
	summary.Language = info.Language
	summary.Framework = info.Framework
	a.deps.Runner.InstallDeps(ctx, dir, info.Language)

	git := a.deps.NewRepo(dir)
	if err := git.Configure(a.authorName, a.authorEmail); err != nil {
		return fmt.Errorf("configure git identity: %w", err)
	}
	branch, err := git.EnsureBranch(gitops.FixBranch(req.TeamName, req.LeaderName))
	if err != nil {
		return fmt.Errorf("fix branch: %w", err)
	}
	summary.Branch = branch

	fixer := a.deps.NewFixer(dir)
	localizer := a.deps.NewLocalizer(dir)
	probe := testparse.NewDirProbe(dir)
	hints := []string{info.Language, info.Framework}

	a.setPhase(runID, summary, model.PhaseRunningTests, "initial test run")
	result, err := a.deps.Runner.Run(ctx, dir, info.Language, info.Framework)
	if err != nil {
		return fmt.Errorf("initial test run: %w", err)
	}

	passed := result.Passed
	for iter := 1; !passed && iter <= a.maxIterations; iter++ {
		a.setPhase(runID, summary, model.PhaseParsingFailures,
			fmt.Sprintf("iteration %d: parsing failures", iter))
		failures := testparse.Parse(result.Output, hints, probe)
		if iter == 1 {
			summary.TotalFailuresDetected = len(failures)
		}
		a.publishEvent(runID, model.Event{
			Type: "test_result", Phase: model.PhaseParsingFailures,
			Message: fmt.Sprintf("%d failures detected", len(failures)),
			Data:    map[string]any{"iteration": iter, "failures": len(failures)},
		})

		iteration := model.IterationResult{
			Iteration:      iter,
			FailuresBefore: len(failures),
			TestOutput:     clip(result.Output, 4000),
			Status:         "in_progress",
			Timestamp:      time.Now(),
		}

		a.setPhase(runID, summary, model.PhaseGeneratingFixes,
			fmt.Sprintf("iteration %d: repairing %d failures", iter, len(failures)))
		for _, group := range groupByFile(failures, localizer, a.log) {
			change := fixer.Fix(ctx, group.file, group.failures)
			if change == nil {
				a.log.Info("no fix this round", "file", group.file)
				continue
			}
			a.setPhase(runID, summary, model.PhaseCommitting, "committing "+change.FilePath)
			sha, err := git.Commit(change.CommitMessage, change.FilePath)
			if err != nil {
				a.log.Warn("commit failed", "file", change.FilePath, "err", err)
				change.Status = "failed"
			} else if sha == "" {
				change.Status = "empty"
			}
			iteration.FixesApplied = append(iteration.FixesApplied, *change)
			summary.AllChanges = append(summary.AllChanges, *change)
			if change.Status == "applied" {
				summary.TotalFixesApplied++
			}
			a.publishEvent(runID, model.Event{
				Type: "fix_applied", Phase: model.PhaseApplyingFixes,
				Message: change.CommitMessage,
				Data:    map[string]any{"file": change.FilePath, "bug_type": string(change.BugType)},
			})
			if a.deps.Store != nil {
				if err := a.deps.Store.LogChange(runID, iter, change); err != nil {
					a.log.Warn("could not persist change", "err", err)
				}
			}
		}

		a.setPhase(runID, summary, model.PhaseRunningTests,
			fmt.Sprintf("iteration %d: re-running tests", iter))
		result, err = a.deps.Runner.Run(ctx, dir, info.Language, info.Framework)
		if err != nil {
			return fmt.Errorf("test run after iteration %d: %w", iter, err)
		}
		passed = result.Passed
		if passed {
			iteration.FailuresAfter = 0
			iteration.Status = "success"
		} else {
			iteration.FailuresAfter = len(testparse.Parse(result.Output, hints, probe))
			iteration.Status = "failed"
		}
		summary.Iterations = append(summary.Iterations, iteration)
		if a.deps.Store != nil {
			if err := a.deps.Store.LogIteration(runID, &iteration); err != nil {
				a.log.Warn("could not persist iteration", "err", err)
			}
		}
		a.publishEvent(runID, model.Event{
			Type: "iteration_complete", Phase: model.PhaseRunningTests,
			Message: fmt.Sprintf("iteration %d: %d -> %d failures",
				iter, iteration.FailuresBefore, iteration.FailuresAfter),
		})
	}

	// Results are published whether or not the suite passes, so partial
	// repairs are reviewable.
	a.writeResults(dir, summary, passed)
	a.setPhase(runID, summary, model.PhasePushing, "pushing "+branch)
	if _, err := git.Commit("Repair run results"); err != nil {
		a.log.Warn("results commit failed", "err", err)
	}
	authURL := ""
	if tok := a.tokenFor(req); tok != "" {
		if u, err := repo.AuthURL(req.RepoURL, tok); err == nil {
			authURL = u
		}
	}
	if err := git.Push(branch, authURL); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	if a.deps.NewPublisher != nil {
		a.publish(ctx, runID, req, summary, branch, passed)
	}

	if passed {
		a.setPhase(runID, summary, model.PhaseCompleted, "all tests passing")
	} else {
		a.setPhase(runID, summary, model.PhaseFailed, "iteration budget exhausted")
	}
	return nil
}

func (a *Agent) publish(ctx context.Context, runID string, req model.RunRequest,
	summary *model.RunSummary, branch string, passed bool) {

	publisher, err := a.deps.NewPublisher(req.RepoURL)
	if err != nil {
		a.log.Warn("publisher unavailable", "err", err)
		return
	}

	title := fmt.Sprintf("%s Automated repair by %s", gitops.CommitPrefix, req.TeamName)
	body := fmt.Sprintf("Automated repair run.\n\n- Fixes applied: %d\n- Iterations: %d\n- Suite passing: %t\n",
		summary.TotalFixesApplied, len(summary.Iterations), passed)
	prURL, err := publisher.CreatePullRequest(ctx, branch, title, body)
	if err != nil {
		a.log.Warn("pull request failed", "err", err)
	} else {
		summary.PRURL = prURL
	}

	a.setPhase(runID, summary, model.PhaseMonitoringCI, "watching CI")
	summary.CIStatus = publisher.WatchCI(ctx, branch, func(s model.CIStatus) {
		a.publishEvent(runID, model.Event{
			Type: "log", Phase: model.PhaseMonitoringCI,
			Message: "ci status: " + string(s),
		})
	})
}

func (a *Agent) tokenFor(req model.RunRequest) string {
	if req.GithubToken != "" {
		return req.GithubToken
	}
	return a.token
}

// fileGroup is the unit of repair: one file and every failure localized to it.
type fileGroup struct {
	file     string
	failures []model.TestFailure
}

// groupByFile buckets failures by their localized source file, dropping the
// ones no strategy could place. Groups come back in a stable order.
func groupByFile(failures []model.TestFailure, localizer Localizer, log *slog.Logger) []fileGroup {
	buckets := map[string][]model.TestFailure{}
	for _, f := range failures {
		file := localizer.SourceFile(f)
		if file == "" {
			log.Warn("failure could not be localized", "test", f.TestName, "message", clip(f.ErrorMessage, 120))
			continue
		}
		buckets[file] = append(buckets[file], f)
	}
	files := make([]string, 0, len(buckets))
	for file := range buckets {
		files = append(files, file)
	}
	sort.Strings(files)

	groups := make([]fileGroup, 0, len(files))
	for _, file := range files {
		groups = append(groups, fileGroup{file: file, failures: buckets[file]})
	}
	return groups
}

func (a *Agent) setPhase(runID string, summary *model.RunSummary, phase model.RunPhase, msg string) {
	summary.Phase = phase
	a.log.Info(msg, "run", runID, "phase", string(phase))
	if a.deps.Store != nil {
		if err := a.deps.Store.UpdatePhase(runID, phase); err != nil {
			a.log.Warn("could not persist phase", "err", err)
		}
	}
	a.publishEvent(runID, model.Event{Type: "phase_change", Phase: phase, Message: msg})
}

func (a *Agent) publishEvent(runID string, ev model.Event) {
	if a.deps.Broadcaster != nil {
		a.deps.Broadcaster.Publish(runID, ev)
	}
	if a.deps.Store != nil {
		if err := a.deps.Store.LogEvent(runID, ev); err != nil {
			a.log.Warn("could not persist event", "err", err)
		}
	}
}

// writeResults drops a machine-readable results.json into the checkout so
// the outcome travels with the branch.
func (a *Agent) writeResults(dir string, summary *model.RunSummary, passed bool) {
	doc := map[string]any{
		"repo_url":            summary.RepoURL,
		"team_name":           summary.TeamName,
		"branch_name":         summary.Branch,
		"tests_passing":       passed,
		"total_failures":      summary.TotalFailuresDetected,
		"total_fixes_applied": summary.TotalFixesApplied,
		"iterations":          len(summary.Iterations),
		"all_changes":         summary.AllChanges,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		a.log.Warn("could not encode results", "err", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "results.json"), data, 0o644); err != nil {
		a.log.Warn("could not write results.json", "err", err)
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
