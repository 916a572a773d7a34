package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/raidx545/mend/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestMigrateIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	d := openTestDB(t)
	start := time.Now()

	if err := d.CreateRun("run-1", "https://github.com/a/b", start); err != nil {
		t.Fatal(err)
	}
	if err := d.UpdatePhase("run-1", model.PhaseRunningTests); err != nil {
		t.Fatal(err)
	}

	summary := &model.RunSummary{
		RepoURL:               "https://github.com/a/b",
		Phase:                 model.PhaseCompleted,
		Language:              "python",
		Framework:             "pytest",
		Branch:                "TEAM_LEADER_AI_FIX",
		PRURL:                 "https://github.com/a/b/pull/1",
		TotalFailuresDetected: 3,
		TotalFixesApplied:     2,
		CIStatus:              model.CIPassed,
		StartTime:             start,
		EndTime:               start.Add(2 * time.Minute),
		TotalSeconds:          120,
		Iterations:            []model.IterationResult{{Iteration: 1, Status: "success"}},
		Score:                 model.ScoreBreakdown{BaseScore: 100, SpeedBonus: 10, FinalScore: 110},
	}
	if err := d.FinishRun("run-1", summary); err != nil {
		t.Fatal(err)
	}

	runs, err := d.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	r := runs[0]
	if r.Phase != string(model.PhaseCompleted) || r.Score != 110 || r.TotalFixes != 2 {
		t.Errorf("record = %+v", r)
	}

	got, err := d.GetSummary("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Score.FinalScore != 110 || len(got.Iterations) != 1 {
		t.Errorf("summary = %+v", got)
	}
}

func TestGetSummaryInFlightRun(t *testing.T) {
	d := openTestDB(t)
	if err := d.CreateRun("run-2", "https://github.com/a/b", time.Now()); err != nil {
		t.Fatal(err)
	}
	got, err := d.GetSummary("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("in-flight run returned summary %+v", got)
	}
}

func TestGetSummaryUnknownRun(t *testing.T) {
	d := openTestDB(t)
	if _, err := d.GetSummary("nope"); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestIterationAndChangeLogs(t *testing.T) {
	d := openTestDB(t)
	if err := d.CreateRun("run-3", "https://github.com/a/b", time.Now()); err != nil {
		t.Fatal(err)
	}
	it := &model.IterationResult{
		Iteration:      1,
		FailuresBefore: 4,
		FailuresAfter:  1,
		FixesApplied:   []model.FileChange{{FilePath: "calc.py"}},
		Status:         "in_progress",
	}
	if err := d.LogIteration("run-3", it); err != nil {
		t.Fatal(err)
	}
	change := &model.FileChange{
		FilePath:      "calc.py",
		BugType:       model.BugSyntax,
		CommitMessage: "Fix SYNTAX in calc.py",
		Diff:          "--- a/calc.py\n+++ b/calc.py\n",
	}
	if err := d.LogChange("run-3", 1, change); err != nil {
		t.Fatal(err)
	}
	if err := d.LogEvent("run-3", model.Event{
		Type: "phase_change", Phase: model.PhaseCommitting, Message: "committing calc.py",
	}); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := d.Conn().QueryRow(
		`SELECT COUNT(*) FROM changes WHERE run_id = 'run-3'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("changes = %d", n)
	}
}
