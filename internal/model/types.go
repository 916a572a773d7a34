package model

import "time"

// RunPhase identifies the stage of a repair run. Phases advance strictly in
// the order the agent executes them; events carry the phase they were
// emitted from.
type RunPhase string

const (
	PhaseIdle            RunPhase = "idle"
	PhaseCloning         RunPhase = "cloning"
	PhaseAnalyzing       RunPhase = "analyzing"
	PhaseRunningTests    RunPhase = "running_tests"
	PhaseParsingFailures RunPhase = "parsing_failures"
	PhaseGeneratingFixes RunPhase = "generating_fixes"
	PhaseApplyingFixes   RunPhase = "applying_fixes"
	PhaseCommitting      RunPhase = "committing"
	PhasePushing         RunPhase = "pushing"
	PhaseMonitoringCI    RunPhase = "monitoring_ci"
	PhaseCompleted       RunPhase = "completed"
	PhaseFailed          RunPhase = "failed"
)

// CIStatus is the observed state of the remote CI pipeline after a push.
type CIStatus string

const (
	CIPending     CIStatus = "pending"
	CIRunning     CIStatus = "running"
	CIPassed      CIStatus = "passed"
	CIFailed      CIStatus = "failed"
	CITimeout     CIStatus = "timeout"
	CINoWorkflows CIStatus = "no_workflows"
	CIUnknown     CIStatus = "unknown"
)

// BugType is the defect taxonomy used to label fixes.
type BugType string

const (
	BugSyntax      BugType = "SYNTAX"
	BugIndentation BugType = "INDENTATION"
	BugTypeError   BugType = "TYPE_ERROR"
	BugImport      BugType = "IMPORT"
	BugLogic       BugType = "LOGIC"
	BugLinting     BugType = "LINTING"
	BugUnknown     BugType = "UNKNOWN"
)

// BugSeverity lists bug types from most to least structurally fatal. When a
// file carries several defects, the batched fix is labeled with the first
// type from this list that any of its failures classified as.
var BugSeverity = []BugType{
	BugSyntax,
	BugIndentation,
	BugTypeError,
	BugImport,
	BugLogic,
	BugLinting,
	BugUnknown,
}

// TestFailure is one parsed test failure. Immutable once produced by the
// output interpreter; the localizer and classifier only read it.
type TestFailure struct {
	TestName     string `json:"test_name"`
	FilePath     string `json:"file_path"`
	ErrorMessage string `json:"error_message"`
	ErrorType    string `json:"error_type"`
	LineNumber   int    `json:"line_number,omitempty"` // 0 = unknown
	RawOutput    string `json:"raw_output"`
}

// FileChange records one applied (or attempted) fix to one file.
type FileChange struct {
	FilePath        string  `json:"file_path"` // relative to the repo root
	OriginalContent string  `json:"original_content"`
	FixedContent    string  `json:"fixed_content"`
	Diff            string  `json:"diff"`
	Description     string  `json:"description"`
	BugType         BugType `json:"bug_type"`
	CommitMessage   string  `json:"commit_message"`
	LineNumber      int     `json:"line_number,omitempty"`
	Status          string  `json:"status"` // "applied" or "failed"
}

// IterationResult captures one pass of the repair loop.
type IterationResult struct {
	Iteration      int          `json:"iteration"`
	FailuresBefore int          `json:"failures_before"`
	FailuresAfter  int          `json:"failures_after"`
	FixesApplied   []FileChange `json:"fixes_applied"`
	TestOutput     string       `json:"test_output"` // truncated
	Status         string       `json:"status"`      // in_progress, success, failed
	Timestamp      time.Time    `json:"timestamp"`
}

// ScoreBreakdown is the scoring attached to a finished run.
type ScoreBreakdown struct {
	BaseScore         int `json:"base_score"`
	SpeedBonus        int `json:"speed_bonus"`
	EfficiencyPenalty int `json:"efficiency_penalty"`
	FinalScore        int `json:"final_score"`
}

// RunSummary is the terminal summary of a repair run.
type RunSummary struct {
	RepoURL               string            `json:"repo_url"`
	Phase                 RunPhase          `json:"phase"`
	Language              string            `json:"language,omitempty"`
	Framework             string            `json:"test_framework,omitempty"`
	TeamName              string            `json:"team_name"`
	LeaderName            string            `json:"leader_name"`
	Branch                string            `json:"branch_name"`
	PRURL                 string            `json:"pr_url,omitempty"`
	TotalFailuresDetected int               `json:"total_failures_detected"`
	TotalFixesApplied     int               `json:"total_fixes_applied"`
	CIStatus              CIStatus          `json:"cicd_status"`
	StartTime             time.Time         `json:"start_time"`
	EndTime               time.Time         `json:"end_time"`
	TotalSeconds          float64           `json:"total_time_seconds"`
	Iterations            []IterationResult `json:"iterations"`
	AllChanges            []FileChange      `json:"all_changes"`
	Score                 ScoreBreakdown    `json:"score"`
}

// Event is a real-time notification emitted while a run executes.
type Event struct {
	Type      string                 `json:"event_type"` // phase_change, log, test_result, fix_applied, iteration_complete, run_complete, error
	Phase     RunPhase               `json:"phase,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// RunRequest is the input that starts a run.
type RunRequest struct {
	RepoURL     string `json:"repo_url" binding:"required"`
	TeamName    string `json:"team_name" binding:"required"`
	LeaderName  string `json:"leader_name" binding:"required"`
	GithubToken string `json:"github_token,omitempty"` // optional PAT override
}
