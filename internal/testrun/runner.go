package testrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string, env []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string, env []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Result holds the outcome of one test execution.
type Result struct {
	Passed   bool
	Output   string
	ExitCode int
	Duration time.Duration
	Command  string
}

// Runner executes a repository's test suite.
type Runner struct {
	cmd     CommandRunner
	timeout time.Duration
	log     *slog.Logger
}

// Test subprocesses run with CI conventions so frameworks disable
// watch modes and colored output.
var testEnv = []string{"CI=true", "FORCE_COLOR=0", "NO_COLOR=1"}

func NewRunner(cmd CommandRunner, timeout time.Duration, log *slog.Logger) *Runner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cmd: cmd, timeout: timeout, log: log}
}

// Run executes the repository's test suite and returns the combined output.
// A timed-out run comes back as a failed Result, not an error, so the caller
// can treat it like any other failing run.
func (r *Runner) Run(ctx context.Context, dir, language, framework string) (*Result, error) {
	command := r.testCommand(dir, language, framework)
	if command == "" {
		return nil, fmt.Errorf("no test command for language %q", language)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.Info("running tests", "command", command, "dir", dir)
	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, command, testEnv)
	elapsed := time.Since(start)

	output := stdout
	if stderr != "" {
		output += "\n" + stderr
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &Result{
			Passed:   false,
			Output:   output + fmt.Sprintf("\n\nTest run timed out after %s", r.timeout),
			ExitCode: -1,
			Duration: elapsed,
			Command:  command,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run tests: %w", err)
	}

	return &Result{
		Passed:   exitCode == 0,
		Output:   output,
		ExitCode: exitCode,
		Duration: elapsed,
		Command:  command,
	}, nil
}

// InstallDeps installs the repository's declared dependencies best-effort.
// Failures are logged and swallowed: a missing lockfile step should not
// abort the run, the test execution will surface real problems.
func (r *Runner) InstallDeps(ctx context.Context, dir, language string) {
	for _, command := range installCommands(dir, language) {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		_, stderr, code, err := r.cmd.Run(cctx, dir, command, testEnv)
		cancel()
		if err != nil || code != 0 {
			r.log.Warn("dependency install step failed",
				"command", command, "exit", code, "stderr", firstLine(stderr))
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
