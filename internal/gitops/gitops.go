// Package gitops drives the git operations of a repair run: the fix branch,
// per-change commits, and pushing results back to the remote.
package gitops

import (
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// DefaultBranch is the branch repair commits land on.
const DefaultBranch = "TEAM_LEADER_AI_Fix"

// CommitPrefix marks every commit made by the engine so they are easy to
// spot in history.
const CommitPrefix = "[AI-AGENT]"

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w",
			strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Repo wraps git operations on one checkout.
type Repo struct {
	git GitRunner
	dir string
	log *slog.Logger
}

func NewRepo(git GitRunner, dir string, log *slog.Logger) *Repo {
	if git == nil {
		git = &ExecGit{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Repo{git: git, dir: dir, log: log}
}

// Configure sets the commit identity used for repair commits.
func (r *Repo) Configure(name, email string) error {
	if _, err := r.git.Run(r.dir, "config", "user.name", name); err != nil {
		return fmt.Errorf("set user.name: %w", err)
	}
	if _, err := r.git.Run(r.dir, "config", "user.email", email); err != nil {
		return fmt.Errorf("set user.email: %w", err)
	}
	return nil
}

var branchUnsafe = regexp.MustCompile(`[^A-Za-z0-9_/-]+`)

// SanitizeBranch upper-cases a branch label and strips characters git
// refuses in ref names.
func SanitizeBranch(name string) string {
	name = branchUnsafe.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "_/-")
	if name == "" {
		return DefaultBranch
	}
	return strings.ToUpper(name)
}

var underscoreRuns = regexp.MustCompile(`_+`)

// FixBranch derives the fix branch name TEAM_LEADER_AI_FIX from the run
// request, falling back to DefaultBranch when no names were supplied.
func FixBranch(team, leader string) string {
	name := strings.Trim(strings.TrimSpace(team)+"_"+strings.TrimSpace(leader), "_ ")
	if name == "" {
		return DefaultBranch
	}
	return underscoreRuns.ReplaceAllString(SanitizeBranch(name+"_AI_Fix"), "_")
}

// EnsureBranch switches the checkout to the named fix branch, creating it
// when it does not exist yet.
func (r *Repo) EnsureBranch(name string) (string, error) {
	branch := SanitizeBranch(name)
	if _, err := r.git.Run(r.dir, "checkout", branch); err == nil {
		return branch, nil
	}
	if _, err := r.git.Run(r.dir, "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	r.log.Info("created fix branch", "branch", branch)
	return branch, nil
}

// Commit stages the given files (or everything when none are named) and
// commits them with the engine prefix. It returns the new commit hash, or
// "" when there was nothing to commit.
func (r *Repo) Commit(message string, files ...string) (string, error) {
	if len(files) == 0 {
		if _, err := r.git.Run(r.dir, "add", "-A"); err != nil {
			return "", fmt.Errorf("stage all: %w", err)
		}
	} else {
		args := append([]string{"add", "--"}, files...)
		if _, err := r.git.Run(r.dir, args...); err != nil {
			return "", fmt.Errorf("stage %v: %w", files, err)
		}
	}

	staged, err := r.git.Run(r.dir, "diff", "--cached", "--name-only")
	if err != nil {
		return "", fmt.Errorf("inspect staged changes: %w", err)
	}
	if strings.TrimSpace(staged) == "" {
		return "", nil
	}

	if !strings.HasPrefix(message, CommitPrefix) {
		message = CommitPrefix + " " + message
	}
	if _, err := r.git.Run(r.dir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	sha, err := r.git.Run(r.dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read commit hash: %w", err)
	}
	return sha, nil
}

// Push force-pushes branch to origin. When a token is supplied the remote
// URL is swapped for an authenticated one for the duration of the push and
// restored afterwards, so the token never persists in .git/config.
func (r *Repo) Push(branch, authURL string) error {
	var originalURL string
	if authURL != "" {
		var err error
		originalURL, err = r.git.Run(r.dir, "remote", "get-url", "origin")
		if err != nil {
			return fmt.Errorf("read origin url: %w", err)
		}
		if _, err := r.git.Run(r.dir, "remote", "set-url", "origin", authURL); err != nil {
			return fmt.Errorf("set authenticated origin: %w", err)
		}
		defer func() {
			if _, err := r.git.Run(r.dir, "remote", "set-url", "origin", originalURL); err != nil {
				r.log.Warn("could not restore origin url", "err", err)
			}
		}()
	}

	if _, err := r.git.Run(r.dir, "push", "-u", "origin", branch, "--force"); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// ChangedFiles lists files with uncommitted modifications.
func (r *Repo) ChangedFiles() ([]string, error) {
	out, err := r.git.Run(r.dir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// CommitCount reports how many commits branch has over base, for scoring.
func (r *Repo) CommitCount(base, branch string) (int, error) {
	out, err := r.git.Run(r.dir, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	n := 0
	if _, err := fmt.Sscanf(strings.TrimSpace(out), "%d", &n); err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", out, err)
	}
	return n, nil
}
