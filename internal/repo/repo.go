// Package repo clones repositories under repair and detects what kind of
// project they contain.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/raidx545/mend/internal/gitops"
)

// Cloner checks out repositories into per-run workspace directories.
type Cloner struct {
	git     gitops.GitRunner
	baseDir string
	token   string
	log     *slog.Logger
}

func NewCloner(git gitops.GitRunner, baseDir, token string, log *slog.Logger) *Cloner {
	if log == nil {
		log = slog.Default()
	}
	return &Cloner{git: git, baseDir: baseDir, token: token, log: log}
}

// Clone checks out repoURL into a directory keyed by the run ID, so
// concurrent runs against the same repository never share a checkout.
// An existing directory from a crashed run with the same ID is removed first.
func (c *Cloner) Clone(ctx context.Context, repoURL, runID string) (string, error) {
	name := RepoName(repoURL)
	if name == "" {
		return "", fmt.Errorf("cannot derive repository name from %q", repoURL)
	}
	dest := filepath.Join(c.baseDir, runID+"-"+name)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("clear checkout dir: %w", err)
	}
	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}

	cloneURL := repoURL
	if c.token != "" {
		if u, err := AuthURL(repoURL, c.token); err == nil {
			cloneURL = u
		}
	}
	c.log.Info("cloning repository", "repo", name, "dest", dest)
	if _, err := c.git.Run(c.baseDir, "clone", cloneURL, dest); err != nil {
		return "", fmt.Errorf("clone %s: %w", name, err)
	}
	return dest, nil
}

// RepoName extracts the repository name from a URL, without the .git suffix.
func RepoName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	i := strings.LastIndexAny(trimmed, "/:")
	if i < 0 || i == len(trimmed)-1 {
		return ""
	}
	return trimmed[i+1:]
}

// AuthURL injects a bearer token into an https clone URL.
func AuthURL(repoURL, token string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return repoURL, nil
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}

// ProjectInfo describes a checked-out repository.
type ProjectInfo struct {
	Language  string
	Framework string
}

var markerLanguages = []struct {
	file     string
	language string
}{
	{"go.mod", "go"},
	{"requirements.txt", "python"},
	{"setup.py", "python"},
	{"pyproject.toml", "python"},
	{"package.json", "javascript"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
	{"Cargo.toml", "rust"},
	{"Gemfile", "ruby"},
}

var extensionLanguages = map[string]string{
	".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript",
	".go": "go", ".java": "java", ".rb": "ruby", ".rs": "rust",
}

// Detect inspects a checkout and reports its language and test framework.
// Marker files win over extension counting; the framework falls back to the
// language's dominant runner when nothing more specific is declared.
func Detect(dir string) ProjectInfo {
	info := ProjectInfo{Language: detectLanguage(dir)}
	info.Framework = detectFramework(dir, info.Language)
	return info
}

func detectLanguage(dir string) string {
	for _, m := range markerLanguages {
		if exists(filepath.Join(dir, m.file)) {
			return m.language
		}
	}

	counts := map[string]int{}
	filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() {
			name := fi.Name()
			if path != dir && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "venv") {
				return filepath.SkipDir
			}
			return nil
		}
		if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(fi.Name()))]; ok {
			counts[lang]++
		}
		return nil
	})

	best, bestCount := "unknown", 0
	for lang, n := range counts {
		if n > bestCount {
			best, bestCount = lang, n
		}
	}
	return best
}

func detectFramework(dir, language string) string {
	switch language {
	case "python":
		return "pytest"
	case "javascript", "typescript":
		if pkg, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
			s := string(pkg)
			switch {
			case strings.Contains(s, `"vitest"`):
				return "vitest"
			case strings.Contains(s, `"mocha"`):
				return "mocha"
			case strings.Contains(s, `"jest"`):
				return "jest"
			}
		}
		if exists(filepath.Join(dir, "vitest.config.js")) || exists(filepath.Join(dir, "vitest.config.ts")) {
			return "vitest"
		}
		return "jest"
	case "go":
		return "go test"
	case "java":
		return "junit"
	}
	return "unknown"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
