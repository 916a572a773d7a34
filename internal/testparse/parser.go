package testparse

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/raidx545/mend/internal/model"
)

// Probe answers file-existence questions against the repository checkout.
// Dialects never touch the filesystem directly so they stay pure and
// testable with a map-backed fake.
type Probe interface {
	Exists(path string) bool
}

// Dialect converts raw test-runner output into structured failures.
// Implementations must never error: unparseable input yields an empty slice.
type Dialect interface {
	Name() string
	Parse(output string, probe Probe) []model.TestFailure
}

// dialects is the registry of output dialects keyed by ecosystem hint.
var dialects = map[string]Dialect{
	"python":     &PytestDialect{},
	"pytest":     &PytestDialect{},
	"unittest":   &PytestDialect{},
	"javascript": &JestDialect{},
	"typescript": &JestDialect{},
	"jest":       &JestDialect{},
	"vitest":     &JestDialect{},
	"mocha":      &JestDialect{},
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Sanitize strips terminal color escape sequences. All dialect matching runs
// on sanitized text.
func Sanitize(output string) string {
	return ansiEscape.ReplaceAllString(output, "")
}

// Parse interprets raw combined stdout/stderr using the dialects selected by
// the active ecosystem hints, in hint order. Records appear in the order
// they occur in the text. When no dialect produced a structured record and
// the text still smells like a failure, a single generic record is returned.
func Parse(output string, hints []string, probe Probe) []model.TestFailure {
	clean := Sanitize(output)

	var failures []model.TestFailure
	seen := make(map[string]bool)
	for _, hint := range hints {
		d, ok := dialects[strings.ToLower(hint)]
		if !ok || seen[d.Name()] {
			continue
		}
		seen[d.Name()] = true
		failures = append(failures, d.Parse(clean, probe)...)
	}

	if len(failures) == 0 {
		failures = append(failures, (&GenericDialect{}).Parse(clean, probe)...)
	}
	return failures
}

// leadingTraversal matches ../ prefixes that some runners prepend to paths.
var leadingTraversal = regexp.MustCompile(`^(\.\./)+`)

// normalizePath strips leading parent-directory traversal segments so paths
// are relative to the repo root.
func normalizePath(p string) string {
	return leadingTraversal.ReplaceAllString(p, "")
}

// dirProbe is the production Probe backed by the checkout directory.
type dirProbe struct {
	root string
}

// NewDirProbe returns a Probe that checks existence under root. Absolute
// paths are checked as-is.
func NewDirProbe(root string) Probe {
	return &dirProbe{root: root}
}

func (p *dirProbe) Exists(path string) bool {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(p.root, path)
	}
	_, err := os.Stat(full)
	return err == nil
}
