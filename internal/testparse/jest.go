package testparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/raidx545/mend/internal/model"
)

// JestDialect parses the block-oriented jest/vitest output family: bullet
// markers introduce failing tests and the lines up to the next bullet or
// summary form the error block.
type JestDialect struct{}

func (d *JestDialect) Name() string { return "jest" }

var (
	jestFailFile = regexp.MustCompile(`(?m)^\s*FAIL\s+([\w./\\-]+)`)
	jestBullet   = regexp.MustCompile(`(?m)^\s*●\s+(.+)$`)
	jestFrame    = regexp.MustCompile(`at\s+[^\n(]*\(([^()]+?):(\d+):(\d+)\)`)
	jestSummary  = regexp.MustCompile(`(?m)^\s*Test Suites:`)
)

// frameSkipMarkers flag stack frames inside dependencies or the runtime.
var frameSkipMarkers = []string{"node_modules", "node:internal", "internal/process", "internal/modules"}

func (d *JestDialect) Parse(output string, probe Probe) []model.TestFailure {
	var failures []model.TestFailure

	bullets := jestBullet.FindAllStringSubmatchIndex(output, -1)
	blockEnd := len(output)
	if loc := jestSummary.FindStringIndex(output); loc != nil {
		blockEnd = loc[0]
	}

	for i, b := range bullets {
		name := strings.TrimSpace(output[b[2]:b[3]])
		end := blockEnd
		if i+1 < len(bullets) && bullets[i+1][0] < end {
			end = bullets[i+1][0]
		}
		if b[1] >= end {
			continue
		}
		block := output[b[1]:end]

		file, line := firstProjectFrame(block)
		failures = append(failures, model.TestFailure{
			TestName:     name,
			FilePath:     file,
			ErrorMessage: truncate(strings.TrimSpace(block), 500),
			ErrorType:    classifyBlock(block),
			LineNumber:   line,
			RawOutput:    output,
		})
	}

	// A FAIL line with no accompanying bullet detail still yields a record:
	// a suite that crashed before running its tests keeps a failure of its
	// own even when other suites produced bullet blocks.
	covered := make(map[string]bool)
	for _, f := range failures {
		covered[f.FilePath] = true
	}
	fails := jestFailFile.FindAllStringSubmatchIndex(output, -1)
	for i, f := range fails {
		path := normalizePath(output[f[2]:f[3]])
		end := len(output)
		if i+1 < len(fails) {
			end = fails[i+1][0]
		}
		if covered[path] || sectionHasBullet(bullets, f[1], end) {
			continue
		}
		failures = append(failures, model.TestFailure{
			TestName:     "(file-level failure)",
			FilePath:     path,
			ErrorMessage: "Test suite failed",
			ErrorType:    "TestSuiteFailure",
			RawOutput:    output,
		})
	}

	return failures
}

// sectionHasBullet reports whether any bullet marker starts inside the
// given FAIL section of the output.
func sectionHasBullet(bullets [][]int, start, end int) bool {
	for _, b := range bullets {
		if b[0] >= start && b[0] < end {
			return true
		}
	}
	return false
}

// firstProjectFrame returns the first stack frame not inside a dependency or
// runtime-internal directory.
func firstProjectFrame(block string) (string, int) {
	for _, m := range jestFrame.FindAllStringSubmatch(block, -1) {
		path := m[1]
		if isDependencyFrame(path) {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		return normalizePath(path), n
	}
	return "", 0
}

func isDependencyFrame(path string) bool {
	for _, marker := range frameSkipMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// classifyBlock assigns an error category from keyword presence in the
// error block, defaulting to a generic assertion failure.
func classifyBlock(block string) string {
	switch {
	case strings.Contains(block, "is not defined"):
		return "ReferenceError"
	case strings.Contains(block, "Cannot find module"):
		return "ModuleNotFoundError"
	case strings.Contains(block, "SyntaxError"):
		return "SyntaxError"
	case strings.Contains(block, "TypeError"):
		return "TypeError"
	default:
		return "AssertionError"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
