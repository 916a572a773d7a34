package testparse

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/raidx545/mend/internal/model"
)

// PytestDialect parses the line-oriented pytest output family:
// FAILED summary lines plus the two collection-error forms.
type PytestDialect struct{}

func (d *PytestDialect) Name() string { return "pytest" }

var (
	pytestFailed        = regexp.MustCompile(`FAILED\s+([\w./\\-]+)::(\w+)(?:\s*-\s*(.+))?`)
	pytestCollectInline = regexp.MustCompile(`ERROR\s+([\w./\\-]+)\s+-\s+(.+)`)
	pytestCollectBare   = regexp.MustCompile(`(?m)^ERROR\s+([\w./\\-]+)\s*$`)
	pytestExcLine       = regexp.MustCompile(`(IndentationError|SyntaxError|TabError|ImportError|ModuleNotFoundError|NameError|TypeError)[:\s]([^\n]*)`)
	tracebackFileRef    = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	tracebackPathRef    = regexp.MustCompile(`\n([\w./\\-]+):(\d+):`)
)

// internalPathMarkers flag traceback frames inside the runner or the
// standard library; those never identify the faulting repo file.
var internalPathMarkers = []string{"site-packages", "<frozen", "lib/python"}

func (d *PytestDialect) Parse(output string, probe Probe) []model.TestFailure {
	var failures []model.TestFailure

	for _, m := range pytestFailed.FindAllStringSubmatch(output, -1) {
		path := normalizePath(m[1])
		testName := m[2]
		msg := strings.TrimSpace(m[3])

		failures = append(failures, model.TestFailure{
			TestName:     testName,
			FilePath:     path,
			ErrorMessage: msg,
			ErrorType:    errorTypeFromMessage(msg),
			LineNumber:   findFailureLine(output, testName, path),
			RawOutput:    output,
		})
	}

	failures = append(failures, d.parseCollectionErrors(output, probe)...)
	return failures
}

// errorTypeFromMessage takes the substring before the first colon, or the
// whole message when no colon is present.
func errorTypeFromMessage(msg string) string {
	if i := strings.Index(msg, ":"); i >= 0 {
		return msg[:i]
	}
	return msg
}

// findFailureLine looks for the "____ test_name ____" traceback header and
// then a "<basename>:<line>:" reference in the section that follows.
func findFailureLine(output, testName, path string) int {
	header := regexp.MustCompile(`_{3,}\s+` + regexp.QuoteMeta(testName) + `\s+_{3,}`)
	loc := header.FindStringIndex(output)
	if loc == nil {
		return 0
	}
	section := output[loc[1]:]
	if len(section) > 2000 {
		section = section[:2000]
	}
	base := regexp.QuoteMeta(filepath.Base(path))
	lineRef := regexp.MustCompile(base + `:(\d+):`)
	if m := lineRef.FindStringSubmatch(section); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// parseCollectionErrors handles files pytest could not even load. The inline
// form carries its message on the same line; the bare form requires scanning
// the surrounding traceback for the real file and error.
func (d *PytestDialect) parseCollectionErrors(output string, probe Probe) []model.TestFailure {
	var failures []model.TestFailure
	inlineFiles := make(map[string]bool)

	for _, m := range pytestCollectInline.FindAllStringSubmatch(output, -1) {
		path := normalizePath(m[1])
		msg := strings.TrimSpace(m[2])
		errType := "CollectionError"
		if i := strings.Index(msg, ":"); i >= 0 {
			errType = msg[:i]
		}
		inlineFiles[path] = true
		failures = append(failures, model.TestFailure{
			TestName:     "(collection error)",
			FilePath:     path,
			ErrorMessage: msg,
			ErrorType:    errType,
			RawOutput:    output,
		})
	}

	for _, m := range pytestCollectBare.FindAllStringSubmatch(output, -1) {
		path := normalizePath(m[1])
		if inlineFiles[path] {
			continue
		}

		errType := "CollectionError"
		errMsg := "Collection error in " + path
		if em := pytestExcLine.FindStringSubmatch(output); em != nil {
			errType = em[1]
			errMsg = em[1] + ": " + strings.TrimSpace(em[2])
		}

		file, line := resolveTracebackRef(output, probe)
		if file == "" {
			file = path
		}
		failures = append(failures, model.TestFailure{
			TestName:     "(collection error)",
			FilePath:     file,
			ErrorMessage: errMsg,
			ErrorType:    errType,
			LineNumber:   line,
			RawOutput:    output,
		})
	}

	return failures
}

// resolveTracebackRef collects every file:line reference in the raw text and
// walks them in reverse document order, returning the first one that exists
// inside the repository and is not a runner or stdlib internal.
func resolveTracebackRef(output string, probe Probe) (string, int) {
	type ref struct {
		pos  int
		path string
		line string
	}
	var refs []ref
	for _, m := range tracebackFileRef.FindAllStringSubmatchIndex(output, -1) {
		refs = append(refs, ref{m[0], output[m[2]:m[3]], output[m[4]:m[5]]})
	}
	for _, m := range tracebackPathRef.FindAllStringSubmatchIndex(output, -1) {
		refs = append(refs, ref{m[0], output[m[2]:m[3]], output[m[4]:m[5]]})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].pos < refs[j].pos })

	for i := len(refs) - 1; i >= 0; i-- {
		r := refs[i]
		if isInternalPath(r.path) {
			continue
		}
		if probe != nil && !probe.Exists(normalizePath(r.path)) {
			continue
		}
		n, _ := strconv.Atoi(r.line)
		return normalizePath(r.path), n
	}
	return "", 0
}

func isInternalPath(path string) bool {
	for _, marker := range internalPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}
