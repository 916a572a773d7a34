// Package classify maps test failures onto the bug taxonomy used for
// commit labels and fix prioritization.
package classify

import (
	"strings"

	"github.com/raidx545/mend/internal/model"
)

// keyword tables, checked in order. The first table with a hit wins.
var bugKeywords = []struct {
	bug      model.BugType
	keywords []string
}{
	{model.BugImport, []string{"import", "modulenotfounderror", "no module named", "cannot find module"}},
	{model.BugSyntax, []string{"syntaxerror", "syntax error", "missing colon", "unexpected eof", "invalid syntax", "unexpected token"}},
	{model.BugIndentation, []string{"indentationerror", "indentation", "unexpected indent", "unindent", "taberror"}},
	{model.BugTypeError, []string{"typeerror", "type error", "not callable", "unsupported operand", "is not a function"}},
	{model.BugLinting, []string{"unused", "lint", "flake8", "pylint", "eslint", "undefined variable", "undefined name", "is not defined"}},
	{model.BugLogic, []string{"assert", "expected", "actual", "!=", "==", "tobe", "toequal"}},
}

// Failure classifies a single failure from its error type and message.
// A failure with any message never classifies UNKNOWN: unmatched text
// defaults to LOGIC, the category of a plain assertion mismatch.
func Failure(f model.TestFailure) model.BugType {
	text := strings.ToLower(f.ErrorMessage + " " + f.ErrorType)

	for _, entry := range bugKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.bug
			}
		}
	}
	return model.BugLogic
}

// Group classifies a batch of failures that share a target file: each is
// classified individually and the most structurally fatal category wins,
// per model.BugSeverity. This is the single label a batched multi-error
// fix commits under.
func Group(failures []model.TestFailure) model.BugType {
	if len(failures) == 0 {
		return model.BugUnknown
	}

	found := make(map[model.BugType]bool, len(failures))
	for _, f := range failures {
		found[Failure(f)] = true
	}

	for _, bug := range model.BugSeverity {
		if found[bug] {
			return bug
		}
	}
	return model.BugLogic
}
