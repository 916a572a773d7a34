package testparse

import (
	"strings"

	"github.com/raidx545/mend/internal/model"
)

// GenericDialect is the last-resort fallback: when no structured record was
// produced but the text mentions a failure, it collects the first matching
// lines verbatim into a single record with no resolvable path.
type GenericDialect struct{}

func (d *GenericDialect) Name() string { return "generic" }

// maxGenericLines caps how many raw error lines the fallback record keeps.
const maxGenericLines = 10

var failureKeywords = []string{"error", "failed", "fail", "exception"}

func (d *GenericDialect) Parse(output string, probe Probe) []model.TestFailure {
	var errorLines []string
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range failureKeywords {
			if strings.Contains(lower, kw) {
				errorLines = append(errorLines, line)
				break
			}
		}
		if len(errorLines) >= maxGenericLines {
			break
		}
	}

	if len(errorLines) == 0 {
		return nil
	}

	return []model.TestFailure{{
		TestName:     "(generic failure)",
		ErrorMessage: strings.Join(errorLines, "\n"),
		ErrorType:    "GenericError",
		RawOutput:    output,
	}}
}
