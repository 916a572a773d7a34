package fix

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/raidx545/mend/internal/classify"
	"github.com/raidx545/mend/internal/locate"
	"github.com/raidx545/mend/internal/model"
)

// Applier turns a group of failures localized to one file into an applied
// FileChange: read the file, obtain a fix (programmatic rewrite or oracle),
// write it back, and describe the change for the commit step.
type Applier struct {
	root   string
	oracle Oracle
	log    *slog.Logger
}

func NewApplier(root string, oracle Oracle, log *slog.Logger) *Applier {
	if log == nil {
		log = slog.Default()
	}
	return &Applier{root: root, oracle: oracle, log: log}
}

// Fix repairs file (repo-relative) against the given failures. It returns
// nil when no progress could be made this round: unreadable file, oracle
// refusal or error, unusable response, or a fix identical to the current
// content. The caller treats nil as "skip", never as fatal.
func (a *Applier) Fix(ctx context.Context, file string, failures []model.TestFailure) *model.FileChange {
	abs := filepath.Join(a.root, file)
	orig, err := os.ReadFile(abs)
	if err != nil {
		a.log.Warn("cannot read file to fix", "file", file, "err", err)
		return nil
	}

	if change := a.importRewrite(file, string(orig), failures); change != nil {
		return change
	}

	fixed := a.askOracle(ctx, file, string(orig), failures)
	if fixed == "" || fixed == string(orig) {
		return nil
	}
	if err := os.WriteFile(abs, []byte(fixed), 0o644); err != nil {
		a.log.Warn("cannot write fixed file", "file", file, "err", err)
		return nil
	}

	bug := classify.Group(failures)
	return &model.FileChange{
		FilePath:        file,
		OriginalContent: string(orig),
		FixedContent:    fixed,
		Diff:            unifiedDiff(file, string(orig), fixed),
		Description:     describeFix(bug, failures),
		BugType:         bug,
		CommitMessage:   commitMessage(bug, file, failures),
		LineNumber:      firstLine(failures),
		Status:          "applied",
	}
}

// importRewrite handles wrong-module-name import errors without an oracle
// round trip: when a failure names a missing module and a real module with a
// matching normalized name exists in the repo, rewrite the reference.
func (a *Applier) importRewrite(file, content string, failures []model.TestFailure) *model.FileChange {
	for _, f := range failures {
		missing := locate.MissingModule(f)
		if missing == "" {
			continue
		}
		loc := locate.New(a.root)
		real := loc.FuzzyModuleMatch(missing)
		if real == "" {
			continue
		}
		base := missing
		if i := strings.LastIndex(base, "."); i >= 0 {
			base = base[i+1:]
		}
		stem := strings.TrimSuffix(filepath.Base(real), filepath.Ext(real))
		if stem == base {
			continue
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(base) + `\b`)
		if err != nil {
			continue
		}
		fixed := re.ReplaceAllString(content, stem)
		if fixed == content {
			continue
		}
		abs := filepath.Join(a.root, file)
		if err := os.WriteFile(abs, []byte(fixed), 0o644); err != nil {
			a.log.Warn("cannot write import rewrite", "file", file, "err", err)
			return nil
		}
		a.log.Info("applied programmatic import rewrite",
			"file", file, "missing", base, "actual", stem)
		return &model.FileChange{
			FilePath:        file,
			OriginalContent: content,
			FixedContent:    fixed,
			Diff:            unifiedDiff(file, content, fixed),
			Description:     fmt.Sprintf("Renamed import '%s' to existing module '%s'", base, stem),
			BugType:         model.BugImport,
			CommitMessage:   fmt.Sprintf("Fix IMPORT in %s: wrong module name '%s'", file, base),
			LineNumber:      f.LineNumber,
			Status:          "applied",
		}
	}
	return nil
}

func (a *Applier) askOracle(ctx context.Context, file, content string, failures []model.TestFailure) string {
	if a.oracle == nil {
		return ""
	}
	req := CorrectionRequest{
		SourcePath: file,
		SourceCode: content,
		Failures:   failures,
		RawOutput:  rawExcerpt(failures),
	}
	if tp := testPathFor(failures); tp != "" {
		req.TestPath = tp
		if b, err := os.ReadFile(filepath.Join(a.root, tp)); err == nil {
			req.TestCode = string(b)
		}
	}
	resp, err := a.oracle.ProposeFix(ctx, req)
	if err != nil {
		a.log.Warn("oracle gave no fix", "file", file, "err", err)
		return ""
	}
	return ExtractCode(resp)
}

var codeBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\n(.*?)```")

// ExtractCode pulls source code out of an oracle response: the largest
// fenced code block, or the bare response when it has no fences and looks
// like code rather than prose.
func ExtractCode(resp string) string {
	blocks := codeBlockRe.FindAllStringSubmatch(resp, -1)
	best := ""
	for _, b := range blocks {
		if len(b[1]) > len(best) {
			best = b[1]
		}
	}
	if best != "" {
		return strings.TrimRight(best, "\n") + "\n"
	}

	trimmed := strings.TrimSpace(resp)
	if trimmed == "" {
		return ""
	}
	code := 0
	for _, line := range strings.Split(trimmed, "\n") {
		l := strings.TrimSpace(line)
		if l != "" && !strings.HasPrefix(l, "#") && !strings.HasPrefix(l, "//") {
			code++
		}
	}
	if code > 3 {
		return trimmed + "\n"
	}
	return ""
}

func unifiedDiff(file, before, after string) string {
	base := filepath.Base(file)
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + base,
		ToFile:   "b/" + base,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

func commitMessage(bug model.BugType, file string, failures []model.TestFailure) string {
	if len(failures) > 1 {
		return fmt.Sprintf("Fix %s (%d errors) in %s", bug, len(failures), file)
	}
	et := failures[0].ErrorType
	if et == "" {
		et = "test failure"
	}
	return fmt.Sprintf("Fix %s in %s: %s", bug, file, et)
}

func describeFix(bug model.BugType, failures []model.TestFailure) string {
	if len(failures) > 1 {
		return fmt.Sprintf("Fixed %d %s errors", len(failures), bug)
	}
	return fmt.Sprintf("Fixed %s error: %s", bug, clip(failures[0].ErrorMessage, 120))
}

func testPathFor(failures []model.TestFailure) string {
	for _, f := range failures {
		if f.FilePath != "" && locate.IsTestFile(f.FilePath) {
			return f.FilePath
		}
	}
	return ""
}

func rawExcerpt(failures []model.TestFailure) string {
	var parts []string
	for _, f := range failures {
		if f.RawOutput != "" {
			parts = append(parts, clip(f.RawOutput, 1000))
		}
	}
	return clip(strings.Join(parts, "\n---\n"), 3000)
}

func firstLine(failures []model.TestFailure) int {
	for _, f := range failures {
		if f.LineNumber > 0 {
			return f.LineNumber
		}
	}
	return 0
}
