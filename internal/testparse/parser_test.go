package testparse

import (
	"strings"
	"testing"
)

// fakeProbe answers existence from a fixed set of repo-relative paths.
type fakeProbe struct {
	files map[string]bool
}

func (p *fakeProbe) Exists(path string) bool { return p.files[path] }

func TestPytestFailedLine(t *testing.T) {
	out := "FAILED tests/test_math.py::test_add - AssertionError: 2 != 3"
	failures := Parse(out, []string{"python"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	f := failures[0]
	if f.FilePath != "tests/test_math.py" {
		t.Errorf("file path: %q", f.FilePath)
	}
	if f.TestName != "test_add" {
		t.Errorf("test name: %q", f.TestName)
	}
	if f.ErrorType != "AssertionError" {
		t.Errorf("error type: %q", f.ErrorType)
	}
	if f.ErrorMessage != "AssertionError: 2 != 3" {
		t.Errorf("error message: %q", f.ErrorMessage)
	}
}

func TestPytestFailedLineNoColon(t *testing.T) {
	out := "FAILED test.py::test_div - ZeroDivisionError"
	failures := Parse(out, []string{"pytest"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].ErrorType != "ZeroDivisionError" {
		t.Errorf("error type without colon should be the whole message, got %q", failures[0].ErrorType)
	}
}

func TestPytestTraversalStripped(t *testing.T) {
	out := "FAILED ../../../../repo/test.py::test_add - AssertionError"
	failures := Parse(out, []string{"python"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].FilePath != "repo/test.py" {
		t.Errorf("traversal segments not stripped: %q", failures[0].FilePath)
	}
}

func TestPytestFailureLineNumber(t *testing.T) {
	out := strings.Join([]string{
		"FAILED tests/test_math.py::test_add - AssertionError",
		"_______________ test_add _______________",
		"tests/test_math.py:14: AssertionError",
	}, "\n")
	failures := Parse(out, []string{"python"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].LineNumber != 14 {
		t.Errorf("line number: %d", failures[0].LineNumber)
	}
}

func TestPytestCollectionErrorInline(t *testing.T) {
	out := "ERROR tests/test_app.py - ImportError: cannot import name 'add'"
	failures := Parse(out, []string{"python"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	f := failures[0]
	if f.TestName != "(collection error)" {
		t.Errorf("test name: %q", f.TestName)
	}
	if f.ErrorType != "ImportError" {
		t.Errorf("error type: %q", f.ErrorType)
	}
}

func TestPytestCollectionErrorBareResolvesTraceback(t *testing.T) {
	out := strings.Join([]string{
		"collected 0 items / 1 error",
		`  File "/usr/lib/python3.11/site-packages/_pytest/python.py", line 617, in _importtestmodule`,
		`  File "calculator.py", line 7`,
		"    def add(a, b)",
		"IndentationError: unexpected indent",
		"ERROR test.py",
	}, "\n")
	probe := &fakeProbe{files: map[string]bool{"calculator.py": true, "test.py": true}}
	failures := Parse(out, []string{"python"}, probe)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	f := failures[0]
	if f.FilePath != "calculator.py" {
		t.Errorf("expected traceback-resolved file, got %q", f.FilePath)
	}
	if f.LineNumber != 7 {
		t.Errorf("line number: %d", f.LineNumber)
	}
	if f.ErrorType != "IndentationError" {
		t.Errorf("error type: %q", f.ErrorType)
	}
}

func TestPytestCollectionErrorBareSkipsInternals(t *testing.T) {
	out := strings.Join([]string{
		`  File "/usr/lib/python3.11/site-packages/_pytest/python.py", line 617`,
		"SyntaxError: invalid syntax",
		"ERROR test.py",
	}, "\n")
	probe := &fakeProbe{files: map[string]bool{"test.py": true}}
	failures := Parse(out, []string{"python"}, probe)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	// No non-internal reference: the record falls back to the named file.
	if failures[0].FilePath != "test.py" {
		t.Errorf("file path: %q", failures[0].FilePath)
	}
}

func TestJestBulletBlock(t *testing.T) {
	out := strings.Join([]string{
		"FAIL src/math.test.js",
		"  ● adds two numbers",
		"",
		"    expect(received).toBe(expected)",
		"",
		"      at Object.<anonymous> (src/math.test.js:5:20)",
		"      at processTicksAndRejections (node:internal/process/task_queues:95:5)",
		"",
		"Test Suites: 1 failed, 1 total",
	}, "\n")
	failures := Parse(out, []string{"javascript"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	f := failures[0]
	if f.TestName != "adds two numbers" {
		t.Errorf("test name: %q", f.TestName)
	}
	if f.FilePath != "src/math.test.js" {
		t.Errorf("resolved frame: %q", f.FilePath)
	}
	if f.LineNumber != 5 {
		t.Errorf("line number: %d", f.LineNumber)
	}
	if f.ErrorType != "AssertionError" {
		t.Errorf("error type: %q", f.ErrorType)
	}
}

func TestJestSkipsDependencyFrames(t *testing.T) {
	out := strings.Join([]string{
		"  ● broken import",
		"    ReferenceError: add is not defined",
		"      at run (node_modules/jest-runner/build/run.js:10:1)",
		"      at Object.<anonymous> (src/app.test.js:3:1)",
		"Test Suites: 1 failed",
	}, "\n")
	failures := Parse(out, []string{"jest"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].FilePath != "src/app.test.js" {
		t.Errorf("dependency frame not skipped: %q", failures[0].FilePath)
	}
	if failures[0].ErrorType != "ReferenceError" {
		t.Errorf("error type: %q", failures[0].ErrorType)
	}
}

func TestJestFileLevelFailure(t *testing.T) {
	out := "FAIL src/broken.test.js\nTest Suites: 1 failed, 1 total"
	failures := Parse(out, []string{"jest"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].TestName != "(file-level failure)" {
		t.Errorf("test name: %q", failures[0].TestName)
	}
	if failures[0].FilePath != "src/broken.test.js" {
		t.Errorf("file path: %q", failures[0].FilePath)
	}
}

func TestJestBrokenSuiteKeptAlongsideBullets(t *testing.T) {
	out := strings.Join([]string{
		"FAIL src/broken.test.js",
		"  SyntaxError: Unexpected token",
		"FAIL src/math.test.js",
		"  ● adds two numbers",
		"    expect(received).toBe(expected)",
		"      at Object.<anonymous> (src/math.test.js:5:20)",
		"Test Suites: 2 failed, 2 total",
	}, "\n")
	failures := Parse(out, []string{"jest"}, nil)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].TestName != "adds two numbers" {
		t.Errorf("bullet test name: %q", failures[0].TestName)
	}
	if failures[1].FilePath != "src/broken.test.js" {
		t.Errorf("broken suite path: %q", failures[1].FilePath)
	}
	if failures[1].ErrorType != "TestSuiteFailure" {
		t.Errorf("broken suite error type: %q", failures[1].ErrorType)
	}
}

func TestGenericFallback(t *testing.T) {
	out := "make: *** [all] Error 2\ncompilation failed\nsomething unrelated"
	failures := Parse(out, []string{"unknown-hint"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 generic failure, got %d", len(failures))
	}
	f := failures[0]
	if f.TestName != "(generic failure)" {
		t.Errorf("test name: %q", f.TestName)
	}
	if f.FilePath != "" {
		t.Errorf("generic record should have no path, got %q", f.FilePath)
	}
	if !strings.Contains(f.ErrorMessage, "Error 2") {
		t.Errorf("error lines not collected: %q", f.ErrorMessage)
	}
}

func TestGenericFallbackCapsLines(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "error line"
	}
	failures := Parse(strings.Join(lines, "\n"), nil, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	got := strings.Count(failures[0].ErrorMessage, "\n") + 1
	if got != maxGenericLines {
		t.Errorf("expected %d lines, got %d", maxGenericLines, got)
	}
}

func TestPassingOutputYieldsNoFailures(t *testing.T) {
	out := "===== 12 passed in 0.34s ====="
	failures := Parse(out, []string{"python"}, nil)
	if len(failures) != 0 {
		t.Errorf("expected no failures, got %d", len(failures))
	}
}

func TestSanitizeStripsANSI(t *testing.T) {
	out := "\x1b[31mFAILED\x1b[0m tests/test_a.py::test_x - ValueError: bad"
	failures := Parse(out, []string{"python"}, nil)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].ErrorType != "ValueError" {
		t.Errorf("error type: %q", failures[0].ErrorType)
	}
}

func TestDuplicateHintsParseOnce(t *testing.T) {
	out := "FAILED test.py::test_a - AssertionError"
	failures := Parse(out, []string{"python", "pytest"}, nil)
	if len(failures) != 1 {
		t.Errorf("duplicate hints should not duplicate records, got %d", len(failures))
	}
}
