// Package locate maps a test failure to the repository file whose contents
// should change. Strategies are an explicit ordered list of functions tried
// in sequence; the first non-empty answer wins and strategies are never
// blended, which keeps the precedence contract auditable per strategy.
package locate

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/raidx545/mend/internal/model"
)

// Locator resolves failures against a repository checkout. It reads the
// tree but never writes; results are recomputed per failure because the
// working tree mutates between repair iterations.
type Locator struct {
	root string
}

// New creates a Locator for the repository rooted at root.
func New(root string) *Locator {
	return &Locator{root: root}
}

type strategy func(f model.TestFailure) string

// SourceFile returns the repo-relative path of the file a failure should be
// fixed in, or "" when no strategy yields a path and the failure's named
// file does not exist.
func (l *Locator) SourceFile(f model.TestFailure) string {
	for _, s := range []strategy{
		l.syntaxShortcut,
		l.missingModuleReroute,
		l.undefinedNameReroute,
		l.importGraph,
		l.namingConvention,
		l.messageReference,
		l.anySourceFallback,
		l.namedFile,
	} {
		if path := s(f); path != "" {
			return path
		}
	}
	return ""
}

var fatalSyntaxMarkers = []string{
	"indentationerror", "syntaxerror", "taberror",
	"unexpected indent", "unindent", "invalid syntax",
}

// syntaxShortcut trusts the failure's own file outright for structural
// parse failures: a file that can't be parsed must be fixed itself, not
// reasoned about through its imports.
func (l *Locator) syntaxShortcut(f model.TestFailure) string {
	text := strings.ToLower(f.ErrorMessage + " " + f.ErrorType)
	for _, marker := range fatalSyntaxMarkers {
		if strings.Contains(text, marker) {
			if l.exists(f.FilePath) {
				return f.FilePath
			}
			return ""
		}
	}
	return ""
}

var (
	noModuleRe       = regexp.MustCompile(`no module named ['"]?([\w.]+)['"]?`)
	cannotFindModRe  = regexp.MustCompile(`cannot find module ['"]([^'"]+)['"]`)
	notDefinedRe     = regexp.MustCompile(`name ['"]?(\w+)['"]? is not defined`)
	fromImportRe     = regexp.MustCompile(`from\s+([\w.]+)\s+import`)
	plainImportRe    = regexp.MustCompile(`(?m)^import\s+([\w.]+)`)
	jsRequireRe      = regexp.MustCompile(`require\(['"]([^'"]+)['"]\)`)
	jsImportFromRe   = regexp.MustCompile(`from\s+['"]([^'"]+)['"]`)
	messagePathToken = regexp.MustCompile(`[\w/\\]+\.\w+`)
)

// MissingModule extracts the unresolvable module name from a failure's
// text, or "" when the failure is not a missing-dependency case. Exported
// because the fix applier reuses it for the programmatic import rewrite.
func MissingModule(f model.TestFailure) string {
	text := strings.ToLower(f.ErrorMessage + " " + f.ErrorType + " " + f.RawOutput)
	isMissing := strings.Contains(text, "modulenotfounderror") ||
		(strings.Contains(text, "importerror") && strings.Contains(text, "no module")) ||
		strings.Contains(text, "cannot find module")
	if !isMissing {
		return ""
	}
	if m := noModuleRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := cannotFindModRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// FuzzyModuleMatch finds a real non-test source file whose stem overlaps
// the missing module name by prefix in either direction, ignoring case and
// the _ and - separators (mathutil matches math_utils). Returns the
// repo-relative path, or "".
func (l *Locator) FuzzyModuleMatch(missing string) string {
	base := normalizeModName(lastSegment(missing))
	if base == "" {
		return ""
	}
	for _, entry := range l.listFiles() {
		if !isSourceFile(entry.name) || IsTestFile(entry.name) {
			continue
		}
		stem := normalizeModName(fileStem(entry.name))
		if strings.HasPrefix(stem, base) || strings.HasPrefix(base, stem) {
			return entry.rel
		}
	}
	return ""
}

// normalizeModName lowercases and drops word separators so near-miss module
// names compare by their letters alone.
func normalizeModName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "")
	return strings.ReplaceAll(name, "-", "")
}

// missingModuleReroute handles a referenced module that could not be found:
// when a plausible real module exists under a near-miss name, the fault is
// the referencing file's import statement, so that file is returned.
func (l *Locator) missingModuleReroute(f model.TestFailure) string {
	missing := MissingModule(f)
	if missing == "" {
		return ""
	}
	real := l.FuzzyModuleMatch(missing)
	if real == "" || fileStem(filepath.Base(real)) == lastSegment(missing) {
		return ""
	}

	// The referencing file is usually the one the record names.
	if l.exists(f.FilePath) {
		return f.FilePath
	}
	return l.firstTestFile()
}

// undefinedNameReroute handles an undefined name that is in fact defined in
// a source file the referencing file imports: the missing piece is the
// import statement, so the referencing file is returned.
func (l *Locator) undefinedNameReroute(f model.TestFailure) string {
	text := strings.ToLower(f.ErrorMessage)
	m := notDefinedRe.FindStringSubmatch(text)
	if m == nil || !l.exists(f.FilePath) {
		return ""
	}
	name := m[1]

	content, err := os.ReadFile(filepath.Join(l.root, f.FilePath))
	if err != nil {
		return ""
	}
	for _, mod := range parseImports(string(content)) {
		src := l.findModuleFile(mod)
		if src == "" {
			continue
		}
		srcContent, err := os.ReadFile(filepath.Join(l.root, src))
		if err != nil {
			continue
		}
		if definesSymbol(string(srcContent), name) {
			return f.FilePath
		}
	}
	return ""
}

// importGraph parses imports out of the failure's named file and returns
// the first imported module that resolves to a real repository file, first
// by exact path and then by fuzzy filename match among non-test files.
func (l *Locator) importGraph(f model.TestFailure) string {
	if !l.exists(f.FilePath) {
		return ""
	}
	content, err := os.ReadFile(filepath.Join(l.root, f.FilePath))
	if err != nil {
		return ""
	}

	files := l.listFiles()
	for _, mod := range parseImports(string(content)) {
		modPath := strings.ReplaceAll(mod, ".", "/") + ".py"
		base := lastSegment(mod)
		for _, entry := range files {
			if entry.rel == modPath || entry.name == base+".py" {
				return entry.rel
			}
		}
		for _, entry := range files {
			if !isSourceFile(entry.name) || IsTestFile(entry.name) {
				continue
			}
			stem := fileStem(entry.name)
			if strings.HasPrefix(stem, base) || strings.HasPrefix(base, stem) {
				return entry.rel
			}
		}
	}
	return ""
}

// namingConvention derives candidate source filenames from the failure's
// file name by stripping the standard test/spec naming conventions and
// searches the tree (excluding test directories) for an exact match.
func (l *Locator) namingConvention(f model.TestFailure) string {
	base := filepath.Base(f.FilePath)
	var candidates []string

	if strings.HasPrefix(base, "test_") {
		candidates = append(candidates, strings.TrimPrefix(base, "test_"))
	}
	if strings.HasSuffix(base, "_test.py") {
		candidates = append(candidates, strings.TrimSuffix(base, "_test.py")+".py")
	}
	if strings.HasSuffix(base, "_test.go") {
		candidates = append(candidates, strings.TrimSuffix(base, "_test.go")+".go")
	}
	if strings.Contains(base, ".test.") {
		candidates = append(candidates, strings.Replace(base, ".test.", ".", 1))
	}
	if strings.Contains(base, ".spec.") {
		candidates = append(candidates, strings.Replace(base, ".spec.", ".", 1))
	}
	if strings.HasSuffix(base, "Test.java") {
		candidates = append(candidates, strings.TrimSuffix(base, "Test.java")+".java")
	}
	if len(candidates) == 0 {
		return ""
	}

	for _, entry := range l.listFiles() {
		if inTestDir(entry.rel) {
			continue
		}
		for _, c := range candidates {
			if entry.name == c {
				return entry.rel
			}
		}
	}
	return ""
}

// messageReference scans the error message for path-like tokens and returns
// the first one that exists on disk.
func (l *Locator) messageReference(f model.TestFailure) string {
	for _, token := range messagePathToken.FindAllString(f.ErrorMessage, -1) {
		if l.exists(token) {
			return filepath.ToSlash(token)
		}
	}
	return ""
}

// anySourceFallback returns any non-test, non-build-tooling source file.
func (l *Locator) anySourceFallback(f model.TestFailure) string {
	for _, entry := range l.listFiles() {
		if !isSourceFile(entry.name) || IsTestFile(entry.name) || isBuildTooling(entry.name) {
			continue
		}
		return entry.rel
	}
	return ""
}

// namedFile is the last resort: the file the failure itself names.
func (l *Locator) namedFile(f model.TestFailure) string {
	if l.exists(f.FilePath) {
		return f.FilePath
	}
	return ""
}

// --- repository scanning helpers ---

var skipDirs = map[string]bool{
	"node_modules": true, "__pycache__": true, "venv": true, ".venv": true,
	"dist": true, "build": true, "target": true, "worktrees": true,
}

var testDirs = map[string]bool{
	"test": true, "tests": true, "__tests__": true, "spec": true,
}

type fileEntry struct {
	name string // base name
	rel  string // repo-relative, slash-separated
}

// listFiles walks the checkout skipping hidden and dependency directories.
// Order is the filesystem walk order, which keeps strategy answers stable
// within one iteration.
func (l *Locator) listFiles() []fileEntry {
	var entries []fileEntry
	filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != l.root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return nil
		}
		entries = append(entries, fileEntry{name: name, rel: filepath.ToSlash(rel)})
		return nil
	})
	return entries
}

func (l *Locator) exists(rel string) bool {
	if rel == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(l.root, rel))
	return err == nil
}

func (l *Locator) firstTestFile() string {
	for _, entry := range l.listFiles() {
		if isSourceFile(entry.name) && IsTestFile(entry.name) {
			return entry.rel
		}
	}
	return ""
}

// findModuleFile resolves a Python-style import to a file by naive name
// match (module.py, then modules.py).
func (l *Locator) findModuleFile(mod string) string {
	base := lastSegment(mod)
	for _, entry := range l.listFiles() {
		if entry.name == base+".py" || entry.name == base+"s.py" {
			return entry.rel
		}
	}
	return ""
}

// pythonStdlib holds import names that never resolve to repository files.
var pythonStdlib = map[string]bool{
	"os": true, "sys": true, "re": true, "json": true, "math": true,
	"pytest": true, "unittest": true, "mock": true, "datetime": true,
	"collections": true, "typing": true, "pathlib": true, "io": true,
	"abc": true, "functools": true, "itertools": true,
}

// parseImports extracts imported module names from source text, covering
// Python from/import forms and JS require/from forms.
func parseImports(content string) []string {
	var mods []string
	seen := make(map[string]bool)
	add := func(mod string) {
		base := strings.TrimPrefix(mod, "./")
		if base == "" || pythonStdlib[strings.Split(base, ".")[0]] || seen[base] {
			return
		}
		seen[base] = true
		mods = append(mods, base)
	}
	for _, m := range fromImportRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range plainImportRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range jsRequireRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range jsImportFromRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	return mods
}

// definesSymbol reports whether source text defines the given name as a
// function, class, or const/var binding.
func definesSymbol(content, name string) bool {
	for _, prefix := range []string{"def ", "class ", "function ", "const ", "var ", "let "} {
		if strings.Contains(content, prefix+name) {
			return true
		}
	}
	return false
}

var sourceExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".go": true, ".rb": true,
}

func isSourceFile(name string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(name))]
}

// IsTestFile reports whether a file name looks like a test file rather
// than production source.
func IsTestFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "test") || strings.Contains(lower, ".spec.")
}

func isBuildTooling(name string) bool {
	switch name {
	case "setup.py", "conftest.py", "manage.py", "noxfile.py":
		return true
	}
	return false
}

func inTestDir(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if testDirs[part] {
			return true
		}
	}
	return false
}

func fileStem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func lastSegment(mod string) string {
	parts := strings.Split(mod, ".")
	return parts[len(parts)-1]
}
