package testrun

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var skipDirs = map[string]bool{
	"node_modules": true, "__pycache__": true, "venv": true, ".venv": true,
	"dist": true, "build": true, "target": true, ".git": true,
}

// DiscoverTestFiles walks the repository and returns repo-relative paths of
// files matching the language's test naming conventions, sorted for
// deterministic command lines.
func DiscoverTestFiles(root, language string) []string {
	var files []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if isTestName(name, language) {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil {
				files = append(files, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	sort.Strings(files)
	return files
}

func isTestName(name, language string) bool {
	switch language {
	case "python":
		return strings.HasSuffix(name, ".py") &&
			(strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py") ||
				name == "test.py" || name == "tests.py")
	case "javascript", "typescript":
		return strings.Contains(name, ".test.") || strings.Contains(name, ".spec.")
	case "go":
		return strings.HasSuffix(name, "_test.go")
	case "java":
		return strings.HasSuffix(name, "Test.java") || strings.HasSuffix(name, "Tests.java")
	}
	return false
}

// testCommand picks the command line for the repo's language and framework.
// Python runs only the discovered test files so stray scripts do not get
// collected; JS repos prefer their own "test" script when one exists.
func (r *Runner) testCommand(dir, language, framework string) string {
	switch language {
	case "python":
		args := "pytest -v --tb=long"
		if files := DiscoverTestFiles(dir, "python"); len(files) > 0 {
			args += " " + strings.Join(files, " ")
		}
		return args
	case "javascript", "typescript":
		if hasTestScript(dir) {
			return "npm test -- --passWithNoTests"
		}
		switch framework {
		case "vitest":
			return "npx vitest run --passWithNoTests"
		case "mocha":
			return "npx mocha"
		default:
			return "npx jest --passWithNoTests"
		}
	case "go":
		return "go test ./... -v"
	case "java":
		if exists(filepath.Join(dir, "pom.xml")) {
			return "mvn -B test"
		}
		return "gradle test"
	}
	return ""
}

// installCommands lists the dependency install steps for the language, in
// order. Python always bootstraps pytest since repositories under repair
// routinely omit it from their requirements.
func installCommands(dir, language string) []string {
	var commands []string
	switch language {
	case "python":
		if exists(filepath.Join(dir, "requirements.txt")) {
			commands = append(commands, "pip install -r requirements.txt")
		}
		if exists(filepath.Join(dir, "setup.py")) || exists(filepath.Join(dir, "pyproject.toml")) {
			commands = append(commands, "pip install -e .")
		}
		commands = append(commands, "pip install pytest")
	case "javascript", "typescript":
		if exists(filepath.Join(dir, "package.json")) {
			commands = append(commands, "npm install --no-audit --no-fund")
		}
	case "go":
		if exists(filepath.Join(dir, "go.mod")) {
			commands = append(commands, "go mod download")
		}
	}
	return commands
}

func hasTestScript(dir string) bool {
	b, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return false
	}
	// A cheap containment check beats parsing: "scripts" with a "test" entry.
	s := string(b)
	i := strings.Index(s, `"scripts"`)
	if i < 0 {
		return false
	}
	return strings.Contains(s[i:], `"test"`)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
