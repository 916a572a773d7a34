package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeGit struct {
	calls [][]string
}

func (f *fakeGit) Run(dir string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	return "", nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestRepoName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://github.com/acme/widgets.git", "widgets"},
		{"https://github.com/acme/widgets", "widgets"},
		{"https://github.com/acme/widgets/", "widgets"},
		{"git@github.com:acme/widgets.git", "widgets"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := RepoName(tc.in); got != tc.want {
			t.Errorf("RepoName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAuthURL(t *testing.T) {
	got, err := AuthURL("https://github.com/acme/widgets.git", "tok123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "x-access-token:tok123@github.com") {
		t.Errorf("AuthURL = %q", got)
	}

	ssh, err := AuthURL("git@github.com:acme/widgets.git", "tok123")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(ssh, "tok123") {
		t.Errorf("token injected into non-https url: %q", ssh)
	}
}

func TestCloneUsesRunScopedDirectory(t *testing.T) {
	base := t.TempDir()
	git := &fakeGit{}
	c := NewCloner(git, base, "tok", nil)

	dest, err := c.Clone(context.Background(), "https://github.com/acme/widgets.git", "run-42")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dest) != "run-42-widgets" {
		t.Errorf("dest = %q", dest)
	}
	if len(git.calls) != 1 || git.calls[0][0] != "clone" {
		t.Fatalf("git calls = %v", git.calls)
	}
	if !strings.Contains(git.calls[0][1], "x-access-token:tok@") {
		t.Errorf("clone url not authenticated: %q", git.calls[0][1])
	}
}

func TestDetectMarkerFilesWin(t *testing.T) {
	root := writeTree(t, map[string]string{
		"requirements.txt": "pytest\n",
		"index.js":         "",
		"app.js":           "",
	})
	info := Detect(root)
	if info.Language != "python" || info.Framework != "pytest" {
		t.Errorf("info = %+v", info)
	}
}

func TestDetectByExtensionCount(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.rb": "", "b.rb": "", "c.rb": "", "single.py": "",
	})
	if info := Detect(root); info.Language != "ruby" {
		t.Errorf("language = %q", info.Language)
	}
}

func TestDetectJavaScriptFramework(t *testing.T) {
	root := writeTree(t, map[string]string{
		"package.json": `{"devDependencies": {"vitest": "^1.0.0"}}`,
		"index.js":     "",
	})
	info := Detect(root)
	if info.Language != "javascript" || info.Framework != "vitest" {
		t.Errorf("info = %+v", info)
	}

	bare := writeTree(t, map[string]string{"package.json": `{}`, "index.js": ""})
	if info := Detect(bare); info.Framework != "jest" {
		t.Errorf("framework fallback = %q", info.Framework)
	}
}
