package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestCheck(t *testing.T) {
	if !Available() {
		t.Skip("git not installed")
	}

	repo := t.TempDir()
	runGit(t, repo, "init", "-q")

	committed := filepath.Join(repo, "committed.env")
	ignored := filepath.Join(repo, "ignored.env")
	loose := filepath.Join(repo, "loose.env")
	outside := filepath.Join(t.TempDir(), "outside.env")

	writeFile(t, filepath.Join(repo, ".gitignore"), "ignored.env\n")
	for _, p := range []string{committed, ignored, loose, outside} {
		writeFile(t, p, "SECRET=1\n")
	}
	runGit(t, repo, "add", "committed.env")
	runGit(t, repo, "commit", "-q", "-m", "oops")

	status := Check([]string{committed, ignored, loose, outside})

	if len(status.Committed) != 1 || status.Committed[0] != committed {
		t.Errorf("Committed = %v", status.Committed)
	}
	if len(status.Ignored) != 1 || status.Ignored[0] != ignored {
		t.Errorf("Ignored = %v", status.Ignored)
	}
	if len(status.Unignored) != 1 || status.Unignored[0] != loose {
		t.Errorf("Unignored = %v", status.Unignored)
	}

	out := status.Format()
	if !strings.Contains(out, "git rm --cached "+committed) {
		t.Errorf("Format should suggest removing the committed file:\n%s", out)
	}
}

func TestCheckOutsideRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.env")
	writeFile(t, path, "x")

	status := Check([]string{path})
	if !status.Empty() {
		t.Errorf("Expected empty status, got %+v", status)
	}
	if status.Format() != "" {
		t.Error("Empty status should format to nothing")
	}
}
