package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Status contains the git exposure of a set of vault files
type Status struct {
	Committed []string // tracked by git (bad)
	Unignored []string // inside a repository but not in .gitignore (warning)
	Ignored   []string // in .gitignore (good)
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsGitRepo checks if dir is inside a git work tree
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// IsTracked checks if a file is tracked by git
func IsTracked(path string) bool {
	cmd := exec.Command("git", "ls-files", "--", filepath.Base(path))
	cmd.Dir = filepath.Dir(path)
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a file is ignored by git (handles all .gitignore files)
func IsIgnored(path string) bool {
	cmd := exec.Command("git", "check-ignore", "-q", "--", filepath.Base(path))
	cmd.Dir = filepath.Dir(path)
	// exit code 0 means ignored
	return cmd.Run() == nil
}

// Check classifies every path that lives inside a git work tree. Paths
// outside any repository are skipped.
func Check(paths []string) *Status {
	status := &Status{}
	if !Available() {
		return status
	}
	for _, path := range paths {
		if !IsGitRepo(filepath.Dir(path)) {
			continue
		}
		switch {
		case IsTracked(path):
			status.Committed = append(status.Committed, path)
		case IsIgnored(path):
			status.Ignored = append(status.Ignored, path)
		default:
			status.Unignored = append(status.Unignored, path)
		}
	}
	return status
}

// Empty reports whether no checked file is inside a repository.
func (s *Status) Empty() bool {
	return len(s.Committed)+len(s.Unignored)+len(s.Ignored) == 0
}

// Format formats the status for display
func (s *Status) Format() string {
	if s.Empty() {
		return ""
	}

	var result strings.Builder
	result.WriteString("\nGit exposure:\n")
	for _, file := range s.Committed {
		result.WriteString(fmt.Sprintf("   error: %s is committed (run: git rm --cached %s)\n", file, file))
	}
	for _, file := range s.Unignored {
		result.WriteString(fmt.Sprintf("   warning: %s not in .gitignore\n", file))
	}
	if len(s.Committed) == 0 && len(s.Unignored) == 0 {
		result.WriteString(fmt.Sprintf("   ok: %d vault file(s) in .gitignore\n", len(s.Ignored)))
	}
	return result.String()
}
