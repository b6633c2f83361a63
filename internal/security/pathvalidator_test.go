package security

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestPathValidator_ValidateAndNormalize(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "vault.db")

	validator, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	mustWrite := func(name string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}

	plain := mustWrite("notes.txt")
	nested := mustWrite("a/b/secret.env")
	mustWrite("vault.db")
	mustWrite("vault.db.compact")
	mustWrite("notes.txt" + TempSuffix)
	if err := os.Mkdir(filepath.Join(tmpDir, "dir"), 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tests := []struct {
		name    string
		input   string
		want    string
		errType error
	}{
		{"plain file", plain, plain, nil},
		{"nested file", nested, nested, nil},
		{"unclean path", tmpDir + "/a/./b/../b//secret.env", nested, nil},
		{"empty path", "", "", ErrEmptyPath},
		{"whitespace path", "   ", "", ErrEmptyPath},
		{"directory", filepath.Join(tmpDir, "dir"), "", ErrNotRegular},
		{"record store", dbPath, "", ErrProtectedPath},
		{"store sibling", dbPath + ".compact", "", ErrProtectedPath},
		{"temp file", plain + TempSuffix, "", ErrProtectedPath},
		{"missing file", filepath.Join(tmpDir, "missing.txt"), "", os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.ValidateAndNormalize(tt.input)

			if tt.errType != nil {
				if !errors.Is(err, tt.errType) {
					t.Errorf("Expected error %v for %q, got %v", tt.errType, tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.input, err)
			}
			if result != tt.want {
				t.Errorf("Got %q, want %q", result, tt.want)
			}
			if !filepath.IsAbs(result) {
				t.Errorf("Result should be absolute, got %q", result)
			}
		})
	}
}

func TestPathValidator_RejectsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "target")
	link := filepath.Join(tmpDir, "link")
	if err := os.WriteFile(target, []byte("x"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	validator, _ := New()
	if _, err := validator.ValidateAndNormalize(link); !errors.Is(err, ErrSymlink) {
		t.Errorf("Expected ErrSymlink, got %v", err)
	}
}

func TestPathValidator_ValidateExistingPath(t *testing.T) {
	validator, err := New("/var/lib/proxvault/vault.db")
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name      string
		stored    string
		shouldErr bool
	}{
		{"absolute path", "/home/alice/.env", false},
		{"vanished file is fine", "/nonexistent/file.txt", false},
		{"relative path", "config/.env", true},
		{"unclean path", "/home/alice/../bob/.env", true},
		{"empty", "", true},
		{"store itself", "/var/lib/proxvault/vault.db", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateExistingPath(tt.stored)

			if tt.shouldErr && err == nil {
				t.Errorf("Expected error for stored path %q, got none", tt.stored)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("Unexpected error for stored path %q: %v", tt.stored, err)
			}
		})
	}
}
