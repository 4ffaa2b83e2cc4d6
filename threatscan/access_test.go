package threatscan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAccessValidatorAllowsPathInsideRoot(t *testing.T) {
	root := t.TempDir()
	path := writeTempFile(t, root, "upload.txt", "hello")

	v := NewAccessValidator(AccessPolicy{AllowedRoots: []string{root}, CheckSymlinks: true})
	if v.RootsUnrestricted() {
		t.Fatal("validator with a resolvable root should not be unrestricted")
	}

	d := v.Validate(path)
	if !d.Allowed {
		t.Errorf("path inside root rejected: %s", d.Reason)
	}
}

func TestAccessValidatorRejectsPathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	path := writeTempFile(t, other, "upload.txt", "hello")

	v := NewAccessValidator(AccessPolicy{AllowedRoots: []string{root}, CheckSymlinks: true})
	d := v.Validate(path)
	if d.Allowed {
		t.Error("path outside root should be rejected")
	}
	if !strings.Contains(d.Reason, "outside allowed root") {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
}

func TestAccessValidatorRejectsNullByte(t *testing.T) {
	v := NewAccessValidator(AccessPolicy{AllowedRoots: []string{t.TempDir()}})
	d := v.Validate("upload\x00.txt")
	if d.Allowed {
		t.Error("path with null byte should be rejected")
	}
	if !strings.Contains(d.Reason, "null byte") {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
}

func TestAccessValidatorRejectsMissingPath(t *testing.T) {
	root := t.TempDir()
	v := NewAccessValidator(AccessPolicy{AllowedRoots: []string{root}})
	d := v.Validate(filepath.Join(root, "does-not-exist"))
	if d.Allowed {
		t.Error("nonexistent path should be rejected")
	}
}

func TestAccessValidatorSymlinks(t *testing.T) {
	root := t.TempDir()
	target := writeTempFile(t, root, "target.txt", "hello")
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	t.Run("rejected when checking enabled", func(t *testing.T) {
		v := NewAccessValidator(AccessPolicy{AllowedRoots: []string{root}, CheckSymlinks: true})
		d := v.Validate(link)
		if d.Allowed {
			t.Error("symlink should be rejected")
		}
		if !strings.Contains(d.Reason, "symbolic link") {
			t.Errorf("unexpected reason: %q", d.Reason)
		}
	})

	t.Run("accepted when checking disabled", func(t *testing.T) {
		v := NewAccessValidator(AccessPolicy{AllowedRoots: []string{root}, CheckSymlinks: false})
		d := v.Validate(link)
		if !d.Allowed {
			t.Errorf("symlink with checking disabled rejected: %s", d.Reason)
		}
	})
}

func TestAccessValidatorSymlinkEscapingRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := writeTempFile(t, outside, "secret.txt", "hidden")
	link := filepath.Join(root, "escape.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	// Even with symlink checking off, the canonicalized target must still
	// resolve under an allowed root.
	v := NewAccessValidator(AccessPolicy{AllowedRoots: []string{root}, CheckSymlinks: false})
	if d := v.Validate(link); d.Allowed {
		t.Error("symlink escaping the root should be rejected")
	}
}

func TestAccessValidatorUnrestrictedFallback(t *testing.T) {
	v := NewAccessValidator(AccessPolicy{CheckSymlinks: true})
	if !v.RootsUnrestricted() {
		t.Fatal("validator without roots should report unrestricted")
	}

	path := writeTempFile(t, t.TempDir(), "anywhere.txt", "hello")
	if d := v.Validate(path); !d.Allowed {
		t.Errorf("unrestricted validator rejected path: %s", d.Reason)
	}
}

func TestAccessValidatorDefaultRoots(t *testing.T) {
	// UseDefaultRoots adds the system temp directory; t.TempDir lives there.
	v := NewAccessValidator(AccessPolicy{UseDefaultRoots: true, CheckSymlinks: true})
	if v.RootsUnrestricted() {
		t.Fatal("default roots should restrict the validator")
	}
	path := writeTempFile(t, t.TempDir(), "upload.txt", "hello")
	if d := v.Validate(path); !d.Allowed {
		t.Errorf("path under temp dir rejected: %s", d.Reason)
	}
}

func TestIsDescendant(t *testing.T) {
	sep := string(filepath.Separator)
	tests := []struct {
		root, path string
		want       bool
	}{
		{sep + "data", sep + "data", true},
		{sep + "data", filepath.Join(sep+"data", "sub", "file"), true},
		{sep + "data", sep + "database", false},
		{sep + "data", sep + "other", false},
		{sep + "data" + sep + "sub", sep + "data", false},
	}
	for _, tt := range tests {
		if got := isDescendant(tt.root, tt.path); got != tt.want {
			t.Errorf("isDescendant(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}
