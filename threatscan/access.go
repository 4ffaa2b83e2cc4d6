package threatscan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AccessValidator verifies a path is safe to open before any content is
// read. Every scanner consults it first; a rejection short-circuits the
// scan with a single access finding.
//
// The symlink rejection is the TOCTOU defense: an attacker who swaps a
// validated regular file for a symlink between check and read must not
// gain access to arbitrary filesystem targets.
type AccessValidator struct {
	roots         []string
	checkSymlinks bool
	unrestricted  bool
}

// NewAccessValidator builds a validator from the access policy. Configured
// roots are canonicalized once; roots that cannot be resolved are dropped.
// With no configured roots and defaults disabled the validator degrades to
// allow-all — a compatibility fallback for non-hosted use, not a security
// guarantee. Integrators can detect the degradation via RootsUnrestricted.
func NewAccessValidator(pol AccessPolicy) *AccessValidator {
	v := &AccessValidator{checkSymlinks: pol.CheckSymlinks}

	configured := append([]string{}, pol.AllowedRoots...)
	if pol.UseDefaultRoots {
		configured = append(configured, os.TempDir())
	}

	for _, root := range configured {
		if root == "" {
			continue
		}
		resolved, err := canonicalize(root)
		if err != nil {
			continue
		}
		v.roots = append(v.roots, resolved)
	}

	if len(v.roots) == 0 {
		v.unrestricted = true
	}
	return v
}

// RootsUnrestricted reports whether the validator accepts paths anywhere on
// the filesystem because no allowed roots could be established.
func (v *AccessValidator) RootsUnrestricted() bool {
	return v.unrestricted
}

// Validate decides whether path may be opened. It never opens the file.
func (v *AccessValidator) Validate(path string) AccessDecision {
	if strings.ContainsRune(path, 0) {
		return AccessDecision{Allowed: false, Reason: "path contains null byte"}
	}

	info, err := os.Lstat(path)
	if err != nil {
		return AccessDecision{Allowed: false, Reason: fmt.Sprintf("path cannot be resolved: %v", err)}
	}

	if v.checkSymlinks && info.Mode()&os.ModeSymlink != 0 {
		return AccessDecision{Allowed: false, Reason: "path is a symbolic link"}
	}

	resolved, err := canonicalize(path)
	if err != nil {
		return AccessDecision{Allowed: false, Reason: fmt.Sprintf("path cannot be resolved: %v", err)}
	}

	if v.unrestricted {
		return AccessDecision{Allowed: true}
	}

	for _, root := range v.roots {
		if isDescendant(root, resolved) {
			return AccessDecision{Allowed: true}
		}
	}
	return AccessDecision{Allowed: false, Reason: "path is outside allowed root directories"}
}

// canonicalize resolves a path to its canonical absolute form.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// isDescendant reports whether path is root itself or lies beneath it.
func isDescendant(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
