package threatscan

import (
	"bytes"

	"github.com/cloudflare/ahocorasick"
)

// functionMatcher finds dangerous function names in content with word
// boundaries on both sides. An Aho-Corasick pass narrows the candidate set
// in one sweep; each candidate is then verified at its occurrences so that
// e.g. "execute" never matches "exec". Results follow the list order of the
// matcher, so repeated scans of identical bytes are identical.
type functionMatcher struct {
	names   []string
	matcher *ahocorasick.Matcher
}

// statement-style constructs that appear without a call parenthesis
var statementNames = map[string]bool{
	"include":      true,
	"include_once": true,
	"require":      true,
	"require_once": true,
}

func newFunctionMatcher(names []string) *functionMatcher {
	lowered := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		l := bytesToLower(n)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		lowered = append(lowered, l)
	}
	return &functionMatcher{
		names:   lowered,
		matcher: ahocorasick.NewStringMatcher(lowered),
	}
}

func bytesToLower(s string) string {
	return string(bytes.ToLower([]byte(s)))
}

// Matches returns the names found in content as call sites, in the fixed
// order of the configured list. Content is lowercased internally.
func (m *functionMatcher) Matches(content []byte) []string {
	if len(m.names) == 0 || len(content) == 0 {
		return nil
	}
	lower := bytes.ToLower(content)

	candidates := make(map[int]bool)
	for _, idx := range m.matcher.MatchThreadSafe(lower) {
		if idx >= 0 && idx < len(m.names) {
			candidates[idx] = true
		}
	}

	var found []string
	for i, name := range m.names {
		if !candidates[i] {
			continue
		}
		if containsCallSite(lower, name) {
			found = append(found, name)
		}
	}
	return found
}

// containsCallSite reports whether name occurs in lower with a non-word
// character (or start of input) before it and, unless it is a statement
// keyword, an opening parenthesis after optional whitespace.
func containsCallSite(lower []byte, name string) bool {
	needle := []byte(name)
	from := 0
	for {
		idx := bytes.Index(lower[from:], needle)
		if idx < 0 {
			return false
		}
		pos := from + idx
		from = pos + 1

		if pos > 0 && isWordByte(lower[pos-1]) {
			continue
		}
		end := pos + len(needle)
		if end < len(lower) && isWordByte(lower[end]) {
			continue
		}
		if statementNames[name] {
			return true
		}
		// skip whitespace to the call parenthesis
		for end < len(lower) && (lower[end] == ' ' || lower[end] == '\t') {
			end++
		}
		if end < len(lower) && lower[end] == '(' {
			return true
		}
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// scriptOpenTags are the openers the code and metadata scanners look for. A
// bare "<?" is only flagged when followed by whitespace or an identifier
// start, cutting false positives from incidental "<?" pairs in text.
func findScriptOpenTags(content []byte) []string {
	lower := bytes.ToLower(content)
	var found []string

	if hasOpenerWithBoundary(lower, []byte("<?php")) {
		found = append(found, "<?php")
	}
	if bytes.Contains(lower, []byte("<?=")) {
		found = append(found, "<?=")
	}
	if hasOpenerWithBoundary(lower, []byte("<script")) {
		found = append(found, "<script")
	}
	if hasOpenerWithBoundary(lower, []byte("<%")) {
		found = append(found, "<%")
	}
	return found
}

// hasOpenerWithBoundary reports whether the opener occurs followed by
// whitespace, '>', '=', or end of input.
func hasOpenerWithBoundary(lower, opener []byte) bool {
	from := 0
	for {
		idx := bytes.Index(lower[from:], opener)
		if idx < 0 {
			return false
		}
		end := from + idx + len(opener)
		from = from + idx + 1

		if end >= len(lower) {
			return true
		}
		switch lower[end] {
		case ' ', '\t', '\r', '\n', '>', '=':
			return true
		}
	}
}

// findURISchemes returns the blocked schemes present in content, preserving
// the order of the schemes list.
func findURISchemes(content []byte, schemes []string) []string {
	lower := bytes.ToLower(content)
	var found []string
	for _, scheme := range schemes {
		if bytes.Contains(lower, bytes.ToLower([]byte(scheme))) {
			found = append(found, scheme)
		}
	}
	return found
}

// encodedTraversalPatterns are percent-encoded variants of relative
// traversal sequences, matched case-insensitively.
var encodedTraversalPatterns = []string{
	"%2e%2e%2f", // ../
	"%2e%2e/",
	"..%2f",
	"%2e%2e%5c", // ..\
	"%2e%2e\\",
	"..%5c",
}

// isTraversalPath reports whether an archive entry name attempts to escape
// the extraction directory on either path-separator convention.
func isTraversalPath(name string) bool {
	if name == "" {
		return false
	}
	if bytes.ContainsRune([]byte(name), 0) {
		return true
	}

	// Relative traversal
	if name == ".." ||
		bytes.Contains([]byte(name), []byte("../")) ||
		bytes.Contains([]byte(name), []byte("..\\")) {
		return true
	}

	// Absolute paths: Unix, Windows drive, UNC
	if name[0] == '/' || name[0] == '\\' {
		return true
	}
	if len(name) > 2 && name[1] == ':' && (name[2] == '\\' || name[2] == '/') {
		return true
	}

	// Percent-encoded traversal
	lower := bytes.ToLower([]byte(name))
	for _, pattern := range encodedTraversalPatterns {
		if bytes.Contains(lower, []byte(pattern)) {
			return true
		}
	}
	return false
}
