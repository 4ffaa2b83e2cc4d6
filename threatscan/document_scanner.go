package threatscan

import (
	"bytes"
	"os"
)

// builtinBlockedActions are page-description action keywords that execute
// script, launch external programs, reach remote destinations, submit
// forms, or carry embedded files.
var builtinBlockedActions = []string{
	"/JavaScript",
	"/JS",
	"/Launch",
	"/SubmitForm",
	"/ImportData",
	"/GoToR",
	"/EmbeddedFile",
	"/RichMedia",
}

// scriptActionKeywords mark the presence of a script action; their presence
// also arms the function-fragment pass.
var scriptActionKeywords = []string{"/JavaScript", "/JS"}

// externalRefKeywords mark a reference to an external destination.
var externalRefKeywords = []string{"/URI", "/GoToR", "/SubmitForm"}

// scriptFunctionFragments are interpreter function names seen in document
// script payloads. Only scanned once a script action keyword is present.
var scriptFunctionFragments = []string{
	"app.alert",
	"app.launchurl",
	"app.opendoc",
	"this.exportdataobject",
	"this.submitform",
	"util.printf",
	"getannots",
	"getfield",
	"unescape(",
	"eval(",
}

// DocumentActionScanner detects auto-executing actions and scripts in
// page-description (PDF) documents by scanning the raw content. The
// document object model is never parsed.
type DocumentActionScanner struct {
	access *AccessValidator
}

// NewDocumentActionScanner constructs the scanner with its collaborators.
func NewDocumentActionScanner(access *AccessValidator) *DocumentActionScanner {
	return &DocumentActionScanner{access: access}
}

// Scan validates access, reads the file and runs the detection passes.
func (s *DocumentActionScanner) Scan(path string, pol Policy) *Result {
	res := NewResult()
	if d := s.access.Validate(path); !d.Allowed {
		res.AddThreat("access denied: %s", d.Reason)
		return res
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res.AddThreat("file could not be read: %v", err)
		return res
	}
	return s.ScanBytes(data, pol)
}

// ScanBytes runs the detection passes over in-memory content.
func (s *DocumentActionScanner) ScanBytes(data []byte, pol Policy) *Result {
	res := NewResult()
	if !pol.Document.Enabled {
		return res
	}

	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		res.AddThreat("not a valid PDF document: missing header marker")
		return res
	}
	res.MediaType = MediaTypePDF

	// Flags are tracked independently of pass/fail: a caller may tolerate
	// external links while still blocking script.
	for _, kw := range scriptActionKeywords {
		if containsPDFName(data, kw) {
			res.HasJavaScript = true
			break
		}
	}
	for _, kw := range externalRefKeywords {
		if containsPDFName(data, kw) {
			res.HasExternalRefs = true
			break
		}
	}

	for _, action := range effectiveBlockedActions(pol.Document) {
		if containsPDFName(data, action) {
			res.AddThreat("dangerous document action detected: %s", action)
		}
	}

	if res.HasJavaScript {
		lower := bytes.ToLower(data)
		for _, fragment := range scriptFunctionFragments {
			if bytes.Contains(lower, []byte(fragment)) {
				res.AddThreat("script execution function detected: %s", fragment)
			}
		}
	}

	if res.HasExternalRefs {
		if !pol.Document.AllowExternalLinks {
			res.AddThreat("external reference action detected")
		}
		for _, scheme := range findURISchemes(data, pol.Document.BlockedURISchemes) {
			res.AddThreat("dangerous URI scheme in document action: %s", scheme)
		}
	}

	s.scanObfuscation(data, pol.Document, res)
	return res
}

// scanObfuscation flags structural indicators of payload hiding: an
// excessive stream count, very long inline hex strings, and repeated
// encryption directives.
func (s *DocumentActionScanner) scanObfuscation(data []byte, pol DocumentPolicy, res *Result) {
	if pol.MaxStreams > 0 {
		// "endstream" contains "stream", so each stream object contributes
		// two occurrences of the keyword.
		streams := bytes.Count(data, []byte("stream")) - bytes.Count(data, []byte("endstream"))
		if streams > pol.MaxStreams {
			res.AddThreat("excessive content stream count: %d (max: %d)", streams, pol.MaxStreams)
		}
	}

	if pol.MaxHexRun > 0 && longestHexString(data) > pol.MaxHexRun {
		res.AddThreat("suspicious inline hex-encoded string longer than %d characters", pol.MaxHexRun)
	}

	if n := containsPDFNameCount(data, "/Encrypt"); n > 1 {
		res.AddThreat("multiple encryption directives detected: %d", n)
	}
}

// longestHexString returns the length of the longest <...> hex string.
func longestHexString(data []byte) int {
	longest := 0
	run := -1
	for i := 0; i < len(data); i++ {
		b := data[i]
		switch {
		case b == '<':
			// "<<" opens a dictionary, not a hex string
			if i+1 < len(data) && data[i+1] == '<' {
				i++
				run = -1
			} else {
				run = 0
			}
		case run >= 0 && b == '>':
			if run > longest {
				longest = run
			}
			run = -1
		case run >= 0 && isHexByte(b):
			run++
		case run >= 0 && (b == ' ' || b == '\t' || b == '\r' || b == '\n'):
			// whitespace is permitted inside hex strings
		default:
			run = -1
		}
	}
	return longest
}

func isHexByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// containsPDFName reports whether a name token occurs with a proper
// delimiter after it, so "/JS" never matches "/JSName".
func containsPDFName(data []byte, name string) bool {
	return containsPDFNameCount(data, name) > 0
}

func containsPDFNameCount(data []byte, name string) int {
	needle := []byte(name)
	count := 0
	from := 0
	for {
		idx := bytes.Index(data[from:], needle)
		if idx < 0 {
			return count
		}
		end := from + idx + len(needle)
		from = from + idx + 1
		if end >= len(data) || isPDFDelimiter(data[end]) {
			count++
		}
	}
}

func isPDFDelimiter(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0,
		'/', '<', '>', '[', ']', '(', ')', '{', '}', '%':
		return true
	}
	return false
}

// effectiveBlockedActions applies the policy allow/deny adjustments.
func effectiveBlockedActions(pol DocumentPolicy) []string {
	blocked := builtinBlockedActions
	if len(pol.BlockedActions) > 0 {
		blocked = pol.BlockedActions
	}
	if len(pol.AllowedActions) == 0 {
		return blocked
	}
	allowed := make(map[string]bool, len(pol.AllowedActions))
	for _, a := range pol.AllowedActions {
		allowed[a] = true
	}
	out := make([]string, 0, len(blocked))
	for _, a := range blocked {
		if !allowed[a] {
			out = append(out, a)
		}
	}
	return out
}
