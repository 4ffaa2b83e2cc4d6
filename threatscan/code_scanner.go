package threatscan

import (
	"bytes"
	"os"
)

// builtinDangerousFunctions is the full built-in function list for the code
// injection scanner. Covers script execution, process control, dynamic code
// construction and environment manipulation.
var builtinDangerousFunctions = []string{
	"eval",
	"assert",
	"system",
	"exec",
	"shell_exec",
	"passthru",
	"popen",
	"proc_open",
	"pcntl_exec",
	"dl",
	"create_function",
	"call_user_func",
	"call_user_func_array",
	"preg_replace_callback",
	"extract",
	"parse_str",
	"putenv",
	"include",
	"include_once",
	"require",
	"require_once",
}

// paranoidDangerousFunctions is the reduced most-dangerous-only list.
var paranoidDangerousFunctions = []string{
	"eval",
	"assert",
	"system",
	"exec",
	"shell_exec",
	"passthru",
	"popen",
	"proc_open",
}

// compositePatterns are high-confidence pairs: a dynamic-evaluation call
// combined with a decoding or transformation call in the same file.
var compositePatterns = [][2]string{
	{"eval", "base64_decode"},
	{"eval", "gzinflate"},
	{"eval", "gzuncompress"},
	{"eval", "str_rot13"},
	{"assert", "base64_decode"},
}

// webShellFragments are name fragments of widely distributed web shells.
var webShellFragments = []string{
	"c99shell",
	"r57shell",
	"b374k",
	"weevely",
	"filesman",
	"wso_version",
}

// CodeInjectionScanner detects embedded executable script markers and
// dangerous function calls in uploaded files. Binary media types that
// cannot host interpretable script text are skipped entirely.
type CodeInjectionScanner struct {
	access *AccessValidator
	ident  *Identifier
}

// NewCodeInjectionScanner constructs the scanner with its collaborators.
func NewCodeInjectionScanner(access *AccessValidator, ident *Identifier) *CodeInjectionScanner {
	return &CodeInjectionScanner{access: access, ident: ident}
}

// Scan validates access, reads the file and runs the detection passes.
func (s *CodeInjectionScanner) Scan(path string, pol Policy) *Result {
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
func (s *CodeInjectionScanner) ScanBytes(data []byte, pol Policy) *Result {
	res := NewResult()
	if !pol.Code.Enabled || len(data) == 0 {
		return res
	}

	prefix := data
	if len(prefix) > SniffLen {
		prefix = prefix[:SniffLen]
	}
	mediaType := s.ident.Identify(prefix)
	res.MediaType = mediaType
	if IsBinaryMediaType(mediaType) {
		return res
	}

	for _, tag := range findScriptOpenTags(data) {
		res.AddThreat("embedded script opening tag detected: %s", tag)
		res.HasJavaScript = res.HasJavaScript || tag == "<script"
	}

	matcher := newFunctionMatcher(functionListFor(pol.Code))
	for _, name := range matcher.Matches(data) {
		res.AddThreat("dangerous function call detected: %s", name)
	}

	lower := bytes.ToLower(data)
	for _, pair := range compositePatterns {
		if containsCallSite(lower, pair[0]) && containsCallSite(lower, pair[1]) {
			res.AddThreat("dynamic evaluation combined with decoding: %s(%s(...))", pair[0], pair[1])
		}
	}
	for _, fragment := range webShellFragments {
		if bytes.Contains(lower, []byte(fragment)) {
			res.AddThreat("known web shell fragment detected: %s", fragment)
		}
	}

	return res
}

// functionListFor assembles the effective function list for the policy mode.
func functionListFor(pol CodePolicy) []string {
	switch pol.Mode {
	case CodeScanParanoid:
		return paranoidDangerousFunctions
	case CodeScanExact:
		return pol.ExactFunctions
	default:
		excluded := make(map[string]bool, len(pol.ExcludedFunctions))
		for _, name := range pol.ExcludedFunctions {
			excluded[bytesToLower(name)] = true
		}
		list := make([]string, 0, len(builtinDangerousFunctions)+len(pol.ExtraFunctions))
		for _, name := range builtinDangerousFunctions {
			if !excluded[name] {
				list = append(list, name)
			}
		}
		for _, name := range pol.ExtraFunctions {
			if !excluded[bytesToLower(name)] {
				list = append(list, name)
			}
		}
		return list
	}
}
