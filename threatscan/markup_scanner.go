package threatscan

import (
	"bytes"
	"os"
	"regexp"
)

// builtinDangerousTags are markup elements that can execute or load code
// when an SVG is rendered. Animation elements are included because their
// begin conditions fire on load without user interaction.
var builtinDangerousTags = []string{
	"script",
	"iframe",
	"object",
	"embed",
	"foreignobject",
	"use",
	"animate",
	"set",
}

// eventHandlerAttr matches inline event handler attributes (onload,
// onclick, onbegin, ...).
var eventHandlerAttr = regexp.MustCompile(`(?i)[\s"'/]on[a-z]{2,}\s*=`)

// markupURISchemes are schemes that execute script or smuggle documents
// when used in reference attributes.
var markupURISchemes = []string{
	"javascript:",
	"vbscript:",
	"data:text/html",
	"livescript:",
}

// obfuscationMarkers are encoded forms of a script opener or a
// self-referencing SVG payload.
var obfuscationMarkers = []struct {
	marker      string
	description string
}{
	{"data:image/svg+xml;base64", "base64-wrapped SVG reference"},
	{"%3cscript", "percent-encoded script tag"},
	{"&#x3c;script", "entity-encoded script tag"},
	{"&#60;script", "entity-encoded script tag"},
	{"&lt;script", "entity-encoded script tag"},
}

// MarkupInjectionScanner detects script, event-handler and protocol
// injection plus XML entity attacks in markup documents (SVG and generic
// XML). The raw bytes are scanned without an XML parse, so entity
// declarations are rejected before anything could resolve them.
type MarkupInjectionScanner struct {
	access *AccessValidator
}

// NewMarkupInjectionScanner constructs the scanner with its collaborators.
func NewMarkupInjectionScanner(access *AccessValidator) *MarkupInjectionScanner {
	return &MarkupInjectionScanner{access: access}
}

// Scan validates access, reads the file and runs the detection passes.
func (s *MarkupInjectionScanner) Scan(path string, pol Policy) *Result {
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
func (s *MarkupInjectionScanner) ScanBytes(data []byte, pol Policy) *Result {
	res := NewResult()
	if !pol.Markup.Enabled {
		return res
	}

	lower := bytes.ToLower(data)
	if !hasMarkupRoot(lower) {
		res.AddThreat("not a valid markup document: no root element found")
		return res
	}
	if bytes.Contains(lower, []byte("<svg")) {
		res.MediaType = MediaTypeSVG
	} else {
		res.MediaType = MediaTypeXML
	}

	// Entity declarations are blocked before anything else: both external
	// (SYSTEM/PUBLIC, file disclosure) and parameter entities (recursive
	// expansion). An inert internal DTD is tolerated.
	s.scanDoctype(lower, res)

	for _, tag := range effectiveDangerousTags(pol.Markup) {
		if containsElement(lower, tag) {
			res.AddThreat("dangerous element detected: <%s>", tag)
			if tag == "script" {
				res.HasJavaScript = true
			}
		}
	}

	if eventHandlerAttr.Match(data) {
		res.AddThreat("inline event handler attribute detected")
		res.HasJavaScript = true
	}
	for _, attr := range pol.Markup.ExtraAttributes {
		if bytes.Contains(lower, append(bytes.ToLower([]byte(attr)), '=')) {
			res.AddThreat("dangerous attribute detected: %s", attr)
		}
	}

	for _, scheme := range findURISchemes(data, markupURISchemes) {
		res.AddThreat("dangerous URI scheme detected: %s", scheme)
		res.HasJavaScript = true
	}

	for _, m := range obfuscationMarkers {
		if bytes.Contains(lower, []byte(m.marker)) {
			res.AddThreat("obfuscated script content detected: %s", m.description)
		}
	}
	s.scanCDATA(lower, res)

	return res
}

// scanDoctype rejects document type declarations carrying external or
// parameter entity declarations. Keyword boundaries accept any XML
// whitespace (space, tab, CR, LF) and the declaration terminator is
// located with quote awareness, so a "]>" smuggled inside a quoted entity
// value cannot truncate the scanned region.
func (s *MarkupInjectionScanner) scanDoctype(lower []byte, res *Result) {
	idx := bytes.Index(lower, []byte("<!doctype"))
	entityIdx := bytes.Index(lower, []byte("<!entity"))
	if idx < 0 && entityIdx < 0 {
		return
	}

	start := idx
	if start < 0 || (entityIdx >= 0 && entityIdx < start) {
		start = entityIdx
	}
	decl := lower[start:]
	decl = decl[:doctypeEnd(decl)]

	if containsEntityKeyword(decl, "system") {
		res.AddThreat("external entity declaration detected (SYSTEM)")
	}
	if containsEntityKeyword(decl, "public") {
		res.AddThreat("external entity declaration detected (PUBLIC)")
	}
	if hasParameterEntity(decl) {
		res.AddThreat("parameter entity declaration detected")
	}
}

// doctypeEnd returns the length of the declaration, tracking quoted
// literals and the internal subset brackets so neither a quoted '>' nor a
// quoted "]>" terminates it early. An unterminated declaration extends to
// the end of input.
func doctypeEnd(decl []byte) int {
	var quote byte
	depth := 0
	for i := 0; i < len(decl); i++ {
		b := decl[i]
		switch {
		case quote != 0:
			if b == quote {
				quote = 0
			}
		case b == '"' || b == '\'':
			quote = b
		case b == '[':
			depth++
		case b == ']':
			if depth > 0 {
				depth--
			}
		case b == '>':
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(decl)
}

// containsEntityKeyword reports whether the keyword occurs in the
// declaration preceded by XML whitespace.
func containsEntityKeyword(decl []byte, keyword string) bool {
	needle := []byte(keyword)
	from := 0
	for {
		idx := bytes.Index(decl[from:], needle)
		if idx < 0 {
			return false
		}
		pos := from + idx
		from = pos + 1
		if pos > 0 && isXMLSpace(decl[pos-1]) {
			return true
		}
	}
}

// hasParameterEntity reports whether the declaration contains an entity
// declaration whose name starts with '%' after any XML whitespace.
func hasParameterEntity(decl []byte) bool {
	opener := []byte("<!entity")
	from := 0
	for {
		idx := bytes.Index(decl[from:], opener)
		if idx < 0 {
			return false
		}
		pos := from + idx + len(opener)
		from = from + idx + 1

		i := pos
		for i < len(decl) && isXMLSpace(decl[i]) {
			i++
		}
		if i > pos && i < len(decl) && decl[i] == '%' {
			return true
		}
	}
}

func isXMLSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// hasMarkupRoot reports whether the content contains at least one element
// open tag, skipping declarations and processing instructions.
func hasMarkupRoot(lower []byte) bool {
	for i := 0; i+1 < len(lower); i++ {
		if lower[i] != '<' {
			continue
		}
		if b := lower[i+1]; b >= 'a' && b <= 'z' {
			return true
		}
	}
	return false
}

// scanCDATA flags CDATA sections that carry script fragments.
func (s *MarkupInjectionScanner) scanCDATA(lower []byte, res *Result) {
	from := 0
	for {
		idx := bytes.Index(lower[from:], []byte("<![cdata["))
		if idx < 0 {
			return
		}
		section := lower[from+idx+9:]
		if end := bytes.Index(section, []byte("]]>")); end >= 0 {
			section = section[:end]
		}
		from = from + idx + 9

		if bytes.Contains(section, []byte("<script")) ||
			bytes.Contains(section, []byte("javascript:")) ||
			bytes.Contains(section, []byte("eval(")) ||
			bytes.Contains(section, []byte("alert(")) {
			res.AddThreat("CDATA section containing script content detected")
			res.HasJavaScript = true
			return
		}
	}
}

// effectiveDangerousTags applies the policy allow/deny adjustments to the
// built-in tag list.
func effectiveDangerousTags(pol MarkupPolicy) []string {
	allowed := make(map[string]bool, len(pol.AllowedTags))
	for _, tag := range pol.AllowedTags {
		allowed[bytesToLower(tag)] = true
	}
	tags := make([]string, 0, len(builtinDangerousTags)+len(pol.ExtraTags))
	for _, tag := range builtinDangerousTags {
		if !allowed[tag] {
			tags = append(tags, tag)
		}
	}
	for _, tag := range pol.ExtraTags {
		l := bytesToLower(tag)
		if !allowed[l] {
			tags = append(tags, l)
		}
	}
	return tags
}

// containsElement reports whether an opening tag for the element occurs,
// requiring a tag-name boundary so "set" never matches "<settings".
func containsElement(lower []byte, tag string) bool {
	needle := []byte("<" + tag)
	from := 0
	for {
		idx := bytes.Index(lower[from:], needle)
		if idx < 0 {
			return false
		}
		end := from + idx + len(needle)
		from = from + idx + 1
		if end >= len(lower) {
			return true
		}
		switch lower[end] {
		case ' ', '\t', '\r', '\n', '>', '/':
			return true
		}
	}
}
