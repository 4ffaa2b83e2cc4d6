package threatscan

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/h2non/filetype"
)

// SniffLen is the prefix length the identifier needs: long enough to cover
// the longest signature offset plus the ZIP refinement window.
const SniffLen = 3072

// Signature defines a byte-prefix pattern mapped to a media type.
type Signature struct {
	MediaType string
	Offset    int    // Offset from start of file
	Pattern   []byte // Bytes to match at Offset
}

// builtinSignatures contains the built-in signature table, ordered by
// specificity (most specific first).
var builtinSignatures = []Signature{
	// Images
	{MediaType: "image/jpeg", Offset: 0, Pattern: []byte{0xFF, 0xD8, 0xFF}},
	{MediaType: "image/png", Offset: 0, Pattern: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{MediaType: "image/gif", Offset: 0, Pattern: []byte("GIF87a")},
	{MediaType: "image/gif", Offset: 0, Pattern: []byte("GIF89a")},
	{MediaType: "image/bmp", Offset: 0, Pattern: []byte("BM")},
	{MediaType: "image/tiff", Offset: 0, Pattern: []byte{0x49, 0x49, 0x2A, 0x00}}, // Little endian
	{MediaType: "image/tiff", Offset: 0, Pattern: []byte{0x4D, 0x4D, 0x00, 0x2A}}, // Big endian
	{MediaType: "image/x-icon", Offset: 0, Pattern: []byte{0x00, 0x00, 0x01, 0x00}},

	// Documents
	{MediaType: MediaTypePDF, Offset: 0, Pattern: []byte("%PDF-")},

	// Archives - ZIP-based. Office documents and JAR share the ZIP prefix;
	// detected as generic ZIP first, then refined in refineDetection.
	{MediaType: MediaTypeZip, Offset: 0, Pattern: []byte{0x50, 0x4B, 0x03, 0x04}},
	{MediaType: MediaTypeZip, Offset: 0, Pattern: []byte{0x50, 0x4B, 0x05, 0x06}}, // Empty ZIP
	{MediaType: MediaTypeZip, Offset: 0, Pattern: []byte{0x50, 0x4B, 0x07, 0x08}}, // Spanned ZIP

	// Archives - Other
	{MediaType: MediaTypeGzip, Offset: 0, Pattern: []byte{0x1F, 0x8B}},
	{MediaType: MediaTypeTar, Offset: 257, Pattern: []byte("ustar")}, // POSIX tar
	{MediaType: "application/x-rar-compressed", Offset: 0, Pattern: []byte("Rar!\x1a\x07\x00")},
	{MediaType: "application/x-rar-compressed", Offset: 0, Pattern: []byte("Rar!\x1a\x07\x01\x00")}, // RAR5
	{MediaType: "application/x-7z-compressed", Offset: 0, Pattern: []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}},
	{MediaType: "application/x-bzip2", Offset: 0, Pattern: []byte("BZh")},
	{MediaType: "application/x-xz", Offset: 0, Pattern: []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},

	// Audio
	{MediaType: "audio/mpeg", Offset: 0, Pattern: []byte("ID3")},
	{MediaType: "audio/flac", Offset: 0, Pattern: []byte("fLaC")},
	{MediaType: "audio/ogg", Offset: 0, Pattern: []byte("OggS")},
	{MediaType: "audio/midi", Offset: 0, Pattern: []byte("MThd")},

	// Containers needing refinement: RIFF (WAV/AVI/WebP) and ISO-BMFF (ftyp)
	{MediaType: "application/x-riff", Offset: 0, Pattern: []byte("RIFF")},
	{MediaType: "video/mp4", Offset: 4, Pattern: []byte("ftyp")},

	// Video
	{MediaType: "video/webm", Offset: 0, Pattern: []byte{0x1A, 0x45, 0xDF, 0xA3}}, // EBML
	{MediaType: "video/x-flv", Offset: 0, Pattern: []byte("FLV")},

	// Markup
	{MediaType: MediaTypeXML, Offset: 0, Pattern: []byte("<?xml")},
	{MediaType: MediaTypeSVG, Offset: 0, Pattern: []byte("<svg")},
	{MediaType: "text/html", Offset: 0, Pattern: []byte("<!DOCTYPE html")},
	{MediaType: "text/html", Offset: 0, Pattern: []byte("<!doctype html")},
	{MediaType: "text/html", Offset: 0, Pattern: []byte("<html")},

	// Executables (for blocking)
	{MediaType: "application/x-msdownload", Offset: 0, Pattern: []byte("MZ")},
	{MediaType: "application/x-mach-binary", Offset: 0, Pattern: []byte{0xCF, 0xFA, 0xED, 0xFE}},
	{MediaType: "application/x-mach-binary", Offset: 0, Pattern: []byte{0xCE, 0xFA, 0xED, 0xFE}},
	{MediaType: "application/x-executable", Offset: 0, Pattern: []byte{0x7F, 'E', 'L', 'F'}},

	// Fonts
	{MediaType: "font/woff", Offset: 0, Pattern: []byte("wOFF")},
	{MediaType: "font/woff2", Offset: 0, Pattern: []byte("wOF2")},
	{MediaType: "font/otf", Offset: 0, Pattern: []byte("OTTO")},
}

// Identifier determines a file's real media type from a bounded content
// prefix. Caller-supplied signatures take priority over the built-ins. The
// table is fixed at construction; identification never errors — an
// unmatched prefix yields the generic unknown type.
type Identifier struct {
	custom []Signature
}

// NewIdentifier creates an identifier with optional custom signatures that
// are checked before the built-in table.
func NewIdentifier(custom ...Signature) *Identifier {
	return &Identifier{custom: custom}
}

// Identify returns the media type for the given content prefix. Pass at
// least SniffLen bytes (or the whole file if shorter) for best results.
func (id *Identifier) Identify(prefix []byte) string {
	if len(prefix) == 0 {
		return MediaTypeUnknown
	}

	for _, sig := range id.custom {
		if matchSignature(prefix, sig) {
			return refineDetection(prefix, sig.MediaType)
		}
	}
	for _, sig := range builtinSignatures {
		if matchSignature(prefix, sig) {
			return refineDetection(prefix, sig.MediaType)
		}
	}

	// Fall back to library sniffing, then the net/http heuristic.
	if t, err := filetype.Match(prefix); err == nil && t.MIME.Value != "" {
		return t.MIME.Value
	}
	contentType := http.DetectContentType(prefix)
	if idx := strings.Index(contentType, ";"); idx > 0 {
		contentType = contentType[:idx]
	}
	return contentType
}

func matchSignature(data []byte, sig Signature) bool {
	end := sig.Offset + len(sig.Pattern)
	if end > len(data) {
		return false
	}
	return bytes.Equal(data[sig.Offset:end], sig.Pattern)
}

// refineDetection resolves ambiguous container signatures.
func refineDetection(data []byte, initial string) string {
	switch initial {
	case "application/x-riff":
		// RIFF container: the form type at offset 8 distinguishes
		// WAV, AVI and WebP.
		if len(data) >= 12 {
			switch string(data[8:12]) {
			case "WAVE":
				return "audio/wav"
			case "AVI ":
				return "video/x-msvideo"
			case "WEBP":
				return "image/webp"
			}
		}
		return MediaTypeUnknown

	case MediaTypeZip:
		return refineZip(data)

	case "video/mp4":
		// ISO base-media: the major brand following the ftyp box header
		// maps known brands to subtypes.
		if len(data) >= 12 {
			switch strings.TrimRight(string(data[8:12]), " ") {
			case "M4A":
				return "audio/mp4"
			case "M4V":
				return "video/x-m4v"
			case "qt":
				return "video/quicktime"
			case "3gp4", "3gp5", "3gp6":
				return "video/3gpp"
			case "heic", "heix", "mif1":
				return "image/heic"
			case "avif":
				return "image/avif"
			}
		}
		return initial
	}
	return initial
}

// refineZip probes the early archive bytes for office-internal path markers.
// Office containers store [Content_Types].xml and their namespace root early
// in the archive, so the markers show up inside the first local headers
// without parsing the central directory.
func refineZip(data []byte) string {
	window := data
	if len(window) > SniffLen {
		window = window[:SniffLen]
	}

	if bytes.Contains(window, []byte("word/")) {
		return MediaTypeDOCX
	}
	if bytes.Contains(window, []byte("xl/")) {
		return MediaTypeXLSX
	}
	if bytes.Contains(window, []byte("ppt/")) {
		return MediaTypePPTX
	}
	if bytes.Contains(window, []byte("META-INF/MANIFEST.MF")) {
		return "application/java-archive"
	}
	return MediaTypeZip
}
