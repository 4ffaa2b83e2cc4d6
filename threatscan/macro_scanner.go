package threatscan

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// contentTypesEntry is the manifest every OOXML container must carry.
const contentTypesEntry = "[Content_Types].xml"

// officeRootDirs are the namespace directories identifying the document
// family inside the container.
var officeRootDirs = []string{"word/", "xl/", "ppt/"}

// knownMacroEntries are the expected macro-storage locations. Arbitrary
// locations are caught by the suffix check in isMacroEntry.
var knownMacroEntries = []string{
	"vbaProject.bin",
	"word/vbaProject.bin",
	"xl/vbaProject.bin",
	"ppt/vbaProject.bin",
}

// macroContentTypeMarkers are content-type values in the manifest that
// declare macro-capable parts.
var macroContentTypeMarkers = []string{
	"application/vnd.ms-office.vbaproject",
	"macroenabled",
}

// manifestReadLimit bounds how much of the manifest is read.
const manifestReadLimit = 1 * MB

// MacroScanner detects embedded macro code in container-based office
// documents, including the spoofing case this scanner exists for: a
// macro-enabled document uploaded under a non-macro extension.
type MacroScanner struct {
	access *AccessValidator
}

// NewMacroScanner constructs the scanner with its collaborators.
func NewMacroScanner(access *AccessValidator) *MacroScanner {
	return &MacroScanner{access: access}
}

// Scan validates access, opens the container and runs the detection passes.
// declaredName is the client-supplied name used for the disguise check.
func (s *MacroScanner) Scan(path, declaredName string, pol Policy) *Result {
	res := NewResult()
	if d := s.access.Validate(path); !d.Allowed {
		res.AddThreat("access denied: %s", d.Reason)
		return res
	}

	f, err := os.Open(path)
	if err != nil {
		res.AddThreat("file could not be read: %v", err)
		return res
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		res.AddThreat("file could not be read: %v", err)
		return res
	}
	return s.ScanReaderAt(f, info.Size(), declaredName, pol)
}

// ScanReaderAt runs the detection passes over an in-memory or on-disk
// container.
func (s *MacroScanner) ScanReaderAt(ra io.ReaderAt, size int64, declaredName string, pol Policy) *Result {
	res := NewResult()
	if !pol.Macro.Enabled {
		return res
	}

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		res.AddThreat("not a valid office document: %v", err)
		return res
	}

	var (
		hasManifest   bool
		hasRootDir    bool
		manifest      *zip.File
		macroEntries  []string
		legacyEntries []string
	)

	for _, file := range zr.File {
		if file.Name == contentTypesEntry {
			hasManifest = true
			manifest = file
		}
		for _, dir := range officeRootDirs {
			if strings.HasPrefix(file.Name, dir) {
				hasRootDir = true
			}
		}
		if isMacroEntry(file.Name) {
			macroEntries = append(macroEntries, file.Name)
		}
		if isLegacyControlEntry(file.Name) {
			legacyEntries = append(legacyEntries, file.Name)
		}
	}

	if !hasManifest || !hasRootDir {
		res.AddThreat("not a valid office document: missing container structure")
		return res
	}

	for _, name := range macroEntries {
		res.HasMacros = true
		if pol.Macro.BlockMacros {
			res.AddThreat("macro storage detected: %s", name)
		}
	}

	// The manifest declares macro-capable parts independently of whether
	// the storage binary is present.
	if declared := manifestDeclaresMacros(manifest); declared != "" {
		res.HasMacros = true
		if pol.Macro.BlockMacros {
			res.AddThreat("macro content type declared in manifest: %s", declared)
		}
	}

	for _, name := range legacyEntries {
		res.HasLegacyControls = true
		if pol.Macro.BlockLegacyControls {
			res.AddThreat("embedded legacy control binary detected: %s", name)
		}
	}

	if res.HasMacros {
		ext := strings.ToLower(filepath.Ext(declaredName))
		for _, nonMacro := range pol.Macro.NonMacroExtensions {
			if ext == strings.ToLower(nonMacro) {
				res.AddThreat("macro-enabled document disguised as non-macro extension %s", ext)
				break
			}
		}
	}

	return res
}

// isMacroEntry reports whether an entry name denotes macro storage, at any
// of the expected locations or an arbitrary one.
func isMacroEntry(name string) bool {
	for _, known := range knownMacroEntries {
		if name == known {
			return true
		}
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, "vbaproject.bin") ||
		strings.HasSuffix(lower, "vbadata.xml")
}

// isLegacyControlEntry reports whether an entry name denotes an embedded
// ActiveX or OLE control binary.
func isLegacyControlEntry(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "/activex/") && strings.HasSuffix(lower, ".bin") {
		return true
	}
	base := lower
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.HasPrefix(base, "oleobject") && strings.HasSuffix(base, ".bin")
}

// manifestDeclaresMacros parses the manifest for declared macro-capable
// content types, returning the matched marker or empty string.
func manifestDeclaresMacros(manifest *zip.File) string {
	if manifest == nil {
		return ""
	}
	rc, err := manifest.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, manifestReadLimit))
	if err != nil {
		return ""
	}
	lower := bytes.ToLower(data)
	for _, marker := range macroContentTypeMarkers {
		if bytes.Contains(lower, []byte(marker)) {
			return marker
		}
	}
	return ""
}
