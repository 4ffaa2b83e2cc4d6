package threatscan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Size constants for easier limit configuration
const (
	KB = int64(1024)
	MB = KB * 1024
	GB = MB * 1024
)

// CodeScanMode selects how the dangerous-function list is assembled.
type CodeScanMode string

const (
	// CodeScanFull uses the built-in function list plus policy additions
	// minus policy exclusions.
	CodeScanFull CodeScanMode = "full"

	// CodeScanParanoid uses only the reduced most-dangerous list.
	CodeScanParanoid CodeScanMode = "paranoid"

	// CodeScanExact uses exactly the caller-specified function list.
	CodeScanExact CodeScanMode = "exact"
)

// AccessPolicy configures the file access validator.
type AccessPolicy struct {
	// AllowedRoots are directories a scanned path must resolve under.
	AllowedRoots []string `yaml:"allowed_roots"`

	// UseDefaultRoots adds the system temp directory to AllowedRoots.
	UseDefaultRoots bool `yaml:"use_default_roots"`

	// CheckSymlinks rejects paths that are symbolic links.
	CheckSymlinks bool `yaml:"check_symlinks"`
}

// CodePolicy configures the code injection scanner.
type CodePolicy struct {
	Enabled bool         `yaml:"enabled"`
	Mode    CodeScanMode `yaml:"mode"`

	// ExtraFunctions are added to the built-in list in full mode.
	ExtraFunctions []string `yaml:"extra_functions"`

	// ExcludedFunctions are removed from the built-in list in full mode.
	ExcludedFunctions []string `yaml:"excluded_functions"`

	// ExactFunctions replaces the list entirely in exact mode.
	ExactFunctions []string `yaml:"exact_functions"`
}

// MarkupPolicy configures the markup injection scanner.
type MarkupPolicy struct {
	Enabled bool `yaml:"enabled"`

	// ExtraTags are flagged in addition to the built-in dangerous tags.
	ExtraTags []string `yaml:"extra_tags"`

	// AllowedTags are removed from the built-in dangerous tag list.
	AllowedTags []string `yaml:"allowed_tags"`

	// ExtraAttributes are flagged in addition to event handler attributes.
	ExtraAttributes []string `yaml:"extra_attributes"`
}

// DocumentPolicy configures the document action scanner.
type DocumentPolicy struct {
	Enabled bool `yaml:"enabled"`

	// BlockedActions are action keywords that produce findings. Empty means
	// the built-in list.
	BlockedActions []string `yaml:"blocked_actions"`

	// AllowedActions are removed from the effective blocked list.
	AllowedActions []string `yaml:"allowed_actions"`

	// AllowExternalLinks tolerates link actions to external destinations.
	// Script actions are blocked regardless.
	AllowExternalLinks bool `yaml:"allow_external_links"`

	// BlockedURISchemes are schemes rejected inside link/action constructs.
	BlockedURISchemes []string `yaml:"blocked_uri_schemes"`

	// MaxStreams caps the number of content streams before the document is
	// considered obfuscated.
	MaxStreams int `yaml:"max_streams"`

	// MaxHexRun caps the length of inline hex-encoded strings.
	MaxHexRun int `yaml:"max_hex_run"`
}

// MacroPolicy configures the office macro scanner.
type MacroPolicy struct {
	Enabled bool `yaml:"enabled"`

	// BlockMacros turns macro signals into findings.
	BlockMacros bool `yaml:"block_macros"`

	// BlockLegacyControls turns embedded legacy control binaries
	// (ActiveX/OLE) into findings.
	BlockLegacyControls bool `yaml:"block_legacy_controls"`

	// NonMacroExtensions are the format variants that must not carry
	// macros. A macro detected under one of these produces a disguise
	// finding.
	NonMacroExtensions []string `yaml:"non_macro_extensions"`
}

// MetadataPolicy configures the image metadata scanner.
type MetadataPolicy struct {
	Enabled bool `yaml:"enabled"`

	// BlockGPS turns embedded positioning metadata into a finding.
	BlockGPS bool `yaml:"block_gps"`

	// StripMetadata marks metadata for removal by the storage layer. The
	// scanner itself never rewrites content.
	StripMetadata bool `yaml:"strip_metadata"`

	// ScannedFields are the free-text metadata fields inspected for
	// injected code. Empty means the built-in list.
	ScannedFields []string `yaml:"scanned_fields"`
}

// ArchivePolicy configures the recursive archive inspector.
type ArchivePolicy struct {
	Enabled bool `yaml:"enabled"`

	// MaxCompressionRatio is the maximum uncompressed-to-compressed ratio.
	// A total exactly at the threshold is accepted; above it is rejected.
	MaxCompressionRatio float64 `yaml:"max_compression_ratio"`

	// MaxUncompressedSize caps the accumulated uncompressed entry size.
	MaxUncompressedSize int64 `yaml:"max_uncompressed_size"`

	// MaxEntries caps the number of entries enumerated.
	MaxEntries int `yaml:"max_entries"`

	// MaxDepth caps nested-archive recursion.
	MaxDepth int `yaml:"max_depth"`

	// BlockedExtensions are entry extensions rejected inside archives,
	// including when hidden before a benign final extension.
	BlockedExtensions []string `yaml:"blocked_extensions"`

	// FailOpenMissingBackend tolerates archive formats whose backend is
	// unavailable instead of rejecting them. Off by default: an archive
	// that cannot be inspected is not safe.
	FailOpenMissingBackend bool `yaml:"fail_open_missing_backend"`
}

// Policy is the immutable configuration snapshot threaded by value through
// every scan call. Scanners never mutate it and hold no session state, so a
// single Policy value may serve concurrent scans.
type Policy struct {
	// StrictExtensionMatch requires the declared extension to agree with
	// the detected media type.
	StrictExtensionMatch bool `yaml:"strict_extension_match"`

	// BlockedMediaTypes are detected types rejected outright.
	BlockedMediaTypes []string `yaml:"blocked_media_types"`

	// BlockedExtensions are declared extensions rejected outright.
	BlockedExtensions []string `yaml:"blocked_extensions"`

	Access   AccessPolicy   `yaml:"access"`
	Code     CodePolicy     `yaml:"code"`
	Markup   MarkupPolicy   `yaml:"markup"`
	Document DocumentPolicy `yaml:"document"`
	Macro    MacroPolicy    `yaml:"macro"`
	Metadata MetadataPolicy `yaml:"metadata"`
	Archive  ArchivePolicy  `yaml:"archive"`
}

// DefaultPolicy returns the secure-by-default policy: every scanner enabled,
// macros blocked, missing archive backends failing closed.
func DefaultPolicy() Policy {
	return Policy{
		StrictExtensionMatch: false,
		BlockedMediaTypes: []string{
			"application/x-msdownload",
			"application/x-msdos-program",
			"application/x-executable",
			"application/x-mach-binary",
			"application/x-dosexec",
		},
		BlockedExtensions: []string{
			".exe", ".dll", ".com", ".scr", ".pif", ".bat", ".cmd",
			".sh", ".php", ".phtml", ".pl", ".cgi", ".vb", ".vbs",
			".vbe", ".js", ".jse", ".ws", ".wsf", ".ps1", ".hta",
		},
		Access: AccessPolicy{
			UseDefaultRoots: true,
			CheckSymlinks:   true,
		},
		Code: CodePolicy{
			Enabled: true,
			Mode:    CodeScanFull,
		},
		Markup: MarkupPolicy{
			Enabled: true,
		},
		Document: DocumentPolicy{
			Enabled:            true,
			AllowExternalLinks: false,
			BlockedURISchemes:  []string{"javascript:", "vbscript:", "file:"},
			MaxStreams:         100,
			MaxHexRun:          512,
		},
		Macro: MacroPolicy{
			Enabled:             true,
			BlockMacros:         true,
			BlockLegacyControls: true,
			NonMacroExtensions:  []string{".docx", ".xlsx", ".pptx"},
		},
		Metadata: MetadataPolicy{
			Enabled:  true,
			BlockGPS: false,
		},
		Archive: ArchivePolicy{
			Enabled:             true,
			MaxCompressionRatio: 100.0,
			MaxUncompressedSize: 1 * GB,
			MaxEntries:          1000,
			MaxDepth:            3,
			BlockedExtensions: []string{
				".exe", ".dll", ".com", ".scr", ".pif", ".bat", ".cmd",
				".sh", ".php", ".phtml", ".vbs", ".js", ".ps1", ".hta",
			},
			FailOpenMissingBackend: false,
		},
	}
}

// LoadPolicyFile reads a YAML policy file over the defaults. Fields absent
// from the file keep their default values.
func LoadPolicyFile(path string) (Policy, error) {
	pol := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return pol, NewScanError(ErrorTypeEnvironment, fmt.Sprintf("failed to read policy file: %v", err))
	}
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return pol, NewScanError(ErrorTypeFormat, fmt.Sprintf("failed to parse policy file: %v", err))
	}
	return pol, nil
}
