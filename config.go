package scankit

import (
	"strings"

	"github.com/gobeaver/beaver-kit/config"
	"github.com/gobeaver/scankit/threatscan"
)

// Config is the environment-variable view of the scan policy. Every field
// maps onto a threatscan.Policy knob; unset fields keep the secure
// defaults.
type Config struct {
	// Access validation
	AllowedRoots  string `env:"SCANKIT_ALLOWED_ROOTS"` // comma-separated
	CheckSymlinks bool   `env:"SCANKIT_CHECK_SYMLINKS,default:true"`

	// Engine-level checks
	StrictExtensions  bool   `env:"SCANKIT_STRICT_EXTENSIONS,default:false"`
	BlockedExtensions string `env:"SCANKIT_BLOCKED_EXTENSIONS"` // comma-separated

	// Code injection scanner
	CodeScanEnabled bool   `env:"SCANKIT_CODE_SCAN_ENABLED,default:true"`
	CodeScanMode    string `env:"SCANKIT_CODE_SCAN_MODE,default:full"`

	// Markup / document / metadata scanners
	MarkupScanEnabled   bool `env:"SCANKIT_MARKUP_SCAN_ENABLED,default:true"`
	DocumentScanEnabled bool `env:"SCANKIT_DOCUMENT_SCAN_ENABLED,default:true"`
	AllowExternalLinks  bool `env:"SCANKIT_ALLOW_EXTERNAL_LINKS,default:false"`
	MetadataScanEnabled bool `env:"SCANKIT_METADATA_SCAN_ENABLED,default:true"`
	BlockGPS            bool `env:"SCANKIT_BLOCK_GPS,default:false"`

	// Macro scanner
	MacroScanEnabled    bool `env:"SCANKIT_MACRO_SCAN_ENABLED,default:true"`
	BlockMacros         bool `env:"SCANKIT_BLOCK_MACROS,default:true"`
	BlockLegacyControls bool `env:"SCANKIT_BLOCK_LEGACY_CONTROLS,default:true"`

	// Archive inspector
	ArchiveScanEnabled     bool    `env:"SCANKIT_ARCHIVE_SCAN_ENABLED,default:true"`
	MaxCompressionRatio    float64 `env:"SCANKIT_MAX_COMPRESSION_RATIO,default:100"`
	MaxUncompressedSize    int64   `env:"SCANKIT_MAX_UNCOMPRESSED_SIZE,default:1073741824"` // 1GB
	MaxArchiveEntries      int     `env:"SCANKIT_MAX_ARCHIVE_ENTRIES,default:1000"`
	MaxArchiveDepth        int     `env:"SCANKIT_MAX_ARCHIVE_DEPTH,default:3"`
	FailOpenMissingBackend bool    `env:"SCANKIT_FAIL_OPEN_MISSING_BACKEND,default:false"`
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Policy converts the environment view into a policy snapshot.
func (c *Config) Policy() threatscan.Policy {
	pol := threatscan.DefaultPolicy()

	pol.Access.AllowedRoots = splitList(c.AllowedRoots)
	pol.Access.CheckSymlinks = c.CheckSymlinks

	pol.StrictExtensionMatch = c.StrictExtensions
	if exts := splitList(c.BlockedExtensions); len(exts) > 0 {
		pol.BlockedExtensions = exts
	}

	pol.Code.Enabled = c.CodeScanEnabled
	switch strings.ToLower(c.CodeScanMode) {
	case string(threatscan.CodeScanParanoid):
		pol.Code.Mode = threatscan.CodeScanParanoid
	case string(threatscan.CodeScanExact):
		pol.Code.Mode = threatscan.CodeScanExact
	default:
		pol.Code.Mode = threatscan.CodeScanFull
	}

	pol.Markup.Enabled = c.MarkupScanEnabled
	pol.Document.Enabled = c.DocumentScanEnabled
	pol.Document.AllowExternalLinks = c.AllowExternalLinks
	pol.Metadata.Enabled = c.MetadataScanEnabled
	pol.Metadata.BlockGPS = c.BlockGPS

	pol.Macro.Enabled = c.MacroScanEnabled
	pol.Macro.BlockMacros = c.BlockMacros
	pol.Macro.BlockLegacyControls = c.BlockLegacyControls

	pol.Archive.Enabled = c.ArchiveScanEnabled
	pol.Archive.MaxCompressionRatio = c.MaxCompressionRatio
	pol.Archive.MaxUncompressedSize = c.MaxUncompressedSize
	pol.Archive.MaxEntries = c.MaxArchiveEntries
	pol.Archive.MaxDepth = c.MaxArchiveDepth
	pol.Archive.FailOpenMissingBackend = c.FailOpenMissingBackend

	return pol
}

// splitList parses a comma-separated environment value.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
