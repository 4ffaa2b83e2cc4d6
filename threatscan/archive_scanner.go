package threatscan

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/ulikunitz/xz"
)

// containerKind identifies the archive container from its own signature
// probe. The probe is longer and position-specific compared to the general
// identifier, because tar's magic sits at offset 257.
type containerKind int

const (
	containerUnknown containerKind = iota
	containerZip
	containerGzip
	containerTar
	containerBzip2
	containerXz
	containerSevenZip
	containerRar
)

// ArchiveEntry describes one archive member from metadata only; entry
// payloads are never materialized unless the member is itself a nested
// archive requiring recursive inspection.
type ArchiveEntry struct {
	Name             string
	CompressedSize   uint64
	UncompressedSize uint64
}

// nestedReadLimit bounds how much of a nested archive member is buffered
// for recursive inspection.
const nestedReadLimit = 64 * MB

// ArchiveInspector enumerates archive entries without full extraction and
// evaluates them against the threat policy: decompression bombs, path
// traversal, blocked extensions, entry-count and nesting-depth limits.
type ArchiveInspector struct {
	access *AccessValidator
}

// NewArchiveInspector constructs the inspector with its collaborators.
func NewArchiveInspector(access *AccessValidator) *ArchiveInspector {
	return &ArchiveInspector{access: access}
}

// Scan validates access, opens the archive and inspects it. depth starts
// at 0 and increments on recursive calls into nested archives.
func (a *ArchiveInspector) Scan(path string, pol Policy, depth int) *Result {
	res := NewResult()
	if d := a.access.Validate(path); !d.Allowed {
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
	return a.ScanReaderAt(f, info.Size(), pol, depth)
}

// ScanReaderAt inspects archive content available through an io.ReaderAt.
func (a *ArchiveInspector) ScanReaderAt(ra io.ReaderAt, size int64, pol Policy, depth int) *Result {
	res := NewResult()
	if !pol.Archive.Enabled {
		return res
	}
	if depth >= pol.Archive.MaxDepth {
		res.AddThreat("archive nesting depth limit reached: %d", pol.Archive.MaxDepth)
		return res
	}

	probe := make([]byte, 512)
	n, _ := ra.ReadAt(probe, 0)
	tail := make([]byte, 8)
	tn, _ := ra.ReadAt(tail, 257)
	kind := detectContainer(probe[:n], tail[:tn])

	switch kind {
	case containerZip:
		a.scanZip(ra, size, pol, depth, res)
	case containerTar:
		a.scanTarStream(io.NewSectionReader(ra, 0, size), size, pol, depth, res)
	case containerGzip:
		a.scanGzip(io.NewSectionReader(ra, 0, size), size, pol, depth, res)
	case containerBzip2:
		a.scanTarStream(bzip2.NewReader(io.NewSectionReader(ra, 0, size)), size, pol, depth, res)
	case containerXz:
		xr, err := xz.NewReader(io.NewSectionReader(ra, 0, size))
		if err != nil {
			res.AddThreat("not a valid archive: %v", err)
			return res
		}
		a.scanTarStream(xr, size, pol, depth, res)
	case containerSevenZip:
		a.scanSevenZip(ra, size, pol, depth, res)
	case containerRar:
		// No backend available for this format.
		if !pol.Archive.FailOpenMissingBackend {
			res.AddThreat("archive format cannot be inspected: rar backend unavailable")
		}
	default:
		res.AddThreat("not a valid archive: unrecognized container signature")
	}
	return res
}

// detectContainer probes the archive's own signature.
func detectContainer(head, tarMagic []byte) containerKind {
	switch {
	case bytes.HasPrefix(head, []byte{0x50, 0x4B, 0x03, 0x04}),
		bytes.HasPrefix(head, []byte{0x50, 0x4B, 0x05, 0x06}),
		bytes.HasPrefix(head, []byte{0x50, 0x4B, 0x07, 0x08}):
		return containerZip
	case bytes.HasPrefix(head, []byte{0x1F, 0x8B}):
		return containerGzip
	case bytes.HasPrefix(head, []byte("BZh")):
		return containerBzip2
	case bytes.HasPrefix(head, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}):
		return containerXz
	case bytes.HasPrefix(head, []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}):
		return containerSevenZip
	case bytes.HasPrefix(head, []byte("Rar!\x1a\x07")):
		return containerRar
	case bytes.HasPrefix(tarMagic, []byte("ustar")):
		return containerTar
	}
	return containerUnknown
}

// entryState carries the running totals shared by all enumerators.
type entryState struct {
	count int
	total uint64
}

// inspectEntry applies the per-entry policy checks. It returns false when
// enumeration must abort (count, size, or running ratio limit crossed).
func (a *ArchiveInspector) inspectEntry(entry ArchiveEntry, archiveSize int64, pol Policy, state *entryState, res *Result) bool {
	state.count++
	if pol.Archive.MaxEntries > 0 && state.count > pol.Archive.MaxEntries {
		res.AddThreat("archive entry count exceeds limit: %d", pol.Archive.MaxEntries)
		return false
	}

	state.total += entry.UncompressedSize
	if pol.Archive.MaxUncompressedSize > 0 && state.total > uint64(pol.Archive.MaxUncompressedSize) {
		res.AddThreat("total uncompressed size exceeds limit: %d bytes", pol.Archive.MaxUncompressedSize)
		return false
	}
	// Running ratio check: a bomb aborts as soon as the accumulated total
	// crosses the threshold, long before the absolute size cap.
	if pol.Archive.MaxCompressionRatio > 0 && archiveSize > 0 {
		ratio := float64(state.total) / float64(archiveSize)
		if ratio > pol.Archive.MaxCompressionRatio {
			res.AddThreat("decompression bomb: compression ratio %.1f:1 exceeds limit %.1f:1",
				ratio, pol.Archive.MaxCompressionRatio)
			return false
		}
	}

	if isTraversalPath(entry.Name) {
		res.AddThreat("path traversal attempt in archive entry: %s", entry.Name)
	}
	a.checkEntryExtension(entry.Name, pol, res)
	return true
}

// checkEntryExtension rejects blocked extensions, including a dangerous
// secondary extension hidden before a benign-looking final one.
func (a *ArchiveInspector) checkEntryExtension(name string, pol Policy, res *Result) {
	lower := strings.ToLower(name)
	ext := extOf(lower)
	if ext == "" {
		return
	}
	for _, blocked := range pol.Archive.BlockedExtensions {
		if ext == strings.ToLower(blocked) {
			res.AddThreat("blocked file extension in archive entry: %s", name)
			return
		}
	}
	secondary := extOf(strings.TrimSuffix(lower, ext))
	if secondary == "" {
		return
	}
	for _, blocked := range pol.Archive.BlockedExtensions {
		if secondary == strings.ToLower(blocked) {
			res.AddThreat("dangerous extension hidden before final extension: %s", name)
			return
		}
	}
}

// extOf returns the final extension of a slash-agnostic entry name.
func extOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '.':
			if i == len(name)-1 {
				return ""
			}
			return name[i:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}

// nestedArchiveExts are entry extensions that trigger recursive inspection.
var nestedArchiveExts = map[string]bool{
	".zip": true, ".jar": true, ".war": true, ".ear": true,
	".gz": true, ".tgz": true, ".tar": true, ".bz2": true,
	".xz": true, ".7z": true, ".rar": true,
}

func isNestedArchiveName(name string) bool {
	return nestedArchiveExts[extOf(strings.ToLower(name))]
}

// scanZip enumerates the ZIP central directory. Nested archive members are
// buffered (bounded) and inspected recursively.
func (a *ArchiveInspector) scanZip(ra io.ReaderAt, size int64, pol Policy, depth int, res *Result) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		res.AddThreat("not a valid archive: %v", err)
		return
	}

	state := &entryState{}
	for _, file := range zr.File {
		entry := ArchiveEntry{
			Name:             file.Name,
			CompressedSize:   file.CompressedSize64,
			UncompressedSize: file.UncompressedSize64,
		}
		if !a.inspectEntry(entry, size, pol, state, res) {
			return
		}

		if isNestedArchiveName(file.Name) {
			if depth+1 >= pol.Archive.MaxDepth {
				res.AddThreat("nested archive exceeds depth limit: %s", file.Name)
				continue
			}
			a.scanNestedZipMember(file, pol, depth, res)
		}
	}

	a.checkTotalRatio(state, size, pol, res)
}

// scanNestedZipMember buffers one member and recurses into it.
func (a *ArchiveInspector) scanNestedZipMember(file *zip.File, pol Policy, depth int, res *Result) {
	if file.UncompressedSize64 > uint64(nestedReadLimit) {
		res.AddThreat("nested archive too large to inspect: %s", file.Name)
		return
	}
	rc, err := file.Open()
	if err != nil {
		res.AddThreat("nested archive could not be opened: %s", file.Name)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, nestedReadLimit+1))
	if err != nil || int64(len(data)) > nestedReadLimit {
		res.AddThreat("nested archive could not be inspected: %s", file.Name)
		return
	}
	nested := a.ScanReaderAt(bytes.NewReader(data), int64(len(data)), pol, depth+1)
	for _, threat := range nested.Threats {
		res.AddThreat("%s (in nested archive %s)", threat, file.Name)
	}
}

// scanGzip handles a bare gzip stream: if the decompressed payload is a tar
// stream it is enumerated as one; otherwise gzip wraps a single member
// whose size comes from the stream trailer recorded in metadata.
func (a *ArchiveInspector) scanGzip(r io.Reader, size int64, pol Policy, depth int, res *Result) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		res.AddThreat("not a valid archive: %v", err)
		return
	}
	defer gz.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(gz, head)
	inner := io.MultiReader(bytes.NewReader(head[:n]), gz)

	if n >= 262 && bytes.HasPrefix(head[257:], []byte("ustar")) {
		a.scanTarStream(inner, size, pol, depth, res)
		return
	}

	// Single compressed member: account for its decompressed size by
	// draining the stream with a bound, never holding it in memory.
	state := &entryState{}
	name := gz.Name
	if name == "" {
		name = "(gzip member)"
	}

	limit := int64(0)
	if pol.Archive.MaxUncompressedSize > 0 {
		limit = pol.Archive.MaxUncompressedSize
	}
	if pol.Archive.MaxCompressionRatio > 0 && size > 0 {
		ratioLimit := int64(pol.Archive.MaxCompressionRatio * float64(size))
		if limit == 0 || ratioLimit < limit {
			limit = ratioLimit
		}
	}

	drained := int64(n)
	if limit > 0 {
		m, _ := io.Copy(io.Discard, io.LimitReader(inner, limit-drained+1))
		drained += m
	} else {
		m, _ := io.Copy(io.Discard, inner)
		drained += m
	}

	entry := ArchiveEntry{Name: name, CompressedSize: uint64(size), UncompressedSize: uint64(drained)}
	if !a.inspectEntry(entry, size, pol, state, res) {
		return
	}
	a.checkTotalRatio(state, size, pol, res)
}

// scanTarStream enumerates tar headers from a (possibly decompressed)
// stream. Only headers are read; member payloads are skipped except for
// nested archives, which are buffered (bounded) and inspected recursively.
func (a *ArchiveInspector) scanTarStream(r io.Reader, archiveSize int64, pol Policy, depth int, res *Result) {
	tr := tar.NewReader(r)
	state := &entryState{}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.AddThreat("not a valid archive: %v", err)
			return
		}

		size := header.Size
		if size < 0 {
			size = 0
		}
		entry := ArchiveEntry{
			Name:             header.Name,
			UncompressedSize: uint64(size),
		}
		if !a.inspectEntry(entry, archiveSize, pol, state, res) {
			return
		}

		switch header.Typeflag {
		case tar.TypeSymlink:
			res.AddThreat("symbolic link entry in archive: %s", header.Name)
		case tar.TypeLink:
			res.AddThreat("hard link entry in archive: %s", header.Name)
		}

		if header.Typeflag == tar.TypeReg && isNestedArchiveName(header.Name) {
			if depth+1 >= pol.Archive.MaxDepth {
				res.AddThreat("nested archive exceeds depth limit: %s", header.Name)
			} else if size <= nestedReadLimit {
				data, err := io.ReadAll(io.LimitReader(tr, nestedReadLimit))
				if err == nil {
					nested := a.ScanReaderAt(bytes.NewReader(data), int64(len(data)), pol, depth+1)
					for _, threat := range nested.Threats {
						res.AddThreat("%s (in nested archive %s)", threat, header.Name)
					}
				}
				continue
			} else {
				res.AddThreat("nested archive too large to inspect: %s", header.Name)
			}
		}

		if _, err := io.Copy(io.Discard, tr); err != nil {
			res.AddThreat("archive entry could not be read: %s", header.Name)
			return
		}
	}

	a.checkTotalRatio(state, archiveSize, pol, res)
}

// scanSevenZip enumerates 7z entries from metadata. Solid compression makes
// selective member extraction expensive, so nested members are flagged for
// depth accounting without recursing into their content.
func (a *ArchiveInspector) scanSevenZip(ra io.ReaderAt, size int64, pol Policy, depth int, res *Result) {
	sz, err := sevenzip.NewReader(ra, size)
	if err != nil {
		res.AddThreat("not a valid archive: %v", err)
		return
	}

	state := &entryState{}
	for _, file := range sz.File {
		info := file.FileInfo()
		var usize uint64
		if !info.IsDir() && info.Size() > 0 {
			usize = uint64(info.Size())
		}
		entry := ArchiveEntry{Name: file.Name, UncompressedSize: usize}
		if !a.inspectEntry(entry, size, pol, state, res) {
			return
		}
		if isNestedArchiveName(file.Name) {
			if depth+1 >= pol.Archive.MaxDepth {
				res.AddThreat("nested archive exceeds depth limit: %s", file.Name)
			} else {
				res.AddThreat("nested archive requires extraction to inspect: %s", file.Name)
			}
		}
	}

	a.checkTotalRatio(state, size, pol, res)
}

// checkTotalRatio applies the final uncompressed-to-compressed ratio check.
// A total exactly at the threshold passes; strictly above is a bomb.
func (a *ArchiveInspector) checkTotalRatio(state *entryState, size int64, pol Policy, res *Result) {
	if pol.Archive.MaxCompressionRatio <= 0 || size <= 0 || state.total == 0 {
		return
	}
	ratio := float64(state.total) / float64(size)
	if ratio > pol.Archive.MaxCompressionRatio {
		res.AddThreat("decompression bomb: compression ratio %.1f:1 exceeds limit %.1f:1",
			ratio, pol.Archive.MaxCompressionRatio)
	}
}
