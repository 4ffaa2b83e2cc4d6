package threatscan

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

type zipEntry struct {
	name    string
	content string
}

func buildZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(e.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newArchiveInspector() *ArchiveInspector {
	access := NewAccessValidator(AccessPolicy{UseDefaultRoots: true, CheckSymlinks: true})
	return NewArchiveInspector(access)
}

func scanArchive(t *testing.T, a *ArchiveInspector, data []byte, pol Policy) *Result {
	t.Helper()
	return a.ScanReaderAt(bytes.NewReader(data), int64(len(data)), pol, 0)
}

func TestArchiveInspectorCleanZip(t *testing.T) {
	a := newArchiveInspector()
	data := buildZip(t, []zipEntry{
		{"reports/2024/summary.pdf", "%PDF-1.4 content"},
		{"reports/2024/notes.txt", "quarterly notes"},
	})
	res := scanArchive(t, a, data, DefaultPolicy())
	if !res.Safe {
		t.Errorf("clean archive flagged: %v", res.Threats)
	}
}

func TestArchiveInspectorTraversalEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"relative unix", "../../etc/passwd"},
		{"relative windows", `..\..\..\windows\system32\evil.dll`},
		{"absolute unix", "/etc/passwd"},
		{"percent encoded", "%2e%2e%2fescape.txt"},
	}

	a := newArchiveInspector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildZip(t, []zipEntry{{tt.entry, "payload"}})
			res := scanArchive(t, a, data, DefaultPolicy())
			if !hasThreatContaining(t, res, "path traversal") {
				t.Errorf("missing traversal finding for %q: %v", tt.entry, res.Threats)
			}
		})
	}
}

func TestArchiveInspectorBlockedExtensions(t *testing.T) {
	a := newArchiveInspector()

	t.Run("blocked final extension", func(t *testing.T) {
		data := buildZip(t, []zipEntry{{"tools/payload.exe", "MZ\x90\x00"}})
		res := scanArchive(t, a, data, DefaultPolicy())
		if !hasThreatContaining(t, res, "blocked file extension") {
			t.Errorf("missing extension finding: %v", res.Threats)
		}
	})

	t.Run("hidden secondary extension", func(t *testing.T) {
		data := buildZip(t, []zipEntry{{"report.php.txt", "<?php evil(); ?>"}})
		res := scanArchive(t, a, data, DefaultPolicy())
		if !hasThreatContaining(t, res, "hidden before final extension") {
			t.Errorf("missing hidden extension finding: %v", res.Threats)
		}
	})
}

func TestArchiveInspectorEntryCountLimit(t *testing.T) {
	a := newArchiveInspector()
	data := buildZip(t, []zipEntry{
		{"a.txt", "1"}, {"b.txt", "2"}, {"c.txt", "3"},
	})
	pol := DefaultPolicy()
	pol.Archive.MaxEntries = 2
	res := scanArchive(t, a, data, pol)
	if !hasThreatContaining(t, res, "entry count exceeds limit") {
		t.Errorf("missing entry count finding: %v", res.Threats)
	}
}

func TestArchiveInspectorUncompressedSizeLimit(t *testing.T) {
	a := newArchiveInspector()
	data := buildZip(t, []zipEntry{{"blob.bin", strings.Repeat("A", 100)}})
	pol := DefaultPolicy()
	pol.Archive.MaxUncompressedSize = 50
	pol.Archive.MaxCompressionRatio = 0 // isolate the size check
	res := scanArchive(t, a, data, pol)
	if !hasThreatContaining(t, res, "uncompressed size exceeds limit") {
		t.Errorf("missing size finding: %v", res.Threats)
	}
}

func TestArchiveInspectorCompressionRatioBoundary(t *testing.T) {
	a := newArchiveInspector()
	data := buildZip(t, []zipEntry{{"blob.txt", strings.Repeat("A", 4096)}})
	ratio := float64(4096) / float64(len(data))

	t.Run("exactly at threshold passes", func(t *testing.T) {
		pol := DefaultPolicy()
		pol.Archive.MaxCompressionRatio = ratio
		res := scanArchive(t, a, data, pol)
		if hasThreatContaining(t, res, "decompression bomb") {
			t.Errorf("ratio at threshold rejected: %v", res.Threats)
		}
	})

	t.Run("above threshold rejected", func(t *testing.T) {
		pol := DefaultPolicy()
		pol.Archive.MaxCompressionRatio = ratio / 2
		res := scanArchive(t, a, data, pol)
		if !hasThreatContaining(t, res, "decompression bomb") {
			t.Errorf("missing bomb finding: %v", res.Threats)
		}
	})
}

func TestArchiveInspectorBombRejectedBeforeSizeCap(t *testing.T) {
	// A tiny archive claiming a huge member must trip the ratio check, not
	// run up against the absolute size cap. The member stays well under the
	// cap; only the ratio is absurd.
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "blob.bin", Mode: 0o644, Size: 512 * MB}); err != nil {
		t.Fatal(err)
	}
	// The header block is written eagerly; the missing payload is fine
	// because inspection aborts at the ratio check before reading it.

	a := newArchiveInspector()
	res := scanArchive(t, a, buf.Bytes(), DefaultPolicy())
	if !hasThreatContaining(t, res, "decompression bomb") {
		t.Errorf("missing bomb finding: %v", res.Threats)
	}
	if hasThreatContaining(t, res, "uncompressed size exceeds") {
		t.Errorf("size cap fired before ratio: %v", res.Threats)
	}
}

func TestArchiveInspectorNestedZip(t *testing.T) {
	inner := buildZip(t, []zipEntry{{"../../escape.txt", "payload"}})
	outer := buildZip(t, []zipEntry{
		{"data.txt", "ok"},
		{"inner.zip", string(inner)},
	})

	a := newArchiveInspector()
	res := scanArchive(t, a, outer, DefaultPolicy())
	if !hasThreatContaining(t, res, "path traversal") {
		t.Errorf("nested traversal not found: %v", res.Threats)
	}
	if !hasThreatContaining(t, res, "(in nested archive inner.zip)") {
		t.Errorf("nested finding not attributed: %v", res.Threats)
	}
}

func TestArchiveInspectorNestedDepthLimit(t *testing.T) {
	inner := buildZip(t, []zipEntry{{"file.txt", "x"}})
	outer := buildZip(t, []zipEntry{{"inner.zip", string(inner)}})

	a := newArchiveInspector()
	pol := DefaultPolicy()
	pol.Archive.MaxDepth = 1
	res := scanArchive(t, a, outer, pol)
	if !hasThreatContaining(t, res, "nested archive exceeds depth limit") {
		t.Errorf("missing depth finding: %v", res.Threats)
	}
}

func TestArchiveInspectorDepthLimitReached(t *testing.T) {
	a := newArchiveInspector()
	data := buildZip(t, []zipEntry{{"file.txt", "x"}})
	pol := DefaultPolicy()
	res := a.ScanReaderAt(bytes.NewReader(data), int64(len(data)), pol, pol.Archive.MaxDepth)
	if !hasThreatContaining(t, res, "nesting depth limit reached") {
		t.Errorf("missing depth finding: %v", res.Threats)
	}
}

func TestArchiveInspectorTarLinks(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: "escape", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd", Mode: 0o777,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "hard", Typeflag: tar.TypeLink, Linkname: "target", Mode: 0o644,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	a := newArchiveInspector()
	res := scanArchive(t, a, buf.Bytes(), DefaultPolicy())
	if !hasThreatContaining(t, res, "symbolic link entry") {
		t.Errorf("missing symlink finding: %v", res.Threats)
	}
	if !hasThreatContaining(t, res, "hard link entry") {
		t.Errorf("missing hard link finding: %v", res.Threats)
	}
}

func TestArchiveInspectorGzippedTar(t *testing.T) {
	tarData := buildTar(t, "../../etc/passwd", "root:x:0:0")
	a := newArchiveInspector()
	res := scanArchive(t, a, gzipBytes(t, tarData), DefaultPolicy())
	if !hasThreatContaining(t, res, "path traversal") {
		t.Errorf("traversal through gzip not found: %v", res.Threats)
	}
}

func TestArchiveInspectorPlainGzipMember(t *testing.T) {
	a := newArchiveInspector()
	res := scanArchive(t, a, gzipBytes(t, []byte("hello world")), DefaultPolicy())
	if !res.Safe {
		t.Errorf("small gzip member flagged: %v", res.Threats)
	}
}

func TestArchiveInspectorMissingBackend(t *testing.T) {
	rarData := append([]byte("Rar!\x1a\x07\x00"), make([]byte, 64)...)
	a := newArchiveInspector()

	t.Run("fails closed by default", func(t *testing.T) {
		res := scanArchive(t, a, rarData, DefaultPolicy())
		if res.Safe {
			t.Fatal("uninspectable archive passed")
		}
		if !hasThreatContaining(t, res, "backend unavailable") {
			t.Errorf("missing backend finding: %v", res.Threats)
		}
	})

	t.Run("fails open when configured", func(t *testing.T) {
		pol := DefaultPolicy()
		pol.Archive.FailOpenMissingBackend = true
		res := scanArchive(t, a, rarData, pol)
		if !res.Safe {
			t.Errorf("fail-open archive flagged: %v", res.Threats)
		}
	})
}

func TestArchiveInspectorUnrecognizedContainer(t *testing.T) {
	a := newArchiveInspector()
	res := scanArchive(t, a, []byte("random bytes that are no archive"), DefaultPolicy())
	if !hasThreatContaining(t, res, "not a valid archive") {
		t.Errorf("missing structural finding: %v", res.Threats)
	}
}

func TestArchiveInspectorDisabled(t *testing.T) {
	a := newArchiveInspector()
	data := buildZip(t, []zipEntry{{"../../escape", "x"}})
	pol := DefaultPolicy()
	pol.Archive.Enabled = false
	res := scanArchive(t, a, data, pol)
	if !res.Safe {
		t.Errorf("disabled inspector produced findings: %v", res.Threats)
	}
}

func TestExtOf(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.pdf", ".pdf"},
		{"dir/report.pdf", ".pdf"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
		{"dir.d/noext", ""},
		{"trailing.", ""},
		{`win\path.exe`, ".exe"},
	}
	for _, tt := range tests {
		if got := extOf(tt.name); got != tt.want {
			t.Errorf("extOf(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
