package scankit

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gobeaver/scankit/threatscan"
)

// captureReporter records events for assertions.
type captureReporter struct {
	mu     sync.Mutex
	events []Event
}

func (r *captureReporter) Report(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *captureReporter) byType(eventType EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(opts ...Option) *Engine {
	return New(append([]Option{WithReporter(NopReporter{})}, opts...)...)
}

func writeUpload(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func threatContaining(res *threatscan.Result, fragment string) bool {
	for _, threat := range res.Threats {
		if strings.Contains(threat, fragment) {
			return true
		}
	}
	return false
}

func buildContainer(t *testing.T, entries map[string]string, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var tinyJPEG = []byte{
	0xFF, 0xD8, // SOI
	0xFF, 0xE0, 0x00, 0x04, 0x4A, 0x46, // APP0
	0xFF, 0xD9, // EOI
}

func TestEngineCleanTextFile(t *testing.T) {
	e := newTestEngine()
	path := writeUpload(t, "notes.txt", []byte("meeting notes from tuesday"))

	res, err := e.ScanFile(path, "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Safe {
		t.Errorf("clean text flagged: %v", res.Threats)
	}
}

func TestEngineCleanImage(t *testing.T) {
	e := newTestEngine()
	path := writeUpload(t, "photo.jpg", tinyJPEG)

	res, err := e.ScanFile(path, "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Safe {
		t.Errorf("clean image flagged: %v", res.Threats)
	}
	if res.MediaType != "image/jpeg" {
		t.Errorf("media type = %q", res.MediaType)
	}
}

func TestEngineBlocksScriptUpload(t *testing.T) {
	e := newTestEngine()
	path := writeUpload(t, "upload-1234", []byte(`<?php eval($_POST['x']); ?>`))

	res, err := e.ScanFile(path, "shell.php")
	if err != nil {
		t.Fatal(err)
	}
	if res.Safe {
		t.Fatal("script upload passed")
	}
	if !threatContaining(res, "blocked file extension: .php") {
		t.Errorf("missing extension finding: %v", res.Threats)
	}
	if !threatContaining(res, "<?php") {
		t.Errorf("missing script finding: %v", res.Threats)
	}
}

func TestEngineBlocksExecutable(t *testing.T) {
	e := newTestEngine()
	path := writeUpload(t, "upload-5678", []byte("MZ\x90\x00\x03\x00\x00\x00"))

	res, err := e.ScanFile(path, "tool.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !threatContaining(res, "dangerous file type") {
		t.Errorf("missing media type finding: %v", res.Threats)
	}
}

func TestEngineDispatchesMarkup(t *testing.T) {
	e := newTestEngine()
	path := writeUpload(t, "logo.svg", []byte(`<svg onload="alert(1)"><rect/></svg>`))

	res, err := e.ScanFile(path, "logo.svg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Safe {
		t.Fatal("hostile SVG passed")
	}
	if !threatContaining(res, "event handler") {
		t.Errorf("missing markup finding: %v", res.Threats)
	}
}

func TestEngineAcceptsBenignXML(t *testing.T) {
	e := newTestEngine()
	content := `<?xml version="1.0" encoding="UTF-8"?>
<inventory>
  <item sku="A-100" qty="4">widget</item>
</inventory>`
	path := writeUpload(t, "inventory.xml", []byte(content))

	res, err := e.ScanFile(path, "inventory.xml")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Safe {
		t.Errorf("benign XML flagged: %v", res.Threats)
	}
}

func TestEngineDispatchesArchive(t *testing.T) {
	e := newTestEngine()
	data := buildContainer(t, map[string]string{"../../escape.txt": "payload"}, []string{"../../escape.txt"})
	path := writeUpload(t, "data.zip", data)

	res, err := e.ScanFile(path, "data.zip")
	if err != nil {
		t.Fatal(err)
	}
	if res.MediaType != threatscan.MediaTypeZip {
		t.Errorf("media type = %q", res.MediaType)
	}
	if !threatContaining(res, "path traversal") {
		t.Errorf("missing traversal finding: %v", res.Threats)
	}
}

func TestEngineDispatchesMacroScanner(t *testing.T) {
	e := newTestEngine()
	manifest := `<Types><Override PartName="/word/vbaProject.bin" ContentType="application/vnd.ms-office.vbaProject"/></Types>`
	data := buildContainer(t, map[string]string{
		"word/document.xml":   "<w:document/>",
		"[Content_Types].xml": manifest,
		"word/vbaProject.bin": "vba",
	}, []string{"word/document.xml", "[Content_Types].xml", "word/vbaProject.bin"})
	path := writeUpload(t, "invoice.docx", data)

	res, err := e.ScanFile(path, "invoice.docx")
	if err != nil {
		t.Fatal(err)
	}
	if res.MediaType != threatscan.MediaTypeDOCX {
		t.Errorf("media type = %q", res.MediaType)
	}
	if !res.HasMacros {
		t.Error("macro flag not set")
	}
	if !threatContaining(res, "disguised") {
		t.Errorf("missing disguise finding: %v", res.Threats)
	}
}

func TestEngineStrictExtensionMismatch(t *testing.T) {
	pol := threatscan.DefaultPolicy()
	pol.StrictExtensionMatch = true
	e := newTestEngine(WithPolicy(pol))
	path := writeUpload(t, "upload-9", tinyJPEG)

	res, err := e.ScanFile(path, "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if !threatContaining(res, "media type mismatch") {
		t.Errorf("missing mismatch finding: %v", res.Threats)
	}
}

func TestEngineRejectsMissingFile(t *testing.T) {
	e := newTestEngine()
	res, err := e.ScanFile(filepath.Join(t.TempDir(), "gone"), "gone.txt")
	if err != nil {
		t.Fatal(err)
	}
	if res.Safe {
		t.Error("missing file should be unsafe")
	}
	if !threatContaining(res, "access denied") {
		t.Errorf("missing access finding: %v", res.Threats)
	}
}

func TestEngineCustomSignature(t *testing.T) {
	sig := threatscan.Signature{MediaType: "application/x-custom", Offset: 0, Pattern: []byte("CUST")}
	e := newTestEngine(WithSignatures(sig))
	path := writeUpload(t, "blob.dat", []byte("CUST1234 payload"))

	res, err := e.ScanFile(path, "blob.dat")
	if err != nil {
		t.Fatal(err)
	}
	if res.MediaType != "application/x-custom" {
		t.Errorf("media type = %q", res.MediaType)
	}
}

func TestEngineEmitsEvents(t *testing.T) {
	rep := &captureReporter{}
	e := New(WithReporter(rep))
	path := writeUpload(t, "upload-ev", []byte(`<?php eval($_POST['x']); ?>`))

	if _, err := e.ScanFile(path, "shell.php"); err != nil {
		t.Fatal(err)
	}

	injections := rep.byType(EventCodeInjection)
	if len(injections) == 0 {
		t.Fatal("no code injection events emitted")
	}
	ev := injections[0]
	if ev.File.Name != "shell.php" {
		t.Errorf("event file name = %q", ev.File.Name)
	}
	if ev.File.Digest == "" {
		t.Error("event digest missing")
	}
	if ev.File.Size == 0 {
		t.Error("event size missing")
	}
	if len(rep.byType(EventDangerousFile)) == 0 {
		t.Error("no dangerous file event for the blocked extension")
	}
}

func TestEnginePolicyAccessor(t *testing.T) {
	pol := threatscan.DefaultPolicy()
	pol.Archive.MaxDepth = 7
	e := newTestEngine(WithPolicy(pol))
	if e.Policy().Archive.MaxDepth != 7 {
		t.Error("policy snapshot not preserved")
	}
}
