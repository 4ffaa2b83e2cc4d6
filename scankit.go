package scankit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobeaver/scankit/threatscan"
)

// Engine is the entry point for scanning uploaded files. It wires the
// format identifier, the access validator and the scanner family together
// and dispatches each file to the scanners appropriate for its detected
// media type. All state is immutable after construction, so one Engine may
// serve concurrent scans.
type Engine struct {
	policy   threatscan.Policy
	access   *threatscan.AccessValidator
	ident    *threatscan.Identifier
	reporter Reporter

	code     *threatscan.CodeInjectionScanner
	markup   *threatscan.MarkupInjectionScanner
	document *threatscan.DocumentActionScanner
	macro    *threatscan.MacroScanner
	metadata *threatscan.MetadataScanner
	archive  *threatscan.ArchiveInspector
}

// New creates an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		policy:   threatscan.DefaultPolicy(),
		reporter: NewLogrusReporter(nil),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.ident == nil {
		e.ident = threatscan.NewIdentifier()
	}
	e.access = threatscan.NewAccessValidator(e.policy.Access)
	if e.access.RootsUnrestricted() {
		e.reporter.Report(Event{
			Type:     EventDangerousFile,
			Severity: SeverityWarning,
			Threats:  []string{"no allowed roots configured: path validation degraded to allow-all"},
		})
	}

	e.code = threatscan.NewCodeInjectionScanner(e.access, e.ident)
	e.markup = threatscan.NewMarkupInjectionScanner(e.access)
	e.document = threatscan.NewDocumentActionScanner(e.access)
	e.macro = threatscan.NewMacroScanner(e.access)
	e.metadata = threatscan.NewMetadataScanner(e.access, e.ident)
	e.archive = threatscan.NewArchiveInspector(e.access)
	return e
}

// NewDefault creates an engine with the default policy and reporter.
func NewDefault() *Engine {
	return New()
}

// Policy returns the engine's policy snapshot.
func (e *Engine) Policy() threatscan.Policy {
	return e.policy
}

// ScanFile inspects the file at path, using declaredName (the
// client-supplied name) for extension checks. The returned result is
// always usable; the error is non-nil only for environment failures, and
// in that case the result is already marked unsafe (the engine fails
// closed, never silently passing a file it could not inspect).
func (e *Engine) ScanFile(path, declaredName string) (*threatscan.Result, error) {
	res := threatscan.NewResult()

	if d := e.access.Validate(path); !d.Allowed {
		res.AddThreat("access denied: %s", d.Reason)
		e.emit(path, declaredName, res)
		return res, nil
	}

	prefix, _, err := readPrefix(path)
	if err != nil {
		res.AddThreat("file could not be inspected: %v", err)
		e.emit(path, declaredName, res)
		return res, threatscan.NewScanError(threatscan.ErrorTypeEnvironment, err.Error())
	}

	mediaType := e.ident.Identify(prefix)
	res.MediaType = mediaType

	e.checkDeclaredName(declaredName, mediaType, res)
	e.dispatch(path, declaredName, mediaType, res)

	e.emit(path, declaredName, res)
	return res, nil
}

// checkDeclaredName applies the engine-level name checks: the dangerous
// media-type block list, blocked declared extensions, and the strict
// extension/media-type agreement toggle.
func (e *Engine) checkDeclaredName(declaredName, mediaType string, res *threatscan.Result) {
	for _, blocked := range e.policy.BlockedMediaTypes {
		if mediaType == blocked {
			res.AddThreat("dangerous file type detected: %s", mediaType)
			break
		}
	}

	ext := strings.ToLower(filepath.Ext(declaredName))
	if ext == "" {
		return
	}
	for _, blocked := range e.policy.BlockedExtensions {
		if ext == strings.ToLower(blocked) {
			res.AddThreat("blocked file extension: %s", ext)
			break
		}
	}

	if e.policy.StrictExtensionMatch {
		expected := threatscan.TypeForExtension(ext)
		if expected != "" && expected != mediaType {
			res.AddThreat("media type mismatch: extension %s declares %s but content is %s",
				ext, expected, mediaType)
		}
	}
}

// dispatch runs the scanners registered for the detected media type.
func (e *Engine) dispatch(path, declaredName, mediaType string, res *threatscan.Result) {
	switch {
	case mediaType == threatscan.MediaTypeSVG || mediaType == threatscan.MediaTypeXML:
		res.Merge(e.markup.Scan(path, e.policy))
	case mediaType == threatscan.MediaTypePDF:
		res.Merge(e.document.Scan(path, e.policy))
	case threatscan.IsOfficeType(mediaType):
		res.Merge(e.macro.Scan(path, declaredName, e.policy))
	case threatscan.IsRasterImageType(mediaType):
		res.Merge(e.metadata.Scan(path, e.policy))
	case threatscan.IsArchiveType(mediaType):
		res.Merge(e.archive.Scan(path, e.policy, 0))
	default:
		// Text and unknown content can host interpretable script; the
		// code scanner skips binary media types on its own.
		res.Merge(e.code.Scan(path, e.policy))
	}
}

// emit publishes one event per finding plus signal events for flags.
func (e *Engine) emit(path, declaredName string, res *threatscan.Result) {
	if e.reporter == nil {
		return
	}

	ctx := FileContext{
		Path:      path,
		Name:      declaredName,
		MediaType: res.MediaType,
	}
	if info, err := os.Stat(path); err == nil {
		ctx.Size = info.Size()
	}
	if digest, err := DigestFile(path); err == nil {
		ctx.Digest = digest
	}

	for _, threat := range res.Threats {
		eventType := classifyThreat(threat)
		e.reporter.Report(Event{
			Type:     eventType,
			Severity: severityFor(eventType),
			File:     ctx,
			Threats:  []string{threat},
		})
	}

	if res.HasGPS {
		e.reporter.Report(Event{Type: EventGPSDetected, Severity: SeverityInfo, File: ctx})
	}
	if res.HasMacros {
		e.reporter.Report(Event{Type: EventMacroDetected, Severity: SeverityWarning, File: ctx})
	}
}

// readPrefix reads the identification prefix without holding the file open
// past the read.
func readPrefix(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}

	buf := make([]byte, threatscan.SniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, 0, fmt.Errorf("failed to read file prefix: %w", err)
	}
	return buf[:n], info.Size(), nil
}
