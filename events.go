package scankit

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// EventType tags a scan event with its threat class.
type EventType string

const (
	EventMIMEMismatch      EventType = "mime-mismatch"
	EventDangerousFile     EventType = "dangerous-file"
	EventCodeInjection     EventType = "code-injection"
	EventMarkupInjection   EventType = "markup-injection"
	EventMetadataThreat    EventType = "metadata-threat"
	EventDocumentThreat    EventType = "document-threat"
	EventGPSDetected       EventType = "gps-detected"
	EventEntityAttack      EventType = "entity-attack"
	EventArchiveThreat     EventType = "archive-threat"
	EventMacroDetected     EventType = "macro-detected"
	EventSymlinkDetected   EventType = "symlink-detected"
	EventDecompressionBomb EventType = "decompression-bomb"
)

// Severity ranks an event for the logging sink.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// FileContext summarizes the file an event concerns.
type FileContext struct {
	Path      string
	Name      string
	Size      int64
	MediaType string
	Digest    string
}

// Event is what the engine hands to the logging sink, one per finding. The
// sink owns formatting and persistence.
type Event struct {
	Type     EventType
	Severity Severity
	File     FileContext
	Threats  []string
}

// Reporter receives scan events. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Report(event Event)
}

// LogrusReporter writes events as structured log entries.
type LogrusReporter struct {
	logger *logrus.Logger
}

// NewLogrusReporter creates a reporter on the given logger, or the standard
// logger when nil.
func NewLogrusReporter(logger *logrus.Logger) *LogrusReporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusReporter{logger: logger}
}

// Report implements Reporter.
func (r *LogrusReporter) Report(event Event) {
	entry := r.logger.WithFields(logrus.Fields{
		"event":      string(event.Type),
		"severity":   string(event.Severity),
		"file":       event.File.Name,
		"path":       event.File.Path,
		"size":       event.File.Size,
		"media_type": event.File.MediaType,
		"digest":     event.File.Digest,
	})

	msg := "file scan event"
	if len(event.Threats) > 0 {
		msg = event.Threats[0]
	}
	switch event.Severity {
	case SeverityCritical:
		entry.Error(msg)
	case SeverityWarning:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}

// NopReporter discards all events.
type NopReporter struct{}

// Report implements Reporter.
func (NopReporter) Report(Event) {}

// classifyThreat maps a finding string onto the event taxonomy.
func classifyThreat(threat string) EventType {
	lower := strings.ToLower(threat)
	switch {
	case strings.Contains(lower, "symbolic link"):
		return EventSymlinkDetected
	case strings.Contains(lower, "decompression bomb"):
		return EventDecompressionBomb
	case strings.Contains(lower, "entity declaration"):
		return EventEntityAttack
	case strings.Contains(lower, "macro"):
		return EventMacroDetected
	case strings.Contains(lower, "media type mismatch"):
		return EventMIMEMismatch
	case strings.Contains(lower, "gps"):
		return EventGPSDetected
	case strings.Contains(lower, "metadata field"), strings.Contains(lower, "image end marker"):
		return EventMetadataThreat
	case strings.Contains(lower, "document action"), strings.Contains(lower, "script execution function"),
		strings.Contains(lower, "content stream"), strings.Contains(lower, "encryption directive"),
		strings.Contains(lower, "hex-encoded"), strings.Contains(lower, "external reference"):
		return EventDocumentThreat
	case strings.Contains(lower, "element detected"), strings.Contains(lower, "event handler"),
		strings.Contains(lower, "cdata"), strings.Contains(lower, "svg"),
		strings.Contains(lower, "markup"):
		return EventMarkupInjection
	case strings.Contains(lower, "archive"), strings.Contains(lower, "traversal"),
		strings.Contains(lower, "link entry"):
		return EventArchiveThreat
	case strings.Contains(lower, "script"), strings.Contains(lower, "function"),
		strings.Contains(lower, "web shell"), strings.Contains(lower, "evaluation"):
		return EventCodeInjection
	default:
		return EventDangerousFile
	}
}

// severityFor assigns the default severity tier per event type.
func severityFor(eventType EventType) Severity {
	switch eventType {
	case EventGPSDetected:
		return SeverityInfo
	case EventMIMEMismatch, EventMacroDetected:
		return SeverityWarning
	default:
		return SeverityCritical
	}
}
