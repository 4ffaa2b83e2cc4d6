package threatscan

import (
	"fmt"
	"strings"
)

// Result is the uniform outcome of a single scan. It is created fresh per
// scan call and never shared between calls. Safe is true iff Threats is
// empty; the typed flags report signals that are not necessarily failures
// on their own (e.g. GPS metadata when GPS blocking is disabled).
type Result struct {
	// Safe indicates whether the file passed every detection pass.
	Safe bool

	// Threats lists distinct human-readable findings in detection order.
	Threats []string

	// MediaType is the media type detected from content, when known.
	MediaType string

	// HasJavaScript is set when embedded script was detected, whether or
	// not it produced a finding.
	HasJavaScript bool

	// HasExternalRefs is set when the document references an external
	// destination (link, remote action, form target).
	HasExternalRefs bool

	// HasMacros is set when a macro storage or macro content type was found.
	HasMacros bool

	// HasLegacyControls is set when embedded legacy control binaries
	// (ActiveX/OLE) were found.
	HasLegacyControls bool

	// HasGPS is set when embedded positioning metadata was found.
	HasGPS bool
}

// NewResult returns an empty, safe result.
func NewResult() *Result {
	return &Result{Safe: true}
}

// AddThreat appends a finding, collapsing duplicates, and marks the result
// unsafe. Insertion order is preserved.
func (r *Result) AddThreat(format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	for _, t := range r.Threats {
		if t == msg {
			return
		}
	}
	r.Threats = append(r.Threats, msg)
	r.Safe = false
}

// Merge folds another result into this one, preserving threat order and
// combining flags.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	for _, t := range other.Threats {
		r.AddThreat("%s", t)
	}
	if other.MediaType != "" && r.MediaType == "" {
		r.MediaType = other.MediaType
	}
	r.HasJavaScript = r.HasJavaScript || other.HasJavaScript
	r.HasExternalRefs = r.HasExternalRefs || other.HasExternalRefs
	r.HasMacros = r.HasMacros || other.HasMacros
	r.HasLegacyControls = r.HasLegacyControls || other.HasLegacyControls
	r.HasGPS = r.HasGPS || other.HasGPS
}

// Summary returns a one-line human-readable summary of the result.
func (r *Result) Summary() string {
	if r.Safe {
		return "safe"
	}
	return fmt.Sprintf("unsafe: %s", strings.Join(r.Threats, "; "))
}

// AccessDecision is produced once per file before any content is read.
type AccessDecision struct {
	// Allowed reports whether the path may be opened.
	Allowed bool

	// Reason describes the specific rejection when Allowed is false.
	Reason string
}
