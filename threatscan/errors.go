package threatscan

import (
	"errors"
	"fmt"
)

// ScanErrorType categorizes scan failures for programmatic handling.
type ScanErrorType string

const (
	// ErrorTypeFormat indicates malformed input that could not be decoded
	// at all, such as an unparsable policy file.
	ErrorTypeFormat ScanErrorType = "format"

	// ErrorTypeEnvironment indicates a true runtime failure (unreadable
	// file, missing optional backend). Scanners convert these into an
	// unsafe result rather than letting them escape.
	ErrorTypeEnvironment ScanErrorType = "environment"
)

// ScanError is the error type used for failures that prevent a scanner
// from inspecting a file at all. Policy violations and detection findings
// are never modeled as errors; they are data in Result.
type ScanError struct {
	// Type categorizes the failure (format, environment).
	Type ScanErrorType

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface
func (e *ScanError) Error() string {
	return fmt.Sprintf("%s scan error: %s", e.Type, e.Message)
}

// NewScanError creates a new ScanError
func NewScanError(errType ScanErrorType, message string) *ScanError {
	return &ScanError{
		Type:    errType,
		Message: message,
	}
}

// IsScanError checks if an error is a ScanError
func IsScanError(err error) bool {
	var scanErr *ScanError
	return errors.As(err, &scanErr)
}

// IsErrorOfType checks if an error is a ScanError of the specified type
func IsErrorOfType(err error, errType ScanErrorType) bool {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Type == errType
	}
	return false
}

// GetErrorType returns the type of a ScanError, or empty string if not a ScanError
func GetErrorType(err error) ScanErrorType {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Type
	}
	return ""
}
