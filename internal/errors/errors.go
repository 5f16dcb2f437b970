// Package errors provides structured error types for stealthrun.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for stealthrun operations.
const (
	// Config errors
	CodeConfigMissingField = "CONFIG_001" // Missing required field
	CodeConfigInvalidValue = "CONFIG_002" // Invalid value

	// Document errors
	CodeDocumentNotFound    = "DOC_001" // Notebook file not found or unreadable
	CodeDocumentParseError  = "DOC_002" // Notebook JSON malformed
	CodeDocumentUnsupported = "DOC_003" // nbformat version too old

	// Kernel errors
	CodeKernelStartFailed = "KERNEL_001" // Interpreter or gateway kernel failed to start
	CodeKernelExecFailed  = "KERNEL_002" // Cell execution failed
	CodeKernelGateway     = "KERNEL_003" // Gateway transport failure

	// Verify errors
	CodeVerifyManifest = "VERIFY_001" // Manifest unreadable or malformed
	CodeVerifyFailed   = "VERIFY_002" // Notebook failed verification
)

// RunError is the structured error type for stealthrun operations.
type RunError struct {
	Code    string         `json:"code"`              // Error code (e.g., "KERNEL_002")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (path, cell index, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *RunError) WithDetail(key string, value any) *RunError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *RunError) WithCause(err error) *RunError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *RunError) MarshalJSON() ([]byte, error) {
	type alias RunError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new RunError.
func New(code, message string) *RunError {
	return &RunError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new RunError with formatted message.
func Newf(code, format string, args ...any) *RunError {
	return &RunError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a RunError.
func Wrap(code, message string, err error) *RunError {
	return &RunError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted RunError.
func Wrapf(code string, err error, format string, args ...any) *RunError {
	return &RunError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// HasCode reports whether err (or any error it wraps) is a RunError with
// the given code.
func HasCode(err error, code string) bool {
	return Code(err) == code
}

// Code extracts the error code from err, unwrapping as needed.
// Returns "" for non-RunError errors.
func Code(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// --- Config Errors ---

// ConfigMissingField creates an error for a missing config field.
func ConfigMissingField(field string) *RunError {
	return Newf(CodeConfigMissingField, "missing required config field: %s", field).
		WithDetail("field", field)
}

// ConfigInvalidValue creates an error for an invalid config value.
func ConfigInvalidValue(field string, value any, reason string) *RunError {
	return Newf(CodeConfigInvalidValue, "invalid config value for %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// --- Document Errors ---

// DocumentNotFound creates an error for an unreadable notebook file.
func DocumentNotFound(path string, err error) *RunError {
	return Wrap(CodeDocumentNotFound, "reading notebook", err).
		WithDetail("path", path)
}

// DocumentParseError creates an error for malformed notebook JSON.
func DocumentParseError(path string, err error) *RunError {
	return Wrap(CodeDocumentParseError, "parsing notebook", err).
		WithDetail("path", path)
}

// DocumentUnsupportedFormat creates an error for an nbformat version we
// cannot address cells in.
func DocumentUnsupportedFormat(path string, version int) *RunError {
	return Newf(CodeDocumentUnsupported, "unsupported nbformat version %d (need 4+)", version).
		WithDetail("path", path).
		WithDetail("nbformat", version)
}

// --- Kernel Errors ---

// KernelStartFailed creates an error for a kernel that could not start.
func KernelStartFailed(kind string, err error) *RunError {
	return Wrapf(CodeKernelStartFailed, err, "starting %s kernel", kind).
		WithDetail("kind", kind)
}

// KernelExecFailed creates an error for a cell execution failure.
func KernelExecFailed(index int, err error) *RunError {
	return Wrapf(CodeKernelExecFailed, err, "executing cell %d", index).
		WithDetail("cell", index)
}

// KernelGatewayError creates an error for a gateway transport failure.
func KernelGatewayError(op string, err error) *RunError {
	return Wrapf(CodeKernelGateway, err, "kernel gateway: %s", op).
		WithDetail("op", op)
}

// --- Verify Errors ---

// VerifyManifestError creates an error for an unreadable manifest.
func VerifyManifestError(path string, err error) *RunError {
	return Wrap(CodeVerifyManifest, "loading verify manifest", err).
		WithDetail("path", path)
}

// VerifyFailed creates an error for a notebook that failed verification.
func VerifyFailed(notebook string, err error) *RunError {
	return Wrapf(CodeVerifyFailed, err, "verifying notebook %s", notebook).
		WithDetail("notebook", notebook)
}
