package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of build errors.
type ErrorType string

const (
	ErrorTypeManifest  ErrorType = "manifest"
	ErrorTypeRender    ErrorType = "render"
	ErrorTypeMarkup    ErrorType = "markup"
	ErrorTypeStore     ErrorType = "store"
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeInternal  ErrorType = "internal"
)

// BuildError is a structured error type with context.
type BuildError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	AssetID  string
	FilePath string
	Line     int
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.AssetID != "" {
		parts = append(parts, "asset:"+e.AssetID)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BuildError) WithContext(key string, value interface{}) *BuildError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *BuildError) WithLocation(filePath string, line int) *BuildError {
	e.FilePath = filePath
	e.Line = line

	return e
}

// WithAsset adds asset context.
func (e *BuildError) WithAsset(assetID string) *BuildError {
	e.AssetID = assetID

	return e
}

// Error creation functions

// NewManifestError creates a manifest error: missing entries, unknown
// enums, duplicate ids or conflicting URIs.
func NewManifestError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeManifest,
		Code:    code,
		Message: message,
	}
}

// NewRenderError creates a graphic render error.
func NewRenderError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeRender,
		Code:    code,
		Message: message,
	}
}

// NewMarkupError creates a markup structure error.
func NewMarkupError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeMarkup,
		Code:    code,
		Message: message,
	}
}

// NewStoreError creates a content store error.
func NewStoreError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeStore,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewCancellationError wraps a context error raised by an external
// interrupt.
func NewCancellationError(cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeCancelled,
		Code:    ErrCodeCancelled,
		Message: "build cancelled",
		Cause:   cause,
	}
}

// Classification helpers

func isType(err error, t ErrorType) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Type == t
	}

	return false
}

// IsManifestError checks if an error is manifest-related.
func IsManifestError(err error) bool {
	return isType(err, ErrorTypeManifest)
}

// IsRenderError checks if an error is render-related.
func IsRenderError(err error) bool {
	return isType(err, ErrorTypeRender)
}

// IsMarkupError checks if an error is markup-related.
func IsMarkupError(err error) bool {
	return isType(err, ErrorTypeMarkup)
}

// IsStoreError checks if an error is store-related.
func IsStoreError(err error) bool {
	return isType(err, ErrorTypeStore)
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	return isType(err, ErrorTypeConfig)
}

// IsCancellation reports whether err stems from build cancellation,
// either as a wrapped cancellation error or a bare context error.
func IsCancellation(err error) bool {
	if isType(err, ErrorTypeCancelled) {
		return true
	}

	return errors.Is(err, context.Canceled)
}

// Code returns the error code of the outermost BuildError, or "".
func Code(err error) string {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code
	}

	return ""
}
