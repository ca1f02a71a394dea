// Package errors defines the build error taxonomy shared by every msssg
// component. Errors carry a type (manifest, render, markup, store,
// cancelled, config, io, internal) and a stable code for programmatic
// handling; none of them are retried.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Manifest error codes.
const (
	ErrCodeMissingNotFound = "MISSING_NOT_FOUND"
	ErrCodeUnknownAction   = "UNKNOWN_ACTION"
	ErrCodeUnknownCache    = "UNKNOWN_CACHE"
	ErrCodeUnknownRedirect = "UNKNOWN_REDIRECT"
	ErrCodeUnknownQuality  = "UNKNOWN_QUALITY"
	ErrCodeMissingField    = "MISSING_FIELD"
	ErrCodeIllegalCache    = "ILLEGAL_CACHE"
	ErrCodeDuplicateAsset  = "DUPLICATE_ASSET"
	ErrCodeConflictingURI  = "CONFLICTING_URI"
	ErrCodeManifestParse   = "MANIFEST_PARSE"
)

// Render error codes.
const (
	ErrCodeResolutionExceeded = "RESOLUTION_EXCEEDED"
	ErrCodeUnsupportedQuality = "UNSUPPORTED_QUALITY"
	ErrCodeUnknownFormat      = "UNKNOWN_FORMAT"
	ErrCodeDecodeFailed       = "DECODE_FAILED"
	ErrCodeEncodeFailed       = "ENCODE_FAILED"
)

// Markup error codes.
const (
	ErrCodeMissingImg        = "MISSING_IMG"
	ErrCodeMultipleImg       = "MULTIPLE_IMG"
	ErrCodeSourceUnsupported = "SOURCE_UNSUPPORTED"
	ErrCodeResidualExtension = "RESIDUAL_EXTENSION"
	ErrCodeMissingAttribute  = "MISSING_ATTRIBUTE"
	ErrCodeMissingFallback   = "MISSING_FALLBACK"
	ErrCodeMarkupParse       = "MARKUP_PARSE"
	ErrCodeCyclicReference   = "CYCLIC_REFERENCE"
)

// Store error codes.
const (
	ErrCodeStoreOpen      = "STORE_OPEN"
	ErrCodeStoreWrite     = "STORE_WRITE"
	ErrCodeStorePersist   = "STORE_PERSIST"
	ErrCodeDuplicateURI   = "DUPLICATE_URI"
	ErrCodeRequiresCache  = "REQUIRES_INDEFINITE"
	ErrCodeUnknownEncoder = "UNKNOWN_ENCODING"
)

// General error codes.
const (
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeWorkerPanic   = "WORKER_PANIC"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeFileRead      = "FILE_READ"
	ErrCodeFileWrite     = "FILE_WRITE"
	ErrCodeNetwork       = "NETWORK"
)

// Sentinel errors for errors.Is comparisons against type and code.
var (
	ErrDuplicateAsset     = NewManifestError(ErrCodeDuplicateAsset, "")
	ErrConflictingURI     = NewManifestError(ErrCodeConflictingURI, "")
	ErrMissingNotFound    = NewManifestError(ErrCodeMissingNotFound, "")
	ErrResolutionExceeded = NewRenderError(ErrCodeResolutionExceeded, "")
	ErrUnsupportedQuality = NewRenderError(ErrCodeUnsupportedQuality, "")
	ErrResidualExtension  = NewMarkupError(ErrCodeResidualExtension, "")
	ErrCyclicReference    = NewMarkupError(ErrCodeCyclicReference, "")
)

// WrapStore wraps err as a store error. Nil stays nil.
func WrapStore(err error, code, message string) error {
	if err == nil {
		return nil
	}

	return NewStoreError(code, message, err)
}

// WrapIO wraps err as an I/O error with the offending path attached.
func WrapIO(err error, code, path string) error {
	if err == nil {
		return nil
	}

	return NewIOError(code, fmt.Sprintf("%s failed", path), err).WithLocation(path, 0)
}

// FromContext converts a context error into a cancellation error, leaving
// any other error untouched.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var be *BuildError
		if errors.As(err, &be) && be.Type == ErrorTypeCancelled {
			return err
		}

		return NewCancellationError(err)
	}

	return err
}
