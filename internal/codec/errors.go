package codec

import "errors"

// ErrorKind classifies expected conversion failures. These are tallied by the
// callers, never propagated as panics.
type ErrorKind string

const (
	// KindFormatUnsupported means no backend can encode the requested format.
	KindFormatUnsupported ErrorKind = "format-unsupported"
	// KindUnsupportedSource means the source is not a JPEG or PNG.
	KindUnsupportedSource ErrorKind = "unsupported-source"
	// KindBackendError is a failure surfaced by the rich backend.
	KindBackendError ErrorKind = "backend-error"
	// KindBackendOpenFailed means the built-in backend could not decode the source.
	KindBackendOpenFailed ErrorKind = "backend-open-failed"
	// KindBackendWriteFailed means the built-in backend could not write the output.
	KindBackendWriteFailed ErrorKind = "backend-write-failed"
	// KindBackendFormatLimited means the chosen backend cannot encode the
	// requested format (the built-in backend is WebP-only).
	KindBackendFormatLimited ErrorKind = "backend-format-limited"
)

// Error is a conversion failure tagged with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns a tagged conversion error.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from an error, or "" for untagged errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
