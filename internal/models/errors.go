package models

import "fmt"

// ResolutionReason explains why a reference could not be resolved
type ResolutionReason string

const (
	ReasonEmptyReference     ResolutionReason = "empty_reference"
	ReasonMalformedReference ResolutionReason = "malformed_reference"
)

// TransportError is a connection-level failure (DNS, refused, timeout).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-success response code.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// ResolutionError is returned when a reference cannot become an absolute URL.
type ResolutionError struct {
	Reference string
	Reason    ResolutionReason
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve reference %q: %s", e.Reference, e.Reason)
}

// FilesystemError wraps a create, write or remove failure on local storage.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
