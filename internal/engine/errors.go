package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTrimInProgress is returned when a trimming run is requested while another is active.
	ErrTrimInProgress = errors.New("trim already in progress")
	// ErrEmptyText is returned by embedders given empty input.
	ErrEmptyText = errors.New("cannot embed empty text")
	// ErrNoEmbedder is returned when no embedding provider is configured.
	ErrNoEmbedder = errors.New("no embedder configured")
)

// ValidationError reports a missing or invalid request field. No store access happens before it.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failed embedding or vector store call.
// Op is a short category such as "embed" or "search".
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}
