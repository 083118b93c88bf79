package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind distinguishes failures for callers and for retry decisions.
type ErrorKind string

const (
	KindSegmentation           ErrorKind = "segmentation_error"
	KindChunkTransient         ErrorKind = "chunk_transient"
	KindChunkTerminal          ErrorKind = "chunk_terminal"
	KindUnificationUnavailable ErrorKind = "unification_unavailable"
	KindAllChunksFailed        ErrorKind = "all_chunks_failed"
)

// Error is the structured error returned by every pipeline stage.
type Error struct {
	Kind       ErrorKind
	Message    string
	ChunkIndex int
	Cause      error
	Failures   []ChunkFailure
}

// NewError creates an Error that is not tied to a chunk.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, ChunkIndex: -1}
}

// ChunkError creates an Error for one chunk.
func ChunkError(kind ErrorKind, chunkIndex int, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, ChunkIndex: chunkIndex, Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.ChunkIndex >= 0 {
		fmt.Fprintf(&b, " (chunk %d)", e.ChunkIndex)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the operation may be attempted again.
func (e *Error) Retryable() bool {
	return e.Kind == KindChunkTransient
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is a transient chunk failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// AllChunksFailed builds the aggregate error raised when no chunk succeeded.
func AllChunksFailed(failures []ChunkFailure) *Error {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("chunk %d: %s", f.ChunkIndex, f.Message))
	}
	msg := fmt.Sprintf("all %d chunks failed", len(failures))
	if len(parts) > 0 {
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	return &Error{Kind: KindAllChunksFailed, Message: msg, ChunkIndex: -1, Failures: failures}
}
