package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrorKind is the closed classification used to decide retry eligibility.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota

	// Transient infrastructure failures, retried with backoff.
	ErrorKindStorage
	ErrorKindNetwork
	ErrorKindNode
	ErrorKindIO

	// Permanent failures, never retried.
	ErrorKindMalformed
	ErrorKindConfig
	ErrorKindSerialization
)

// retryable is the explicit eligibility table. Unknown errors are treated
// as transient so a novel infrastructure failure is not silently dropped.
var retryable = map[ErrorKind]bool{
	ErrorKindUnknown:       true,
	ErrorKindStorage:       true,
	ErrorKindNetwork:       true,
	ErrorKindNode:          true,
	ErrorKindIO:            true,
	ErrorKindMalformed:     false,
	ErrorKindConfig:        false,
	ErrorKindSerialization: false,
}

// Retryable reports whether failures of this kind should be retried.
func (k ErrorKind) Retryable() bool {
	return retryable[k]
}

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindStorage:
		return "storage"
	case ErrorKindNetwork:
		return "network"
	case ErrorKindNode:
		return "node"
	case ErrorKindIO:
		return "io"
	case ErrorKindMalformed:
		return "malformed"
	case ErrorKindConfig:
		return "config"
	case ErrorKindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// ClassifiedError tags an error with its kind. Producers at the
// infrastructure boundaries wrap their failures so the batch writer can
// dispatch on the kind instead of on error text.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// WrapError tags err with a kind. Returns nil for a nil err.
func WrapError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classify returns the kind of an error, unwrapping as needed. Errors
// without an explicit tag fall back to structural checks for the common
// transport failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindNetwork
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorKindIO
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindNetwork
	}

	return ErrorKindUnknown
}
