package errors

import (
	"errors"
	"fmt"
)

// Kind classifies harvest failures
type Kind string

const (
	KindInitializationTimeout Kind = "initialization_timeout"
	KindCorruptCheckpoint     Kind = "corrupt_checkpoint"
	KindProviderError         Kind = "provider_error"
	KindAcquireError          Kind = "acquire_error"
	KindExtractionError       Kind = "extraction_error"
	KindFilterParseError      Kind = "filter_parse_error"
	KindSinkWriteError        Kind = "sink_write_error"
	KindCheckpointWriteError  Kind = "checkpoint_write_error"
	KindUnknown               Kind = "unknown"
)

// Error is a harvest error with kind information
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and the operation that failed
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an Error from a format string
func Newf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatal checks if an error kind terminates the job that produced it
func IsFatal(kind Kind) bool {
	switch kind {
	case KindInitializationTimeout, KindCorruptCheckpoint, KindProviderError, KindAcquireError:
		return true
	case KindExtractionError, KindFilterParseError, KindSinkWriteError, KindCheckpointWriteError:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
