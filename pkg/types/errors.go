package types

import "fmt"

// ErrorKind classifies a pipeline failure. Every error surfaced by the
// engine carries exactly one kind so callers can map failures to HTTP
// statuses without string matching.
type ErrorKind string

const (
	KindInvalidRequest          ErrorKind = "invalid_request"
	KindClassificationAmbiguous ErrorKind = "classification_ambiguous"
	KindEntityNotFound          ErrorKind = "entity_not_found"
	KindTemporalParse           ErrorKind = "temporal_parse_error"
	KindUnboundedScope          ErrorKind = "unbounded_scope"
	KindQueryGenerationFailed   ErrorKind = "query_generation_failed"
	KindStoreTimeout            ErrorKind = "store_timeout"
	KindStoreUnavailable        ErrorKind = "store_unavailable"
	KindSynthesisEmpty          ErrorKind = "synthesis_empty"
)

// QueryError is the error type returned from the engine. It wraps the
// underlying cause and carries the per-request correlation ID so log lines
// and API responses can be tied together.
type QueryError struct {
	Kind          ErrorKind
	Message       string
	CorrelationID string
	Err           error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is matches against another QueryError by kind, so
// errors.Is(err, &QueryError{Kind: KindStoreTimeout}) works regardless of
// message or cause.
func (e *QueryError) Is(target error) bool {
	t, ok := target.(*QueryError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewQueryError creates a QueryError without an underlying cause.
func NewQueryError(kind ErrorKind, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapQueryError creates a QueryError wrapping err.
func WrapQueryError(kind ErrorKind, err error, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err if it is (or wraps) a QueryError,
// returning "" otherwise.
func KindOf(err error) ErrorKind {
	for err != nil {
		if qe, ok := err.(*QueryError); ok {
			return qe.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
