package backend

import (
	"errors"
	"fmt"
)

// ErrorKind is the structured classification of a failed backend call.
// The orchestrator branches on kinds, never on message text.
type ErrorKind int

const (
	// KindTimeout covers context deadlines and timeout-shaped gateway
	// responses. Timeouts are an expected state in this domain, not errors.
	KindTimeout ErrorKind = iota
	// KindCanceled means the workflow's cancellation token fired; the
	// response is discarded, neither success nor failure.
	KindCanceled
	// KindNetworkFailure covers connection-level failures.
	KindNetworkFailure
	// KindMalformedResponse means the body was not valid structured data.
	// The backend is treated as still warming up and the call is retried.
	KindMalformedResponse
	// KindServerError is a genuine server-side error response.
	KindServerError
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindNetworkFailure:
		return "networkFailure"
	case KindMalformedResponse:
		return "malformedResponse"
	case KindServerError:
		return "serverError"
	}
	return "unknown"
}

// Error is the single error type the backend client returns.
type Error struct {
	Kind    ErrorKind
	Code    int    // HTTP status for server errors, 0 otherwise
	Message string // error body message for server errors
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindServerError && e.Message != "":
		return fmt.Sprintf("backend %s (%d): %s", e.Kind, e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("backend %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err. Unrecognized errors are
// reported as network failures, the safe transient bucket.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindNetworkFailure
}

// MessageOf extracts the server error message, if any.
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	return ""
}

// IsTransient reports whether err should be retried or absorbed into
// stillWorking rather than surfaced as a failure.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindCanceled, KindNetworkFailure, KindMalformedResponse:
		return true
	}
	return false
}
