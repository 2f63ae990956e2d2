package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies control-plane failures for callers deciding on
// retries and for the HTTP status mapping.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindInvalidArgument
	KindPreconditionFailed
	KindInvalidState
	KindDriverError
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindInvalidState:
		return "invalid_state"
	case KindDriverError:
		return "driver_error"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ControlError carries the failure kind plus the failing step or
// precondition so callers can decide whether a retry is safe.
type ControlError struct {
	Kind   ErrorKind
	Step   string
	Detail string
	Cause  error
}

func (e *ControlError) Error() string {
	msg := e.Kind.String()
	if e.Step != "" {
		msg = fmt.Sprintf("%s at step %q", msg, e.Step)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause)
	}
	return msg
}

func (e *ControlError) Unwrap() error {
	return e.Cause
}

func NotFound(detail string) error {
	return &ControlError{Kind: KindNotFound, Detail: detail}
}

func InvalidArgument(detail string) error {
	return &ControlError{Kind: KindInvalidArgument, Detail: detail}
}

func PreconditionFailed(step, detail string) error {
	return &ControlError{Kind: KindPreconditionFailed, Step: step, Detail: detail}
}

func InvalidState(detail string) error {
	return &ControlError{Kind: KindInvalidState, Detail: detail}
}

func DriverFailure(step string, cause error) error {
	return &ControlError{Kind: KindDriverError, Step: step, Cause: cause}
}

func Unavailable(detail string) error {
	return &ControlError{Kind: KindUnavailable, Detail: detail}
}

// KindOf extracts the ErrorKind from an error chain.
func KindOf(err error) ErrorKind {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
