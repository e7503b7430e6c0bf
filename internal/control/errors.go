package control

import (
	"errors"
	"fmt"
)

// Kind is the exhaustive error taxonomy surfaced at the control-plane
// boundary, mirrored into the wire envelope's error code.
type Kind string

const (
	KindNotFound           Kind = "NotFound"
	KindAlreadyExists      Kind = "AlreadyExists"
	KindPermissionDenied   Kind = "PermissionDenied"
	KindInvalidArgument    Kind = "InvalidArgument"
	KindFailedPrecondition Kind = "FailedPrecondition"
	KindResourceExhausted  Kind = "ResourceExhausted"
	KindConflict           Kind = "Conflict"
	KindInternal           Kind = "Internal"
)

// Error is the typed error returned by the repository and service layers.
// A plain fmt.Errorf can't carry a Kind, and every caller-facing path here
// needs one to pick the envelope's error code.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func NotFound(what string) *Error           { return New(KindNotFound, what) }
func AlreadyExists(what string) *Error      { return New(KindAlreadyExists, what) }
func PermissionDenied(why string) *Error    { return New(KindPermissionDenied, why) }
func InvalidArgument(why string) *Error     { return New(KindInvalidArgument, why) }
func FailedPrecondition(why string) *Error  { return New(KindFailedPrecondition, why) }
func ResourceExhausted(why string) *Error   { return New(KindResourceExhausted, why) }
func Conflict(why string) *Error            { return New(KindConflict, why) }
func Internal(why string, cause error) *Error { return Wrap(KindInternal, why, cause) }

// KindOf extracts the Kind from err if it (or something it wraps) is *Error,
// defaulting to Internal for opaque errors from outside the control plane.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
