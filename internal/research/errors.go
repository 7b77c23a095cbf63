package research

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal query failure.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindService      Kind = "service"
	KindConnectivity Kind = "connectivity"
)

// GenericFailureMessage is shown when the service signals failure without a usable detail.
const GenericFailureMessage = "Failed to get response from server"

// ErrBlankQuestion rejects empty or whitespace-only questions.
var ErrBlankQuestion = &Error{Kind: KindValidation, Message: "question must not be blank"}

// Error is a classified query failure. Message is the user-facing text.
type Error struct {
	Kind    Kind
	Message string
	Status  int // HTTP status when the service responded, else 0
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind and message so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// ServiceError builds the failure for a service that answered with an error.
// An empty detail falls back to GenericFailureMessage.
func ServiceError(status int, detail string, cause error) *Error {
	msg := detail
	if msg == "" {
		msg = GenericFailureMessage
	}
	return &Error{Kind: KindService, Message: msg, Status: status, Cause: cause}
}

// ConnectivityError builds the failure for a service that could not be reached at all.
func ConnectivityError(message string, cause error) *Error {
	return &Error{Kind: KindConnectivity, Message: message, Cause: cause}
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// MessageOf returns the user-facing message for err.
// Unclassified errors map to GenericFailureMessage.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Message != "" {
		return classified.Message
	}
	return GenericFailureMessage
}
