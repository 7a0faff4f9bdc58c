package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable failure category shared by every component.
type Kind string

const (
	KindUserInput           Kind = "user_input"
	KindExternalTimeout     Kind = "external_timeout"
	KindExternalUnavailable Kind = "external_unavailable"
	KindResourceLimit       Kind = "resource_limit_exceeded"
	KindInternal            Kind = "internal"
)

const (
	timeoutMessage     = "The request timed out. Please try again."
	unavailableMessage = "The service is unavailable right now. Please try again later."
	internalMessage    = "Sorry, something went wrong while processing your request."
)

// Error represents a categorized failure with an optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	switch {
	case e.Detail == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Detail == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// New creates a categorized failure without a cause.
func New(kind Kind, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap categorizes err. A nil err stays nil.
func Wrap(kind Kind, err error, detail string) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the category of err; uncategorized errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindExternalTimeout
	}

	return KindInternal
}

// Is reports whether err carries the given category.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage converts err into the single text shown to a chat user.
//
// User input errors and resource limits carry their own wording; everything
// else collapses into a fixed message so internal detail never leaks.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	hasDetail := errors.As(err, &categorized) && categorized.Detail != ""

	switch KindOf(err) {
	case KindUserInput, KindResourceLimit:
		if hasDetail {
			return categorized.Detail
		}
		return internalMessage
	case KindExternalTimeout:
		return timeoutMessage
	case KindExternalUnavailable:
		return unavailableMessage
	default:
		return internalMessage
	}
}
