package envelope

import (
	"context"
	"errors"
	"fmt"
)

// Code is the stable, user-safe category attached to every failed response.
type Code string

const (
	CodeValidation          Code = "validation_error"
	CodeRateLimited         Code = "rate_limit_exceeded"
	CodeConcurrencyLimited  Code = "concurrency_limit_exceeded"
	CodeClassification      Code = "classification_error"
	CodePermissionDenied    Code = "permission_denied"
	CodeHandlerUnavailable  Code = "handler_unavailable"
	CodeInternalDispatch    Code = "internal_dispatch_error"
	CodeRegistrationTimeout Code = "registration_lookup_timeout"
)

// Error is a categorized failure. Detail and Err are for logs only.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := string(e.Code)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// NewError creates a categorized error.
func NewError(code Code, detail string) error {
	return &Error{Code: code, Detail: detail}
}

// Wrap attaches a category to an underlying cause.
func Wrap(code Code, err error, detail string) error {
	return &Error{Code: code, Detail: detail, Err: err}
}

// CodeOf returns the category carried by err.
//
// Context expiry or cancellation that escaped a component is reported as
// handler_unavailable; anything else uncategorized is an internal dispatch error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) && categorized.Code != "" {
		return categorized.Code
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeHandlerUnavailable
	}

	return CodeInternalDispatch
}
