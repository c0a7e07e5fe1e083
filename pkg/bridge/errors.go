package bridge

import (
	"errors"
	"fmt"

	"metricbridge/pkg/bus"
	"metricbridge/pkg/platform"
)

const (
	CodeNotImplemented             = "not_implemented"
	CodeUnsupportedPlatformVersion = "unsupported_platform_version"
	CodeSerialization              = "serialization_error"
	CodeInternal                   = "internal_error"
)

// Error is a typed action failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrNotImplemented reports an action name the bridge does not know.
func ErrNotImplemented(method string) error {
	return &Error{
		Code:    CodeNotImplemented,
		Message: "Not implemented",
		Details: fmt.Sprintf("the method %q is not implemented", method),
	}
}

// ErrUnsupported reports a capability missing on the running OS version.
func ErrUnsupported(action string, required platform.Version, running platform.Version) error {
	return &Error{
		Code:    CodeUnsupportedPlatformVersion,
		Message: "Unsupported platform version",
		Details: fmt.Sprintf("%s requires OS %s or later, running %s", action, required, running),
	}
}

// ErrSerialization reports a batch that could not be encoded.
func ErrSerialization(err error) error {
	return &Error{
		Code:    CodeSerialization,
		Message: "Serialization error",
		Details: errorString(err),
		Err:     err,
	}
}

// CodeFromError returns the stable code for an error when available.
func CodeFromError(err error) string {
	if err == nil {
		return ""
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}

	return CodeInternal
}

// ToPayload converts any error into the wire form returned to callers.
func ToPayload(err error) *bus.ErrorPayload {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return &bus.ErrorPayload{Code: typed.Code, Message: typed.Message, Details: typed.Details}
	}

	return &bus.ErrorPayload{Code: CodeInternal, Message: "Internal error", Details: err.Error()}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
