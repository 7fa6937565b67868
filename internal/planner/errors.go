package planner

import (
	"context"
	"errors"
	"fmt"
	"net"

	"housesim/internal/llm"
)

type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindParse      ErrorKind = "parse"
	KindValidation ErrorKind = "validation"
	KindModel      ErrorKind = "model"
)

// Error is the planner failure taxonomy. None of these ever leave Plan; they
// end up as the reason on a fallback step.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable is false only for validation errors: a schema-invalid reply is
// not expected to fix itself on the next attempt.
func (e *Error) Retryable() bool {
	return e.Kind != KindValidation
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func classifyProviderError(err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(KindTimeout, "completion deadline exceeded", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindTimeout, "completion timed out", err)
	case errors.Is(err, llm.ErrMalformedResponse):
		return newError(KindParse, "response body is not valid json", err)
	case errors.Is(err, llm.ErrEmptyResponse), errors.Is(err, llm.ErrModel):
		return newError(KindModel, "model returned no usable completion", err)
	default:
		return newError(KindNetwork, "completion request failed", err)
	}
}
