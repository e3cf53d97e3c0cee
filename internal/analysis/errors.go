package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrBadRequest    = errors.New("bad request")
)

// RequestError is a client-facing failure. Kind is one of the sentinel
// errors above and Detail is the message returned to the caller.
type RequestError struct {
	Kind   error
	Detail string
	Cause  error
}

func (e *RequestError) Error() string { return e.Detail }

func (e *RequestError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func NotFound(format string, args ...any) error {
	return &RequestError{Kind: ErrModelNotFound, Detail: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) error {
	return &RequestError{Kind: ErrBadRequest, Detail: fmt.Sprintf(format, args...)}
}

// InvalidRequest marks cause as the caller's fault, keeping its message.
func InvalidRequest(cause error) error {
	return &RequestError{Kind: ErrBadRequest, Detail: cause.Error(), Cause: cause}
}
