package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers requests that never completed, timed out or came
	// back with a non-2xx status.
	ErrTransport = errors.New("transport failure")
	// ErrMalformed covers bodies that do not match the expected shape.
	ErrMalformed = errors.New("malformed response")
)

// ServiceError is a failure the service reported itself via success=false.
type ServiceError struct {
	Op      string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: service reported failure", e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

func transportErr(op string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrTransport, fmt.Sprintf(format, args...))
}

func malformedErr(op string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrMalformed, fmt.Sprintf(format, args...))
}
