package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRequest covers transport failures: DNS, refused connections, resets.
	ErrRequest = errors.New("upstream request failed")
	// ErrStatus is wrapped by StatusError for non-2xx responses.
	ErrStatus = errors.New("upstream returned unexpected status")
	// ErrNoBody means the provider answered without content.
	ErrNoBody = errors.New("upstream response has no body")
	// ErrTooLarge means a buffered response exceeded the size cap. It wraps ErrRequest.
	ErrTooLarge = fmt.Errorf("%w: response exceeds %d bytes", ErrRequest, maxTextBytes)
	// ErrTimeout means the provider did not answer within the configured timeout.
	ErrTimeout = errors.New("upstream service unavailable")
)

// StatusError reports a non-success HTTP status from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}
