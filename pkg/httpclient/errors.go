package httpclient

import (
	"fmt"
)

// RetryableError reports that a request kept failing with a condition
// that would have been worth retrying. StatusCode is 0 when the last
// failure was a transport error.
type RetryableError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
