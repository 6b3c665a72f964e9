package tracemoe

import "fmt"

// TransientError is a network failure or a server-side status worth retrying
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tracemoe request: http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tracemoe request: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks the error as safe to retry with the same payload
func (e *TransientError) Transient() bool { return true }

// ServiceError is a well-formed refusal from the service, such as a bad
// image or an exhausted quota. It is not retried.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("search service error (http %d): %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Transient() bool { return false }
