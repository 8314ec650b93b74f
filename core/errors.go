package delivery

import "fmt"

// TransportError covers failures where the turn stream never starts or breaks
// before its terminal event. A turn that failed this way is fully retryable
// by issuing a new one.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("turn transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamError is a failure the producer reported mid-stream. Text rendered
// before the failure stays visible.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("turn stream failed: %s", e.Message)
}
