package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class buckets a failed inference call for retry and backoff decisions.
type Class int

const (
	// ClassFatal is a non-retryable failure: validation problems, schema
	// mismatches, 4xx responses other than 429. Propagates immediately.
	ClassFatal Class = iota
	// ClassTransient is a retryable failure: 5xx, timeouts, connection
	// resets. Retried with exponential delay up to the attempt cap.
	ClassTransient
	// ClassRateLimited means the account-wide quota tripped (429). Drives
	// the dispatcher's global backoff window and does not consume a retry
	// attempt.
	ClassRateLimited
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// CallError is a classified failure of a single inference call.
type CallError struct {
	Class  Class
	Status int // HTTP status when the failure came from a response, else 0
	Msg    string
	Err    error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("inference call failed (%s, status %d): %s", e.Class, e.Status, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("inference call failed (%s): %v", e.Class, e.Err)
	}
	return fmt.Sprintf("inference call failed (%s): %s", e.Class, e.Msg)
}

func (e *CallError) Unwrap() error { return e.Err }

// ClassOf returns the classification of an error. Errors that are not
// CallErrors are treated as transient when they look like network trouble
// and fatal otherwise.
func ClassOf(err error) Class {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassFatal
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool { return ClassOf(err) == ClassRateLimited }

// IsRetryable reports whether err may succeed on retry (transient or
// rate-limited).
func IsRetryable(err error) bool { return ClassOf(err) != ClassFatal }

func classifyStatus(status int, body string) *CallError {
	class := ClassFatal
	switch {
	case status == 429:
		class = ClassRateLimited
	case status >= 500:
		class = ClassTransient
	}
	return &CallError{Class: class, Status: status, Msg: truncate(body, 300)}
}

func transientErr(op string, err error) *CallError {
	return &CallError{Class: ClassTransient, Msg: op, Err: err}
}

func fatalErr(op string, err error) *CallError {
	return &CallError{Class: ClassFatal, Msg: op, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
