package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrOutputClosed is the cause of a ReadError when the worker's stdout hits EOF.
	ErrOutputClosed = errors.New("worker stdout closed unexpectedly")
	// ErrStopped is the cause of a ReadError for calls cut short by Close.
	ErrStopped = errors.New("worker stopped")
)

// NotRunningError is returned when no worker process is available.
type NotRunningError struct{}

func (e *NotRunningError) Error() string {
	return "runtime is not running"
}

// WriteError reports a failure writing a request to the worker's stdin.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write to worker stdin: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports that the worker's stdout ended before a reply arrived.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read from worker stdout: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// RemoteError carries the error string the worker replied with.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsNotRunning reports whether err means the worker is not running.
func IsNotRunning(err error) bool {
	var nre *NotRunningError
	return errors.As(err, &nre)
}
