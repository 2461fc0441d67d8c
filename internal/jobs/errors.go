package jobs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is returned by Checkpoint when cancellation was requested.
	ErrCancelled = errors.New("job cancelled")

	// ErrUnknownKind indicates a job kind with no payload type.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrNotOwner indicates the caller no longer holds the job.
	ErrNotOwner = errors.New("job not owned by worker")

	// ErrNotFound indicates the job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// TransientError marks a failure worth retrying, such as a network timeout.
type TransientError struct {
	Err error
}

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that retrying cannot fix, such as an
// invalid payload. The job fails without consuming its retry budget.
type PermanentError struct {
	Err error
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf formats a PermanentError.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// HandlerPanicError is produced when a handler panics. The worker loop
// converts it into an ordinary job failure.
type HandlerPanicError struct {
	Kind  Kind
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panic in %s; %v", e.Kind, e.Value)
}

// IsPermanent reports whether err should bypass retries.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// IsPanic reports whether err came from a recovered handler panic.
func IsPanic(err error) bool {
	var p *HandlerPanicError
	return errors.As(err, &p)
}

// Summary returns a single-line, stack-free message suitable for LastError.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	const limit = 512
	if len(msg) > limit {
		msg = msg[:limit]
	}
	return msg
}
