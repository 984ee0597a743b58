package domain

import (
	"errors"
	"fmt"
)

// IOError wraps a filesystem failure on one path. At batch level it is
// recorded per item and never aborts the run.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error on %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// UnsupportedFormatError marks a file the decoder cannot handle. Recorded as
// a per-file failure; the batch continues.
type UnsupportedFormatError struct {
	Path   string
	Detail string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unsupported format: %s", e.Path)
	}
	return fmt.Sprintf("unsupported format: %s: %s", e.Path, e.Detail)
}

// CorruptError means a persisted session document failed validation. The
// store never repairs or deletes the file; it is preserved under
// RecoveryPath and the error surfaced.
type CorruptError struct {
	Path         string
	Reason       string
	RecoveryPath string
	Err          error
}

func (e *CorruptError) Error() string {
	msg := fmt.Sprintf("corrupt session document %s: %s", e.Path, e.Reason)
	if e.RecoveryPath != "" {
		msg += fmt.Sprintf(" (preserved as %s)", e.RecoveryPath)
	}
	return msg
}

func (e *CorruptError) Unwrap() error { return e.Err }

// NotFoundError reports a session name with no persisted document.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.Name)
}

// InsufficientDataError reports an operation that had nothing to work with:
// an auto-assign call with zero candidates, or audio too short to analyze.
// No partial mutation accompanies it.
type InsufficientDataError struct {
	Detail string
}

func (e *InsufficientDataError) Error() string {
	return "insufficient data: " + e.Detail
}

// CancelledError reports cooperative cancellation of a batch. Done counts the
// entries that completed before the stop; their results remain valid and
// cached.
type CancelledError struct {
	Done int
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("batch cancelled after %d entries", e.Done)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsCorrupt(err error) bool {
	var target *CorruptError
	return errors.As(err, &target)
}

func IsCancelled(err error) bool {
	var target *CancelledError
	return errors.As(err, &target)
}

func IsUnsupportedFormat(err error) bool {
	var target *UnsupportedFormatError
	return errors.As(err, &target)
}

func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}
