/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package errors

import (
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
)

var (
	errorId = atomic.Uint64{}

	ErrRuntime = New("errors: runtime error")
)

// Error is a sentinel error with identity. Two errors produced by Wrap from
// the same sentinel compare equal under Is regardless of their causes, so
// callers can match the failure class while the cause chain keeps the
// OS-level detail.
type Error struct {
	id      uint64
	Message string
	Cause   error
}

func (err *Error) Wrap(cause error) *Error {
	return &Error{
		id:      err.id,
		Message: err.Message,
		Cause:   cause,
	}
}

func (err *Error) Wrapf(format string, a ...any) *Error {
	return err.Wrap(Newf(format, a...))
}

func (err *Error) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%s caused by %s", err.Message, err.Cause.Error())
	}

	return err.Message
}

func (err *Error) Unwrap() error {
	return err.Cause
}

func (err *Error) Is(target error) bool {
	if castTarget, ok := target.(*Error); ok {
		if err.id == castTarget.id {
			return true
		}
	}

	return errors.Is(err.Cause, target)
}

func New(a ...any) *Error {
	return &Error{
		id:      errorId.Add(1) - 1,
		Message: fmt.Sprint(a...),
		Cause:   nil,
	}
}

func Newf(format string, a ...any) *Error {
	return New(fmt.Sprintf(format, a...))
}

// Errno digs the OS error out of a cause chain. Driver and mapping failures
// always carry one; everything else reports false.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}

	return 0, false
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func Is(err error, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
