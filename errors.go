package nvmeqd

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured nvmeqd error with context and errno mapping:
// domain-specific fields (QpairID, no DevID since there is no kernel
// device node) plus an Op/Code/Errno/Inner shape and errors.Is/As
// support.
type Error struct {
	Op      string  // operation that failed (e.g. "Driver.Init", "SubmitRW")
	QpairID int     // queue pair number (-1 if not applicable)
	Code    ErrCode // high-level error category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.QpairID >= 0 {
		parts = append(parts, fmt.Sprintf("qpair=%d", e.QpairID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nvmeqd: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nvmeqd: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports comparing against another *Error by Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrCode is a high-level error category.
type ErrCode string

const (
	ErrCodeRegionNotFound    ErrCode = "shared-memory region not found"
	ErrCodeRegionExists      ErrCode = "shared-memory region already reserved"
	ErrCodeOracleUnavailable ErrCode = "checksum oracle unavailable"
	ErrCodeQueueFull         ErrCode = "submission ring full"
	ErrCodeInvalidParameters ErrCode = "invalid parameters"
	ErrCodeQueuePairLimit    ErrCode = "queue pair limit exceeded"
	ErrCodeTimeout           ErrCode = "timeout"
	ErrCodeDeviceReported    ErrCode = "device reported error"
)

// NewError creates a structured error with no queue pair context.
func NewError(op string, code ErrCode, msg string) *Error {
	return &Error{Op: op, QpairID: -1, Code: code, Msg: msg}
}

// NewQueuePairError creates a structured error scoped to one queue pair.
func NewQueuePairError(op string, qpairID int, code ErrCode, msg string) *Error {
	return &Error{Op: op, QpairID: qpairID, Code: code, Msg: msg}
}

// NewVerifyError creates a structured error for a read-verify failure
// (spec §4.3, §9 error kinds), scoped to the queue pair that observed it.
func NewVerifyError(qpairID int, kind string) *Error {
	return &Error{Op: "Verify", QpairID: qpairID, Code: ErrCodeDeviceReported, Msg: kind}
}

// WrapError wraps an existing error with nvmeqd context, mapping a bare
// syscall.Errno to the closest ErrCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, QpairID: e.QpairID, Code: e.Code, Errno: e.Errno, Msg: e.Msg, Inner: e.Inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, QpairID: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, QpairID: -1, Code: ErrCodeInvalidParameters, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeRegionNotFound
	case syscall.EEXIST:
		return ErrCodeRegionExists
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeOracleUnavailable
	default:
		return ErrCodeDeviceReported
	}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
