package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// A ReturnCode is the process exit status the tool reports for a failure.
type ReturnCode int

const (
	OK             ReturnCode = 0
	OpenFailed     ReturnCode = 10
	ReadFailed     ReturnCode = 11
	InvalidFile    ReturnCode = 12
	OutOfMemory    ReturnCode = 13
	NotImplemented ReturnCode = 14
	WriteFailed    ReturnCode = 20
	Deferred       ReturnCode = 21
	UsageError     ReturnCode = 127
)

func (c ReturnCode) String() string {
	switch c {
	case OK:
		return "ok"
	case OpenFailed:
		return "open failed"
	case ReadFailed:
		return "read failed"
	case InvalidFile:
		return "invalid file"
	case OutOfMemory:
		return "out of memory"
	case NotImplemented:
		return "not implemented"
	case WriteFailed:
		return "write failed"
	case Deferred:
		return "write deferred"
	case UsageError:
		return "usage error"
	}
	return fmt.Sprintf("return code %d", int(c))
}

var (
	// ErrSectionNotFound is returned when an image has no section with
	// the requested segment and section name.
	ErrSectionNotFound = errors.New("section not found")
	// ErrSectionGrowthUnsupported is returned when patched data would
	// not fit in a section that cannot be resized.
	ErrSectionGrowthUnsupported = errors.New("section growth is not supported")
)

// Error attaches a ReturnCode to an underlying failure.
type Error struct {
	Code ReturnCode
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Cause() error  { return e.Err }

// Errorf returns an error with the given code and a formatted message.
func Errorf(code ReturnCode, format string, args ...interface{}) error {
	return &Error{Code: code, Err: errors.Errorf(format, args...)}
}

// Wrap annotates err with msg and tags it with code. It returns nil if err is nil.
func Wrap(code ReturnCode, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with a format string.
func Wrapf(code ReturnCode, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: errors.Wrapf(err, format, args...)}
}

// CodeOf returns the ReturnCode carried by err. Errors without a code are
// reported as InvalidFile, except ErrSectionGrowthUnsupported which is
// NotImplemented.
func CodeOf(err error) ReturnCode {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, ErrSectionGrowthUnsupported) {
		return NotImplemented
	}
	return InvalidFile
}
