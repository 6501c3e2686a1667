// Package errors provides coded errors for the render queue. Codes map onto
// the failure taxonomy of the system: submission validation, preflight
// failures before the engine spawns, engine runtime failures, and store
// corruption, plus the generic internal/not-found/conflict classes the HTTP
// layer needs.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code categorizes an error.
type Code string

const (
	CodeInternal   Code = "INTERNAL_ERROR"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	// CodePreflight marks failures detected before the render process was
	// spawned (missing scene, missing engine script, output dir not
	// creatable).
	CodePreflight Code = "PREFLIGHT_ERROR"
	// CodeEngine marks a nonzero exit from the external render process.
	CodeEngine Code = "ENGINE_FAILURE"
	// CodeCorrupted marks a job store inconsistency that needs manual
	// inspection; it is fatal at startup, never guessed around.
	CodeCorrupted Code = "STORE_CORRUPTED"
	CodeCanceled  Code = "CANCELED"
)

// Error is a coded error with operation context and a captured stack.
type Error struct {
	Code    Code
	Message string
	// Op is the operation that failed (e.g. "store.claim").
	Op  string
	Err error
	// Stack holds the frames captured at creation.
	Stack []Frame
}

// Frame is a single captured stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString("[")
		b.WriteString(string(e.Code))
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus maps the code to an HTTP status for the API layer.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return 400
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodePreflight:
		return 412
	default:
		return 500
	}
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack(2)}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: captureStack(2)}
}

// Wrap wraps err with operation context. The code of a wrapped *Error is
// preserved; anything else becomes an internal error.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}
	code := CodeInternal
	var e *Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return &Error{Code: code, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

// WrapWithCode wraps err under a specific code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

// Internal creates an internal error.
func Internal(message string) *Error { return New(CodeInternal, message) }

// Internalf creates an internal error with a formatted message.
func Internalf(format string, args ...any) *Error { return Newf(CodeInternal, format, args...) }

// Validation creates a validation error.
func Validation(message string) *Error { return New(CodeValidation, message) }

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error { return Newf(CodeValidation, format, args...) }

// NotFound creates a not-found error for a resource.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", resource, id)
}

// Conflict creates a conflict error.
func Conflict(message string) *Error { return New(CodeConflict, message) }

// Preflight creates a pre-launch failure error.
func Preflight(message string) *Error { return New(CodePreflight, message) }

// Preflightf creates a pre-launch failure error with a formatted message.
func Preflightf(format string, args ...any) *Error { return Newf(CodePreflight, format, args...) }

// Engine creates an engine runtime failure for a nonzero exit code.
func Engine(exitCode int) *Error {
	return Newf(CodeEngine, "engine exited with code %d", exitCode)
}

// Corrupted creates a store corruption error.
func Corrupted(message string) *Error { return New(CodeCorrupted, message) }

// Corruptedf creates a store corruption error with a formatted message.
func Corruptedf(format string, args ...any) *Error { return Newf(CodeCorrupted, format, args...) }

// Canceled creates a cancellation error.
func Canceled(message string) *Error { return New(CodeCanceled, message) }

// GetCode extracts the code from err, defaulting to internal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetHTTPStatus extracts the HTTP status from err.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return 500
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool { return GetCode(err) == code }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

// IsPreflight reports whether err is a pre-launch failure.
func IsPreflight(err error) bool { return IsCode(err, CodePreflight) }

// IsCorrupted reports whether err is a store corruption error.
func IsCorrupted(err error) bool { return IsCode(err, CodeCorrupted) }

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callersFrames.Next()
		if strings.Contains(frame.File, "runtime/") {
			if !more {
				break
			}
			continue
		}
		frames = append(frames, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }
