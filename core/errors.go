package core

import (
	"errors"
	"fmt"
)

// Exception is an event that reports a failure. Exceptions are Go errors and
// travel through the same channel as every other event.
type Exception interface {
	Event
	error

	// Text returns the human-readable description.
	Text() string

	// Source returns the node that threw the exception, if any.
	Source() Node

	// SourceMessage returns the message being handled when it was thrown.
	SourceMessage() Message

	exceptionBase() *ExceptionBase
}

// ExceptionBase implements Exception. Embed it to declare an exception type.
type ExceptionBase struct {
	EventBase
	text   string
	source Node
	srcMsg Message
}

// Text returns the description.
func (e *ExceptionBase) Text() string { return e.text }

// Source returns the throwing node.
func (e *ExceptionBase) Source() Node { return e.source }

// SourceMessage returns the message under dispatch when thrown.
func (e *ExceptionBase) SourceMessage() Message { return e.srcMsg }

func (e *ExceptionBase) Error() string { return e.text }

func (e *ExceptionBase) exceptionBase() *ExceptionBase { return e }

// PortError reports access to a missing port or one whose flags forbid it.
type PortError struct {
	ExceptionBase
	Name string
}

func (*PortError) Kind() *Kind { return KindPortError }

func (e *PortError) Error() string { return "port error: " + e.text }

// NewPortError creates a PortError for the named port.
func NewPortError(name, format string, args ...any) *PortError {
	return &PortError{ExceptionBase: ExceptionBase{text: fmt.Sprintf(format, args...)}, Name: name}
}

// ValueError reports structurally invalid input.
type ValueError struct {
	ExceptionBase
}

func (*ValueError) Kind() *Kind { return KindValueError }

func (e *ValueError) Error() string { return "value error: " + e.text }

// NewValueError creates a ValueError.
func NewValueError(format string, args ...any) *ValueError {
	return &ValueError{ExceptionBase{text: fmt.Sprintf(format, args...)}}
}

// UnsupportedMessageError reports a message or event nobody could handle.
type UnsupportedMessageError struct {
	ExceptionBase
	Msg Message
}

func (*UnsupportedMessageError) Kind() *Kind { return KindUnsupportedMessage }

func (e *UnsupportedMessageError) Error() string {
	return fmt.Sprintf("unsupported message: %s: %s", e.text, describe(e.Msg))
}

// NewUnsupportedMessageError creates an UnsupportedMessageError for msg.
func NewUnsupportedMessageError(text string, msg Message) *UnsupportedMessageError {
	return &UnsupportedMessageError{ExceptionBase: ExceptionBase{text: text}, Msg: msg}
}

// RuntimeError reports a violated kernel invariant.
type RuntimeError struct {
	ExceptionBase
}

func (*RuntimeError) Kind() *Kind { return KindRuntimeError }

func (e *RuntimeError) Error() string { return "runtime error: " + e.text }

// NewRuntimeError creates a RuntimeError.
func NewRuntimeError(format string, args ...any) *RuntimeError {
	return &RuntimeError{ExceptionBase{text: fmt.Sprintf(format, args...)}}
}

// KernelError wraps an unexpected Go error or panic raised inside a handler.
type KernelError struct {
	ExceptionBase
	Err error
}

func (*KernelError) Kind() *Kind { return KindKernelError }

func (e *KernelError) Error() string { return "kernel error: " + e.text }

func (e *KernelError) Unwrap() error { return e.Err }

// NewKernelError wraps err.
func NewKernelError(err error) *KernelError {
	return &KernelError{ExceptionBase: ExceptionBase{text: err.Error()}, Err: err}
}

// CancelledError is the cancellation signal returned by Throw. The exception
// it carries has already been sent; the task only has to unwind.
type CancelledError struct {
	Exception Exception
}

func (e *CancelledError) Error() string {
	if e.Exception == nil {
		return "node task cancelled"
	}
	return "node task cancelled: " + e.Exception.Error()
}

func (e *CancelledError) Unwrap() error {
	if e.Exception == nil {
		return nil
	}
	return e.Exception
}

// FatalError is returned by Kernel.Run when an exception reached the root
// network uncaught.
type FatalError struct {
	Exception Exception
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("uncaught %s: %s", e.Exception.Kind().Name(), e.Exception.Text())
}

func (e *FatalError) Unwrap() error { return e.Exception }

// IsCancelled reports whether err carries a cancellation signal.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// asException converts a handler error into the exception to report.
func asException(err error) Exception {
	var exc Exception
	if errors.As(err, &exc) {
		return exc
	}
	return NewKernelError(err)
}
