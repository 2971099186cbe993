package core

import (
	"errors"
	"fmt"
)

type Code int

const (
	CodeContainerAlreadyPaused Code = iota + 1
	CodeMissingObjectID
	CodeVerifySerializable
	CodeCorruptSnapshot
	CodeMissingRenderHandle
	CodeImmutableProp
	CodeErrorWhileRendering
)

var codeText = map[Code]string{
	CodeContainerAlreadyPaused: "container already paused",
	CodeMissingObjectID:        "missing object id",
	CodeVerifySerializable:     "value is not serializable",
	CodeCorruptSnapshot:        "corrupt snapshot",
	CodeMissingRenderHandle:    "notified host element has no render handle",
	CodeImmutableProp:          "can not mutate immutable store",
	CodeErrorWhileRendering:    "error while rendering",
}

func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

var (
	ErrContainerAlreadyPaused = &Error{Code: CodeContainerAlreadyPaused}
	ErrMissingObjectID        = &Error{Code: CodeMissingObjectID}
	ErrVerifySerializable     = &Error{Code: CodeVerifySerializable}
	ErrCorruptSnapshot        = &Error{Code: CodeCorruptSnapshot}
	ErrMissingRenderHandle    = &Error{Code: CodeMissingRenderHandle}
	ErrImmutableProp          = &Error{Code: CodeImmutableProp}
	ErrErrorWhileRendering    = &Error{Code: CodeErrorWhileRendering}
)

// Error is the error type of every checkpoint, resume and scheduling failure.
// Errors compare equal under errors.Is when their codes match.
type Error struct {
	Code   Code
	Op     string
	Object any
	Err    error
}

func NewError(code Code, op string, obj any, err error) *Error {
	return &Error{Code: code, Op: op, Object: obj, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "q: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += e.Code.String()
	if e.Object != nil {
		msg += fmt.Sprintf(" (%s)", describe(e.Object))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code
}

func describe(obj any) string {
	switch v := obj.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%T", obj)
}
