package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every lookup failure.
var ErrNotFound = errors.New("not found")

// ErrNotLoaded is returned by adapter operations called before a
// successful load.
var ErrNotLoaded = errors.New("no document loaded")

// NotFoundError reports an unknown resource or entry id.
type NotFoundError struct {
	Kind string // "resource" or "entry"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ParseError is a terminal failure to load a document.
type ParseError struct {
	Format string
	Line   int // 1-based, 0 when unknown
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("parsing %s: line %d: %s", e.Format, e.Line, msg)
	}
	return fmt.Sprintf("parsing %s: %s", e.Format, msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result is the success/error envelope used on the wire.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps data in a successful result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps err in a failed result.
func Fail(err error) Result[any] {
	return Result[any]{Error: err.Error()}
}
