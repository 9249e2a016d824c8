package core

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrExtraction    = errors.New("extraction failed")
	ErrConfiguration = errors.New("configuration error")
)

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	} else if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Message returns the caller-facing text of err: the message of the
// outermost *Error when there is one, otherwise the kind.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		if e.Kind != nil {
			return e.Kind.Error()
		}
	}
	return err.Error()
}

func Unauthorized(op string) error {
	return &Error{Kind: ErrUnauthorized, Op: op}
}

func NotFound(op, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: msg}
}

func Invalid(op string, err error) error {
	return &Error{Kind: ErrValidation, Op: op, Err: err}
}

func Invalidf(op, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: msg}
}

func Extraction(op, msg string, err error) error {
	return &Error{Kind: ErrExtraction, Op: op, Msg: msg, Err: err}
}

func Misconfigured(op, msg string) error {
	return &Error{Kind: ErrConfiguration, Op: op, Msg: msg}
}
