package apperr

import (
	"errors"
	"fmt"
)

// Origin says who is to blame for an error. User errors are shown to the
// invoking user, everything else goes to the developer.
type Origin string

const (
	Internal Origin = "Internal"
	External Origin = "External"
	Unknown  Origin = "Unknown"
	User     Origin = "User"
)

type Kind string

const (
	AlreadyExists   Kind = "AlreadyExists"
	BlockedAction   Kind = "BlockedAction"
	CanceledAction  Kind = "CanceledAction"
	CorruptedFile   Kind = "CorruptedFile"
	EmptyValue      Kind = "EmptyValue"
	GhostEditing    Kind = "GhostEditing"
	InvalidValue    Kind = "InvalidValue"
	LogicError      Kind = "LogicError"
	MissingParam    Kind = "MissingParam"
	MissingVariable Kind = "MissingVariable"
	NotEnoughArgs   Kind = "NotEnoughArgs"
	NotFound        Kind = "NotFound"
	NotSent         Kind = "NotSent"
	NullishValue    Kind = "NullishValue"
	SyntaxError     Kind = "SyntaxError"
	Other           Kind = "Other"
	TimeOut         Kind = "TimeOut"
	TypeError       Kind = "TypeError"
)

type Error struct {
	Message string
	Origin  Origin
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind. A target carrying a message
// must match it too, so Kind-only targets work as sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

func New(origin Origin, kind Kind, message string) *Error {
	return &Error{Message: message, Origin: origin, Kind: kind}
}

func Newf(origin Origin, kind Kind, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Origin: origin, Kind: kind}
}

func Wrap(err error, origin Origin, kind Kind, message string) *Error {
	return &Error{Message: message, Origin: origin, Kind: kind, Err: err}
}

// Userf builds an error meant to be echoed back to whoever ran the command.
func Userf(kind Kind, format string, args ...any) *Error {
	return Newf(User, kind, format, args...)
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

func OriginOf(err error) Origin {
	var e *Error
	if errors.As(err, &e) {
		return e.Origin
	}
	return Unknown
}

func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

func IsUser(err error) bool {
	return OriginOf(err) == User
}

// Message returns the human readable part of err without the wrapped chain.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
