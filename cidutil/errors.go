package cidutil

import (
	"errors"
	"io/fs"
	"os"
)

// Kind is a stable category for hashing and decoding failures.
//
// Callers should branch on Kind rather than matching error strings.
type Kind string

const (
	KindNotFound Kind = "NotFound"
	KindIO       Kind = "IOError"
	KindParse    Kind = "ParseError"
)

// Error is the structured error returned by the hasher.
//
// A CID is never returned together with an *Error: partially read inputs do
// not produce identifiers.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if unknown.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// ParseError wraps a decoding failure of a document.
func ParseError(path, msg string, cause error) error {
	return &Error{Kind: KindParse, Path: path, Message: msg, Cause: cause}
}

// IOError classifies a filesystem error as NotFound or IOError.
func IOError(path, msg string, cause error) error {
	if errors.Is(cause, fs.ErrNotExist) || os.IsNotExist(cause) {
		return &Error{Kind: KindNotFound, Path: path, Message: msg, Cause: cause}
	}
	return &Error{Kind: KindIO, Path: path, Message: msg, Cause: cause}
}
