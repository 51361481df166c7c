// Package errs defines the error kinds raised by the geometry value type and its codecs.
//
// Every failure is an *Error carrying a Kind. Kinds are themselves errors, so callers test
// with errors.Is(err, errs.MalformedGeometry) regardless of how deep the error is wrapped.
package errs

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"
)

type Kind int

const (
	// ConversionError: the input cannot be interpreted as a geometry.
	ConversionError Kind = iota + 1
	// UnsupportedConversion: the source value kind has no conversion to geometry.
	UnsupportedConversion
	// NotConvertible: geometry has no numeric, temporal or boolean projection.
	NotConvertible
	MalformedGeometry
	UnexpectedEndOfStream
	TransportError
	UnsupportedDimension
	UnknownStorageMode
	// ExternalStore wraps every dialect decode/encode failure.
	ExternalStore
	// TypeMismatch is a programming error at the storage-mode dispatch boundary.
	TypeMismatch
)

var kindNames = map[Kind]string{
	ConversionError:       "conversion error",
	UnsupportedConversion: "unsupported conversion",
	NotConvertible:        "not convertible",
	MalformedGeometry:     "malformed geometry",
	UnexpectedEndOfStream: "unexpected end of stream",
	TransportError:        "transport error",
	UnsupportedDimension:  "unsupported dimension",
	UnknownStorageMode:    "unknown storage mode",
	ExternalStore:         "external store error",
	TypeMismatch:          "type mismatch",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is a failure of one kind, annotated with the descriptor of the value it came from.
type Error struct {
	Kind    Kind
	Desc    string
	Msg     string
	Column  int
	Dialect string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Desc != "" {
		msg = e.Desc + " : " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates an error of the given kind for the value described by desc.
func New(kind Kind, desc string, format string, args ...any) *Error {
	return &Error{Kind: kind, Desc: desc, Msg: fmt.Sprintf(format, args...), Column: -1}
}

// Wrap creates an error of the given kind that keeps cause reachable through errors.Is/As.
func Wrap(kind Kind, desc string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Desc: desc, Msg: fmt.Sprintf(format, args...), Column: -1, Err: errors.WithStack(cause)}
}

// Store wraps a dialect failure on column index col for the named driver.
func Store(desc string, col int, dialect string, cause error, op string) *Error {
	return &Error{
		Kind:    ExternalStore,
		Desc:    desc,
		Msg:     fmt.Sprintf("unable to %s geometry at index %d for %s", op, col, dialect),
		Column:  col,
		Dialect: dialect,
		Err:     cause,
	}
}

// IsFatal reports whether err is a non-retryable programming error.
func IsFatal(err error) bool {
	return errors.Is(err, TypeMismatch)
}

// IsTimeout reports whether err is a deadline or socket timeout that must propagate unmodified.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
