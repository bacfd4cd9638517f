package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// ErrorCode identifies one kind of failure surfaced by sqlxml.
type ErrorCode string

const (
	// ErrMalformedDeclaration indicates a leading XML or text declaration began
	// matching but never completed correctly, including truncation.
	ErrMalformedDeclaration ErrorCode = "xml-malformed-declaration"
	// ErrEncodingMismatch indicates the declared encoding does not resolve to the
	// server encoding.
	ErrEncodingMismatch ErrorCode = "xml-encoding-mismatch"
	// ErrUndeclaredEncoding indicates content without an encoding declaration was
	// checked strictly against a server encoding other than UTF-8.
	ErrUndeclaredEncoding ErrorCode = "xml-undeclared-encoding"
	// ErrUnsupportedEncoding indicates an encoding name has no local decoder.
	ErrUnsupportedEncoding ErrorCode = "encoding-unsupported"
	// ErrLimitExceeded indicates parsed content exceeded a configured limit.
	ErrLimitExceeded ErrorCode = "xml-limit-exceeded"

	// ErrAlreadyConsumed indicates a value was already read, written, or adopted.
	ErrAlreadyConsumed ErrorCode = "varlena-already-consumed"
	// ErrNotYetProduced indicates adopt was attempted on a value never written.
	ErrNotYetProduced ErrorCode = "varlena-not-produced"
	// ErrAlreadyFreed indicates the backing buffer was already released.
	ErrAlreadyFreed ErrorCode = "varlena-already-freed"
	// ErrVerificationFailed indicates the content does not conform to the type
	// the host expects.
	ErrVerificationFailed ErrorCode = "varlena-verification-failed"

	// ErrStreamClosed indicates an operation on a closed stream.
	ErrStreamClosed ErrorCode = "stream-closed"
	// ErrMarkNotSet indicates reset was attempted without an outstanding mark.
	ErrMarkNotSet ErrorCode = "stream-mark-not-set"
	// ErrResetUnsupported indicates a constituent stream cannot be rewound.
	ErrResetUnsupported ErrorCode = "stream-reset-unsupported"
)

// Error describes a failure with a code, a message, and optional byte offset
// and cause.
type Error struct {
	Err     error
	Code    ErrorCode
	Message string
	Offset  int64
}

// Error formats the code, message, offset, and cause.
func (e *Error) Error() string {
	if e == nil {
		return "sqlxml error <nil>"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Offset > 0 {
		b.WriteString(fmt.Sprintf(" at offset %d", e.Offset))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause and the errdefs class of the code.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	var out []error
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if class := classOf(e.Code); class != nil {
		out = append(out, class)
	}
	return out
}

// Is matches another *Error with the same code, so callers can compare
// against a bare &Error{Code: ...}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func classOf(code ErrorCode) error {
	switch code {
	case ErrMalformedDeclaration, ErrEncodingMismatch, ErrUndeclaredEncoding, ErrUnsupportedEncoding, ErrLimitExceeded:
		return errdefs.ErrInvalidArgument
	case ErrAlreadyConsumed:
		return errdefs.ErrConflict
	case ErrNotYetProduced, ErrStreamClosed, ErrMarkNotSet:
		return errdefs.ErrFailedPrecondition
	case ErrAlreadyFreed:
		return errdefs.ErrNotFound
	case ErrResetUnsupported:
		return errdefs.ErrNotImplemented
	case ErrVerificationFailed:
		return errdefs.ErrDataLoss
	default:
		return nil
	}
}

// New builds an Error with a code and message.
func New(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf formats a message and builds an Error.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap builds an Error carrying cause.
func Wrap(code ErrorCode, cause error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// AtOffset returns a copy of e annotated with a byte offset.
func (e *Error) AtOffset(offset int64) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Offset = offset
	return &cp
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Code, true
	}
	return "", false
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}
