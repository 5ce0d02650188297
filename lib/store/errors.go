package store

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess                RetCode = iota // 0: Command executed successfully.
	RetCInternalError                         // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                  // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                      // 3: Invalid operation.
	RetCDuplicateName                         // 4: An extension or codec with this name is already registered.
	RetCExtensionMaintenance                  // 5: An extension hook failed, the transaction was rolled back.
	RetCInvalidQuery                          // 6: A query could not be parsed or bound.
	RetCParameterCountMismatch                // 7: Number of query parameters does not match the placeholders.
	RetCTransactionClosed                     // 8: The transaction was already committed or rolled back.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCDuplicateName:
		return "DuplicateName"
	case RetCExtensionMaintenance:
		return "ExtensionMaintenance"
	case RetCInvalidQuery:
		return "InvalidQuery"
	case RetCParameterCountMismatch:
		return "ParameterCountMismatch"
	case RetCTransactionClosed:
		return "TransactionClosed"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code (of type RetCode) and an error message. Extension,
// Collection and Key name the offending extension or row when known.
type Error struct {
	Code       RetCode
	Msg        string
	Extension  string
	Collection string
	Key        string
	cause      error
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrInternal               = &Error{Code: RetCInternalError}
	ErrUnsupportedOperation   = &Error{Code: RetCUnsupportedOperation}
	ErrInvalidOperation       = &Error{Code: RetCInvalidOperation}
	ErrDuplicateName          = &Error{Code: RetCDuplicateName}
	ErrExtensionMaintenance   = &Error{Code: RetCExtensionMaintenance}
	ErrInvalidQuery           = &Error{Code: RetCInvalidQuery}
	ErrParameterCountMismatch = &Error{Code: RetCParameterCountMismatch}
	ErrTransactionClosed      = &Error{Code: RetCTransactionClosed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "eKV error (code %s)", e.Code)
	if e.Extension != "" {
		fmt.Fprintf(&sb, " in extension %q", e.Extension)
	}
	if e.Collection != "" || e.Key != "" {
		fmt.Fprintf(&sb, " at %s/%s", e.Collection, e.Key)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// WrapError creates a new Error with the given code around a cause.
func WrapError(cause error, code RetCode, format string, args ...any) *Error {
	return &Error{
		Code:  code,
		Msg:   fmt.Sprintf(format, args...),
		cause: cause,
	}
}

// WithRow sets collection and key and returns the error.
func (e *Error) WithRow(collection, key string) *Error {
	e.Collection, e.Key = collection, key
	return e
}

// WithExtension sets the extension name and returns the error.
func (e *Error) WithExtension(name string) *Error {
	e.Extension = name
	return e
}

// CodeOf returns the code of the first *Error in err's chain, RetCInternalError for other
// non-nil errors and RetCSuccess for nil.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}
