package port

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound = errors.New("file not found")

	// ErrNotDispatched matches every *TransportError.
	ErrNotDispatched = errors.New("operation not dispatched to database")
	// ErrRejected matches every *CommandError.
	ErrRejected = errors.New("operation rejected by database")
	// ErrIntegrity matches every *IntegrityError.
	ErrIntegrity = errors.New("stored data violates file invariants")

	ErrNamespaceExists   = &CommandError{Code: CodeNamespaceExists, Name: "NamespaceExists"}
	ErrNamespaceNotFound = &CommandError{Code: CodeNamespaceNotFound, Name: "NamespaceNotFound"}
	ErrDuplicateKey      = &CommandError{Code: CodeDuplicateKey, Name: "DuplicateKey"}
)

// Database error codes.
const (
	CodeBadValue          = 2
	CodeFailedToParse     = 9
	CodeIllegalOperation  = 20
	CodeNamespaceNotFound = 26
	CodeNamespaceExists   = 48
	CodeImmutableField    = 66
	CodeDuplicateKey      = 11000
)

// TransportError reports an operation that never reached the database:
// network failure, open circuit or dispatch timeout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: not dispatched: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrNotDispatched }

// CommandError reports an operation the database received and refused.
type CommandError struct {
	Code    int
	Name    string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.Name, e.Code)
	}
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

// Is matches ErrRejected and any *CommandError with the same code, so
// errors.Is(err, port.ErrNamespaceExists) works on returned errors.
func (e *CommandError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	var other *CommandError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// NewCommandError builds a CommandError with the canonical name for code.
func NewCommandError(code int, format string, args ...any) *CommandError {
	return &CommandError{Code: code, Name: codeName(code), Message: fmt.Sprintf(format, args...)}
}

func codeName(code int) string {
	switch code {
	case CodeBadValue:
		return "BadValue"
	case CodeFailedToParse:
		return "FailedToParse"
	case CodeIllegalOperation:
		return "IllegalOperation"
	case CodeNamespaceNotFound:
		return "NamespaceNotFound"
	case CodeNamespaceExists:
		return "NamespaceExists"
	case CodeImmutableField:
		return "ImmutableField"
	case CodeDuplicateKey:
		return "DuplicateKey"
	default:
		return "UnknownError"
	}
}

// IntegrityError reports stored documents that do not describe a valid
// file: a chunk without data, an unexpected chunk number or size, or a
// length or digest that disagrees with the file record.
type IntegrityError struct {
	Collection string
	Document   string
	Reason     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in %s document %s: %s", e.Collection, e.Document, e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
