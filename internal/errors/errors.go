// Package errors provides structured error types for the xdb metadata core.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of fault.
type ErrorCategory string

const (
	ErrCategoryConfig      ErrorCategory = "CONFIG"
	ErrCategoryPersistence ErrorCategory = "PERSISTENCE"
	ErrCategoryIntegrity   ErrorCategory = "INTEGRITY"
	ErrCategoryLookup      ErrorCategory = "LOOKUP"
	ErrCategoryGenerator   ErrorCategory = "GENERATOR"
	ErrCategoryLock        ErrorCategory = "LOCK"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeMissingProperty = "MISSING_PROPERTY"
	CodeInvalidProperty = "INVALID_PROPERTY"

	// Persistence codes
	CodeQueryFailed      = "QUERY_FAILED"
	CodeTxnOwnership     = "TXN_OWNERSHIP"
	CodeTxnWaitTimeout   = "TXN_WAIT_TIMEOUT"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeSnapshotFailed   = "SNAPSHOT_FAILED"

	// Integrity codes
	CodeConstraintViolation = "CONSTRAINT_VIOLATION"
	CodeObjectInUse         = "OBJECT_IN_USE"
	CodeDuplicateObject     = "DUPLICATE_OBJECT"
	CodeInvalidDefinition   = "INVALID_DEFINITION"
	CodePermissionDenied    = "PERMISSION_DENIED"

	// Lookup codes
	CodeNodeNotFound       = "NODE_NOT_FOUND"
	CodeDatabaseNotFound   = "DATABASE_NOT_FOUND"
	CodeTableNotFound      = "TABLE_NOT_FOUND"
	CodeColumnNotFound     = "COLUMN_NOT_FOUND"
	CodeIndexNotFound      = "INDEX_NOT_FOUND"
	CodeConstraintNotFound = "CONSTRAINT_NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeViewNotFound       = "VIEW_NOT_FOUND"
	CodeTablespaceNotFound = "TABLESPACE_NOT_FOUND"

	// Generator codes
	CodeGeneratorOverflow = "GENERATOR_OVERFLOW"
	CodeResyncFailed      = "RESYNC_FAILED"

	// Lock codes
	CodeLockTimeout    = "LOCK_TIMEOUT"
	CodeSchedulerClose = "SCHEDULER_CLOSED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// XDBError is the structured error type used throughout the system.
type XDBError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *XDBError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *XDBError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *XDBError) Is(target error) bool {
	var t *XDBError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new XDBError.
func New(category ErrorCategory, code, message string) *XDBError {
	return &XDBError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new XDBError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *XDBError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new XDBError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *XDBError {
	return &XDBError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *XDBError) WithDetails(details map[string]interface{}) *XDBError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var xe *XDBError
	if errors.As(err, &xe) {
		return xe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an XDBError.
func GetCategory(err error) ErrorCategory {
	var xe *XDBError
	if errors.As(err, &xe) {
		return xe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an XDBError.
func GetCode(err error) string {
	var xe *XDBError
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// HasCode reports whether err carries the given category and code.
func HasCode(err error, category ErrorCategory, code string) bool {
	return GetCategory(err) == category && GetCode(err) == code
}

// isRetryable determines if an error code is retryable. Only waits that
// timed out are worth retrying; everything else indicates a real fault.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryPersistence && code == CodeTxnWaitTimeout:
		return true
	case category == ErrCategoryLock && code == CodeLockTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *XDBError {
	return New(ErrCategoryConfig, code, message)
}

func NewPersistenceError(code, message string, cause error) *XDBError {
	return Wrap(ErrCategoryPersistence, code, message, cause)
}

func NewIntegrityError(code, message string) *XDBError {
	return New(ErrCategoryIntegrity, code, message)
}

func NewLookupError(code, format string, args ...interface{}) *XDBError {
	return Newf(ErrCategoryLookup, code, format, args...)
}

func NewGeneratorError(code, message string, cause error) *XDBError {
	return Wrap(ErrCategoryGenerator, code, message, cause)
}

func NewLockError(code, message string, cause error) *XDBError {
	return Wrap(ErrCategoryLock, code, message, cause)
}

func NewInternalError(message string, cause error) *XDBError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// ConstraintViolation builds the integrity fault raised by constraint checkers.
func ConstraintViolation(description string) *XDBError {
	return New(ErrCategoryIntegrity, CodeConstraintViolation, description)
}
