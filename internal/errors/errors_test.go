package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestXDBError_Error(t *testing.T) {
	err := New(ErrCategoryLookup, CodeTableNotFound, "table orders not found")
	expected := "[LOOKUP:TABLE_NOT_FOUND] table orders not found"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestXDBError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk I/O error")
	err := Wrap(ErrCategoryPersistence, CodeQueryFailed, "insert failed", cause)
	expected := "[PERSISTENCE:QUERY_FAILED] insert failed: disk I/O error"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestXDBError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryPersistence, CodeQueryFailed, "failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestXDBError_Is(t *testing.T) {
	err1 := New(ErrCategoryIntegrity, CodeConstraintViolation, "first")
	err2 := New(ErrCategoryIntegrity, CodeConstraintViolation, "second")
	err3 := New(ErrCategoryIntegrity, CodeObjectInUse, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryPersistence, CodeTxnWaitTimeout, true},
		{ErrCategoryPersistence, CodeQueryFailed, false},
		{ErrCategoryPersistence, CodeTxnOwnership, false},
		{ErrCategoryLock, CodeLockTimeout, true},
		{ErrCategoryLock, CodeSchedulerClose, false},
		{ErrCategoryIntegrity, CodeConstraintViolation, false},
		{ErrCategoryGenerator, CodeGeneratorOverflow, false},
		{ErrCategoryLookup, CodeNodeNotFound, false},
		{ErrCategoryConfig, CodeMissingProperty, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("ddl: %w", NewLookupError(CodeUserNotFound, "user %s not found", "bob"))
	if GetCategory(err) != ErrCategoryLookup {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryLookup)
	}
	if GetCode(err) != CodeUserNotFound {
		t.Errorf("got %q, want %q", GetCode(err), CodeUserNotFound)
	}
	if !HasCode(err, ErrCategoryLookup, CodeUserNotFound) {
		t.Error("HasCode should see through wrapping")
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-XDBError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-XDBError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryIntegrity, CodeConstraintViolation, "fk violated")
	detailed := err.WithDetails(map[string]interface{}{"constraint": "fk_orders_customer"})

	if detailed.Details["constraint"] != "fk_orders_customer" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	c := NewConfigError(CodeMissingProperty, "xdb.metadata.database is required")
	if c.Category != ErrCategoryConfig || c.Code != CodeMissingProperty {
		t.Error("NewConfigError mismatch")
	}

	p := NewPersistenceError(CodeQueryFailed, "select failed", cause)
	if p.Category != ErrCategoryPersistence || !errors.Is(p, cause) {
		t.Error("NewPersistenceError mismatch")
	}

	l := NewLookupError(CodeNodeNotFound, "node %d is not registered", 7)
	if l.Category != ErrCategoryLookup || l.Message != "node 7 is not registered" {
		t.Error("NewLookupError mismatch")
	}

	g := NewGeneratorError(CodeGeneratorOverflow, "serial exhausted", nil)
	if g.Category != ErrCategoryGenerator || g.Cause != nil {
		t.Error("NewGeneratorError mismatch")
	}

	v := ConstraintViolation("foreign key fk_c violated")
	if v.Category != ErrCategoryIntegrity || v.Code != CodeConstraintViolation {
		t.Error("ConstraintViolation mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
