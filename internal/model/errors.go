package model

import "fmt"

// ParseError represents parsing errors with document context
type ParseError struct {
	DocumentType DocumentType
	Field        string
	Message      string
	Cause        error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.DocumentType, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.DocumentType, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error
func NewParseError(docType DocumentType, field, message string, cause error) *ParseError {
	return &ParseError{
		DocumentType: docType,
		Field:        field,
		Message:      message,
		Cause:        cause,
	}
}

// ValidationError represents validation failures, distinct from parse
// failures so operators can tell "could not read it" from "read it but
// it is not trustworthy".
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}

// DuplicateError is returned when an invoice with the same access key and
// content hash is enqueued again. Callers treat it as a successful no-op.
type DuplicateError struct {
	AccessKey   string
	ContentHash string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate invoice %s (hash %s)", e.AccessKey, e.ContentHash)
}

// ConflictError is returned when an access key is enqueued again with a
// different content hash. It flags a possible corrected resend; the
// existing item is never overwritten.
type ConflictError struct {
	AccessKey    string
	ExistingHash string
	NewHash      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("access key %s already queued with different content (have %s, got %s)",
		e.AccessKey, e.ExistingHash, e.NewHash)
}

// ExtractionError represents archive extraction failures
type ExtractionError struct {
	Entry   string
	Message string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction failed [%s]: %s (%v)", e.Entry, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction failed [%s]: %s", e.Entry, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// NewExtractionError creates a new extraction error
func NewExtractionError(entry, message string, cause error) *ExtractionError {
	return &ExtractionError{
		Entry:   entry,
		Message: message,
		Cause:   cause,
	}
}
