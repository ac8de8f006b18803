package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a quotedesk error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"           // 404
	ErrDuplicate         ErrorCode = "DUPLICATE"           // 409
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"  // 409
	ErrIneligible        ErrorCode = "INELIGIBLE"          // 422
	ErrLabelMissing      ErrorCode = "LABEL_MISSING"       // 422
	ErrConfig            ErrorCode = "CONFIG"              // 500
	ErrSlotRange         ErrorCode = "SLOT_RANGE_EXCEEDED" // 500
	ErrComputeFailed     ErrorCode = "COMPUTE_FAILED"      // 502
	ErrTransport         ErrorCode = "TRANSPORT"           // 502
	ErrInternal          ErrorCode = "INTERNAL"            // 500
)

// QuoteError represents a structured error with code, status, and details.
type QuoteError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *QuoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *QuoteError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *QuoteError {
	return &QuoteError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a record cannot be found.
func NewNotFound(identifier string) *QuoteError {
	return &QuoteError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("record not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewDuplicate creates a 409 error for a fingerprint that is already finalized.
func NewDuplicate(fingerprint, state string) *QuoteError {
	return &QuoteError{
		Code:    ErrDuplicate,
		Status:  409,
		Message: fmt.Sprintf("message already handled (state %s)", state),
		Details: map[string]any{"fingerprint": fingerprint, "state": state},
	}
}

// NewInvalidTransition creates a 409 error for a state change the machine forbids.
func NewInvalidTransition(id, from, to string) *QuoteError {
	return &QuoteError{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("cannot move record %s from %s to %s", id, from, to),
		Details: map[string]any{"id": id, "from": from, "to": to},
	}
}

// NewIneligible creates a 422 error carrying the human-readable skip reason.
func NewIneligible(reason string) *QuoteError {
	return &QuoteError{
		Code:    ErrIneligible,
		Status:  422,
		Message: reason,
	}
}

// NewLabelMissing creates a 422 error when the quote label row is absent from the markup.
func NewLabelMissing(label string) *QuoteError {
	return &QuoteError{
		Code:    ErrLabelMissing,
		Status:  422,
		Message: fmt.Sprintf("quote label %q not found in message table", label),
		Details: map[string]any{"label": label},
	}
}

// NewConfig creates a 500 error for missing or inconsistent configuration.
func NewConfig(msg string) *QuoteError {
	return &QuoteError{
		Code:    ErrConfig,
		Status:  500,
		Message: msg,
	}
}

// NewSlotRange creates a 500 error when a category runs out of workbook columns.
func NewSlotRange(category string, slot, max int) *QuoteError {
	return &QuoteError{
		Code:    ErrSlotRange,
		Status:  500,
		Message: fmt.Sprintf("category %q has no free column for slot %d (max %d slots)", category, slot, max),
		Details: map[string]any{"category": category, "slot": slot, "max_slots": max},
	}
}

// NewComputeFailed creates a 502 error for a failed read or write against the valuation engine.
func NewComputeFailed(category string, err error) *QuoteError {
	msg := "valuation engine failure"
	if err != nil {
		msg = err.Error()
	}
	return &QuoteError{
		Code:    ErrComputeFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"category": category},
		cause:   err,
	}
}

// NewTransport creates a 502 error for a mail transport failure.
func NewTransport(op string, err error) *QuoteError {
	msg := op + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &QuoteError{
		Code:    ErrTransport,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *QuoteError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &QuoteError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err, or anything it wraps, is a QuoteError with the given code.
func Is(err error, code ErrorCode) bool {
	var qErr *QuoteError
	if stderrors.As(err, &qErr) {
		return qErr.Code == code
	}
	return false
}

// As returns the first QuoteError in err's chain.
func As(err error) (*QuoteError, bool) {
	var qErr *QuoteError
	if stderrors.As(err, &qErr) {
		return qErr, true
	}
	return nil, false
}
