package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard error types
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("resource conflict")
	ErrInternal   = errors.New("internal server error")
	ErrValidation = errors.New("validation error")

	// Stock engine error kinds. Callers distinguish these with errors.Is;
	// none of them may be collapsed into a generic failure on the way out.
	ErrOutOfStock           = errors.New("out of stock")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrAllExpired           = errors.New("all batches expired")
	ErrExpiredBatchDetected = errors.New("expired batch detected during apply")
	ErrVersionConflict      = errors.New("version conflict")
	ErrInsufficientFunds    = errors.New("insufficient funds")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

// NotFound reports a missing entity. The code carries the entity name
// (PRODUCT_NOT_FOUND, ACCOUNT_NOT_FOUND, ...) so callers can tell which
// reference was dangling without parsing the message.
func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       strings.ToUpper(resource) + "_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Stock engine constructors

// OutOfStock reports a product with no batches at all to draw from.
func OutOfStock(productID string) *AppError {
	return &AppError{
		Err:        ErrOutOfStock,
		Code:       "OUT_OF_STOCK",
		Message:    "product is out of stock",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"product_id": productID},
	}
}

// InsufficientStock reports a shortfall: non-expired stock exists but does
// not cover the requested quantity. No partial plan accompanies it.
func InsufficientStock(productID string, requested, available int) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("requested %d units but only %d available", requested, available),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"product_id": productID,
			"requested":  fmt.Sprintf("%d", requested),
			"available":  fmt.Sprintf("%d", available),
		},
	}
}

// AllExpired reports that every remaining batch of the product has passed
// its expiry date. Selling expired stock is a hard block with no override.
func AllExpired(productID string) *AppError {
	return &AppError{
		Err:        ErrAllExpired,
		Code:       "ALL_BATCHES_EXPIRED",
		Message:    "all remaining batches are expired",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"product_id": productID},
	}
}

// ExpiredBatchDetected reports the defense-in-depth trip-wire: a batch that
// was valid at planning time failed the expiry re-check before deduction.
func ExpiredBatchDetected(batchID string) *AppError {
	return &AppError{
		Err:        ErrExpiredBatchDetected,
		Code:       "EXPIRED_BATCH_DETECTED",
		Message:    "batch expired between allocation and deduction",
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"batch_id": batchID},
	}
}

// VersionConflict reports an optimistic-lock loss. The caller should reload
// and may retry as a new transaction; it must never be retried silently.
func VersionConflict(resource string) *AppError {
	return &AppError{
		Err:        ErrVersionConflict,
		Code:       "VERSION_CONFLICT",
		Message:    fmt.Sprintf("%s was modified by another process, please refresh", resource),
		StatusCode: http.StatusConflict,
	}
}

// InsufficientFunds reports a payment exceeding the account balance.
func InsufficientFunds(accountID string) *AppError {
	return &AppError{
		Err:        ErrInsufficientFunds,
		Code:       "INSUFFICIENT_FUNDS",
		Message:    "payment amount exceeds account balance",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"account_id": accountID},
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
