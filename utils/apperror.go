package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies every error crossing a component boundary so the
// HTTP layer can map it to a status code without string matching.
type ErrorKind string

const (
	KindValidation          ErrorKind = "Validation"
	KindNotFound            ErrorKind = "NotFound"
	KindPreconditionFailed  ErrorKind = "PreconditionFailed"
	KindCapacityOverload    ErrorKind = "CapacityOverload"
	KindStockShortage       ErrorKind = "StockShortage"
	KindReservationConflict ErrorKind = "ReservationConflict"
	KindIntegrity           ErrorKind = "Integrity"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	// Fields maps input field names to human-readable problems (Validation only).
	Fields map[string]string
	// CurrentState/AttemptedState are set for PreconditionFailed.
	CurrentState   string
	AttemptedState string
	// Line/Date/MissingMinutes are set for CapacityOverload.
	Line           int
	Date           time.Time
	MissingMinutes decimal.Decimal
	Err            error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewValidationError(message string, fields map[string]string) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Fields: fields}
}

func NewNotFoundError(entity string, id int) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s %d not found", entity, id)}
}

func NewPreconditionError(message, current, attempted string) *AppError {
	return &AppError{
		Kind:           KindPreconditionFailed,
		Message:        message,
		CurrentState:   current,
		AttemptedState: attempted,
	}
}

func NewOverloadError(line int, date time.Time, missingMinutes decimal.Decimal) *AppError {
	return &AppError{
		Kind:           KindCapacityOverload,
		Message:        fmt.Sprintf("line %d cannot absorb the load within the horizon", line),
		Line:           line,
		Date:           date,
		MissingMinutes: missingMinutes,
	}
}

func NewShortageError(message string) *AppError {
	return &AppError{Kind: KindStockShortage, Message: message}
}

func NewConflictError(message string) *AppError {
	return &AppError{Kind: KindReservationConflict, Message: message}
}

func NewIntegrityError(message string, err error) *AppError {
	return &AppError{Kind: KindIntegrity, Message: message, Err: err}
}

// KindOf returns the ErrorKind of err, or KindIntegrity for untyped errors
// (store-level failures surface as 500-class).
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return KindNotFound
	}
	return KindIntegrity
}
