/*
errors.go - Centralized error types for the stock engine

PURPOSE:
  All error types in one place. Callers need to tell a data problem from a
  timing conflict without parsing strings, so every failure the engine
  returns matches exactly one sentinel via errors.Is.

ERROR CATEGORIES:
  1. ErrValidation        - bad input (non-positive amount, missing name)
  2. ErrNotFound          - unknown outlet or item reference
  3. ErrConflict          - state conflict (unit change, retired item,
                            out-of-order close, idempotency key reuse)
  4. ErrAlreadyClosed     - duplicate closing attempt
  5. ErrInsufficientStock - outgoing movement would breach zero while the
                            negative-stock policy is enforced

USAGE:
  if errors.Is(err, stock.ErrAlreadyClosed) {
      // day was closed by someone else, show the existing snapshot
  }

  var short *stock.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Println("short by", short.Shortfall)
  }

SEE ALSO:
  - api/handlers.go: Maps categories to HTTP status codes
*/
package stock

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyClosed     = errors.New("day already closed")
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrItemRetired is returned for outgoing movements against a retired item.
	ErrItemRetired = fmt.Errorf("%w: item is retired", ErrConflict)

	// ErrIdempotencyMismatch is returned when an idempotency key is reused
	// with a different movement payload.
	ErrIdempotencyMismatch = fmt.Errorf("%w: idempotency key reused with different payload", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string // "outlet", "item"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// AlreadyClosedError is returned when (outlet, date) or one of its items
// already has a snapshot. ItemID is empty when the whole day is closed.
type AlreadyClosedError struct {
	OutletID OutletID
	Date     Date
	ItemID   ItemID
}

func (e *AlreadyClosedError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("day %s already closed for outlet %s (item %s has a snapshot)", e.Date, e.OutletID, e.ItemID)
	}
	return fmt.Sprintf("day %s already closed for outlet %s", e.Date, e.OutletID)
}

func (e *AlreadyClosedError) Unwrap() error { return ErrAlreadyClosed }

type InsufficientStockError struct {
	ItemID    ItemID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
	Unit      Unit
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: available %s %s, requested %s, shortfall %s",
		e.ItemID, e.Available, e.Unit, e.Requested, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict covers both generic conflicts and duplicate closes.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyClosed)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
