package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ValidationError reports malformed input. Field uses the request's path, e.g. "items[2].quantity".
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientStockError is returned when a confirmation cannot source an item.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Shortfall   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (%s): requested %d, short %d",
		e.ProductID, e.ProductName, e.Requested, e.Shortfall)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func NotFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

func Forbidden(action string) error {
	return fmt.Errorf("only staff can %s: %w", action, ErrForbidden)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
