package domain

import "errors"

// Error categories. Specific errors below unwrap to one of these so callers
// can branch on either the exact error or its category with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrEmptyCart     = errors.New("your cart is empty")
	ErrInvalidAmount = errors.New("cannot process a payment for a zero or negative amount")
	ErrTransient     = errors.New("temporarily unavailable, try again")
)

var (
	ErrInvalidQuantity     = newKindError(ErrValidation, "quantity must be a non-negative integer")
	ErrInvalidPhoneFormat  = newKindError(ErrValidation, "invalid phone number format, use 2547XXXXXXXX")
	ErrInvalidPaymentInput = newKindError(ErrValidation, "invalid payment input")
	ErrInvalidProductID    = newKindError(ErrValidation, "product_id is required")
	ErrItemNotFound        = newKindError(ErrNotFound, "item not found in cart")
	ErrOrderNotFound       = newKindError(ErrNotFound, "order not found")
	ErrOrderForbidden      = newKindError(ErrForbidden, "not authorized to view this order")

	// ErrCartCleared means every line referenced a product that no longer
	// exists and the cart was emptied as a side effect.
	ErrCartCleared = newKindError(ErrEmptyCart, "your cart contains no available products, it has been cleared")
)

type kindError struct {
	kind error
	msg  string
}

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }
