package repositories

import "fmt"

// CheckoutErrorCode enumerates failure reasons surfaced by the atomic
// checkout write.
type CheckoutErrorCode string

const (
	// CheckoutErrorUnknown represents an unspecified failure.
	CheckoutErrorUnknown CheckoutErrorCode = "checkout_unknown"
	// CheckoutErrorInsufficientStock indicates a requested quantity exceeds
	// the available stock for at least one product.
	CheckoutErrorInsufficientStock CheckoutErrorCode = "checkout_insufficient_stock"
	// CheckoutErrorCouponExhausted indicates the coupon usage limit was
	// reached between validation and commit.
	CheckoutErrorCouponExhausted CheckoutErrorCode = "checkout_coupon_exhausted"
	// CheckoutErrorCouponRedeemed indicates a redemption row already exists
	// for this coupon and order.
	CheckoutErrorCouponRedeemed CheckoutErrorCode = "checkout_coupon_redeemed"
)

// CheckoutError wraps checkout transaction failures with machine readable
// codes plus the offending product when stock ran short.
type CheckoutError struct {
	Op        string
	Code      CheckoutErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *CheckoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CheckoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCheckoutInsufficientStock reports a stock shortfall for one product.
func NewCheckoutInsufficientStock(productID string, requested, available int64) *CheckoutError {
	return &CheckoutError{
		Code:      CheckoutErrorInsufficientStock,
		ProductID: productID,
		Message:   fmt.Sprintf("product %s: requested %d, available %d", productID, requested, available),
	}
}

// NewCheckoutError constructs a typed checkout error.
func NewCheckoutError(code CheckoutErrorCode, message string, err error) *CheckoutError {
	if message == "" {
		message = string(code)
	}
	return &CheckoutError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
