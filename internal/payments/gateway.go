package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/mercatto/api/internal/domain"
)

// DefaultCurrency is used when a charge does not specify one.
const DefaultCurrency = "brl"

// ChargeRequest captures the payload sent to the payment gateway when
// authorizing a payment. Amounts are cents.
type ChargeRequest struct {
	PaymentID      string
	OrderID        string
	CustomerID     string
	Amount         int64
	Currency       string
	Method         domain.PaymentMethod
	CardToken      string
	Installments   int
	IdempotencyKey string
	Metadata       map[string]string
}

// ChargeResult is the normalised gateway response for an authorization.
// A decline is a successful call with Approved false, never an error.
type ChargeResult struct {
	GatewayRef    string
	Approved      bool
	DeclineReason string
	FeeAmount     int64
}

// RefundRequest captures the payload for returning funds on a settled charge.
type RefundRequest struct {
	GatewayRef     string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// RefundResult is the normalised gateway response for a refund.
type RefundResult struct {
	GatewayRef    string
	Completed     bool
	FailureReason string
}

// Gateway defines the contract for payment service provider adapters.
type Gateway interface {
	Authorize(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// TransientError marks gateway failures worth retrying, such as network
// timeouts or rate limits.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "payments: transient gateway error"
	}
	return fmt.Sprintf("payments: transient gateway error: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether the error chain contains a TransientError.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// RetryingGateway wraps a Gateway with bounded retries and exponential
// backoff for transient failures. Declines pass through untouched.
type RetryingGateway struct {
	inner     Gateway
	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// RetryOption customises RetryingGateway behaviour.
type RetryOption func(*RetryingGateway)

// WithSleeper overrides the backoff sleeper, used by tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(g *RetryingGateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// NewRetryingGateway wraps inner with up to attempts tries per call.
func NewRetryingGateway(inner Gateway, attempts int, baseDelay time.Duration, opts ...RetryOption) (*RetryingGateway, error) {
	if inner == nil {
		return nil, errors.New("payments: inner gateway is required")
	}
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}

	g := &RetryingGateway{
		inner:     inner,
		attempts:  attempts,
		baseDelay: baseDelay,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Authorize retries transient authorization failures.
func (g *RetryingGateway) Authorize(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	var result ChargeResult
	err := g.retry(ctx, func() error {
		var callErr error
		result, callErr = g.inner.Authorize(ctx, req)
		return callErr
	})
	return result, err
}

// Refund retries transient refund failures.
func (g *RetryingGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var result RefundResult
	err := g.retry(ctx, func() error {
		var callErr error
		result, callErr = g.inner.Refund(ctx, req)
		return callErr
	})
	return result, err
}

func (g *RetryingGateway) retry(ctx context.Context, call func() error) error {
	delay := g.baseDelay
	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		lastErr = call()
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == g.attempts {
			break
		}
		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
