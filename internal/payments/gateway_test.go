package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedGateway struct {
	authorizeResults []func() (ChargeResult, error)
	refundResults    []func() (RefundResult, error)
	authorizeCalls   int
	refundCalls      int
}

func (g *scriptedGateway) Authorize(context.Context, ChargeRequest) (ChargeResult, error) {
	call := g.authorizeResults[g.authorizeCalls]
	g.authorizeCalls++
	return call()
}

func (g *scriptedGateway) Refund(context.Context, RefundRequest) (RefundResult, error) {
	call := g.refundResults[g.refundCalls]
	g.refundCalls++
	return call()
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryingGatewayRetriesTransientFailures(t *testing.T) {
	inner := &scriptedGateway{
		authorizeResults: []func() (ChargeResult, error){
			func() (ChargeResult, error) { return ChargeResult{}, &TransientError{Err: errors.New("timeout")} },
			func() (ChargeResult, error) { return ChargeResult{}, &TransientError{Err: errors.New("timeout")} },
			func() (ChargeResult, error) { return ChargeResult{GatewayRef: "pi_1", Approved: true}, nil },
		},
	}

	gw, err := NewRetryingGateway(inner, 3, time.Millisecond, WithSleeper(noSleep))
	if err != nil {
		t.Fatalf("NewRetryingGateway returned error: %v", err)
	}

	result, err := gw.Authorize(context.Background(), ChargeRequest{Amount: 1000})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if !result.Approved || result.GatewayRef != "pi_1" {
		t.Errorf("unexpected result %#v", result)
	}
	if inner.authorizeCalls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.authorizeCalls)
	}
}

func TestRetryingGatewayGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &scriptedGateway{
		authorizeResults: []func() (ChargeResult, error){
			func() (ChargeResult, error) { return ChargeResult{}, &TransientError{Err: errors.New("timeout")} },
			func() (ChargeResult, error) { return ChargeResult{}, &TransientError{Err: errors.New("timeout")} },
		},
	}

	gw, err := NewRetryingGateway(inner, 2, time.Millisecond, WithSleeper(noSleep))
	if err != nil {
		t.Fatalf("NewRetryingGateway returned error: %v", err)
	}

	_, err = gw.Authorize(context.Background(), ChargeRequest{Amount: 1000})
	if !IsTransient(err) {
		t.Fatalf("expected transient error after exhausting retries, got %v", err)
	}
	if inner.authorizeCalls != 2 {
		t.Errorf("expected 2 attempts, got %d", inner.authorizeCalls)
	}
}

func TestRetryingGatewayDoesNotRetryDeclines(t *testing.T) {
	inner := &scriptedGateway{
		authorizeResults: []func() (ChargeResult, error){
			func() (ChargeResult, error) {
				return ChargeResult{GatewayRef: "pi_1", DeclineReason: "card_declined"}, nil
			},
		},
	}

	gw, err := NewRetryingGateway(inner, 3, time.Millisecond, WithSleeper(noSleep))
	if err != nil {
		t.Fatalf("NewRetryingGateway returned error: %v", err)
	}

	result, err := gw.Authorize(context.Background(), ChargeRequest{Amount: 1000})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if result.Approved {
		t.Error("expected decline to pass through")
	}
	if inner.authorizeCalls != 1 {
		t.Errorf("expected a single attempt, got %d", inner.authorizeCalls)
	}
}

func TestRetryingGatewayDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("invalid api key")
	inner := &scriptedGateway{
		refundResults: []func() (RefundResult, error){
			func() (RefundResult, error) { return RefundResult{}, permanent },
		},
	}

	gw, err := NewRetryingGateway(inner, 3, time.Millisecond, WithSleeper(noSleep))
	if err != nil {
		t.Fatalf("NewRetryingGateway returned error: %v", err)
	}

	if _, err := gw.Refund(context.Background(), RefundRequest{GatewayRef: "pi_1", Amount: 100}); !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if inner.refundCalls != 1 {
		t.Errorf("expected a single attempt, got %d", inner.refundCalls)
	}
}

func TestRetryingGatewayHonoursContext(t *testing.T) {
	inner := &scriptedGateway{
		authorizeResults: []func() (ChargeResult, error){
			func() (ChargeResult, error) { return ChargeResult{}, &TransientError{Err: errors.New("timeout")} },
		},
	}

	gw, err := NewRetryingGateway(inner, 3, time.Millisecond, WithSleeper(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))
	if err != nil {
		t.Fatalf("NewRetryingGateway returned error: %v", err)
	}

	if _, err := gw.Authorize(context.Background(), ChargeRequest{Amount: 1000}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
