package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/mercatto/api/internal/domain"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeGateway implements Gateway using the Stripe PaymentIntents API.
type StripeGateway struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeGateway constructs a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Authorize creates and confirms a PaymentIntent for the charge.
func (g *StripeGateway) Authorize(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if g == nil {
		return ChargeResult{}, errors.New("stripe: gateway is nil")
	}
	if req.Amount <= 0 {
		return ChargeResult{}, errors.New("stripe: amount must be positive")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(currency),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: stripe.StringSlice(methodTypes(req.Method)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if token := strings.TrimSpace(req.CardToken); token != "" {
		params.PaymentMethod = stripe.String(token)
	}

	params.Metadata = map[string]string{
		"payment_id":  req.PaymentID,
		"order_id":    req.OrderID,
		"customer_id": req.CustomerID,
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	intent, err := g.api.intents.New(params)
	if err != nil {
		return g.mapAuthorizeError(ctx, req, err)
	}

	result := ChargeResult{GatewayRef: intent.ID}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusProcessing:
		result.Approved = true
	default:
		result.DeclineReason = declineReason(intent)
	}

	g.logger(ctx, "stripe.authorize", map[string]any{
		"payment":  req.PaymentID,
		"intent":   intent.ID,
		"status":   string(intent.Status),
		"approved": result.Approved,
	})
	return result, nil
}

// Refund returns funds against a previously approved PaymentIntent.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if g == nil {
		return RefundResult{}, errors.New("stripe: gateway is nil")
	}
	if strings.TrimSpace(req.GatewayRef) == "" {
		return RefundResult{}, errors.New("stripe: gateway reference is required")
	}
	if req.Amount <= 0 {
		return RefundResult{}, errors.New("stripe: refund amount must be positive")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.GatewayRef),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		params.Metadata = map[string]string{"reason": reason}
	}

	refund, err := g.api.refunds.New(params)
	if err != nil {
		if isTransientStripeError(err) {
			return RefundResult{}, &TransientError{Err: err}
		}
		return RefundResult{}, err
	}

	result := RefundResult{GatewayRef: refund.ID}
	switch refund.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		// Stripe settles most refunds asynchronously; treat pending as
		// completed and rely on webhooks for reversals.
		result.Completed = true
	case stripe.RefundStatusFailed:
		result.FailureReason = string(refund.FailureReason)
	}

	g.logger(ctx, "stripe.refund", map[string]any{
		"intent": req.GatewayRef,
		"refund": refund.ID,
		"status": string(refund.Status),
	})
	return result, nil
}

func (g *StripeGateway) mapAuthorizeError(ctx context.Context, req ChargeRequest, err error) (ChargeResult, error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard:
			// Card declines are domain outcomes, not transport failures.
			g.logger(ctx, "stripe.authorize.declined", map[string]any{
				"payment": req.PaymentID,
				"code":    string(stripeErr.Code),
			})
			ref := ""
			if stripeErr.PaymentIntent != nil {
				ref = stripeErr.PaymentIntent.ID
			}
			return ChargeResult{
				GatewayRef:    ref,
				Approved:      false,
				DeclineReason: string(stripeErr.Code),
			}, nil
		case stripe.ErrorTypeAPI:
			return ChargeResult{}, &TransientError{Err: err}
		}
	}
	if isTransientStripeError(err) {
		return ChargeResult{}, &TransientError{Err: err}
	}
	return ChargeResult{}, err
}

func isTransientStripeError(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeAPI {
			return true
		}
		return stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func methodTypes(method domain.PaymentMethod) []string {
	switch method {
	case domain.PaymentMethodPix:
		return []string{"pix"}
	case domain.PaymentMethodBoleto:
		return []string{"boleto"}
	default:
		return []string{"card"}
	}
}

func declineReason(intent *stripe.PaymentIntent) string {
	if intent == nil {
		return "unknown"
	}
	if intent.LastPaymentError != nil && intent.LastPaymentError.Code != "" {
		return string(intent.LastPaymentError.Code)
	}
	return string(intent.Status)
}
