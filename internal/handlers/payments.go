package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/platform/auth"
	"github.com/mercatto/api/internal/platform/httpx"
	"github.com/mercatto/api/internal/services"
)

// PaymentHandlers exposes payment processing, refunds and installment plans.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs the payment handlers.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes wires the /payments endpoints onto the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.createPayment)
	r.Get("/{paymentID}", h.getPayment)
	r.Post("/{paymentID}/process", h.processPayment)
	r.Post("/{paymentID}/refunds", h.refund)
	r.Get("/{paymentID}/refunds", h.listRefunds)
	r.Post("/{paymentID}/installments", h.createInstallmentPlan)
}

// WebhookRoutes wires the unauthenticated gateway callback endpoint.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment-gateway", h.gatewayWebhook)
}

// OrderRoutes wires payment listing nested under orders.
func (h *PaymentHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}/payments", h.listByOrder)
}

type createPaymentRequest struct {
	OrderID      string `json:"order_id"`
	Method       string `json:"method"`
	Installments int    `json:"installments"`
}

func (h *PaymentHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requirePayments(w, r)
	if !ok {
		return
	}

	var req createPaymentRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	payment, err := h.payments.CreatePayment(ctx, services.CreatePaymentCommand{
		OrderID:      req.OrderID,
		Method:       domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Installments: req.Installments,
		Actor:        actorFromIdentity(identity),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"payment": buildPaymentPayload(payment)})
}

type processPaymentRequest struct {
	CardToken string `json:"card_token"`
}

func (h *PaymentHandlers) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requirePayments(w, r)
	if !ok {
		return
	}

	// The card token is only required for card methods, so an empty body is accepted.
	var req processPaymentRequest
	if body, err := readLimitedBody(r, defaultMaxBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	payment, err := h.payments.ProcessPayment(ctx, services.ProcessPaymentCommand{
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentID")),
		CardToken: req.CardToken,
		Actor:     actorFromIdentity(identity),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payment": buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requirePayments(w, r)
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(ctx, strings.TrimSpace(chi.URLParam(r, "paymentID")), actorFromIdentity(identity))
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payment": buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) listByOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requirePayments(w, r)
	if !ok {
		return
	}

	payments, err := h.payments.ListPayments(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")), actorFromIdentity(identity))
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]paymentPayload, 0, len(payments))
	for _, payment := range payments {
		items = append(items, buildPaymentPayload(payment))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payments": items})
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *PaymentHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requirePayments(w, r)
	if !ok {
		return
	}

	var req refundRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	refund, err := h.payments.Refund(ctx, services.RefundCommand{
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentID")),
		Amount:    req.Amount,
		Reason:    req.Reason,
		Actor:     actorFromIdentity(identity),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"refund": buildRefundPayload(refund)})
}

func (h *PaymentHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requirePayments(w, r)
	if !ok {
		return
	}

	refunds, err := h.payments.ListRefunds(ctx, strings.TrimSpace(chi.URLParam(r, "paymentID")), actorFromIdentity(identity))
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]refundPayload, 0, len(refunds))
	for _, refund := range refunds {
		items = append(items, buildRefundPayload(refund))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"refunds": items})
}

type installmentPlanRequest struct {
	Count    int    `json:"count"`
	FirstDue string `json:"first_due"`
}

func (h *PaymentHandlers) createInstallmentPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requirePayments(w, r)
	if !ok {
		return
	}

	var req installmentPlanRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.InstallmentPlanCommand{
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentID")),
		Count:     req.Count,
		Actor:     actorFromIdentity(identity),
	}
	if raw := strings.TrimSpace(req.FirstDue); raw != "" {
		parsed, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "first_due must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.FirstDue = parsed
	}

	plan, err := h.payments.CreateInstallmentPlan(ctx, cmd)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]installmentPayload, 0, len(plan))
	for _, installment := range plan {
		items = append(items, buildInstallmentPayload(installment))
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"installments": items})
}

type gatewayWebhookRequest struct {
	GatewayRef string `json:"gateway_ref"`
	EventType  string `json:"event_type"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason"`
}

func (h *PaymentHandlers) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req gatewayWebhookRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	err := h.payments.ReconcileGateway(ctx, services.GatewayEventCommand{
		GatewayRef: req.GatewayRef,
		EventType:  req.EventType,
		Approved:   req.Approved,
		Reason:     req.Reason,
	})
	if err != nil {
		// Unknown references are acknowledged so the gateway stops retrying.
		if errors.Is(err, services.ErrPaymentNotFound) {
			writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "processed"})
}

func (h *PaymentHandlers) requirePayments(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_state", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this payment", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentRefundTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("refund_too_large", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway is unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "payment operation failed", http.StatusInternalServerError))
	}
}

type paymentPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	FeeAmount     int64  `json:"fee_amount"`
	NetAmount     int64  `json:"net_amount"`
	GatewayRef    string `json:"gateway_ref,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Installments  int    `json:"installments"`
	ProcessedAt   string `json:"processed_at,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func buildPaymentPayload(payment domain.Payment) paymentPayload {
	return paymentPayload{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		CustomerID:    payment.CustomerID,
		Method:        string(payment.Method),
		Status:        string(payment.Status),
		Amount:        payment.Amount,
		FeeAmount:     payment.FeeAmount,
		NetAmount:     payment.NetAmount,
		GatewayRef:    payment.GatewayRef,
		FailureReason: payment.FailureReason,
		Installments:  payment.Installments,
		ProcessedAt:   formatTimePtr(payment.ProcessedAt),
		CreatedAt:     formatTime(payment.CreatedAt),
		UpdatedAt:     formatTime(payment.UpdatedAt),
	}
}

type refundPayload struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason,omitempty"`
	Status      string `json:"status"`
	GatewayRef  string `json:"gateway_ref,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func buildRefundPayload(refund domain.PaymentRefund) refundPayload {
	return refundPayload{
		ID:          refund.ID,
		PaymentID:   refund.PaymentID,
		Amount:      refund.Amount,
		Reason:      refund.Reason,
		Status:      string(refund.Status),
		GatewayRef:  refund.GatewayRef,
		RequestedBy: refund.RequestedBy,
		CreatedAt:   formatTime(refund.CreatedAt),
	}
}

type installmentPayload struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Number    int    `json:"number"`
	Amount    int64  `json:"amount"`
	DueDate   string `json:"due_date"`
	PaidAt    string `json:"paid_at,omitempty"`
}

func buildInstallmentPayload(installment domain.PaymentInstallment) installmentPayload {
	return installmentPayload{
		ID:        installment.ID,
		PaymentID: installment.PaymentID,
		Number:    installment.Number,
		Amount:    installment.Amount,
		DueDate:   formatTime(installment.DueDate),
		PaidAt:    formatTimePtr(installment.PaidAt),
	}
}
