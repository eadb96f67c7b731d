package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/platform/auth"
	"github.com/mercatto/api/internal/services"
)

type stubPaymentService struct {
	createFunc       func(ctx context.Context, cmd services.CreatePaymentCommand) (domain.Payment, error)
	processFunc      func(ctx context.Context, cmd services.ProcessPaymentCommand) (domain.Payment, error)
	getFunc          func(ctx context.Context, paymentID string, actor services.Actor) (domain.Payment, error)
	listFunc         func(ctx context.Context, orderID string, actor services.Actor) ([]domain.Payment, error)
	refundFunc       func(ctx context.Context, cmd services.RefundCommand) (domain.PaymentRefund, error)
	listRefundsFunc  func(ctx context.Context, paymentID string, actor services.Actor) ([]domain.PaymentRefund, error)
	installmentsFunc func(ctx context.Context, cmd services.InstallmentPlanCommand) ([]domain.PaymentInstallment, error)
	reconcileFunc    func(ctx context.Context, cmd services.GatewayEventCommand) error
}

func (s *stubPaymentService) CreatePayment(ctx context.Context, cmd services.CreatePaymentCommand) (domain.Payment, error) {
	if s.createFunc == nil {
		return domain.Payment{}, nil
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubPaymentService) ProcessPayment(ctx context.Context, cmd services.ProcessPaymentCommand) (domain.Payment, error) {
	if s.processFunc == nil {
		return domain.Payment{}, nil
	}
	return s.processFunc(ctx, cmd)
}

func (s *stubPaymentService) GetPayment(ctx context.Context, paymentID string, actor services.Actor) (domain.Payment, error) {
	if s.getFunc == nil {
		return domain.Payment{}, nil
	}
	return s.getFunc(ctx, paymentID, actor)
}

func (s *stubPaymentService) ListPayments(ctx context.Context, orderID string, actor services.Actor) ([]domain.Payment, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx, orderID, actor)
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundCommand) (domain.PaymentRefund, error) {
	if s.refundFunc == nil {
		return domain.PaymentRefund{}, nil
	}
	return s.refundFunc(ctx, cmd)
}

func (s *stubPaymentService) ListRefunds(ctx context.Context, paymentID string, actor services.Actor) ([]domain.PaymentRefund, error) {
	if s.listRefundsFunc == nil {
		return nil, nil
	}
	return s.listRefundsFunc(ctx, paymentID, actor)
}

func (s *stubPaymentService) CreateInstallmentPlan(ctx context.Context, cmd services.InstallmentPlanCommand) ([]domain.PaymentInstallment, error) {
	if s.installmentsFunc == nil {
		return nil, nil
	}
	return s.installmentsFunc(ctx, cmd)
}

func (s *stubPaymentService) ReconcileGateway(ctx context.Context, cmd services.GatewayEventCommand) error {
	if s.reconcileFunc == nil {
		return nil
	}
	return s.reconcileFunc(ctx, cmd)
}

func newPaymentRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	identity := &auth.Identity{Subject: "cust-1", Role: auth.RoleCustomer}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestPaymentHandlersCreatePayment(t *testing.T) {
	var got services.CreatePaymentCommand
	service := &stubPaymentService{
		createFunc: func(ctx context.Context, cmd services.CreatePaymentCommand) (domain.Payment, error) {
			got = cmd
			return domain.Payment{
				ID:         "pay-1",
				OrderID:    cmd.OrderID,
				CustomerID: "cust-1",
				Method:     cmd.Method,
				Status:     domain.PaymentStatusPending,
				Amount:     3600,
			}, nil
		},
	}

	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	body := `{"order_id":"order-1","method":"PIX","installments":1}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newPaymentRequest(http.MethodPost, "/payments", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "order-1" || got.Method != domain.PaymentMethodPix {
		t.Fatalf("unexpected command: %#v", got)
	}

	var resp struct {
		Payment paymentPayload `json:"payment"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Payment.ID != "pay-1" || resp.Payment.Amount != 3600 {
		t.Fatalf("unexpected payment payload: %#v", resp.Payment)
	}
}

func TestPaymentHandlersProcessWithoutBody(t *testing.T) {
	var got services.ProcessPaymentCommand
	service := &stubPaymentService{
		processFunc: func(ctx context.Context, cmd services.ProcessPaymentCommand) (domain.Payment, error) {
			got = cmd
			return domain.Payment{ID: cmd.PaymentID, Status: domain.PaymentStatusApproved}, nil
		},
	}

	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newPaymentRequest(http.MethodPost, "/payments/pay-1/process", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.PaymentID != "pay-1" || got.CardToken != "" {
		t.Fatalf("unexpected command: %#v", got)
	}
}

func TestPaymentHandlersRefundTooLarge(t *testing.T) {
	service := &stubPaymentService{
		refundFunc: func(ctx context.Context, cmd services.RefundCommand) (domain.PaymentRefund, error) {
			return domain.PaymentRefund{}, services.ErrPaymentRefundTooLarge
		},
	}

	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newPaymentRequest(http.MethodPost, "/payments/pay-1/refunds", `{"amount":999999,"reason":"oops"}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "refund_too_large") {
		t.Fatalf("expected refund_too_large code, got %s", rr.Body.String())
	}
}

func TestPaymentHandlersGatewayUnavailable(t *testing.T) {
	service := &stubPaymentService{
		processFunc: func(ctx context.Context, cmd services.ProcessPaymentCommand) (domain.Payment, error) {
			return domain.Payment{}, services.ErrPaymentGatewayUnavailable
		},
	}

	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newPaymentRequest(http.MethodPost, "/payments/pay-1/process", `{"card_token":"tok_visa"}`))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestPaymentHandlersListByOrder(t *testing.T) {
	service := &stubPaymentService{
		listFunc: func(ctx context.Context, orderID string, actor services.Actor) ([]domain.Payment, error) {
			if orderID != "order-1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return []domain.Payment{{ID: "pay-1"}, {ID: "pay-2"}}, nil
		},
	}

	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.OrderRoutes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newPaymentRequest(http.MethodGet, "/orders/order-1/payments", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Payments []paymentPayload `json:"payments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Payments) != 2 {
		t.Fatalf("unexpected payments: %#v", resp.Payments)
	}
}

func TestPaymentHandlersWebhookIgnoresUnknownRef(t *testing.T) {
	service := &stubPaymentService{
		reconcileFunc: func(ctx context.Context, cmd services.GatewayEventCommand) error {
			return services.ErrPaymentNotFound
		},
	}

	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.WebhookRoutes)

	body := `{"gateway_ref":"ch_unknown","event_type":"charge.updated","approved":true}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-gateway", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "ignored") {
		t.Fatalf("expected ignored status, got %s", rr.Body.String())
	}
}

func TestPaymentHandlersWebhookProcessesEvent(t *testing.T) {
	var got services.GatewayEventCommand
	service := &stubPaymentService{
		reconcileFunc: func(ctx context.Context, cmd services.GatewayEventCommand) error {
			got = cmd
			return nil
		},
	}

	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.WebhookRoutes)

	body := `{"gateway_ref":"ch_123","event_type":"charge.refunded","approved":false,"reason":"disputed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-gateway", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.GatewayRef != "ch_123" || got.EventType != "charge.refunded" || got.Approved || got.Reason != "disputed" {
		t.Fatalf("unexpected command: %#v", got)
	}
}
