package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/payments"
)

type stubPaymentRepo struct {
	payments     map[string]domain.Payment
	refunds      map[string][]domain.PaymentRefund
	installments map[string][]domain.PaymentInstallment

	insertFn func(context.Context, domain.Payment) error
	updateFn func(context.Context, domain.Payment) error
}

func newStubPaymentRepo() *stubPaymentRepo {
	return &stubPaymentRepo{
		payments:     map[string]domain.Payment{},
		refunds:      map[string][]domain.PaymentRefund{},
		installments: map[string][]domain.PaymentInstallment{},
	}
}

func (s *stubPaymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	if s.insertFn != nil {
		if err := s.insertFn(ctx, payment); err != nil {
			return err
		}
	}
	s.payments[payment.ID] = payment
	return nil
}

func (s *stubPaymentRepo) Update(ctx context.Context, payment domain.Payment) error {
	if s.updateFn != nil {
		if err := s.updateFn(ctx, payment); err != nil {
			return err
		}
	}
	s.payments[payment.ID] = payment
	return nil
}

func (s *stubPaymentRepo) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	payment, ok := s.payments[paymentID]
	if !ok {
		return domain.Payment{}, notFoundErr("payment not found")
	}
	return payment, nil
}

func (s *stubPaymentRepo) FindByGatewayRef(_ context.Context, gatewayRef string) (domain.Payment, error) {
	for _, payment := range s.payments {
		if payment.GatewayRef == gatewayRef {
			return payment, nil
		}
	}
	return domain.Payment{}, notFoundErr("payment not found")
}

func (s *stubPaymentRepo) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	var list []domain.Payment
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			list = append(list, payment)
		}
	}
	return list, nil
}

func (s *stubPaymentRepo) InsertRefund(_ context.Context, refund domain.PaymentRefund) error {
	s.refunds[refund.PaymentID] = append(s.refunds[refund.PaymentID], refund)
	return nil
}

func (s *stubPaymentRepo) UpdateRefund(_ context.Context, refund domain.PaymentRefund) error {
	list := s.refunds[refund.PaymentID]
	for i := range list {
		if list[i].ID == refund.ID {
			list[i] = refund
			return nil
		}
	}
	return notFoundErr("refund not found")
}

func (s *stubPaymentRepo) ListRefunds(_ context.Context, paymentID string) ([]domain.PaymentRefund, error) {
	return s.refunds[paymentID], nil
}

func (s *stubPaymentRepo) ReplaceInstallments(_ context.Context, paymentID string, plan []domain.PaymentInstallment) error {
	s.installments[paymentID] = plan
	return nil
}

func (s *stubPaymentRepo) ListInstallments(_ context.Context, paymentID string) ([]domain.PaymentInstallment, error) {
	return s.installments[paymentID], nil
}

type stubOrderService struct {
	getFn        func(context.Context, string, Actor) (Order, error)
	transitionFn func(context.Context, OrderStatusTransitionCommand) (Order, error)
}

func (s *stubOrderService) Checkout(context.Context, CheckoutCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(context.Context, OrderListQuery) (domain.CursorPage[Order], error) {
	return domain.CursorPage[Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return Order{}, nil
}

func (s *stubOrderService) Cancel(context.Context, CancelOrderCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListStatusHistory(context.Context, string, Actor, Pagination) (domain.CursorPage[OrderStatusChange], error) {
	return domain.CursorPage[OrderStatusChange]{}, errors.New("not implemented")
}

type stubGateway struct {
	authorizeFn func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error)
	refundFn    func(context.Context, payments.RefundRequest) (payments.RefundResult, error)
}

func (s *stubGateway) Authorize(ctx context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	if s.authorizeFn != nil {
		return s.authorizeFn(ctx, req)
	}
	return payments.ChargeResult{}, errors.New("not implemented")
}

func (s *stubGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return payments.RefundResult{}, errors.New("not implemented")
}

type capturePaymentEvents struct {
	events []PaymentEvent
}

func (c *capturePaymentEvents) PublishPaymentEvent(_ context.Context, event PaymentEvent) error {
	c.events = append(c.events, event)
	return nil
}

func pendingOrderService() *stubOrderService {
	return &stubOrderService{
		getFn: func(_ context.Context, orderID string, _ Actor) (Order, error) {
			return domain.Order{
				ID:         orderID,
				CustomerID: "cust-1",
				Status:     domain.OrderStatusPending,
				Total:      9900,
			}, nil
		},
	}
}

func newPaymentServiceForTest(t *testing.T, deps PaymentServiceDeps) PaymentService {
	t.Helper()
	if deps.Payments == nil {
		deps.Payments = newStubPaymentRepo()
	}
	if deps.Orders == nil {
		deps.Orders = pendingOrderService()
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedOrderClock
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("pid")
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	return svc
}

func TestCreatePaymentForPendingOrder(t *testing.T) {
	repo := newStubPaymentRepo()
	svc := newPaymentServiceForTest(t, PaymentServiceDeps{Payments: repo})

	payment, err := svc.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID: "ord-1",
		Method:  domain.PaymentMethodCreditCard,
		Actor:   Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}

	if payment.Amount != 9900 || payment.NetAmount != 9900 {
		t.Errorf("unexpected amounts %#v", payment)
	}
	if payment.Status != domain.PaymentStatusPending {
		t.Errorf("unexpected status %s", payment.Status)
	}
	if payment.Installments != 1 {
		t.Errorf("expected single installment default, got %d", payment.Installments)
	}
	if _, ok := repo.payments[payment.ID]; !ok {
		t.Error("payment not persisted")
	}
}

func TestCreatePaymentRejectsSecondActivePayment(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-existing"] = domain.Payment{
		ID:      "pay-existing",
		OrderID: "ord-1",
		Status:  domain.PaymentStatusApproved,
	}
	svc := newPaymentServiceForTest(t, PaymentServiceDeps{Payments: repo})

	_, err := svc.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID: "ord-1",
		Method:  domain.PaymentMethodPix,
		Actor:   Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrPaymentConflict) {
		t.Fatalf("expected ErrPaymentConflict, got %v", err)
	}
}

func TestCreatePaymentInstallmentRules(t *testing.T) {
	svc := newPaymentServiceForTest(t, PaymentServiceDeps{})

	_, err := svc.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:      "ord-1",
		Method:       domain.PaymentMethodPix,
		Installments: 3,
		Actor:        Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput for pix installments, got %v", err)
	}

	_, err = svc.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:      "ord-1",
		Method:       domain.PaymentMethodCreditCard,
		Installments: 13,
		Actor:        Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput for 13 installments, got %v", err)
	}
}

func TestProcessPaymentApprovedConfirmsOrder(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Method:     domain.PaymentMethodCreditCard,
		Status:     domain.PaymentStatusPending,
		Amount:     9900,
		NetAmount:  9900,
	}

	var transitioned OrderStatusTransitionCommand
	orders := pendingOrderService()
	orders.transitionFn = func(_ context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
		transitioned = cmd
		return domain.Order{ID: cmd.OrderID, Status: cmd.To}, nil
	}
	events := &capturePaymentEvents{}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{
		Payments: repo,
		Orders:   orders,
		Gateway: &stubGateway{
			authorizeFn: func(_ context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
				if req.CardToken != "pm_tok" || req.Amount != 9900 {
					t.Fatalf("unexpected charge %#v", req)
				}
				return payments.ChargeResult{GatewayRef: "pi_1", Approved: true, FeeAmount: 320}, nil
			},
		},
		Events: events,
	})

	payment, err := svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
		PaymentID: "pay-1",
		CardToken: "pm_tok",
		Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("ProcessPayment returned error: %v", err)
	}

	if payment.Status != domain.PaymentStatusApproved {
		t.Errorf("unexpected status %s", payment.Status)
	}
	if payment.FeeAmount != 320 || payment.NetAmount != 9580 {
		t.Errorf("unexpected fee split %#v", payment)
	}
	if payment.GatewayRef != "pi_1" || payment.ProcessedAt == nil {
		t.Errorf("gateway fields not set %#v", payment)
	}
	if transitioned.To != domain.OrderStatusConfirmed || transitioned.OrderID != "ord-1" {
		t.Errorf("expected order confirmation, got %#v", transitioned)
	}
	if len(events.events) != 1 || events.events[0].Type != EventPaymentCompleted {
		t.Fatalf("expected payment completed event, got %#v", events.events)
	}
}

func TestProcessPaymentClampsFeeAboveAmount(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Method:     domain.PaymentMethodCreditCard,
		Status:     domain.PaymentStatusPending,
		Amount:     100,
		NetAmount:  100,
	}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{
		Payments: repo,
		Gateway: &stubGateway{
			authorizeFn: func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
				return payments.ChargeResult{GatewayRef: "pi_1", Approved: true, FeeAmount: 150}, nil
			},
		},
	})

	payment, err := svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
		PaymentID: "pay-1",
		CardToken: "pm_tok",
		Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("ProcessPayment returned error: %v", err)
	}

	if payment.FeeAmount != 150 {
		t.Errorf("unexpected fee %d", payment.FeeAmount)
	}
	if payment.NetAmount != 0 {
		t.Errorf("expected net clamped at zero, got %d", payment.NetAmount)
	}
}

func TestProcessPaymentApprovedRecordsAuditTrail(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Method:     domain.PaymentMethodCreditCard,
		Status:     domain.PaymentStatusPending,
		Amount:     9900,
		NetAmount:  9900,
	}

	sink := &captureAuditSink{}
	svc := newPaymentServiceForTest(t, PaymentServiceDeps{
		Payments: repo,
		Gateway: &stubGateway{
			authorizeFn: func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
				return payments.ChargeResult{GatewayRef: "pi_1", Approved: true, FeeAmount: 320}, nil
			},
		},
		Audit: sink,
	})

	if _, err := svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
		PaymentID: "pay-1",
		CardToken: "pm_tok",
		Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
	}); err != nil {
		t.Fatalf("ProcessPayment returned error: %v", err)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 trail entry, got %d", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.Action != "payment.approved" || entry.TargetRef != "payment:pay-1" {
		t.Errorf("unexpected trail entry %#v", entry)
	}
	if entry.ActorID != "system" {
		t.Errorf("expected system actor, got %q", entry.ActorID)
	}
}

func TestProcessPaymentDeclined(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Method:     domain.PaymentMethodCreditCard,
		Status:     domain.PaymentStatusPending,
		Amount:     9900,
	}
	events := &capturePaymentEvents{}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{
		Payments: repo,
		Gateway: &stubGateway{
			authorizeFn: func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
				return payments.ChargeResult{GatewayRef: "pi_1", DeclineReason: "card_declined"}, nil
			},
		},
		Events: events,
	})

	payment, err := svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
		PaymentID: "pay-1",
		CardToken: "pm_tok",
		Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("ProcessPayment returned error: %v", err)
	}

	if payment.Status != domain.PaymentStatusDeclined || payment.FailureReason != "card_declined" {
		t.Errorf("unexpected payment %#v", payment)
	}
	if len(events.events) != 1 || events.events[0].Type != EventPaymentFailed {
		t.Fatalf("expected payment failed event, got %#v", events.events)
	}
}

func TestProcessPaymentGatewayOutageRevertsToPending(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Method:     domain.PaymentMethodPix,
		Status:     domain.PaymentStatusPending,
		Amount:     9900,
	}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{
		Payments: repo,
		Gateway: &stubGateway{
			authorizeFn: func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
				return payments.ChargeResult{}, &payments.TransientError{Err: errors.New("timeout")}
			},
		},
	})

	_, err := svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
		PaymentID: "pay-1",
		Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrPaymentGatewayUnavailable) {
		t.Fatalf("expected ErrPaymentGatewayUnavailable, got %v", err)
	}
	if repo.payments["pay-1"].Status != domain.PaymentStatusPending {
		t.Errorf("expected payment reverted to pending, got %s", repo.payments["pay-1"].Status)
	}
}

func TestProcessPaymentRequiresCardToken(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		CustomerID: "cust-1",
		Method:     domain.PaymentMethodCreditCard,
		Status:     domain.PaymentStatusPending,
	}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{Payments: repo})

	_, err := svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
		PaymentID: "pay-1",
		Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestRefundPartialAndFull(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Method:     domain.PaymentMethodCreditCard,
		Status:     domain.PaymentStatusApproved,
		Amount:     10000,
		FeeAmount:  400,
		NetAmount:  9600,
		GatewayRef: "pi_1",
	}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{
		Payments: repo,
		Gateway: &stubGateway{
			refundFn: func(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
				return payments.RefundResult{GatewayRef: "re_" + req.IdempotencyKey, Completed: true}, nil
			},
		},
	})

	admin := Actor{ID: "adm-1", Role: domain.RoleAdmin}

	refund, err := svc.Refund(context.Background(), RefundCommand{
		PaymentID: "pay-1",
		Amount:    5000,
		Reason:    "damaged item",
		Actor:     admin,
	})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if refund.Status != domain.RefundStatusCompleted {
		t.Errorf("unexpected refund status %s", refund.Status)
	}
	if repo.payments["pay-1"].Status != domain.PaymentStatusPartiallyRefunded {
		t.Errorf("expected partially refunded payment, got %s", repo.payments["pay-1"].Status)
	}

	if _, err := svc.Refund(context.Background(), RefundCommand{
		PaymentID: "pay-1",
		Amount:    4600,
		Actor:     admin,
	}); err != nil {
		t.Fatalf("second refund returned error: %v", err)
	}
	if repo.payments["pay-1"].Status != domain.PaymentStatusRefunded {
		t.Errorf("expected fully refunded payment, got %s", repo.payments["pay-1"].Status)
	}
}

func TestRefundRejectsOverRefund(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:        "pay-1",
		Status:    domain.PaymentStatusApproved,
		Amount:    10000,
		FeeAmount: 400,
		NetAmount: 9600,
	}
	repo.refunds["pay-1"] = []domain.PaymentRefund{
		{ID: "ref-1", PaymentID: "pay-1", Amount: 5000, Status: domain.RefundStatusCompleted},
		{ID: "ref-2", PaymentID: "pay-1", Amount: 9000, Status: domain.RefundStatusFailed},
	}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{Payments: repo})

	// 9600 net minus 5000 already returned leaves 4600; failed refunds do
	// not count against the balance.
	_, err := svc.Refund(context.Background(), RefundCommand{
		PaymentID: "pay-1",
		Amount:    4601,
		Actor:     Actor{ID: "adm-1", Role: domain.RoleAdmin},
	})
	if !errors.Is(err, ErrPaymentRefundTooLarge) {
		t.Fatalf("expected ErrPaymentRefundTooLarge, got %v", err)
	}
}

func TestRefundRequiresAdmin(t *testing.T) {
	svc := newPaymentServiceForTest(t, PaymentServiceDeps{})

	_, err := svc.Refund(context.Background(), RefundCommand{
		PaymentID: "pay-1",
		Amount:    100,
		Actor:     Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected ErrPaymentForbidden, got %v", err)
	}
}

func TestCreateInstallmentPlanSplitsRemainder(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:     "pay-1",
		Method: domain.PaymentMethodCreditCard,
		Status: domain.PaymentStatusApproved,
		Amount: 10000,
	}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{Payments: repo})

	firstDue := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	plan, err := svc.CreateInstallmentPlan(context.Background(), InstallmentPlanCommand{
		PaymentID: "pay-1",
		Count:     3,
		FirstDue:  firstDue,
		Actor:     Actor{ID: "adm-1", Role: domain.RoleAdmin},
	})
	if err != nil {
		t.Fatalf("CreateInstallmentPlan returned error: %v", err)
	}

	if len(plan) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(plan))
	}
	// 10000 over 3 slices: the remainder cent lands on the first slice.
	if plan[0].Amount != 3334 || plan[1].Amount != 3333 || plan[2].Amount != 3333 {
		t.Errorf("unexpected split %d/%d/%d", plan[0].Amount, plan[1].Amount, plan[2].Amount)
	}
	var total int64
	for i, slice := range plan {
		total += slice.Amount
		if slice.Number != i+1 {
			t.Errorf("unexpected numbering %#v", slice)
		}
		if !slice.DueDate.Equal(firstDue.AddDate(0, i, 0)) {
			t.Errorf("unexpected due date %v", slice.DueDate)
		}
	}
	if total != 10000 {
		t.Errorf("plan does not sum to amount: %d", total)
	}
}

func TestReconcileGatewayApprovesProcessingPayment(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Status:     domain.PaymentStatusProcessing,
		Amount:     9900,
		GatewayRef: "pi_1",
	}
	events := &capturePaymentEvents{}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{
		Payments: repo,
		Events:   events,
	})

	err := svc.ReconcileGateway(context.Background(), GatewayEventCommand{
		GatewayRef: "pi_1",
		EventType:  "payment_intent.succeeded",
		Approved:   true,
	})
	if err != nil {
		t.Fatalf("ReconcileGateway returned error: %v", err)
	}
	if repo.payments["pay-1"].Status != domain.PaymentStatusApproved {
		t.Errorf("unexpected status %s", repo.payments["pay-1"].Status)
	}
	if len(events.events) != 1 || events.events[0].Type != EventPaymentCompleted {
		t.Fatalf("expected payment completed event, got %#v", events.events)
	}
}

func TestReconcileGatewayIgnoresSettledPayment(t *testing.T) {
	repo := newStubPaymentRepo()
	repo.payments["pay-1"] = domain.Payment{
		ID:         "pay-1",
		Status:     domain.PaymentStatusApproved,
		GatewayRef: "pi_1",
	}
	events := &capturePaymentEvents{}

	svc := newPaymentServiceForTest(t, PaymentServiceDeps{Payments: repo, Events: events})

	if err := svc.ReconcileGateway(context.Background(), GatewayEventCommand{
		GatewayRef: "pi_1",
		Approved:   true,
	}); err != nil {
		t.Fatalf("ReconcileGateway returned error: %v", err)
	}
	if len(events.events) != 0 {
		t.Errorf("expected replay to be a no-op, got %#v", events.events)
	}
}

func TestReconcileGatewayUnknownReference(t *testing.T) {
	svc := newPaymentServiceForTest(t, PaymentServiceDeps{})

	err := svc.ReconcileGateway(context.Background(), GatewayEventCommand{GatewayRef: "pi_ghost"})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
