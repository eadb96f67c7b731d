package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/payments"
	"github.com/mercatto/api/internal/repositories"
)

const (
	paymentIDPrefix     = "pay_"
	refundIDPrefix      = "ref_"
	installmentIDPrefix = "ins_"

	maxInstallments = 12
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid payment data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentInvalidState indicates the payment status forbids the operation.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentForbidden indicates the actor may not access or mutate the payment.
	ErrPaymentForbidden = errors.New("payment: forbidden")
	// ErrPaymentConflict indicates a competing payment already exists.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentRefundTooLarge indicates the refund exceeds the refundable balance.
	ErrPaymentRefundTooLarge = errors.New("payment: refund exceeds refundable amount")
	// ErrPaymentGatewayUnavailable indicates the gateway could not be reached.
	ErrPaymentGatewayUnavailable = errors.New("payment: gateway unavailable")
)

// systemActor is used for internal workflow steps triggered by the payment
// lifecycle rather than a request principal.
var systemActor = Actor{ID: "system", Role: domain.RoleAdmin}

// PaymentEvent captures metadata for emitted payment domain events.
type PaymentEvent struct {
	Type       string
	PaymentID  string
	OrderID    string
	CustomerID string
	Amount     int64
	Status     PaymentStatus
	Reason     string
	OccurredAt time.Time
}

// PaymentEventPublisher publishes payment domain events for downstream consumers.
type PaymentEventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event PaymentEvent) error
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Orders      OrderService
	Gateway     payments.Gateway
	Audit       AuditLogService
	Clock       Clock
	IDGenerator IDGenerator
	Events      PaymentEventPublisher
	Logger      LogFunc
}

type paymentService struct {
	payments repositories.PaymentRepository
	orders   OrderService
	gateway  payments.Gateway
	audit    AuditLogService
	clock    func() time.Time
	newID    func() string
	events   PaymentEventPublisher
	logger   LogFunc
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		payments: deps.Payments,
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		audit:    deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if !validPaymentMethod(cmd.Method) {
		return Payment{}, fmt.Errorf("%w: unknown payment method %q", ErrPaymentInvalidInput, cmd.Method)
	}

	installments := cmd.Installments
	if installments == 0 {
		installments = 1
	}
	if installments < 1 || installments > maxInstallments {
		return Payment{}, fmt.Errorf("%w: installments must be between 1 and %d", ErrPaymentInvalidInput, maxInstallments)
	}
	if installments > 1 && cmd.Method != domain.PaymentMethodCreditCard {
		return Payment{}, fmt.Errorf("%w: installments require a credit card", ErrPaymentInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID, systemActor)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return Payment{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
		}
		return Payment{}, err
	}
	if !cmd.Actor.IsAdmin() && order.CustomerID != cmd.Actor.ID {
		return Payment{}, fmt.Errorf("%w: order belongs to another customer", ErrPaymentForbidden)
	}
	if order.Status != domain.OrderStatusPending {
		return Payment{}, fmt.Errorf("%w: order %s is %s, payments require a pending order", ErrPaymentInvalidState, orderID, order.Status)
	}

	existing, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	for _, p := range existing {
		switch p.Status {
		case domain.PaymentStatusPending, domain.PaymentStatusProcessing, domain.PaymentStatusApproved:
			return Payment{}, fmt.Errorf("%w: payment %s is already %s", ErrPaymentConflict, p.ID, p.Status)
		}
	}

	now := s.clock()
	payment := domain.Payment{
		ID:           paymentIDPrefix + s.newID(),
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		Method:       cmd.Method,
		Status:       domain.PaymentStatusPending,
		Amount:       order.Total,
		NetAmount:    order.Total,
		Installments: installments,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.payments.Insert(ctx, payment); err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, cmd.Actor, "payment.created", "payment:"+payment.ID, map[string]any{
		"order":  payment.OrderID,
		"method": string(payment.Method),
		"amount": payment.Amount,
	})
	return payment, nil
}

func (s *paymentService) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	if !cmd.Actor.IsAdmin() && payment.CustomerID != cmd.Actor.ID {
		return Payment{}, fmt.Errorf("%w: payment belongs to another customer", ErrPaymentForbidden)
	}
	if payment.Status != domain.PaymentStatusPending {
		return Payment{}, fmt.Errorf("%w: payment is %s, only pending payments can be processed", ErrPaymentInvalidState, payment.Status)
	}
	if requiresCardToken(payment.Method) && strings.TrimSpace(cmd.CardToken) == "" {
		return Payment{}, fmt.Errorf("%w: card token is required for %s", ErrPaymentInvalidInput, payment.Method)
	}

	now := s.clock()
	payment.Status = domain.PaymentStatusProcessing
	payment.UpdatedAt = now
	if err := s.payments.Update(ctx, payment); err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	result, err := s.gateway.Authorize(ctx, payments.ChargeRequest{
		PaymentID:      payment.ID,
		OrderID:        payment.OrderID,
		CustomerID:     payment.CustomerID,
		Amount:         payment.Amount,
		Method:         payment.Method,
		CardToken:      strings.TrimSpace(cmd.CardToken),
		Installments:   payment.Installments,
		IdempotencyKey: payment.ID,
	})
	if err != nil {
		// Put the payment back so the customer can retry once the gateway
		// recovers.
		payment.Status = domain.PaymentStatusPending
		payment.UpdatedAt = s.clock()
		if updateErr := s.payments.Update(ctx, payment); updateErr != nil {
			s.logger(ctx, "payment.revert.failed", map[string]any{
				"payment": payment.ID,
				"error":   updateErr.Error(),
			})
		}
		if payments.IsTransient(err) {
			return Payment{}, fmt.Errorf("%w: %v", ErrPaymentGatewayUnavailable, err)
		}
		return Payment{}, err
	}

	if result.Approved {
		return s.finalizeApproved(ctx, payment, result.GatewayRef, result.FeeAmount)
	}
	return s.finalizeDeclined(ctx, payment, result.GatewayRef, result.DeclineReason)
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string, actor Actor) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	if !actor.IsAdmin() && payment.CustomerID != actor.ID {
		return Payment{}, fmt.Errorf("%w: payment belongs to another customer", ErrPaymentForbidden)
	}
	return payment, nil
}

func (s *paymentService) ListPayments(ctx context.Context, orderID string, actor Actor) ([]Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	// GetOrder enforces that customers only reach their own orders.
	if _, err := s.orders.GetOrder(ctx, orderID, actor); err != nil {
		if errors.Is(err, ErrOrderForbidden) {
			return nil, fmt.Errorf("%w: order belongs to another customer", ErrPaymentForbidden)
		}
		if errors.Is(err, ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
		}
		return nil, err
	}

	list, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return list, nil
}

func (s *paymentService) Refund(ctx context.Context, cmd RefundCommand) (PaymentRefund, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return PaymentRefund{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return PaymentRefund{}, fmt.Errorf("%w: refund amount must be positive", ErrPaymentInvalidInput)
	}
	if !cmd.Actor.IsAdmin() {
		return PaymentRefund{}, fmt.Errorf("%w: only staff may issue refunds", ErrPaymentForbidden)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return PaymentRefund{}, s.mapRepositoryError(err)
	}
	switch payment.Status {
	case domain.PaymentStatusApproved, domain.PaymentStatusPartiallyRefunded:
	default:
		return PaymentRefund{}, fmt.Errorf("%w: payment is %s, only settled payments can be refunded", ErrPaymentInvalidState, payment.Status)
	}

	refunds, err := s.payments.ListRefunds(ctx, paymentID)
	if err != nil {
		return PaymentRefund{}, s.mapRepositoryError(err)
	}
	refunded := completedRefundTotal(refunds)
	if cmd.Amount > payment.NetAmount-refunded {
		return PaymentRefund{}, fmt.Errorf("%w: %d refundable, %d requested", ErrPaymentRefundTooLarge, payment.NetAmount-refunded, cmd.Amount)
	}

	now := s.clock()
	refund := domain.PaymentRefund{
		ID:          refundIDPrefix + s.newID(),
		PaymentID:   payment.ID,
		Amount:      cmd.Amount,
		Reason:      strings.TrimSpace(cmd.Reason),
		Status:      domain.RefundStatusPending,
		RequestedBy: cmd.Actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.payments.InsertRefund(ctx, refund); err != nil {
		return PaymentRefund{}, s.mapRepositoryError(err)
	}

	result, err := s.gateway.Refund(ctx, payments.RefundRequest{
		GatewayRef:     payment.GatewayRef,
		Amount:         refund.Amount,
		Reason:         refund.Reason,
		IdempotencyKey: refund.ID,
	})
	if err != nil {
		if payments.IsTransient(err) {
			return PaymentRefund{}, fmt.Errorf("%w: %v", ErrPaymentGatewayUnavailable, err)
		}
		return PaymentRefund{}, err
	}

	refund.GatewayRef = result.GatewayRef
	refund.UpdatedAt = s.clock()
	if result.Completed {
		refund.Status = domain.RefundStatusCompleted
	} else {
		refund.Status = domain.RefundStatusFailed
		refund.Reason = strings.TrimSpace(refund.Reason + " " + result.FailureReason)
	}
	if err := s.payments.UpdateRefund(ctx, refund); err != nil {
		return PaymentRefund{}, s.mapRepositoryError(err)
	}

	if result.Completed {
		if refunded+refund.Amount >= payment.NetAmount {
			payment.Status = domain.PaymentStatusRefunded
		} else {
			payment.Status = domain.PaymentStatusPartiallyRefunded
		}
		payment.UpdatedAt = s.clock()
		if err := s.payments.Update(ctx, payment); err != nil {
			return PaymentRefund{}, s.mapRepositoryError(err)
		}
	}

	recordAudit(ctx, s.audit, cmd.Actor, "payment.refunded", "payment:"+payment.ID, map[string]any{
		"refund": refund.ID,
		"amount": refund.Amount,
		"status": string(refund.Status),
	})

	return refund, nil
}

func (s *paymentService) ListRefunds(ctx context.Context, paymentID string, actor Actor) ([]PaymentRefund, error) {
	if _, err := s.GetPayment(ctx, paymentID, actor); err != nil {
		return nil, err
	}

	refunds, err := s.payments.ListRefunds(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return refunds, nil
}

func (s *paymentService) CreateInstallmentPlan(ctx context.Context, cmd InstallmentPlanCommand) ([]PaymentInstallment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	if cmd.Count < 2 || cmd.Count > maxInstallments {
		return nil, fmt.Errorf("%w: installment count must be between 2 and %d", ErrPaymentInvalidInput, maxInstallments)
	}
	if !cmd.Actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only staff may replace installment plans", ErrPaymentForbidden)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if payment.Method != domain.PaymentMethodCreditCard {
		return nil, fmt.Errorf("%w: installments require a credit card payment", ErrPaymentInvalidInput)
	}
	if payment.Status != domain.PaymentStatusApproved {
		return nil, fmt.Errorf("%w: payment is %s, plans require an approved payment", ErrPaymentInvalidState, payment.Status)
	}

	firstDue := cmd.FirstDue
	if firstDue.IsZero() {
		firstDue = s.clock().AddDate(0, 1, 0)
	}

	plan := s.buildInstallmentPlan(payment, cmd.Count, firstDue)
	if err := s.payments.ReplaceInstallments(ctx, payment.ID, plan); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return plan, nil
}

func (s *paymentService) ReconcileGateway(ctx context.Context, cmd GatewayEventCommand) error {
	gatewayRef := strings.TrimSpace(cmd.GatewayRef)
	if gatewayRef == "" {
		return fmt.Errorf("%w: gateway reference is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByGatewayRef(ctx, gatewayRef)
	if err != nil {
		if isNotFound(err) {
			// Unknown references happen when webhooks outrun the processing
			// path; surface not found so the webhook can be retried.
			return fmt.Errorf("%w: gateway reference %s", ErrPaymentNotFound, gatewayRef)
		}
		return s.mapRepositoryError(err)
	}

	switch payment.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusProcessing:
	default:
		// Already settled; webhook replays are expected and harmless.
		s.logger(ctx, "payment.reconcile.noop", map[string]any{
			"payment": payment.ID,
			"status":  string(payment.Status),
			"event":   cmd.EventType,
		})
		return nil
	}

	if cmd.Approved {
		_, err = s.finalizeApproved(ctx, payment, gatewayRef, 0)
		return err
	}
	_, err = s.finalizeDeclined(ctx, payment, gatewayRef, cmd.Reason)
	return err
}

func (s *paymentService) finalizeApproved(ctx context.Context, payment Payment, gatewayRef string, fee int64) (Payment, error) {
	now := s.clock()
	payment.Status = domain.PaymentStatusApproved
	payment.GatewayRef = gatewayRef
	payment.FeeAmount = fee
	// A fee above the charged amount still settles with a zero net, never a
	// negative one.
	payment.NetAmount = payment.Amount - fee
	if payment.NetAmount < 0 {
		payment.NetAmount = 0
	}
	payment.ProcessedAt = valuePtr(now)
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, payment); err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, systemActor, "payment.approved", "payment:"+payment.ID, map[string]any{
		"order":  payment.OrderID,
		"amount": payment.Amount,
		"fee":    payment.FeeAmount,
	})

	if payment.Installments > 1 {
		plan := s.buildInstallmentPlan(payment, payment.Installments, now.AddDate(0, 1, 0))
		if err := s.payments.ReplaceInstallments(ctx, payment.ID, plan); err != nil {
			s.logger(ctx, "payment.installments.failed", map[string]any{
				"payment": payment.ID,
				"error":   err.Error(),
			})
		}
	}

	// Approval confirms the order; a conflict here means another path got
	// there first, which is fine.
	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID: payment.OrderID,
		To:      domain.OrderStatusConfirmed,
		Note:    "payment approved",
		Actor:   systemActor,
	}); err != nil && !errors.Is(err, ErrOrderConflict) {
		s.logger(ctx, "payment.order.confirm.failed", map[string]any{
			"payment": payment.ID,
			"order":   payment.OrderID,
			"error":   err.Error(),
		})
	}

	s.publishEvent(ctx, PaymentEvent{
		Type:       EventPaymentCompleted,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		CustomerID: payment.CustomerID,
		Amount:     payment.Amount,
		Status:     payment.Status,
		OccurredAt: now,
	})

	return payment, nil
}

func (s *paymentService) finalizeDeclined(ctx context.Context, payment Payment, gatewayRef, reason string) (Payment, error) {
	now := s.clock()
	payment.Status = domain.PaymentStatusDeclined
	payment.GatewayRef = gatewayRef
	payment.FailureReason = reason
	payment.ProcessedAt = valuePtr(now)
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, payment); err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, systemActor, "payment.declined", "payment:"+payment.ID, map[string]any{
		"order":  payment.OrderID,
		"reason": reason,
	})

	s.publishEvent(ctx, PaymentEvent{
		Type:       EventPaymentFailed,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		CustomerID: payment.CustomerID,
		Amount:     payment.Amount,
		Status:     payment.Status,
		Reason:     reason,
		OccurredAt: now,
	})

	return payment, nil
}

// buildInstallmentPlan splits the amount into count monthly slices. The
// remainder cents land on the first slice so the plan always sums exactly.
func (s *paymentService) buildInstallmentPlan(payment Payment, count int, firstDue time.Time) []domain.PaymentInstallment {
	base := payment.Amount / int64(count)
	remainder := payment.Amount - base*int64(count)
	now := s.clock()

	plan := make([]domain.PaymentInstallment, 0, count)
	for i := 0; i < count; i++ {
		amount := base
		if i == 0 {
			amount += remainder
		}
		plan = append(plan, domain.PaymentInstallment{
			ID:        installmentIDPrefix + s.newID(),
			PaymentID: payment.ID,
			Number:    i + 1,
			Amount:    amount,
			DueDate:   firstDue.AddDate(0, i, 0),
			CreatedAt: now,
		})
	}
	return plan
}

func (s *paymentService) publishEvent(ctx context.Context, event PaymentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"payment": event.PaymentID,
			"error":   err.Error(),
		})
	}
}

func completedRefundTotal(refunds []domain.PaymentRefund) int64 {
	var total int64
	for _, refund := range refunds {
		if refund.Status == domain.RefundStatusCompleted {
			total += refund.Amount
		}
	}
	return total
}

func requiresCardToken(method domain.PaymentMethod) bool {
	return method == domain.PaymentMethodCreditCard || method == domain.PaymentMethodDebitCard
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}
