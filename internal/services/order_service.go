package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	statusChangeIDPrefix = "osc_"
	movementIDPrefix     = "mov_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor may not access or mutate the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInsufficientStock indicates at least one cart line exceeds the
	// available stock at commit time.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderEmptyCart indicates checkout was attempted on an empty cart.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusReturned},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	CustomerID     string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Stock       repositories.StockRepository
	Counters    repositories.CounterRepository
	Coupons     CouponService
	Policy      CheckoutPolicy
	Audit       AuditLogService
	Clock       Clock
	IDGenerator IDGenerator
	Events      OrderEventPublisher
	Logger      LogFunc
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	stock      repositories.StockRepository
	counters   repositories.CounterRepository
	coupons    CouponService
	policy     CheckoutPolicy
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     LogFunc
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
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

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		products:   deps.Products,
		stock:      deps.Stock,
		counters:   deps.Counters,
		coupons:    deps.Coupons,
		policy:     deps.Policy,
		audit:      deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if !validPaymentMethod(cmd.PaymentMethod) {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Line1) == "" || strings.TrimSpace(cmd.ShippingAddress.City) == "" {
		return Order{}, fmt.Errorf("%w: shipping address is incomplete", ErrOrderInvalidInput)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, ErrOrderEmptyCart
		}
		return Order{}, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	products, err := s.products.FindByIDs(ctx, cartProductIDs(cart))
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()

	var subtotal int64
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		product, ok := products[line.ProductID]
		if !ok {
			return Order{}, fmt.Errorf("%w: product %s not found", ErrOrderInvalidInput, line.ProductID)
		}
		if !product.Active {
			return Order{}, fmt.Errorf("%w: product %s is no longer available", ErrOrderInvalidInput, line.ProductID)
		}
		if line.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: quantity for product %s must be positive", ErrOrderInvalidInput, line.ProductID)
		}
		unitPrice := product.CurrentPrice()
		lineTotal := unitPrice * int64(line.Quantity)
		subtotal += lineTotal
		items = append(items, domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			SKU:         product.SKU,
			Quantity:    line.Quantity,
			UnitPrice:   unitPrice,
			Subtotal:    lineTotal,
		})
	}

	couponCode := strings.TrimSpace(cmd.CouponCode)
	if couponCode == "" {
		couponCode = strings.TrimSpace(cart.CouponCode)
	}

	var discount int64
	var quote CouponQuote
	if couponCode != "" {
		if s.coupons == nil {
			return Order{}, fmt.Errorf("%w: coupons are not supported", ErrOrderInvalidInput)
		}
		quote, err = s.coupons.Quote(ctx, CouponQuoteCommand{
			Code:       couponCode,
			CustomerID: customerID,
			OrderValue: subtotal,
			At:         now,
		})
		if err != nil {
			return Order{}, err
		}
		discount = quote.Discount
	}

	totals := domain.ComputeTotals(subtotal, s.policy, discount)

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := domain.Order{
		ID:              s.nextOrderID(),
		OrderNumber:     number,
		CustomerID:      customerID,
		Status:          domain.OrderStatusPending,
		Items:           items,
		Subtotal:        totals.Subtotal,
		ShippingCost:    totals.ShippingCost,
		TaxAmount:       totals.TaxAmount,
		DiscountAmount:  totals.DiscountAmount,
		Total:           totals.Total,
		CouponCode:      couponCode,
		PaymentMethod:   cmd.PaymentMethod,
		ShippingAddress: cmd.ShippingAddress,
		Notes:           strings.TrimSpace(cmd.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !domain.TotalsConsistent(order) {
		return Order{}, fmt.Errorf("order: totals breakdown does not add up for %s", order.ID)
	}

	movements := make([]domain.StockMovement, 0, len(items))
	for _, item := range items {
		movements = append(movements, domain.StockMovement{
			ID:        movementIDPrefix + s.newID(),
			ProductID: item.ProductID,
			Quantity:  int64(item.Quantity),
			Type:      domain.MovementOut,
			Reason:    "Sale - order " + order.OrderNumber,
			ActorID:   customerID,
			CreatedAt: now,
		})
	}

	write := repositories.CheckoutWrite{
		Order:     order,
		Movements: movements,
		ClearCart: customerID,
		Now:       now,
	}
	if discount > 0 {
		write.Redemption = &domain.CouponUsage{
			ID:             quote.Coupon.ID + "_" + order.ID,
			CouponID:       quote.Coupon.ID,
			Code:           quote.Coupon.Code,
			CustomerID:     customerID,
			OrderID:        order.ID,
			DiscountAmount: discount,
			CreatedAt:      now,
		}
	}

	created, err := s.orders.CreateCheckout(ctx, write)
	if err != nil {
		return Order{}, s.mapCheckoutError(err)
	}

	recordAudit(ctx, s.audit, Actor{ID: customerID, Role: domain.RoleCustomer}, "order.created", "order:"+created.ID, map[string]any{
		"number": created.OrderNumber,
		"total":  created.Total,
	})

	s.publishEvent(ctx, OrderEvent{
		Type:          EventOrderCreated,
		OrderID:       created.ID,
		OrderNumber:   created.OrderNumber,
		CustomerID:    created.CustomerID,
		CurrentStatus: created.Status,
		ActorID:       customerID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":          created.Total,
			"payment_method": string(created.PaymentMethod),
		},
	})

	return created, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	filter := repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(query.CustomerID),
		Status:     query.Status,
		CreatedAt:  domain.RangeQuery[time.Time]{From: query.From, To: query.To},
		Pagination: query.Pagination,
	}

	// Customers only ever see their own orders regardless of the filter.
	if !query.Actor.IsAdmin() {
		filter.CustomerID = query.Actor.ID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderRead(order, actor); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.To == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !cmd.Actor.IsAdmin() {
		return Order{}, fmt.Errorf("%w: only staff may change order status", ErrOrderForbidden)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Gateway webhooks and delivery syncs retry their transitions. Repeating
	// the current status is treated as already applied, with no history row.
	if order.Status == cmd.To {
		return order, nil
	}
	if !canTransition(order.Status, cmd.To) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, cmd.To)
	}

	now := s.now()
	prev := order.Status

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:      orderID,
		ExpectedFrom: prev,
		To:           cmd.To,
		Change: domain.OrderStatusChange{
			ID:        statusChangeIDPrefix + s.newID(),
			OrderID:   orderID,
			From:      prev,
			To:        cmd.To,
			ActorID:   cmd.Actor.ID,
			Note:      strings.TrimSpace(cmd.Note),
			CreatedAt: now,
		},
		Stamps: statusStamps(cmd.To, now),
		Now:    now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, cmd.Actor, "order.status_changed", "order:"+updated.ID, map[string]any{
		"from": string(prev),
		"to":   string(updated.Status),
	})

	s.publishEvent(ctx, OrderEvent{
		Type:           EventOrderStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		CustomerID:     updated.CustomerID,
		PreviousStatus: prev,
		CurrentStatus:  updated.Status,
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
	})

	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !cmd.Actor.IsAdmin() && order.CustomerID != cmd.Actor.ID {
		return Order{}, fmt.Errorf("%w: you may only cancel your own orders", ErrOrderForbidden)
	}
	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	prev := order.Status
	note := strings.TrimSpace(cmd.Reason)

	// Every sold unit returns to stock in the same transaction as the status
	// change, one compensating movement per item.
	restock := make([]domain.StockMovement, 0, len(order.Items))
	for _, item := range order.Items {
		restock = append(restock, domain.StockMovement{
			ID:        movementIDPrefix + s.newID(),
			ProductID: item.ProductID,
			Quantity:  int64(item.Quantity),
			Type:      domain.MovementIn,
			Reason:    "Cancellation - order " + order.OrderNumber,
			ActorID:   cmd.Actor.ID,
			CreatedAt: now,
		})
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:      orderID,
		ExpectedFrom: prev,
		To:           domain.OrderStatusCancelled,
		Change: domain.OrderStatusChange{
			ID:        statusChangeIDPrefix + s.newID(),
			OrderID:   orderID,
			From:      prev,
			To:        domain.OrderStatusCancelled,
			ActorID:   cmd.Actor.ID,
			Note:      note,
			CreatedAt: now,
		},
		Stamps:  statusStamps(domain.OrderStatusCancelled, now),
		Restock: restock,
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, cmd.Actor, "order.cancelled", "order:"+updated.ID, map[string]any{
		"from":   string(prev),
		"reason": note,
	})

	metadata := map[string]any{}
	if note != "" {
		metadata["reason"] = note
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           EventOrderStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		CustomerID:     updated.CustomerID,
		PreviousStatus: prev,
		CurrentStatus:  updated.Status,
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return updated, nil
}

func (s *orderService) ListStatusHistory(ctx context.Context, orderID string, actor Actor, pager Pagination) (domain.CursorPage[OrderStatusChange], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[OrderStatusChange]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.CursorPage[OrderStatusChange]{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderRead(order, actor); err != nil {
		return domain.CursorPage[OrderStatusChange]{}, err
	}

	page, err := s.orders.ListStatusHistory(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[OrderStatusChange]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func authorizeOrderRead(order Order, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	if order.CustomerID != actor.ID {
		return fmt.Errorf("%w: order belongs to another customer", ErrOrderForbidden)
	}
	return nil
}

func statusStamps(status domain.OrderStatus, now time.Time) repositories.OrderStamps {
	switch status {
	case domain.OrderStatusConfirmed:
		return repositories.OrderStamps{ConfirmedAt: &now}
	case domain.OrderStatusShipped:
		return repositories.OrderStamps{ShippedAt: &now}
	case domain.OrderStatusDelivered:
		return repositories.OrderStamps{DeliveredAt: &now}
	case domain.OrderStatusCancelled:
		return repositories.OrderStamps{CancelledAt: &now}
	}
	return repositories.OrderStamps{}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) mapCheckoutError(err error) error {
	if err == nil {
		return nil
	}

	var checkoutErr *repositories.CheckoutError
	if errors.As(err, &checkoutErr) {
		switch checkoutErr.Code {
		case repositories.CheckoutErrorInsufficientStock:
			return fmt.Errorf("%w: product %s", ErrOrderInsufficientStock, checkoutErr.ProductID)
		case repositories.CheckoutErrorCouponExhausted, repositories.CheckoutErrorCouponRedeemed:
			return fmt.Errorf("%w: %v", ErrCouponNotApplicable, err)
		}
	}

	return s.mapRepositoryError(err)
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MC-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func cartProductIDs(cart Cart) []string {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func validPaymentMethod(method PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCreditCard, domain.PaymentMethodDebitCard, domain.PaymentMethodPix, domain.PaymentMethodBoleto:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func valuePtr[T any](v T) *T {
	return &v
}
