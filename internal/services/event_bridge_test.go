package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/mercatto/api/internal/domain"
)

type captureNotifications struct {
	events []NotificationEvent
	err    error
}

func (c *captureNotifications) PublishNotification(_ context.Context, event NotificationEvent) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, event)
	return "msg-1", nil
}

type stubDeliveryService struct {
	createFn func(context.Context, CreateDeliveryCommand) (Delivery, error)
}

func (s *stubDeliveryService) CreateForOrder(ctx context.Context, cmd CreateDeliveryCommand) (Delivery, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return Delivery{}, nil
}

func (s *stubDeliveryService) GetDelivery(context.Context, string, Actor) (Delivery, error) {
	return Delivery{}, errors.New("not implemented")
}

func (s *stubDeliveryService) ListDeliveries(context.Context, DeliveryListQuery) (domain.CursorPage[Delivery], error) {
	return domain.CursorPage[Delivery]{}, errors.New("not implemented")
}

func (s *stubDeliveryService) AssignDriver(context.Context, AssignDriverCommand) (Delivery, error) {
	return Delivery{}, errors.New("not implemented")
}

func (s *stubDeliveryService) UpdateStatus(context.Context, DeliveryStatusCommand) (Delivery, error) {
	return Delivery{}, errors.New("not implemented")
}

func (s *stubDeliveryService) Track(context.Context, string) (TrackingView, error) {
	return TrackingView{}, errors.New("not implemented")
}

func (s *stubDeliveryService) SubmitFeedback(context.Context, DeliveryFeedbackCommand) (DeliveryFeedback, error) {
	return DeliveryFeedback{}, errors.New("not implemented")
}

func TestBridgeForwardsOrderEvents(t *testing.T) {
	notifier := &captureNotifications{}
	bridge, err := NewEventBridge(EventBridgeDeps{Notifier: notifier})
	if err != nil {
		t.Fatalf("NewEventBridge returned error: %v", err)
	}

	err = bridge.PublishOrderEvent(context.Background(), OrderEvent{
		Type:           EventOrderStatusChanged,
		OrderID:        "ord-1",
		OrderNumber:    "MC-2026-000042",
		CustomerID:     "cust-1",
		PreviousStatus: domain.OrderStatusPending,
		CurrentStatus:  domain.OrderStatusCancelled,
	})
	if err != nil {
		t.Fatalf("PublishOrderEvent returned error: %v", err)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.EventType != EventOrderStatusChanged || event.Recipient != "cust-1" {
		t.Errorf("unexpected notification %#v", event)
	}
	if event.Payload["order_number"] != "MC-2026-000042" || event.Payload["previous_status"] != "pending" {
		t.Errorf("unexpected payload %#v", event.Payload)
	}
}

func TestBridgeOpensDeliveryOnConfirmation(t *testing.T) {
	notifier := &captureNotifications{}
	var created CreateDeliveryCommand
	deliveries := &stubDeliveryService{
		createFn: func(_ context.Context, cmd CreateDeliveryCommand) (Delivery, error) {
			created = cmd
			return domain.Delivery{ID: "dlv-1"}, nil
		},
	}

	bridge, err := NewEventBridge(EventBridgeDeps{Notifier: notifier, Deliveries: deliveries})
	if err != nil {
		t.Fatalf("NewEventBridge returned error: %v", err)
	}

	if err := bridge.PublishOrderEvent(context.Background(), OrderEvent{
		Type:          EventOrderStatusChanged,
		OrderID:       "ord-1",
		CustomerID:    "cust-1",
		CurrentStatus: domain.OrderStatusConfirmed,
	}); err != nil {
		t.Fatalf("PublishOrderEvent returned error: %v", err)
	}

	if created.OrderID != "ord-1" {
		t.Errorf("expected delivery for ord-1, got %#v", created)
	}
}

func TestBridgeIgnoresDuplicateDelivery(t *testing.T) {
	notifier := &captureNotifications{}
	deliveries := &stubDeliveryService{
		createFn: func(context.Context, CreateDeliveryCommand) (Delivery, error) {
			return Delivery{}, ErrDeliveryConflict
		},
	}

	bridge, err := NewEventBridge(EventBridgeDeps{Notifier: notifier, Deliveries: deliveries})
	if err != nil {
		t.Fatalf("NewEventBridge returned error: %v", err)
	}

	if err := bridge.PublishOrderEvent(context.Background(), OrderEvent{
		OrderID:       "ord-1",
		CurrentStatus: domain.OrderStatusConfirmed,
	}); err != nil {
		t.Fatalf("expected duplicate delivery to be ignored, got %v", err)
	}
}

func TestBridgeSwallowsBrokerFailures(t *testing.T) {
	notifier := &captureNotifications{err: errors.New("broker down")}
	bridge, err := NewEventBridge(EventBridgeDeps{Notifier: notifier})
	if err != nil {
		t.Fatalf("NewEventBridge returned error: %v", err)
	}

	if err := bridge.PublishPaymentEvent(context.Background(), PaymentEvent{
		Type:      EventPaymentCompleted,
		PaymentID: "pay-1",
	}); err != nil {
		t.Fatalf("expected broker failure to be swallowed, got %v", err)
	}
}
