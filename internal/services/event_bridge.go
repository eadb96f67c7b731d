package services

import (
	"context"
	"errors"

	domain "github.com/mercatto/api/internal/domain"
)

// EventBridgeDeps bundles collaborators for the event bridge.
type EventBridgeDeps struct {
	Notifier   NotificationPublisher
	Deliveries DeliveryService
	Logger     LogFunc
}

// EventBridge fans domain events out to the notification broker and drives
// cross-service workflow steps, such as opening a delivery once an order is
// confirmed. It implements the event publisher interfaces of the order,
// payment and delivery services.
type EventBridge struct {
	notifier   NotificationPublisher
	deliveries DeliveryService
	logger     LogFunc
}

// NewEventBridge constructs the bridge. The delivery service is optional so
// the order and payment services can be wired before deliveries exist.
func NewEventBridge(deps EventBridgeDeps) (*EventBridge, error) {
	if deps.Notifier == nil {
		return nil, errors.New("event bridge: notification publisher is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &EventBridge{
		notifier:   deps.Notifier,
		deliveries: deps.Deliveries,
		logger:     logger,
	}, nil
}

// SetDeliveryService attaches the delivery service after construction. The
// bridge and the delivery service reference each other, so one side has to
// be wired late.
func (b *EventBridge) SetDeliveryService(deliveries DeliveryService) {
	b.deliveries = deliveries
}

// PublishOrderEvent forwards order events to the broker and opens a delivery
// when the order enters fulfilment.
func (b *EventBridge) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	payload := map[string]any{
		"order_id":     event.OrderID,
		"order_number": event.OrderNumber,
		"status":       string(event.CurrentStatus),
	}
	if event.PreviousStatus != "" {
		payload["previous_status"] = string(event.PreviousStatus)
	}
	for k, v := range event.Metadata {
		payload[k] = v
	}

	b.notify(ctx, NotificationEvent{
		EventType: event.Type,
		Recipient: event.CustomerID,
		Payload:   payload,
	})

	if event.CurrentStatus == domain.OrderStatusConfirmed {
		b.openDelivery(ctx, event)
	}
	return nil
}

// PublishPaymentEvent forwards payment events to the broker.
func (b *EventBridge) PublishPaymentEvent(ctx context.Context, event PaymentEvent) error {
	payload := map[string]any{
		"payment_id": event.PaymentID,
		"order_id":   event.OrderID,
		"amount":     event.Amount,
		"status":     string(event.Status),
	}
	if event.Reason != "" {
		payload["reason"] = event.Reason
	}

	b.notify(ctx, NotificationEvent{
		EventType: event.Type,
		Recipient: event.CustomerID,
		Payload:   payload,
	})
	return nil
}

// PublishDeliveryEvent forwards delivery events to the broker.
func (b *EventBridge) PublishDeliveryEvent(ctx context.Context, event DeliveryEvent) error {
	b.notify(ctx, NotificationEvent{
		EventType: event.Type,
		Recipient: event.CustomerID,
		Payload: map[string]any{
			"delivery_id":   event.DeliveryID,
			"order_id":      event.OrderID,
			"tracking_code": event.TrackingCode,
			"status":        string(event.Status),
		},
	})
	return nil
}

func (b *EventBridge) openDelivery(ctx context.Context, event OrderEvent) {
	if b.deliveries == nil {
		return
	}

	if _, err := b.deliveries.CreateForOrder(ctx, CreateDeliveryCommand{OrderID: event.OrderID}); err != nil {
		// A conflict means the delivery already exists, typically after a
		// webhook replay.
		if errors.Is(err, ErrDeliveryConflict) {
			return
		}
		b.logger(ctx, "bridge.delivery.create.failed", map[string]any{
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (b *EventBridge) notify(ctx context.Context, event NotificationEvent) {
	if _, err := b.notifier.PublishNotification(ctx, event); err != nil {
		b.logger(ctx, "bridge.notify.failed", map[string]any{
			"type":      event.EventType,
			"recipient": event.Recipient,
			"error":     err.Error(),
		})
	}
}
