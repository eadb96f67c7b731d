package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

const (
	deliveryIDPrefix = "dlv_"
	feedbackIDPrefix = "fbk_"

	minRating = 1
	maxRating = 5
)

var (
	// ErrDeliveryInvalidInput signals the caller provided invalid delivery data.
	ErrDeliveryInvalidInput = errors.New("delivery: invalid input")
	// ErrDeliveryNotFound indicates the delivery could not be located.
	ErrDeliveryNotFound = errors.New("delivery: not found")
	// ErrDeliveryInvalidState indicates the requested transition is not allowed.
	ErrDeliveryInvalidState = errors.New("delivery: invalid state")
	// ErrDeliveryForbidden indicates the actor may not access or mutate the delivery.
	ErrDeliveryForbidden = errors.New("delivery: forbidden")
	// ErrDeliveryConflict indicates the delivery changed concurrently or already exists.
	ErrDeliveryConflict = errors.New("delivery: conflict")
)

// deliveryStatuses is the accepted status vocabulary. Order of steps is not
// restricted at this layer; drivers report what actually happened on the
// route, and the order workflow remains the gatekeeper via syncOrderStatus.
var deliveryStatuses = []domain.DeliveryStatus{
	domain.DeliveryStatusAssigned,
	domain.DeliveryStatusPickedUp,
	domain.DeliveryStatusInTransit,
	domain.DeliveryStatusDelivered,
	domain.DeliveryStatusFailed,
	domain.DeliveryStatusReturned,
}

// DeliveryEvent captures metadata for emitted delivery domain events.
type DeliveryEvent struct {
	Type         string
	DeliveryID   string
	OrderID      string
	CustomerID   string
	TrackingCode string
	Status       DeliveryStatus
	OccurredAt   time.Time
}

// DeliveryEventPublisher publishes delivery domain events for downstream consumers.
type DeliveryEventPublisher interface {
	PublishDeliveryEvent(ctx context.Context, event DeliveryEvent) error
}

// DeliveryServiceDeps bundles collaborators required to construct the delivery service.
type DeliveryServiceDeps struct {
	Deliveries   repositories.DeliveryRepository
	Orders       OrderService
	Audit        AuditLogService
	Clock        Clock
	IDGenerator  IDGenerator
	TrackingCode func() string
	Events       DeliveryEventPublisher
	Logger       LogFunc
}

type deliveryService struct {
	deliveries   repositories.DeliveryRepository
	orders       OrderService
	audit        AuditLogService
	clock        func() time.Time
	newID        func() string
	trackingCode func() string
	events       DeliveryEventPublisher
	logger       LogFunc
}

// NewDeliveryService wires dependencies into a concrete DeliveryService implementation.
func NewDeliveryService(deps DeliveryServiceDeps) (DeliveryService, error) {
	if deps.Deliveries == nil {
		return nil, errors.New("delivery service: delivery repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("delivery service: order service is required")
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

	trackingCode := deps.TrackingCode
	if trackingCode == nil {
		// Tracking codes are the only public handle on a delivery, so they
		// must be unguessable.
		trackingCode = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &deliveryService{
		deliveries: deps.Deliveries,
		orders:     deps.Orders,
		audit:      deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		trackingCode: trackingCode,
		events:       deps.Events,
		logger:       logger,
	}, nil
}

func (s *deliveryService) CreateForOrder(ctx context.Context, cmd CreateDeliveryCommand) (Delivery, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Delivery{}, fmt.Errorf("%w: order id is required", ErrDeliveryInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID, systemActor)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return Delivery{}, fmt.Errorf("%w: order %s", ErrDeliveryNotFound, orderID)
		}
		return Delivery{}, err
	}
	switch order.Status {
	case domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped:
	default:
		return Delivery{}, fmt.Errorf("%w: order %s is %s, deliveries require a confirmed order", ErrDeliveryInvalidState, orderID, order.Status)
	}

	if existing, err := s.deliveries.FindByOrder(ctx, orderID); err == nil {
		return Delivery{}, fmt.Errorf("%w: delivery %s already exists for order %s", ErrDeliveryConflict, existing.ID, orderID)
	} else if !isNotFound(err) {
		return Delivery{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	delivery := domain.Delivery{
		ID:              deliveryIDPrefix + s.newID(),
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerID:      order.CustomerID,
		DriverID:        strings.TrimSpace(cmd.DriverID),
		Status:          domain.DeliveryStatusAssigned,
		TrackingCode:    s.trackingCode(),
		DestinationAddr: order.ShippingAddress,
		EstimatedDate:   cmd.EstimatedDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.deliveries.Insert(ctx, delivery); err != nil {
		return Delivery{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "delivery.created", map[string]any{
		"delivery": delivery.ID,
		"order":    order.ID,
		"tracking": delivery.TrackingCode,
	})
	recordAudit(ctx, s.audit, systemActor, "delivery.created", "delivery:"+delivery.ID, map[string]any{
		"order": order.ID,
	})
	return delivery, nil
}

func (s *deliveryService) GetDelivery(ctx context.Context, deliveryID string, actor Actor) (Delivery, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return Delivery{}, fmt.Errorf("%w: delivery id is required", ErrDeliveryInvalidInput)
	}

	delivery, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return Delivery{}, s.mapRepositoryError(err)
	}
	if err := authorizeDeliveryRead(delivery, actor); err != nil {
		return Delivery{}, err
	}
	return delivery, nil
}

func (s *deliveryService) ListDeliveries(ctx context.Context, query DeliveryListQuery) (domain.CursorPage[Delivery], error) {
	filter := repositories.DeliveryListFilter{
		DriverID:   strings.TrimSpace(query.DriverID),
		Status:     query.Status,
		Pagination: query.Pagination,
	}

	switch {
	case query.Actor.IsAdmin():
	case query.Actor.IsDriver():
		// Drivers only ever see their own route.
		filter.DriverID = query.Actor.ID
	default:
		filter.CustomerID = query.Actor.ID
	}

	page, err := s.deliveries.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Delivery]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *deliveryService) AssignDriver(ctx context.Context, cmd AssignDriverCommand) (Delivery, error) {
	deliveryID := strings.TrimSpace(cmd.DeliveryID)
	driverID := strings.TrimSpace(cmd.DriverID)
	if deliveryID == "" {
		return Delivery{}, fmt.Errorf("%w: delivery id is required", ErrDeliveryInvalidInput)
	}
	if driverID == "" {
		return Delivery{}, fmt.Errorf("%w: driver id is required", ErrDeliveryInvalidInput)
	}
	if !cmd.Actor.IsAdmin() {
		return Delivery{}, fmt.Errorf("%w: only staff may assign drivers", ErrDeliveryForbidden)
	}

	delivery, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return Delivery{}, s.mapRepositoryError(err)
	}
	switch delivery.Status {
	case domain.DeliveryStatusAssigned, domain.DeliveryStatusFailed:
	default:
		return Delivery{}, fmt.Errorf("%w: delivery is %s, drivers can only be changed before pickup", ErrDeliveryInvalidState, delivery.Status)
	}

	updated, err := s.deliveries.AssignDriver(ctx, deliveryID, driverID, s.clock())
	if err != nil {
		return Delivery{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "delivery.driver.assigned", map[string]any{
		"delivery": deliveryID,
		"driver":   driverID,
	})
	recordAudit(ctx, s.audit, cmd.Actor, "delivery.driver_assigned", "delivery:"+deliveryID, map[string]any{
		"driver": driverID,
	})
	return updated, nil
}

func (s *deliveryService) UpdateStatus(ctx context.Context, cmd DeliveryStatusCommand) (Delivery, error) {
	deliveryID := strings.TrimSpace(cmd.DeliveryID)
	if deliveryID == "" {
		return Delivery{}, fmt.Errorf("%w: delivery id is required", ErrDeliveryInvalidInput)
	}
	if !slices.Contains(deliveryStatuses, cmd.To) {
		return Delivery{}, fmt.Errorf("%w: unknown status %q", ErrDeliveryInvalidInput, cmd.To)
	}

	delivery, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return Delivery{}, s.mapRepositoryError(err)
	}

	switch {
	case cmd.Actor.IsAdmin():
	case cmd.Actor.IsDriver() && delivery.DriverID == cmd.Actor.ID:
	default:
		return Delivery{}, fmt.Errorf("%w: only the assigned driver may report progress", ErrDeliveryForbidden)
	}

	now := s.clock()
	change := domain.DeliveryStatusChange{
		ID:         s.newID(),
		DeliveryID: delivery.ID,
		From:       delivery.Status,
		To:         cmd.To,
		ActorID:    cmd.Actor.ID,
		Location:   strings.TrimSpace(cmd.Location),
		Note:       strings.TrimSpace(cmd.Note),
		CreatedAt:  now,
	}
	if cmd.Latitude != nil && cmd.Longitude != nil {
		change.Position = &domain.GeoPoint{Latitude: *cmd.Latitude, Longitude: *cmd.Longitude}
	}

	update := repositories.DeliveryStatusUpdate{
		DeliveryID:   delivery.ID,
		ExpectedFrom: delivery.Status,
		To:           cmd.To,
		Change:       change,
		Now:          now,
	}
	if cmd.To == domain.DeliveryStatusDelivered {
		update.DeliveredAt = valuePtr(now)
		update.SignatureRef = strings.TrimSpace(cmd.SignatureRef)
		update.PhotoRef = strings.TrimSpace(cmd.PhotoRef)
	}

	updated, err := s.deliveries.UpdateStatus(ctx, update)
	if err != nil {
		return Delivery{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, cmd.Actor, "delivery.status_changed", "delivery:"+updated.ID, map[string]any{
		"from": string(delivery.Status),
		"to":   string(updated.Status),
	})

	s.syncOrderStatus(ctx, updated)

	s.publishEvent(ctx, DeliveryEvent{
		Type:         EventDeliveryStatusChanged,
		DeliveryID:   updated.ID,
		OrderID:      updated.OrderID,
		CustomerID:   updated.CustomerID,
		TrackingCode: updated.TrackingCode,
		Status:       updated.Status,
		OccurredAt:   now,
	})
	return updated, nil
}

func (s *deliveryService) Track(ctx context.Context, trackingCode string) (TrackingView, error) {
	trackingCode = strings.TrimSpace(trackingCode)
	if trackingCode == "" {
		return TrackingView{}, fmt.Errorf("%w: tracking code is required", ErrDeliveryInvalidInput)
	}

	delivery, err := s.deliveries.FindByTrackingCode(ctx, trackingCode)
	if err != nil {
		return TrackingView{}, s.mapRepositoryError(err)
	}

	history, err := s.deliveries.ListStatusHistory(ctx, delivery.ID, domain.Pagination{})
	if err != nil {
		return TrackingView{}, s.mapRepositoryError(err)
	}

	view := TrackingView{
		TrackingCode:  delivery.TrackingCode,
		Status:        delivery.Status,
		City:          delivery.DestinationAddr.City,
		State:         delivery.DestinationAddr.State,
		EstimatedDate: delivery.EstimatedDate,
		DeliveredAt:   delivery.DeliveredAt,
	}
	for _, change := range history.Items {
		view.History = append(view.History, domain.TrackingEvent{
			Status:    change.To,
			Location:  change.Location,
			Note:      change.Note,
			CreatedAt: change.CreatedAt,
		})
	}
	return view, nil
}

func (s *deliveryService) SubmitFeedback(ctx context.Context, cmd DeliveryFeedbackCommand) (DeliveryFeedback, error) {
	deliveryID := strings.TrimSpace(cmd.DeliveryID)
	if deliveryID == "" {
		return DeliveryFeedback{}, fmt.Errorf("%w: delivery id is required", ErrDeliveryInvalidInput)
	}
	if cmd.Rating < minRating || cmd.Rating > maxRating {
		return DeliveryFeedback{}, fmt.Errorf("%w: rating must be between %d and %d", ErrDeliveryInvalidInput, minRating, maxRating)
	}
	if cmd.DriverRating != 0 && (cmd.DriverRating < minRating || cmd.DriverRating > maxRating) {
		return DeliveryFeedback{}, fmt.Errorf("%w: driver rating must be between %d and %d", ErrDeliveryInvalidInput, minRating, maxRating)
	}

	delivery, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return DeliveryFeedback{}, s.mapRepositoryError(err)
	}
	if !cmd.Actor.IsAdmin() && delivery.CustomerID != cmd.Actor.ID {
		return DeliveryFeedback{}, fmt.Errorf("%w: delivery belongs to another customer", ErrDeliveryForbidden)
	}
	if delivery.Status != domain.DeliveryStatusDelivered {
		return DeliveryFeedback{}, fmt.Errorf("%w: delivery is %s, feedback requires a delivered package", ErrDeliveryInvalidState, delivery.Status)
	}

	if existing, err := s.deliveries.FindFeedback(ctx, deliveryID); err == nil {
		return DeliveryFeedback{}, fmt.Errorf("%w: feedback %s already recorded", ErrDeliveryConflict, existing.ID)
	} else if !isNotFound(err) {
		return DeliveryFeedback{}, s.mapRepositoryError(err)
	}

	feedback := domain.DeliveryFeedback{
		ID:           feedbackIDPrefix + s.newID(),
		DeliveryID:   delivery.ID,
		CustomerID:   delivery.CustomerID,
		Rating:       cmd.Rating,
		DriverRating: cmd.DriverRating,
		Comment:      strings.TrimSpace(cmd.Comment),
		CreatedAt:    s.clock(),
	}
	if err := s.deliveries.InsertFeedback(ctx, feedback); err != nil {
		return DeliveryFeedback{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, cmd.Actor, "delivery.feedback_submitted", "delivery:"+delivery.ID, map[string]any{
		"rating": feedback.Rating,
	})
	return feedback, nil
}

// syncOrderStatus mirrors delivery milestones onto the order workflow. A
// conflict means another path already advanced the order, which is fine.
func (s *deliveryService) syncOrderStatus(ctx context.Context, delivery Delivery) {
	var target domain.OrderStatus
	var note string
	switch delivery.Status {
	case domain.DeliveryStatusPickedUp:
		target = domain.OrderStatusShipped
		note = "package picked up"
	case domain.DeliveryStatusDelivered:
		target = domain.OrderStatusDelivered
		note = "package delivered"
	case domain.DeliveryStatusReturned:
		target = domain.OrderStatusReturned
		note = "package returned"
	default:
		return
	}

	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID: delivery.OrderID,
		To:      target,
		Note:    note,
		Actor:   systemActor,
	}); err != nil && !errors.Is(err, ErrOrderConflict) {
		s.logger(ctx, "delivery.order.sync.failed", map[string]any{
			"delivery": delivery.ID,
			"order":    delivery.OrderID,
			"target":   string(target),
			"error":    err.Error(),
		})
	}
}

func (s *deliveryService) publishEvent(ctx context.Context, event DeliveryEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDeliveryEvent(ctx, event); err != nil {
		s.logger(ctx, "delivery.event.publish.failed", map[string]any{
			"type":     event.Type,
			"delivery": event.DeliveryID,
			"error":    err.Error(),
		})
	}
}

func authorizeDeliveryRead(delivery Delivery, actor Actor) error {
	switch {
	case actor.IsAdmin():
		return nil
	case actor.IsDriver() && delivery.DriverID == actor.ID:
		return nil
	case delivery.CustomerID == actor.ID:
		return nil
	}
	return fmt.Errorf("%w: delivery belongs to another party", ErrDeliveryForbidden)
}

func (s *deliveryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDeliveryNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrDeliveryConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("delivery: repository unavailable: %w", err)
		}
	}

	return err
}
