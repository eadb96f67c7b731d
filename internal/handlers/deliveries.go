package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/platform/auth"
	"github.com/mercatto/api/internal/platform/httpx"
	"github.com/mercatto/api/internal/services"
)

const (
	trackingRateLimit  = 30
	trackingRateWindow = time.Minute
)

// DeliveryHandlers exposes delivery management for drivers and admins plus
// the public tracking endpoint.
type DeliveryHandlers struct {
	authn      *auth.Authenticator
	deliveries services.DeliveryService
	limiter    rateLimiter
}

// NewDeliveryHandlers constructs the delivery handlers. The public tracking
// endpoint is rate limited per client address.
func NewDeliveryHandlers(authn *auth.Authenticator, deliveries services.DeliveryService) *DeliveryHandlers {
	return &DeliveryHandlers{
		authn:      authn,
		deliveries: deliveries,
		limiter:    newSimpleRateLimiter(trackingRateLimit, trackingRateWindow, nil),
	}
}

// Routes wires the authenticated /deliveries endpoints onto the provided router.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.listDeliveries)
	r.Get("/{deliveryID}", h.getDelivery)
	r.Post("/{deliveryID}/assign", h.assignDriver)
	r.Post("/{deliveryID}/status", h.updateStatus)
	r.Post("/{deliveryID}/feedback", h.submitFeedback)
}

// PublicRoutes wires the unauthenticated tracking endpoint.
func (h *DeliveryHandlers) PublicRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/tracking/{trackingCode}", h.track)
}

func (h *DeliveryHandlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireDeliveries(w, r)
	if !ok {
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.deliveries.ListDeliveries(ctx, services.DeliveryListQuery{
		Actor:      actorFromIdentity(identity),
		DriverID:   strings.TrimSpace(r.URL.Query().Get("driver_id")),
		Status:     domain.DeliveryStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		Pagination: pager,
	})
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildDeliveryPayload))
}

func (h *DeliveryHandlers) getDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireDeliveries(w, r)
	if !ok {
		return
	}

	delivery, err := h.deliveries.GetDelivery(ctx, strings.TrimSpace(chi.URLParam(r, "deliveryID")), actorFromIdentity(identity))
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"delivery": buildDeliveryPayload(delivery)})
}

type assignDriverRequest struct {
	DriverID string `json:"driver_id"`
}

func (h *DeliveryHandlers) assignDriver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireDeliveries(w, r)
	if !ok {
		return
	}

	var req assignDriverRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	delivery, err := h.deliveries.AssignDriver(ctx, services.AssignDriverCommand{
		DeliveryID: strings.TrimSpace(chi.URLParam(r, "deliveryID")),
		DriverID:   req.DriverID,
		Actor:      actorFromIdentity(identity),
	})
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"delivery": buildDeliveryPayload(delivery)})
}

type deliveryStatusRequest struct {
	To           string   `json:"to"`
	Location     string   `json:"location"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Note         string   `json:"note"`
	SignatureRef string   `json:"signature_ref"`
	PhotoRef     string   `json:"photo_ref"`
}

func (h *DeliveryHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireDeliveries(w, r)
	if !ok {
		return
	}

	var req deliveryStatusRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	delivery, err := h.deliveries.UpdateStatus(ctx, services.DeliveryStatusCommand{
		DeliveryID:   strings.TrimSpace(chi.URLParam(r, "deliveryID")),
		To:           domain.DeliveryStatus(strings.ToLower(strings.TrimSpace(req.To))),
		Location:     req.Location,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Note:         req.Note,
		SignatureRef: req.SignatureRef,
		PhotoRef:     req.PhotoRef,
		Actor:        actorFromIdentity(identity),
	})
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"delivery": buildDeliveryPayload(delivery)})
}

type deliveryFeedbackRequest struct {
	Rating       int    `json:"rating"`
	DriverRating int    `json:"driver_rating"`
	Comment      string `json:"comment"`
}

func (h *DeliveryHandlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireDeliveries(w, r)
	if !ok {
		return
	}

	var req deliveryFeedbackRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	feedback, err := h.deliveries.SubmitFeedback(ctx, services.DeliveryFeedbackCommand{
		DeliveryID:   strings.TrimSpace(chi.URLParam(r, "deliveryID")),
		Rating:       req.Rating,
		DriverRating: req.DriverRating,
		Comment:      req.Comment,
		Actor:        actorFromIdentity(identity),
	})
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"feedback": buildFeedbackPayload(feedback)})
}

func (h *DeliveryHandlers) track(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many tracking requests", http.StatusTooManyRequests))
		return
	}

	view, err := h.deliveries.Track(ctx, strings.TrimSpace(chi.URLParam(r, "trackingCode")))
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tracking": buildTrackingPayload(view)})
}

func (h *DeliveryHandlers) requireDeliveries(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeDeliveryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDeliveryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDeliveryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_not_found", "delivery not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDeliveryInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDeliveryForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this delivery", http.StatusForbidden))
	case errors.Is(err, services.ErrDeliveryConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("delivery_error", "delivery operation failed", http.StatusInternalServerError))
	}
}

type deliveryPayload struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"order_id"`
	OrderNumber     string         `json:"order_number"`
	CustomerID      string         `json:"customer_id"`
	DriverID        string         `json:"driver_id,omitempty"`
	Status          string         `json:"status"`
	TrackingCode    string         `json:"tracking_code"`
	DestinationAddr addressPayload `json:"destination_address"`
	EstimatedDate   string         `json:"estimated_date,omitempty"`
	DeliveredAt     string         `json:"delivered_at,omitempty"`
	SignatureRef    string         `json:"signature_ref,omitempty"`
	PhotoRef        string         `json:"photo_ref,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	UpdatedAt       string         `json:"updated_at,omitempty"`
}

func buildDeliveryPayload(delivery domain.Delivery) deliveryPayload {
	return deliveryPayload{
		ID:              delivery.ID,
		OrderID:         delivery.OrderID,
		OrderNumber:     delivery.OrderNumber,
		CustomerID:      delivery.CustomerID,
		DriverID:        delivery.DriverID,
		Status:          string(delivery.Status),
		TrackingCode:    delivery.TrackingCode,
		DestinationAddr: buildAddressPayload(delivery.DestinationAddr),
		EstimatedDate:   formatTimePtr(delivery.EstimatedDate),
		DeliveredAt:     formatTimePtr(delivery.DeliveredAt),
		SignatureRef:    delivery.SignatureRef,
		PhotoRef:        delivery.PhotoRef,
		CreatedAt:       formatTime(delivery.CreatedAt),
		UpdatedAt:       formatTime(delivery.UpdatedAt),
	}
}

type feedbackPayload struct {
	ID           string `json:"id"`
	DeliveryID   string `json:"delivery_id"`
	Rating       int    `json:"rating"`
	DriverRating int    `json:"driver_rating,omitempty"`
	Comment      string `json:"comment,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func buildFeedbackPayload(feedback domain.DeliveryFeedback) feedbackPayload {
	return feedbackPayload{
		ID:           feedback.ID,
		DeliveryID:   feedback.DeliveryID,
		Rating:       feedback.Rating,
		DriverRating: feedback.DriverRating,
		Comment:      feedback.Comment,
		CreatedAt:    formatTime(feedback.CreatedAt),
	}
}

type trackingPayload struct {
	TrackingCode  string                 `json:"tracking_code"`
	Status        string                 `json:"status"`
	City          string                 `json:"city,omitempty"`
	State         string                 `json:"state,omitempty"`
	EstimatedDate string                 `json:"estimated_date,omitempty"`
	DeliveredAt   string                 `json:"delivered_at,omitempty"`
	History       []trackingEventPayload `json:"history"`
}

type trackingEventPayload struct {
	Status    string `json:"status"`
	Location  string `json:"location,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func buildTrackingPayload(view domain.TrackingView) trackingPayload {
	history := make([]trackingEventPayload, 0, len(view.History))
	for _, event := range view.History {
		history = append(history, trackingEventPayload{
			Status:    string(event.Status),
			Location:  event.Location,
			Note:      event.Note,
			CreatedAt: formatTime(event.CreatedAt),
		})
	}
	return trackingPayload{
		TrackingCode:  view.TrackingCode,
		Status:        string(view.Status),
		City:          view.City,
		State:         view.State,
		EstimatedDate: formatTimePtr(view.EstimatedDate),
		DeliveredAt:   formatTimePtr(view.DeliveredAt),
		History:       history,
	}
}
