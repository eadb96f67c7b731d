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
	"github.com/mercatto/api/internal/repositories"
	"github.com/mercatto/api/internal/services"
)

// OrderHandlers exposes checkout and order lifecycle endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.checkout)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/history", h.listHistory)
	r.Post("/{orderID}/status", h.transitionStatus)
	r.Post("/{orderID}/cancel", h.cancel)
}

type checkoutRequest struct {
	PaymentMethod   string         `json:"payment_method"`
	ShippingAddress addressRequest `json:"shipping_address"`
	CouponCode      string         `json:"coupon_code"`
	Notes           string         `json:"notes"`
}

type addressRequest struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (req addressRequest) toDomain() domain.Address {
	return domain.Address{
		Name:       req.Name,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		Phone:      req.Phone,
	}
}

func (h *OrderHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Checkout(ctx, services.CheckoutCommand{
		CustomerID:      identity.Subject,
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		ShippingAddress: req.ShippingAddress.toDomain(),
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(w, r)
	if !ok {
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	from, err := parseTimeParam(r, "from")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		Actor:      actorFromIdentity(identity),
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer_id")),
		Status:     domain.OrderStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		From:       from,
		To:         to,
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildOrderPayload))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")), actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(w, r)
	if !ok {
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListStatusHistory(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")), actorFromIdentity(identity), pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildOrderHistoryPayload))
}

type orderStatusRequest struct {
	To   string `json:"to"`
	Note string `json:"note"`
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(w, r)
	if !ok {
		return
	}

	var req orderStatusRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		To:      domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.To))),
		Note:    req.Note,
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireOrders(w, r)
	if !ok {
		return
	}

	// The cancellation reason is optional, so an empty body is accepted.
	var req cancelOrderRequest
	if body, err := readLimitedBody(r, defaultMaxBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Reason:  req.Reason,
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) requireOrders(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var checkoutErr *repositories.CheckoutError
	if errors.As(err, &checkoutErr) {
		httpx.WriteError(ctx, w, httpx.NewError(string(checkoutErr.Code), checkoutErr.Message, http.StatusUnprocessableEntity))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotApplicable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_applicable", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	CustomerID      string             `json:"customer_id"`
	Status          string             `json:"status"`
	Items           []orderItemPayload `json:"items"`
	Subtotal        int64              `json:"subtotal"`
	ShippingCost    int64              `json:"shipping_cost"`
	TaxAmount       int64              `json:"tax_amount"`
	DiscountAmount  int64              `json:"discount_amount"`
	Total           int64              `json:"total"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	PaymentMethod   string             `json:"payment_method"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	Notes           string             `json:"notes,omitempty"`
	ConfirmedAt     string             `json:"confirmed_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
	CreatedAt       string             `json:"created_at,omitempty"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Name:       addr.Name,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
	}
	return orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerID:      order.CustomerID,
		Status:          string(order.Status),
		Items:           items,
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		TaxAmount:       order.TaxAmount,
		DiscountAmount:  order.DiscountAmount,
		Total:           order.Total,
		CouponCode:      order.CouponCode,
		PaymentMethod:   string(order.PaymentMethod),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		Notes:           order.Notes,
		ConfirmedAt:     formatTimePtr(order.ConfirmedAt),
		ShippedAt:       formatTimePtr(order.ShippedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

type orderHistoryPayload struct {
	ID        string `json:"id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func buildOrderHistoryPayload(change domain.OrderStatusChange) orderHistoryPayload {
	return orderHistoryPayload{
		ID:        change.ID,
		From:      string(change.From),
		To:        string(change.To),
		ActorID:   change.ActorID,
		Note:      change.Note,
		CreatedAt: formatTime(change.CreatedAt),
	}
}
