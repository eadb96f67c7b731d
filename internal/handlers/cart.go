package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/platform/auth"
	"github.com/mercatto/api/internal/platform/httpx"
	"github.com/mercatto/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current customer.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Put("/items", h.upsertItem)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Get("/estimate", h.estimate)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, identity.Subject)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, identity.Subject); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type upsertCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) upsertItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req upsertCartItemRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.AddOrUpdateItem(ctx, services.UpsertCartItemCommand{
		CustomerID: identity.Subject,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		CustomerID: identity.Subject,
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productID")),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(cart)})
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req applyCouponRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.ApplyCoupon(ctx, services.CartCouponCommand{
		CustomerID: identity.Subject,
		Code:       req.Code,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(cart)})
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveCoupon(ctx, identity.Subject)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(cart)})
}

func (h *CartHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	estimate, err := h.carts.Estimate(ctx, identity.Subject)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"estimate": buildEstimatePayload(estimate)})
}

func (h *CartHandlers) requireCustomer(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotApplicable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_applicable", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

type cartPayload struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Items      []cartItemPayload `json:"items"`
	CouponCode string            `json:"coupon_code,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	AddedAt   string `json:"added_at,omitempty"`
}

func buildCartPayload(cart domain.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   formatTime(item.AddedAt),
		})
	}
	return cartPayload{
		ID:         cart.ID,
		CustomerID: cart.CustomerID,
		Items:      items,
		CouponCode: cart.CouponCode,
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
}

type estimatePayload struct {
	Lines          []estimateLinePayload `json:"lines"`
	Subtotal       int64                 `json:"subtotal"`
	ShippingCost   int64                 `json:"shipping_cost"`
	TaxAmount      int64                 `json:"tax_amount"`
	DiscountAmount int64                 `json:"discount_amount"`
	Total          int64                 `json:"total"`
	CouponCode     string                `json:"coupon_code,omitempty"`
}

type estimateLinePayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

func buildEstimatePayload(estimate domain.CartEstimate) estimatePayload {
	lines := make([]estimateLinePayload, 0, len(estimate.Lines))
	for _, line := range estimate.Lines {
		lines = append(lines, estimateLinePayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
		})
	}
	return estimatePayload{
		Lines:          lines,
		Subtotal:       estimate.Subtotal,
		ShippingCost:   estimate.ShippingCost,
		TaxAmount:      estimate.TaxAmount,
		DiscountAmount: estimate.DiscountAmount,
		Total:          estimate.Total,
		CouponCode:     estimate.CouponCode,
	}
}
