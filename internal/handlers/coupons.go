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

// CouponHandlers exposes coupon management for admins and quote checks for customers.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
}

// NewCouponHandlers constructs the coupon handlers.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{
		authn:   authn,
		coupons: coupons,
	}
}

// AdminRoutes wires coupon management endpoints, restricted to admins.
func (h *CouponHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Post("/coupons", h.createCoupon)
	r.Put("/coupons/{couponID}", h.updateCoupon)
	r.Get("/coupons", h.listCoupons)
	r.Get("/coupons/{code}", h.getCoupon)
}

// QuoteRoutes wires the customer-facing discount quote endpoint.
func (h *CouponHandlers) QuoteRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/coupons/quote", h.quote)
}

type upsertCouponRequest struct {
	Code             string `json:"code"`
	Description      string `json:"description"`
	Type             string `json:"type"`
	Value            int64  `json:"value"`
	MinOrderValue    int64  `json:"min_order_value"`
	MaxDiscount      *int64 `json:"max_discount"`
	UsageLimit       *int64 `json:"usage_limit"`
	PerCustomerLimit *int64 `json:"per_customer_limit"`
	FirstOrderOnly   *bool  `json:"first_order_only"`
	Active           *bool  `json:"active"`
	ValidFrom        string `json:"valid_from"`
	ValidUntil       string `json:"valid_until"`
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	h.upsertCoupon(w, r, "")
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	h.upsertCoupon(w, r, strings.TrimSpace(chi.URLParam(r, "couponID")))
}

func (h *CouponHandlers) upsertCoupon(w http.ResponseWriter, r *http.Request, couponID string) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req upsertCouponRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpsertCouponCommand{
		CouponID:         couponID,
		Code:             req.Code,
		Description:      req.Description,
		Type:             domain.DiscountType(strings.ToLower(strings.TrimSpace(req.Type))),
		Value:            req.Value,
		MinOrderValue:    req.MinOrderValue,
		MaxDiscount:      req.MaxDiscount,
		UsageLimit:       req.UsageLimit,
		PerCustomerLimit: req.PerCustomerLimit,
		FirstOrderOnly:   req.FirstOrderOnly,
		Active:           req.Active,
		Actor:            actorFromIdentity(identity),
	}
	if raw := strings.TrimSpace(req.ValidFrom); raw != "" {
		parsed, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_from must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ValidFrom = parsed
	}
	if raw := strings.TrimSpace(req.ValidUntil); raw != "" {
		parsed, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_until must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ValidUntil = parsed
	}

	var (
		coupon services.Coupon
		err    error
	)
	if couponID == "" {
		coupon, err = h.coupons.CreateCoupon(ctx, cmd)
	} else {
		coupon, err = h.coupons.UpdateCoupon(ctx, cmd)
	}
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if couponID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, map[string]any{"coupon": buildCouponPayload(coupon)})
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.coupons.ListCoupons(ctx, pager)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildCouponPayload))
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	coupon, err := h.coupons.GetCouponByCode(ctx, strings.TrimSpace(chi.URLParam(r, "code")))
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"coupon": buildCouponPayload(coupon)})
}

type couponQuoteRequest struct {
	Code       string `json:"code"`
	OrderValue int64  `json:"order_value"`
}

func (h *CouponHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req couponQuoteRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	quote, err := h.coupons.Quote(ctx, services.CouponQuoteCommand{
		Code:       req.Code,
		CustomerID: identity.Subject,
		OrderValue: req.OrderValue,
		At:         time.Now().UTC(),
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"coupon":   buildCouponPayload(quote.Coupon),
		"discount": quote.Discount,
	})
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotApplicable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_applicable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "coupon already exists", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "coupon operation failed", http.StatusInternalServerError))
	}
}

type couponPayload struct {
	ID               string `json:"id"`
	Code             string `json:"code"`
	Description      string `json:"description,omitempty"`
	Type             string `json:"type"`
	Value            int64  `json:"value"`
	MinOrderValue    int64  `json:"min_order_value"`
	MaxDiscount      *int64 `json:"max_discount,omitempty"`
	UsageLimit       *int64 `json:"usage_limit,omitempty"`
	UsedCount        int64  `json:"used_count"`
	PerCustomerLimit *int64 `json:"per_customer_limit,omitempty"`
	FirstOrderOnly   bool   `json:"first_order_only"`
	Active           bool   `json:"active"`
	ValidFrom        string `json:"valid_from,omitempty"`
	ValidUntil       string `json:"valid_until,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		ID:               coupon.ID,
		Code:             coupon.Code,
		Description:      coupon.Description,
		Type:             string(coupon.Type),
		Value:            coupon.Value,
		MinOrderValue:    coupon.MinOrderValue,
		MaxDiscount:      coupon.MaxDiscount,
		UsageLimit:       coupon.UsageLimit,
		UsedCount:        coupon.UsedCount,
		PerCustomerLimit: coupon.PerCustomerLimit,
		FirstOrderOnly:   coupon.FirstOrderOnly,
		Active:           coupon.Active,
		ValidFrom:        formatTime(coupon.ValidFrom),
		ValidUntil:       formatTime(coupon.ValidUntil),
		CreatedAt:        formatTime(coupon.CreatedAt),
	}
}
