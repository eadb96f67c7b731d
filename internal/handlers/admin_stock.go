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

// StockHandlers exposes the stock ledger to back-office staff.
type StockHandlers struct {
	authn *auth.Authenticator
	stock services.StockService
}

// NewStockHandlers constructs the admin stock handlers.
func NewStockHandlers(authn *auth.Authenticator, stock services.StockService) *StockHandlers {
	return &StockHandlers{
		authn: authn,
		stock: stock,
	}
}

// Routes wires the stock endpoints onto the provided router.
func (h *StockHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Post("/stock/movements", h.recordMovement)
	r.Get("/stock/movements", h.listMovements)
	r.Get("/stock/levels/{productID}", h.getLevel)
}

type recordMovementRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
}

func (h *StockHandlers) recordMovement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req recordMovementRequest
	if err := decodeJSONBody(r, defaultMaxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	movement, level, err := h.stock.RecordMovement(ctx, services.RecordMovementCommand{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Type:      domain.MovementType(strings.ToLower(strings.TrimSpace(req.Type))),
		Reason:    req.Reason,
		Actor:     actorFromIdentity(identity),
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"movement": buildMovementPayload(movement),
		"level":    buildLevelPayload(level),
	})
}

func (h *StockHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock service is unavailable", http.StatusServiceUnavailable))
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

	page, err := h.stock.ListMovements(ctx, services.StockMovementQuery{
		ProductID:  strings.TrimSpace(r.URL.Query().Get("product_id")),
		Type:       domain.MovementType(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))),
		From:       from,
		To:         to,
		Pagination: pager,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildMovementPayload))
}

func (h *StockHandlers) getLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock service is unavailable", http.StatusServiceUnavailable))
		return
	}

	level, err := h.stock.CurrentStock(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"level": buildLevelPayload(level)})
}

func writeStockError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "stock record not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("stock_error", "stock operation failed", http.StatusInternalServerError))
	}
}

type movementPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Type      string `json:"type"`
	Reason    string `json:"reason,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func buildMovementPayload(movement domain.StockMovement) movementPayload {
	return movementPayload{
		ID:        movement.ID,
		ProductID: movement.ProductID,
		Quantity:  movement.Quantity,
		Type:      string(movement.Type),
		Reason:    movement.Reason,
		ActorID:   movement.ActorID,
		CreatedAt: formatTime(movement.CreatedAt),
	}
}

type levelPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildLevelPayload(level domain.StockLevel) levelPayload {
	return levelPayload{
		ProductID: level.ProductID,
		Quantity:  level.Quantity,
		UpdatedAt: formatTime(level.UpdatedAt),
	}
}
