package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/platform/httpx"
	"github.com/mercatto/api/internal/services"
)

// CatalogHandlers exposes public browsing endpoints for departments and products.
type CatalogHandlers struct {
	catalog services.CatalogService
	stock   services.StockService
}

// NewCatalogHandlers constructs the public catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService, stock services.StockService) *CatalogHandlers {
	return &CatalogHandlers{
		catalog: catalog,
		stock:   stock,
	}
}

// Routes wires the public catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/departments", h.listDepartments)
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
}

func (h *CatalogHandlers) listDepartments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListDepartments(ctx, pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildDepartmentPayload))
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.ProductListQuery{
		DepartmentID: strings.TrimSpace(r.URL.Query().Get("department_id")),
		ActiveOnly:   true,
		FeaturedOnly: r.URL.Query().Get("featured") == "true",
		Pagination:   pager,
	}

	page, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildProductPayload))
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := productResponse{Product: buildProductPayload(product)}
	if h.stock != nil {
		if level, err := h.stock.CurrentStock(ctx, productID); err == nil {
			payload.Available = &level.Quantity
		}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "catalog entry not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operation requires admin role", http.StatusForbidden))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "catalog entry already exists", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "catalog operation failed", http.StatusInternalServerError))
	}
}

type productResponse struct {
	Product   productPayload `json:"product"`
	Available *int64         `json:"available,omitempty"`
}

type departmentPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildDepartmentPayload(dept domain.Department) departmentPayload {
	return departmentPayload{
		ID:          dept.ID,
		Name:        dept.Name,
		Description: dept.Description,
		Active:      dept.Active,
		CreatedAt:   formatTime(dept.CreatedAt),
		UpdatedAt:   formatTime(dept.UpdatedAt),
	}
}

type productPayload struct {
	ID               string `json:"id"`
	DepartmentID     string `json:"department_id"`
	SKU              string `json:"sku"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	Price            int64  `json:"price"`
	PromotionalPrice *int64 `json:"promotional_price,omitempty"`
	IsOnPromotion    bool   `json:"is_on_promotion"`
	Featured         bool   `json:"featured"`
	Active           bool   `json:"active"`
	ImageURL         string `json:"image_url,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:               product.ID,
		DepartmentID:     product.DepartmentID,
		SKU:              product.SKU,
		Name:             product.Name,
		Description:      product.Description,
		Price:            product.Price,
		PromotionalPrice: product.PromotionalPrice,
		IsOnPromotion:    product.OnPromotion,
		Featured:         product.Featured,
		Active:           product.Active,
		ImageURL:         product.ImageURL,
		CreatedAt:        formatTime(product.CreatedAt),
		UpdatedAt:        formatTime(product.UpdatedAt),
	}
}
