package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mercatto/api/internal/platform/auth"
	"github.com/mercatto/api/internal/platform/httpx"
	"github.com/mercatto/api/internal/services"
)

const maxAdminBodySize = 32 * 1024

// AdminCatalogHandlers exposes department and product management for back-office staff.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminCatalogHandlers constructs the admin catalog handlers.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes wires the admin catalog endpoints onto the provided router.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Post("/departments", h.createDepartment)
	r.Put("/departments/{departmentID}", h.updateDepartment)
	r.Post("/products", h.createProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.deactivateProduct)
}

type upsertDepartmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

func (h *AdminCatalogHandlers) createDepartment(w http.ResponseWriter, r *http.Request) {
	h.upsertDepartment(w, r, "")
}

func (h *AdminCatalogHandlers) updateDepartment(w http.ResponseWriter, r *http.Request) {
	h.upsertDepartment(w, r, strings.TrimSpace(chi.URLParam(r, "departmentID")))
}

func (h *AdminCatalogHandlers) upsertDepartment(w http.ResponseWriter, r *http.Request, departmentID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req upsertDepartmentRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpsertDepartmentCommand{
		DepartmentID: departmentID,
		Name:         req.Name,
		Description:  req.Description,
		Active:       req.Active,
		Actor:        actorFromIdentity(identity),
	}

	var (
		dept services.Department
		err  error
	)
	if departmentID == "" {
		dept, err = h.catalog.CreateDepartment(ctx, cmd)
	} else {
		dept, err = h.catalog.UpdateDepartment(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if departmentID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, map[string]any{"department": buildDepartmentPayload(dept)})
}

type upsertProductRequest struct {
	DepartmentID     string `json:"department_id"`
	SKU              string `json:"sku"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Price            int64  `json:"price"`
	PromotionalPrice *int64 `json:"promotional_price"`
	IsOnPromotion    *bool  `json:"is_on_promotion"`
	Featured         *bool  `json:"featured"`
	Active           *bool  `json:"active"`
	ImageURL         string `json:"image_url"`
}

func (h *AdminCatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, "")
}

func (h *AdminCatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, strings.TrimSpace(chi.URLParam(r, "productID")))
}

func (h *AdminCatalogHandlers) upsertProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req upsertProductRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpsertProductCommand{
		ProductID:        productID,
		DepartmentID:     req.DepartmentID,
		SKU:              req.SKU,
		Name:             req.Name,
		Description:      req.Description,
		Price:            req.Price,
		PromotionalPrice: req.PromotionalPrice,
		OnPromotion:      req.IsOnPromotion,
		Featured:         req.Featured,
		Active:           req.Active,
		ImageURL:         req.ImageURL,
		Actor:            actorFromIdentity(identity),
	}

	var (
		product services.Product
		err     error
	)
	if productID == "" {
		product, err = h.catalog.CreateProduct(ctx, cmd)
	} else {
		product, err = h.catalog.UpdateProduct(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if productID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, map[string]any{"product": buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	product, err := h.catalog.DeactivateProduct(ctx, services.DeactivateProductCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Actor:     actorFromIdentity(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"product": buildProductPayload(product)})
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
