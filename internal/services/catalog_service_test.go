package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

type stubDepartmentRepo struct {
	insertFn func(context.Context, domain.Department) error
	updateFn func(context.Context, domain.Department) error
	findFn   func(context.Context, string) (domain.Department, error)
	listFn   func(context.Context, domain.Pagination) (domain.CursorPage[domain.Department], error)
}

func (s *stubDepartmentRepo) Insert(ctx context.Context, dept domain.Department) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, dept)
	}
	return nil
}

func (s *stubDepartmentRepo) Update(ctx context.Context, dept domain.Department) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, dept)
	}
	return nil
}

func (s *stubDepartmentRepo) FindByID(ctx context.Context, deptID string) (domain.Department, error) {
	if s.findFn != nil {
		return s.findFn(ctx, deptID)
	}
	return domain.Department{}, notFoundErr("department not found")
}

func (s *stubDepartmentRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Department], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[domain.Department]{}, nil
}

func knownDepartment(id string) *stubDepartmentRepo {
	return &stubDepartmentRepo{
		findFn: func(_ context.Context, deptID string) (domain.Department, error) {
			if deptID == id {
				return domain.Department{ID: id, Name: "Groceries", Active: true}, nil
			}
			return domain.Department{}, notFoundErr("department not found")
		},
	}
}

func newCatalogServiceForTest(t *testing.T, deps CatalogServiceDeps) CatalogService {
	t.Helper()
	if deps.Departments == nil {
		deps.Departments = knownDepartment("dpt-1")
	}
	if deps.Products == nil {
		deps.Products = &stubProductRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedOrderClock
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("cid")
	}
	svc, err := NewCatalogService(deps)
	if err != nil {
		t.Fatalf("NewCatalogService returned error: %v", err)
	}
	return svc
}

var catalogAdmin = Actor{ID: "adm-1", Role: domain.RoleAdmin}

func TestCreateProductDefaultsActive(t *testing.T) {
	var inserted domain.Product
	products := &stubProductRepo{
		insertFn: func(_ context.Context, product domain.Product) error {
			inserted = product
			return nil
		},
	}
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{Products: products})

	product, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		DepartmentID: "dpt-1",
		SKU:          "SKU-1",
		Name:         "Olive Oil",
		Price:        2500,
		Actor:        catalogAdmin,
	})
	if err != nil {
		t.Fatalf("CreateProduct returned error: %v", err)
	}

	if !product.Active {
		t.Error("expected new products to be active")
	}
	if product.Price != 2500 || product.SKU != "SKU-1" {
		t.Errorf("unexpected product %#v", product)
	}
	if inserted.ID != product.ID {
		t.Errorf("persisted product differs: %#v", inserted)
	}
}

func TestCreateProductUnknownDepartment(t *testing.T) {
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{})

	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		DepartmentID: "dpt-ghost",
		SKU:          "SKU-1",
		Name:         "Olive Oil",
		Price:        2500,
		Actor:        catalogAdmin,
	})
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{})

	cases := []struct {
		name string
		cmd  UpsertProductCommand
	}{
		{"missing sku", UpsertProductCommand{DepartmentID: "dpt-1", Name: "Oil", Price: 100, Actor: catalogAdmin}},
		{"missing name", UpsertProductCommand{DepartmentID: "dpt-1", SKU: "S1", Price: 100, Actor: catalogAdmin}},
		{"zero price", UpsertProductCommand{DepartmentID: "dpt-1", SKU: "S1", Name: "Oil", Actor: catalogAdmin}},
		{"negative promo", UpsertProductCommand{DepartmentID: "dpt-1", SKU: "S1", Name: "Oil", Price: 100, PromotionalPrice: valuePtr(int64(-1)), Actor: catalogAdmin}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateProduct(context.Background(), tc.cmd); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected ErrCatalogInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{})

	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		DepartmentID: "dpt-1",
		SKU:          "SKU-1",
		Name:         "Olive Oil",
		Price:        2500,
		Actor:        Actor{ID: "cust-1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected ErrCatalogForbidden, got %v", err)
	}
}

func TestUpdateProductAppliesPartialChanges(t *testing.T) {
	stored := domain.Product{
		ID:           "prd-1",
		DepartmentID: "dpt-1",
		SKU:          "SKU-1",
		Name:         "Olive Oil",
		Price:        2500,
		Active:       true,
	}
	var updated domain.Product
	products := &stubProductRepo{
		findFn: func(context.Context, string) (domain.Product, error) { return stored, nil },
		updateFn: func(_ context.Context, product domain.Product) error {
			updated = product
			return nil
		},
	}
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{Products: products})

	promo := int64(1900)
	_, err := svc.UpdateProduct(context.Background(), UpsertProductCommand{
		ProductID:        "prd-1",
		PromotionalPrice: &promo,
		OnPromotion:      valuePtr(true),
		Featured:         valuePtr(true),
		Actor:            catalogAdmin,
	})
	if err != nil {
		t.Fatalf("UpdateProduct returned error: %v", err)
	}

	if updated.PromotionalPrice == nil || *updated.PromotionalPrice != 1900 {
		t.Errorf("promotional price not applied %#v", updated.PromotionalPrice)
	}
	if !updated.OnPromotion {
		t.Error("expected promotion flag")
	}
	if !updated.Featured {
		t.Error("expected featured flag")
	}
	if updated.Name != "Olive Oil" || updated.Price != 2500 {
		t.Errorf("untouched fields changed %#v", updated)
	}
	if !updated.UpdatedAt.Equal(fixedOrderClock()) {
		t.Errorf("updated stamp not set %v", updated.UpdatedAt)
	}
}

func TestDeactivateProductIsIdempotent(t *testing.T) {
	stored := domain.Product{ID: "prd-1", Active: false}
	updates := 0
	products := &stubProductRepo{
		findFn:   func(context.Context, string) (domain.Product, error) { return stored, nil },
		updateFn: func(context.Context, domain.Product) error { updates++; return nil },
	}
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{Products: products})

	product, err := svc.DeactivateProduct(context.Background(), DeactivateProductCommand{
		ProductID: "prd-1",
		Actor:     catalogAdmin,
	})
	if err != nil {
		t.Fatalf("DeactivateProduct returned error: %v", err)
	}
	if product.Active {
		t.Error("expected inactive product")
	}
	if updates != 0 {
		t.Errorf("expected no write for already inactive product, got %d", updates)
	}
}

func TestCreateDepartmentDefaultsActive(t *testing.T) {
	var inserted domain.Department
	departments := &stubDepartmentRepo{
		insertFn: func(_ context.Context, dept domain.Department) error {
			inserted = dept
			return nil
		},
	}
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{Departments: departments})

	dept, err := svc.CreateDepartment(context.Background(), UpsertDepartmentCommand{
		Name:  "Groceries",
		Actor: catalogAdmin,
	})
	if err != nil {
		t.Fatalf("CreateDepartment returned error: %v", err)
	}
	if !dept.Active || dept.Name != "Groceries" {
		t.Errorf("unexpected department %#v", dept)
	}
	if inserted.ID != dept.ID {
		t.Errorf("persisted department differs: %#v", inserted)
	}
}

func TestListProductsPassesFilter(t *testing.T) {
	var captured repositories.ProductListFilter
	products := &stubProductRepo{
		listFn: func(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			captured = filter
			return domain.CursorPage[domain.Product]{}, nil
		},
	}
	svc := newCatalogServiceForTest(t, CatalogServiceDeps{Products: products})

	if _, err := svc.ListProducts(context.Background(), ProductListQuery{
		DepartmentID: "dpt-1",
		ActiveOnly:   true,
		FeaturedOnly: true,
	}); err != nil {
		t.Fatalf("ListProducts returned error: %v", err)
	}

	if captured.DepartmentID != "dpt-1" || !captured.ActiveOnly || !captured.FeaturedOnly {
		t.Errorf("unexpected filter %#v", captured)
	}
}
