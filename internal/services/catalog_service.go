package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

const (
	departmentIDPrefix = "dpt_"
	productIDPrefix    = "prd_"
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid catalog data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the department or product could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogForbidden indicates the actor may not mutate the catalog.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
	// ErrCatalogConflict indicates a uniqueness violation such as a duplicate SKU.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Departments repositories.DepartmentRepository
	Products    repositories.ProductRepository
	Clock       Clock
	IDGenerator IDGenerator
	Logger      LogFunc
}

type catalogService struct {
	departments repositories.DepartmentRepository
	products    repositories.ProductRepository
	clock       func() time.Time
	newID       func() string
	logger      LogFunc
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Departments == nil {
		return nil, errors.New("catalog service: department repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		departments: deps.Departments,
		products:    deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *catalogService) CreateDepartment(ctx context.Context, cmd UpsertDepartmentCommand) (Department, error) {
	if !cmd.Actor.IsAdmin() {
		return Department{}, fmt.Errorf("%w: only staff may manage departments", ErrCatalogForbidden)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Department{}, fmt.Errorf("%w: department name is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	dept := domain.Department{
		ID:          departmentIDPrefix + s.newID(),
		Name:        name,
		Description: strings.TrimSpace(cmd.Description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cmd.Active != nil {
		dept.Active = *cmd.Active
	}

	if err := s.departments.Insert(ctx, dept); err != nil {
		return Department{}, s.mapRepositoryError(err)
	}
	return dept, nil
}

func (s *catalogService) UpdateDepartment(ctx context.Context, cmd UpsertDepartmentCommand) (Department, error) {
	if !cmd.Actor.IsAdmin() {
		return Department{}, fmt.Errorf("%w: only staff may manage departments", ErrCatalogForbidden)
	}
	deptID := strings.TrimSpace(cmd.DepartmentID)
	if deptID == "" {
		return Department{}, fmt.Errorf("%w: department id is required", ErrCatalogInvalidInput)
	}

	dept, err := s.departments.FindByID(ctx, deptID)
	if err != nil {
		return Department{}, s.mapRepositoryError(err)
	}

	if name := strings.TrimSpace(cmd.Name); name != "" {
		dept.Name = name
	}
	if desc := strings.TrimSpace(cmd.Description); desc != "" {
		dept.Description = desc
	}
	if cmd.Active != nil {
		dept.Active = *cmd.Active
	}
	dept.UpdatedAt = s.clock()

	if err := s.departments.Update(ctx, dept); err != nil {
		return Department{}, s.mapRepositoryError(err)
	}
	return dept, nil
}

func (s *catalogService) ListDepartments(ctx context.Context, pager Pagination) (domain.CursorPage[Department], error) {
	page, err := s.departments.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Department]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if !cmd.Actor.IsAdmin() {
		return Product{}, fmt.Errorf("%w: only staff may manage products", ErrCatalogForbidden)
	}
	if err := validateProductInput(cmd, true); err != nil {
		return Product{}, err
	}

	if _, err := s.departments.FindByID(ctx, cmd.DepartmentID); err != nil {
		if isNotFound(err) {
			return Product{}, fmt.Errorf("%w: department %s", ErrCatalogNotFound, cmd.DepartmentID)
		}
		return Product{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	product := domain.Product{
		ID:               productIDPrefix + s.newID(),
		DepartmentID:     cmd.DepartmentID,
		SKU:              strings.TrimSpace(cmd.SKU),
		Name:             strings.TrimSpace(cmd.Name),
		Description:      strings.TrimSpace(cmd.Description),
		Price:            cmd.Price,
		PromotionalPrice: cmd.PromotionalPrice,
		OnPromotion:      cmd.OnPromotion != nil && *cmd.OnPromotion,
		Active:           true,
		ImageURL:         strings.TrimSpace(cmd.ImageURL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if cmd.Featured != nil {
		product.Featured = *cmd.Featured
	}
	if cmd.Active != nil {
		product.Active = *cmd.Active
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"product": product.ID,
		"sku":     product.SKU,
	})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if !cmd.Actor.IsAdmin() {
		return Product{}, fmt.Errorf("%w: only staff may manage products", ErrCatalogForbidden)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := validateProductInput(cmd, false); err != nil {
		return Product{}, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if deptID := strings.TrimSpace(cmd.DepartmentID); deptID != "" && deptID != product.DepartmentID {
		if _, err := s.departments.FindByID(ctx, deptID); err != nil {
			if isNotFound(err) {
				return Product{}, fmt.Errorf("%w: department %s", ErrCatalogNotFound, deptID)
			}
			return Product{}, s.mapRepositoryError(err)
		}
		product.DepartmentID = deptID
	}
	if name := strings.TrimSpace(cmd.Name); name != "" {
		product.Name = name
	}
	if desc := strings.TrimSpace(cmd.Description); desc != "" {
		product.Description = desc
	}
	if cmd.Price > 0 {
		product.Price = cmd.Price
	}
	if cmd.PromotionalPrice != nil {
		product.PromotionalPrice = cmd.PromotionalPrice
	}
	if cmd.OnPromotion != nil {
		product.OnPromotion = *cmd.OnPromotion
	}
	if cmd.Featured != nil {
		product.Featured = *cmd.Featured
	}
	if cmd.Active != nil {
		product.Active = *cmd.Active
	}
	if url := strings.TrimSpace(cmd.ImageURL); url != "" {
		product.ImageURL = url
	}
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) GetProducts(ctx context.Context, productIDs []string) (map[string]Product, error) {
	if len(productIDs) == 0 {
		return map[string]Product{}, nil
	}

	products, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return products, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		DepartmentID: strings.TrimSpace(query.DepartmentID),
		ActiveOnly:   query.ActiveOnly,
		FeaturedOnly: query.FeaturedOnly,
		Pagination:   query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) DeactivateProduct(ctx context.Context, cmd DeactivateProductCommand) (Product, error) {
	if !cmd.Actor.IsAdmin() {
		return Product{}, fmt.Errorf("%w: only staff may manage products", ErrCatalogForbidden)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if !product.Active {
		return product, nil
	}

	product.Active = false
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.deactivated", map[string]any{
		"product": product.ID,
	})
	return product, nil
}

func validateProductInput(cmd UpsertProductCommand, creating bool) error {
	if creating {
		if strings.TrimSpace(cmd.DepartmentID) == "" {
			return fmt.Errorf("%w: department id is required", ErrCatalogInvalidInput)
		}
		if strings.TrimSpace(cmd.SKU) == "" {
			return fmt.Errorf("%w: sku is required", ErrCatalogInvalidInput)
		}
		if strings.TrimSpace(cmd.Name) == "" {
			return fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
		}
		if cmd.Price <= 0 {
			return fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
		}
	} else if cmd.Price < 0 {
		return fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	}
	if cmd.PromotionalPrice != nil && *cmd.PromotionalPrice < 0 {
		return fmt.Errorf("%w: promotional price must not be negative", ErrCatalogInvalidInput)
	}
	return nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}
