package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
	"github.com/mercatto/api/internal/repositories"
)

const (
	departmentsCollection = "departments"
	productsCollection    = "products"
)

type departmentDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newDepartmentDocument(dept domain.Department) departmentDocument {
	return departmentDocument{
		Name:        strings.TrimSpace(dept.Name),
		Description: strings.TrimSpace(dept.Description),
		Active:      dept.Active,
		CreatedAt:   dept.CreatedAt.UTC(),
		UpdatedAt:   dept.UpdatedAt.UTC(),
	}
}

func (d departmentDocument) toDomain(id string) domain.Department {
	return domain.Department{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Active:      d.Active,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// DepartmentRepository implements repositories.DepartmentRepository backed by Firestore.
type DepartmentRepository struct {
	departments *pfirestore.BaseRepository[departmentDocument]
}

// NewDepartmentRepository constructs a Firestore-backed department repository.
func NewDepartmentRepository(provider *pfirestore.Provider) (*DepartmentRepository, error) {
	if provider == nil {
		return nil, errors.New("department repository requires firestore provider")
	}
	return &DepartmentRepository{
		departments: pfirestore.NewBaseRepository[departmentDocument](provider, departmentsCollection, nil),
	}, nil
}

func (r *DepartmentRepository) Insert(ctx context.Context, dept domain.Department) error {
	if r == nil || r.departments == nil {
		return errors.New("department repository not initialised")
	}
	_, err := r.departments.Create(ctx, dept.ID, newDepartmentDocument(dept))
	return err
}

func (r *DepartmentRepository) Update(ctx context.Context, dept domain.Department) error {
	if r == nil || r.departments == nil {
		return errors.New("department repository not initialised")
	}
	_, err := r.departments.Set(ctx, dept.ID, newDepartmentDocument(dept))
	return err
}

func (r *DepartmentRepository) FindByID(ctx context.Context, deptID string) (domain.Department, error) {
	if r == nil || r.departments == nil {
		return domain.Department{}, errors.New("department repository not initialised")
	}
	doc, err := r.departments.Get(ctx, deptID)
	if err != nil {
		return domain.Department{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *DepartmentRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Department], error) {
	if r == nil || r.departments == nil {
		return domain.CursorPage[domain.Department]{}, errors.New("department repository not initialised")
	}

	pageSize := clampPageSize(pager.PageSize)
	token, err := decodePageToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Department]{}, pfirestore.WrapError("departments.list", err)
	}

	docs, err := r.departments.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(pageSize + 1)
		if token != nil {
			query = query.StartAfter(token.CreatedAt, token.ID)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Department]{}, err
	}

	depts := make([]domain.Department, 0, len(docs))
	for _, doc := range docs {
		depts = append(depts, doc.Data.toDomain(doc.ID))
	}
	return paginate(depts, pageSize, func(d domain.Department) pageToken {
		return pageToken{CreatedAt: d.CreatedAt, ID: d.ID}
	})
}

type productDocument struct {
	DepartmentID     string    `firestore:"departmentId"`
	SKU              string    `firestore:"sku"`
	Name             string    `firestore:"name"`
	Description      string    `firestore:"description,omitempty"`
	Price            int64     `firestore:"price"`
	PromotionalPrice *int64    `firestore:"promotionalPrice,omitempty"`
	IsOnPromotion    bool      `firestore:"isOnPromotion"`
	Featured         bool      `firestore:"featured"`
	Active           bool      `firestore:"active"`
	ImageURL         string    `firestore:"imageUrl,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		DepartmentID:     strings.TrimSpace(product.DepartmentID),
		SKU:              strings.TrimSpace(product.SKU),
		Name:             strings.TrimSpace(product.Name),
		Description:      strings.TrimSpace(product.Description),
		Price:            product.Price,
		PromotionalPrice: product.PromotionalPrice,
		IsOnPromotion:    product.OnPromotion,
		Featured:         product.Featured,
		Active:           product.Active,
		ImageURL:         strings.TrimSpace(product.ImageURL),
		CreatedAt:        product.CreatedAt.UTC(),
		UpdatedAt:        product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:               id,
		DepartmentID:     d.DepartmentID,
		SKU:              d.SKU,
		Name:             d.Name,
		Description:      d.Description,
		Price:            d.Price,
		PromotionalPrice: d.PromotionalPrice,
		OnPromotion:      d.IsOnPromotion,
		Featured:         d.Featured,
		Active:           d.Active,
		ImageURL:         d.ImageURL,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	_, err := r.products.Create(ctx, product.ID, newProductDocument(product))
	return err
}

func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	_, err := r.products.Set(ctx, product.ID, newProductDocument(product))
	return err
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	products := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return products, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			refs = append(refs, client.Collection(productsCollection).Doc(trimmed))
		}
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return products, nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)
	token, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	query := client.Collection(productsCollection).Query
	if dept := strings.TrimSpace(filter.DepartmentID); dept != "" {
		query = query.Where("departmentId", "==", dept)
	}
	if filter.ActiveOnly {
		query = query.Where("active", "==", true)
	}
	if filter.FeaturedOnly {
		query = query.Where("featured", "==", true)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)
	if token != nil {
		query = query.StartAfter(token.CreatedAt, token.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	return paginate(products, pageSize, func(p domain.Product) pageToken {
		return pageToken{CreatedAt: p.CreatedAt, ID: p.ID}
	})
}

// paginate trims the extra row fetched to detect a next page and encodes the
// continuation token from the last visible item.
func paginate[T any](items []T, pageSize int, cursor func(T) pageToken) (domain.CursorPage[T], error) {
	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}
	var nextToken string
	if hasMore && len(items) > 0 {
		encoded, err := encodePageToken(cursor(items[len(items)-1]))
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		nextToken = encoded
	}
	return domain.CursorPage[T]{Items: items, NextPageToken: nextToken}, nil
}
