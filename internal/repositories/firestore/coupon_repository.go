package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
)

const (
	couponsCollection      = "coupons"
	couponUsagesCollection = "couponUsages"
)

type couponDocument struct {
	Code             string    `firestore:"code"`
	Description      string    `firestore:"description,omitempty"`
	Type             string    `firestore:"type"`
	Value            int64     `firestore:"value"`
	MinOrderValue    int64     `firestore:"minOrderValue"`
	MaxDiscount      *int64    `firestore:"maxDiscount,omitempty"`
	UsageLimit       *int64    `firestore:"usageLimit,omitempty"`
	UsedCount        int64     `firestore:"usedCount"`
	PerCustomerLimit *int64    `firestore:"perCustomerLimit,omitempty"`
	FirstOrderOnly   bool      `firestore:"firstOrderOnly"`
	Active           bool      `firestore:"active"`
	ValidFrom        time.Time `firestore:"validFrom"`
	ValidUntil       time.Time `firestore:"validUntil"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func newCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Code:             strings.TrimSpace(coupon.Code),
		Description:      strings.TrimSpace(coupon.Description),
		Type:             string(coupon.Type),
		Value:            coupon.Value,
		MinOrderValue:    coupon.MinOrderValue,
		MaxDiscount:      coupon.MaxDiscount,
		UsageLimit:       coupon.UsageLimit,
		UsedCount:        coupon.UsedCount,
		PerCustomerLimit: coupon.PerCustomerLimit,
		FirstOrderOnly:   coupon.FirstOrderOnly,
		Active:           coupon.Active,
		ValidFrom:        coupon.ValidFrom.UTC(),
		ValidUntil:       coupon.ValidUntil.UTC(),
		CreatedAt:        coupon.CreatedAt.UTC(),
		UpdatedAt:        coupon.UpdatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:               id,
		Code:             d.Code,
		Description:      d.Description,
		Type:             domain.DiscountType(d.Type),
		Value:            d.Value,
		MinOrderValue:    d.MinOrderValue,
		MaxDiscount:      d.MaxDiscount,
		UsageLimit:       d.UsageLimit,
		UsedCount:        d.UsedCount,
		PerCustomerLimit: d.PerCustomerLimit,
		FirstOrderOnly:   d.FirstOrderOnly,
		Active:           d.Active,
		ValidFrom:        d.ValidFrom,
		ValidUntil:       d.ValidUntil,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// CouponRepository implements repositories.CouponRepository backed by Firestore.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil),
	}, nil
}

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	_, err := r.coupons.Create(ctx, coupon.ID, newCouponDocument(coupon))
	return err
}

func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	_, err := r.coupons.Set(ctx, coupon.ID, newCouponDocument(coupon))
	return err
}

func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	doc, err := r.coupons.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findByCode", status.Error(codes.NotFound, "coupon code is empty"))
	}

	docs, err := r.coupons.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findByCode", status.Errorf(codes.NotFound, "coupon %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *CouponRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.coupons == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	pageSize := clampPageSize(pager.PageSize)
	token, err := decodePageToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupons.list", err)
	}

	docs, err := r.coupons.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(pageSize + 1)
		if token != nil {
			query = query.StartAfter(token.CreatedAt, token.ID)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	coupons := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		coupons = append(coupons, doc.Data.toDomain(doc.ID))
	}
	return paginate(coupons, pageSize, func(c domain.Coupon) pageToken {
		return pageToken{CreatedAt: c.CreatedAt, ID: c.ID}
	})
}

type couponUsageDocument struct {
	CouponID       string    `firestore:"couponId"`
	Code           string    `firestore:"code"`
	CustomerID     string    `firestore:"customerId"`
	OrderID        string    `firestore:"orderId"`
	DiscountAmount int64     `firestore:"discountAmount"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func newCouponUsageDocument(usage domain.CouponUsage) couponUsageDocument {
	return couponUsageDocument{
		CouponID:       strings.TrimSpace(usage.CouponID),
		Code:           strings.TrimSpace(usage.Code),
		CustomerID:     strings.TrimSpace(usage.CustomerID),
		OrderID:        strings.TrimSpace(usage.OrderID),
		DiscountAmount: usage.DiscountAmount,
		CreatedAt:      usage.CreatedAt.UTC(),
	}
}

func (d couponUsageDocument) toDomain(id string) domain.CouponUsage {
	return domain.CouponUsage{
		ID:             id,
		CouponID:       d.CouponID,
		Code:           d.Code,
		CustomerID:     d.CustomerID,
		OrderID:        d.OrderID,
		DiscountAmount: d.DiscountAmount,
		CreatedAt:      d.CreatedAt,
	}
}

// CouponUsageRepository implements repositories.CouponUsageRepository. Usage
// rows are written only by the checkout transaction; this repository reads.
type CouponUsageRepository struct {
	provider *pfirestore.Provider
	usages   *pfirestore.BaseRepository[couponUsageDocument]
}

// NewCouponUsageRepository constructs a Firestore-backed coupon usage repository.
func NewCouponUsageRepository(provider *pfirestore.Provider) (*CouponUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon usage repository requires firestore provider")
	}
	return &CouponUsageRepository{
		provider: provider,
		usages:   pfirestore.NewBaseRepository[couponUsageDocument](provider, couponUsagesCollection, nil),
	}, nil
}

func (r *CouponUsageRepository) CountByCustomer(ctx context.Context, couponID, customerID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("coupon usage repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(couponUsagesCollection).
		Where("couponId", "==", strings.TrimSpace(couponID)).
		Where("customerId", "==", strings.TrimSpace(customerID))

	result, err := query.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("couponUsages.countByCustomer", err)
	}
	return aggregationCount(result, "count")
}

func (r *CouponUsageRepository) ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error) {
	if r == nil || r.usages == nil {
		return domain.CursorPage[domain.CouponUsage]{}, errors.New("coupon usage repository not initialised")
	}

	pageSize := clampPageSize(pager.PageSize)
	token, err := decodePageToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.CouponUsage]{}, pfirestore.WrapError("couponUsages.listByCoupon", err)
	}

	docs, err := r.usages.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("couponId", "==", strings.TrimSpace(couponID)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(pageSize + 1)
		if token != nil {
			query = query.StartAfter(token.CreatedAt, token.ID)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.CouponUsage]{}, err
	}

	usages := make([]domain.CouponUsage, 0, len(docs))
	for _, doc := range docs {
		usages = append(usages, doc.Data.toDomain(doc.ID))
	}
	return paginate(usages, pageSize, func(u domain.CouponUsage) pageToken {
		return pageToken{CreatedAt: u.CreatedAt, ID: u.ID}
	})
}

// aggregationCount extracts the integer result of a Firestore count aggregation.
func aggregationCount(result firestore.AggregationResult, alias string) (int64, error) {
	raw, ok := result[alias]
	if !ok {
		return 0, fmt.Errorf("aggregation result missing alias %q", alias)
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected aggregation value type %T", raw)
	}
	return value.GetIntegerValue(), nil
}
