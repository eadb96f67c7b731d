package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mercatto/api/internal/domain"
)

type stubCouponRepo struct {
	insertFn     func(context.Context, domain.Coupon) error
	updateFn     func(context.Context, domain.Coupon) error
	findFn       func(context.Context, string) (domain.Coupon, error)
	findByCodeFn func(context.Context, string) (domain.Coupon, error)
	listFn       func(context.Context, domain.Pagination) (domain.CursorPage[domain.Coupon], error)
}

func (s *stubCouponRepo) Insert(ctx context.Context, coupon domain.Coupon) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, coupon)
	}
	return nil
}

func (s *stubCouponRepo) Update(ctx context.Context, coupon domain.Coupon) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, coupon)
	}
	return nil
}

func (s *stubCouponRepo) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if s.findFn != nil {
		return s.findFn(ctx, couponID)
	}
	return domain.Coupon{}, notFoundErr("coupon not found")
}

func (s *stubCouponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if s.findByCodeFn != nil {
		return s.findByCodeFn(ctx, code)
	}
	return domain.Coupon{}, notFoundErr("coupon not found")
}

func (s *stubCouponRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[domain.Coupon]{}, nil
}

type stubCouponUsageRepo struct {
	countFn func(context.Context, string, string) (int64, error)
	listFn  func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.CouponUsage], error)
}

func (s *stubCouponUsageRepo) CountByCustomer(ctx context.Context, couponID string, customerID string) (int64, error) {
	if s.countFn != nil {
		return s.countFn(ctx, couponID, customerID)
	}
	return 0, nil
}

func (s *stubCouponUsageRepo) ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error) {
	if s.listFn != nil {
		return s.listFn(ctx, couponID, pager)
	}
	return domain.CursorPage[domain.CouponUsage]{}, nil
}

func fixedCouponClock() time.Time {
	return time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)
}

func validTestCoupon() domain.Coupon {
	return domain.Coupon{
		ID:            "cpn-1",
		Code:          "SAVE10",
		Type:          domain.DiscountPercentage,
		Value:         1000,
		MinOrderValue: 5000,
		Active:        true,
		ValidFrom:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:    time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
	}
}

func newCouponServiceForTest(t *testing.T, deps CouponServiceDeps) CouponService {
	t.Helper()
	if deps.Coupons == nil {
		deps.Coupons = &stubCouponRepo{}
	}
	if deps.Usage == nil {
		deps.Usage = &stubCouponUsageRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedCouponClock
	}
	svc, err := NewCouponService(deps)
	if err != nil {
		t.Fatalf("NewCouponService returned error: %v", err)
	}
	return svc
}

func TestQuotePercentageDiscount(t *testing.T) {
	svc := newCouponServiceForTest(t, CouponServiceDeps{
		Coupons: &stubCouponRepo{
			findByCodeFn: func(_ context.Context, code string) (domain.Coupon, error) {
				if code != "SAVE10" {
					t.Fatalf("expected normalized code SAVE10, got %q", code)
				}
				return validTestCoupon(), nil
			},
		},
	})

	quote, err := svc.Quote(context.Background(), CouponQuoteCommand{
		Code:       " save10 ",
		CustomerID: "cust-1",
		OrderValue: 20000,
	})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Discount != 2000 {
		t.Errorf("expected 10%% of 20000, got %d", quote.Discount)
	}
	if quote.Coupon.ID != "cpn-1" {
		t.Errorf("unexpected coupon %#v", quote.Coupon)
	}
}

func TestQuoteCapsPercentageAtMaxDiscount(t *testing.T) {
	coupon := validTestCoupon()
	coupon.MaxDiscount = valuePtr(int64(1500))

	svc := newCouponServiceForTest(t, CouponServiceDeps{
		Coupons: &stubCouponRepo{
			findByCodeFn: func(context.Context, string) (domain.Coupon, error) {
				return coupon, nil
			},
		},
	})

	quote, err := svc.Quote(context.Background(), CouponQuoteCommand{
		Code:       "SAVE10",
		CustomerID: "cust-1",
		OrderValue: 20000,
	})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Discount != 1500 {
		t.Errorf("expected capped discount 1500, got %d", quote.Discount)
	}
}

func TestQuoteFixedDiscountCappedAtOrderValue(t *testing.T) {
	coupon := validTestCoupon()
	coupon.Type = domain.DiscountFixed
	coupon.Value = 9000
	coupon.MinOrderValue = 0

	svc := newCouponServiceForTest(t, CouponServiceDeps{
		Coupons: &stubCouponRepo{
			findByCodeFn: func(context.Context, string) (domain.Coupon, error) {
				return coupon, nil
			},
		},
	})

	quote, err := svc.Quote(context.Background(), CouponQuoteCommand{
		Code:       "SAVE10",
		CustomerID: "cust-1",
		OrderValue: 6000,
	})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Discount != 6000 {
		t.Errorf("expected discount capped at order value, got %d", quote.Discount)
	}
}

func TestQuoteRejections(t *testing.T) {
	expired := validTestCoupon()
	expired.ValidUntil = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	inactive := validTestCoupon()
	inactive.Active = false

	exhausted := validTestCoupon()
	exhausted.UsageLimit = valuePtr(int64(100))
	exhausted.UsedCount = 100

	firstOnly := validTestCoupon()
	firstOnly.FirstOrderOnly = true

	cases := []struct {
		name       string
		coupon     domain.Coupon
		orderValue int64
		perCust    int64
		orders     int64
	}{
		{name: "expired", coupon: expired, orderValue: 20000},
		{name: "inactive", coupon: inactive, orderValue: 20000},
		{name: "below minimum", coupon: validTestCoupon(), orderValue: 4000},
		{name: "usage limit reached", coupon: exhausted, orderValue: 20000},
		{name: "per-customer limit reached", coupon: withPerCustomerLimit(validTestCoupon(), 1), orderValue: 20000, perCust: 1},
		{name: "not first order", coupon: firstOnly, orderValue: 20000, orders: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newCouponServiceForTest(t, CouponServiceDeps{
				Coupons: &stubCouponRepo{
					findByCodeFn: func(context.Context, string) (domain.Coupon, error) {
						return tc.coupon, nil
					},
				},
				Usage: &stubCouponUsageRepo{
					countFn: func(context.Context, string, string) (int64, error) {
						return tc.perCust, nil
					},
				},
				Orders: &stubOrderRepo{
					countFn: func(context.Context, string, []domain.OrderStatus) (int64, error) {
						return tc.orders, nil
					},
				},
			})

			_, err := svc.Quote(context.Background(), CouponQuoteCommand{
				Code:       "SAVE10",
				CustomerID: "cust-1",
				OrderValue: tc.orderValue,
			})
			if !errors.Is(err, ErrCouponNotApplicable) {
				t.Fatalf("expected ErrCouponNotApplicable, got %v", err)
			}
		})
	}
}

func TestQuoteFirstOrderIgnoresUnpaidOrders(t *testing.T) {
	firstOnly := validTestCoupon()
	firstOnly.FirstOrderOnly = true

	var askedStatuses []domain.OrderStatus
	svc := newCouponServiceForTest(t, CouponServiceDeps{
		Coupons: &stubCouponRepo{
			findByCodeFn: func(context.Context, string) (domain.Coupon, error) {
				return firstOnly, nil
			},
		},
		Orders: &stubOrderRepo{
			countFn: func(_ context.Context, customerID string, statuses []domain.OrderStatus) (int64, error) {
				askedStatuses = statuses
				// The customer's only order is still pending, so it matches
				// none of the statuses the service asks about.
				return 0, nil
			},
		},
	})

	quote, err := svc.Quote(context.Background(), CouponQuoteCommand{
		Code:       "SAVE10",
		CustomerID: "cust-1",
		OrderValue: 20000,
	})
	if err != nil {
		t.Fatalf("expected pending-only customer to qualify, got %v", err)
	}
	if quote.Discount != 2000 {
		t.Errorf("expected discount 2000, got %d", quote.Discount)
	}

	for _, status := range askedStatuses {
		if status == domain.OrderStatusPending || status == domain.OrderStatusCancelled || status == domain.OrderStatusReturned {
			t.Errorf("status %q must not count towards the first-order check", status)
		}
	}
	want := []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}
	if len(askedStatuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, askedStatuses)
	}
	for i, status := range want {
		if askedStatuses[i] != status {
			t.Fatalf("expected statuses %v, got %v", want, askedStatuses)
		}
	}
}

func withPerCustomerLimit(coupon domain.Coupon, limit int64) domain.Coupon {
	coupon.PerCustomerLimit = &limit
	return coupon
}

func TestQuoteUnknownCode(t *testing.T) {
	svc := newCouponServiceForTest(t, CouponServiceDeps{})

	_, err := svc.Quote(context.Background(), CouponQuoteCommand{
		Code:       "NOPE42",
		CustomerID: "cust-1",
		OrderValue: 20000,
	})
	if !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}

func TestCreateCouponPersistsNormalizedCode(t *testing.T) {
	var inserted domain.Coupon
	svc := newCouponServiceForTest(t, CouponServiceDeps{
		Coupons: &stubCouponRepo{
			insertFn: func(_ context.Context, coupon domain.Coupon) error {
				inserted = coupon
				return nil
			},
		},
	})

	coupon, err := svc.CreateCoupon(context.Background(), UpsertCouponCommand{
		Code:       "save10",
		Type:       domain.DiscountPercentage,
		Value:      1000,
		ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Actor:      Actor{ID: "adm-1", Role: domain.RoleAdmin},
	})
	if err != nil {
		t.Fatalf("CreateCoupon returned error: %v", err)
	}

	if coupon.Code != "SAVE10" {
		t.Errorf("expected normalized code, got %q", coupon.Code)
	}
	if !coupon.Active {
		t.Error("expected new coupon to default to active")
	}
	if inserted.ID == "" || inserted.Code != "SAVE10" {
		t.Errorf("unexpected inserted coupon %#v", inserted)
	}
}

func TestCreateCouponRecordsAuditTrail(t *testing.T) {
	sink := &captureAuditSink{}
	svc := newCouponServiceForTest(t, CouponServiceDeps{Audit: sink})

	coupon, err := svc.CreateCoupon(context.Background(), UpsertCouponCommand{
		Code:       "save10",
		Type:       domain.DiscountPercentage,
		Value:      1000,
		ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Actor:      Actor{ID: "adm-1", Role: domain.RoleAdmin},
	})
	if err != nil {
		t.Fatalf("CreateCoupon returned error: %v", err)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 trail entry, got %d", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.Action != "coupon.created" || entry.TargetRef != "coupon:"+coupon.ID {
		t.Errorf("unexpected trail entry %#v", entry)
	}
	if entry.ActorID != "adm-1" {
		t.Errorf("unexpected actor %q", entry.ActorID)
	}
}

func TestCreateCouponRejectsDuplicateCode(t *testing.T) {
	svc := newCouponServiceForTest(t, CouponServiceDeps{
		Coupons: &stubCouponRepo{
			findByCodeFn: func(context.Context, string) (domain.Coupon, error) {
				return validTestCoupon(), nil
			},
		},
	})

	_, err := svc.CreateCoupon(context.Background(), UpsertCouponCommand{
		Code:       "SAVE10",
		Type:       domain.DiscountPercentage,
		Value:      1000,
		ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("expected ErrCouponConflict, got %v", err)
	}
}

func TestCreateCouponValidation(t *testing.T) {
	svc := newCouponServiceForTest(t, CouponServiceDeps{})

	cases := []struct {
		name string
		cmd  UpsertCouponCommand
	}{
		{
			name: "bad code",
			cmd: UpsertCouponCommand{
				Code: "a!", Type: domain.DiscountPercentage, Value: 1000,
				ValidFrom: fixedCouponClock(), ValidUntil: fixedCouponClock().Add(time.Hour),
			},
		},
		{
			name: "percentage above 100",
			cmd: UpsertCouponCommand{
				Code: "SAVE10", Type: domain.DiscountPercentage, Value: 10001,
				ValidFrom: fixedCouponClock(), ValidUntil: fixedCouponClock().Add(time.Hour),
			},
		},
		{
			name: "inverted window",
			cmd: UpsertCouponCommand{
				Code: "SAVE10", Type: domain.DiscountFixed, Value: 500,
				ValidFrom: fixedCouponClock(), ValidUntil: fixedCouponClock().Add(-time.Hour),
			},
		},
		{
			name: "unknown type",
			cmd: UpsertCouponCommand{
				Code: "SAVE10", Type: "bogo", Value: 500,
				ValidFrom: fixedCouponClock(), ValidUntil: fixedCouponClock().Add(time.Hour),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateCoupon(context.Background(), tc.cmd); !errors.Is(err, ErrCouponInvalidInput) {
				t.Fatalf("expected ErrCouponInvalidInput, got %v", err)
			}
		})
	}
}

func TestUpdateCouponDeactivates(t *testing.T) {
	var updated domain.Coupon
	svc := newCouponServiceForTest(t, CouponServiceDeps{
		Coupons: &stubCouponRepo{
			findFn: func(context.Context, string) (domain.Coupon, error) {
				return validTestCoupon(), nil
			},
			updateFn: func(_ context.Context, coupon domain.Coupon) error {
				updated = coupon
				return nil
			},
		},
	})

	coupon, err := svc.UpdateCoupon(context.Background(), UpsertCouponCommand{
		CouponID: "cpn-1",
		Active:   valuePtr(false),
	})
	if err != nil {
		t.Fatalf("UpdateCoupon returned error: %v", err)
	}
	if coupon.Active || updated.Active {
		t.Error("expected coupon deactivated")
	}
}
