package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

const couponIDPrefix = "cpn_"

var (
	// ErrCouponInvalidInput signals the caller provided invalid coupon data.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates the coupon could not be located.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponNotApplicable indicates the coupon exists but cannot be applied
	// to this customer and order value right now.
	ErrCouponNotApplicable = errors.New("coupon: not applicable")
	// ErrCouponConflict indicates a duplicate code or concurrent update.
	ErrCouponConflict = errors.New("coupon: conflict")
)

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9]{3,24}$`)

// statuses that count towards the first-order check. A pending order has not
// been paid yet, so it does not make a customer a returning one; neither do
// cancelled or returned orders.
var firstOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Usage       repositories.CouponUsageRepository
	Orders      repositories.OrderRepository
	Audit       AuditLogService
	Clock       Clock
	IDGenerator IDGenerator
	Logger      LogFunc
}

type couponService struct {
	coupons repositories.CouponRepository
	usage   repositories.CouponUsageRepository
	orders  repositories.OrderRepository
	audit   AuditLogService
	clock   func() time.Time
	newID   func() string
	logger  LogFunc
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("coupon service: coupon usage repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("coupon service: order repository is required")
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

	return &couponService{
		coupons: deps.Coupons,
		usage:   deps.Usage,
		orders:  deps.Orders,
		audit:   deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	code := normalizeCouponCode(cmd.Code)
	if err := validateCouponFields(code, cmd); err != nil {
		return Coupon{}, err
	}

	if _, err := s.coupons.FindByCode(ctx, code); err == nil {
		return Coupon{}, fmt.Errorf("%w: code %s already exists", ErrCouponConflict, code)
	} else if !isNotFound(err) {
		return Coupon{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	coupon := domain.Coupon{
		ID:               couponIDPrefix + s.newID(),
		Code:             code,
		Description:      strings.TrimSpace(cmd.Description),
		Type:             cmd.Type,
		Value:            cmd.Value,
		MinOrderValue:    cmd.MinOrderValue,
		MaxDiscount:      cmd.MaxDiscount,
		UsageLimit:       cmd.UsageLimit,
		PerCustomerLimit: cmd.PerCustomerLimit,
		Active:           true,
		ValidFrom:        cmd.ValidFrom.UTC(),
		ValidUntil:       cmd.ValidUntil.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if cmd.FirstOrderOnly != nil {
		coupon.FirstOrderOnly = *cmd.FirstOrderOnly
	}
	if cmd.Active != nil {
		coupon.Active = *cmd.Active
	}

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, cmd.Actor, "coupon.created", "coupon:"+coupon.ID, map[string]any{
		"code": coupon.Code,
		"type": string(coupon.Type),
	})
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	couponID := strings.TrimSpace(cmd.CouponID)
	if couponID == "" {
		return Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}

	if cmd.Description != "" {
		coupon.Description = strings.TrimSpace(cmd.Description)
	}
	if cmd.Value > 0 {
		coupon.Value = cmd.Value
	}
	if cmd.MinOrderValue > 0 {
		coupon.MinOrderValue = cmd.MinOrderValue
	}
	if cmd.MaxDiscount != nil {
		coupon.MaxDiscount = cmd.MaxDiscount
	}
	if cmd.UsageLimit != nil {
		coupon.UsageLimit = cmd.UsageLimit
	}
	if cmd.PerCustomerLimit != nil {
		coupon.PerCustomerLimit = cmd.PerCustomerLimit
	}
	if cmd.FirstOrderOnly != nil {
		coupon.FirstOrderOnly = *cmd.FirstOrderOnly
	}
	if cmd.Active != nil {
		coupon.Active = *cmd.Active
	}
	if !cmd.ValidFrom.IsZero() {
		coupon.ValidFrom = cmd.ValidFrom.UTC()
	}
	if !cmd.ValidUntil.IsZero() {
		coupon.ValidUntil = cmd.ValidUntil.UTC()
	}
	if !coupon.ValidUntil.After(coupon.ValidFrom) {
		return Coupon{}, fmt.Errorf("%w: valid_until must be after valid_from", ErrCouponInvalidInput)
	}
	if coupon.Type == domain.DiscountPercentage && coupon.Value > 10000 {
		return Coupon{}, fmt.Errorf("%w: percentage value exceeds 100%%", ErrCouponInvalidInput)
	}
	coupon.UpdatedAt = s.clock()

	if err := s.coupons.Update(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}

	recordAudit(ctx, s.audit, cmd.Actor, "coupon.updated", "coupon:"+coupon.ID, map[string]any{
		"code":   coupon.Code,
		"active": coupon.Active,
	})
	return coupon, nil
}

func (s *couponService) GetCouponByCode(ctx context.Context, code string) (Coupon, error) {
	code = normalizeCouponCode(code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context, pager Pagination) (domain.CursorPage[Coupon], error) {
	page, err := s.coupons.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Coupon]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *couponService) Quote(ctx context.Context, cmd CouponQuoteCommand) (CouponQuote, error) {
	code := normalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponQuote{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return CouponQuote{}, fmt.Errorf("%w: customer id is required", ErrCouponInvalidInput)
	}
	if cmd.OrderValue <= 0 {
		return CouponQuote{}, fmt.Errorf("%w: order value must be positive", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return CouponQuote{}, fmt.Errorf("%w: code %s", ErrCouponNotFound, code)
		}
		return CouponQuote{}, s.mapRepositoryError(err)
	}

	at := cmd.At
	if at.IsZero() {
		at = s.clock()
	}

	if !coupon.Active {
		return CouponQuote{}, fmt.Errorf("%w: coupon is inactive", ErrCouponNotApplicable)
	}
	if at.Before(coupon.ValidFrom) || at.After(coupon.ValidUntil) {
		return CouponQuote{}, fmt.Errorf("%w: outside validity window", ErrCouponNotApplicable)
	}
	if cmd.OrderValue < coupon.MinOrderValue {
		return CouponQuote{}, fmt.Errorf("%w: order value below minimum of %d", ErrCouponNotApplicable, coupon.MinOrderValue)
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return CouponQuote{}, fmt.Errorf("%w: usage limit reached", ErrCouponNotApplicable)
	}
	if coupon.PerCustomerLimit != nil {
		used, err := s.usage.CountByCustomer(ctx, coupon.ID, cmd.CustomerID)
		if err != nil {
			return CouponQuote{}, s.mapRepositoryError(err)
		}
		if used >= *coupon.PerCustomerLimit {
			return CouponQuote{}, fmt.Errorf("%w: per-customer limit reached", ErrCouponNotApplicable)
		}
	}
	if coupon.FirstOrderOnly {
		count, err := s.orders.CountByCustomerAndStatus(ctx, cmd.CustomerID, firstOrderStatuses)
		if err != nil {
			return CouponQuote{}, s.mapRepositoryError(err)
		}
		if count > 0 {
			return CouponQuote{}, fmt.Errorf("%w: valid for first orders only", ErrCouponNotApplicable)
		}
	}

	discount := calculateDiscount(coupon, cmd.OrderValue)
	if discount <= 0 {
		return CouponQuote{}, fmt.Errorf("%w: discount resolves to zero", ErrCouponNotApplicable)
	}

	return CouponQuote{Coupon: coupon, Discount: discount}, nil
}

// calculateDiscount resolves the cents value of a coupon against an order
// value. Percentage values are basis points (1000 == 10%). The result never
// exceeds the order value.
func calculateDiscount(coupon domain.Coupon, orderValue int64) int64 {
	var discount int64
	switch coupon.Type {
	case domain.DiscountPercentage:
		discount = orderValue * coupon.Value / 10000
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	case domain.DiscountFixed:
		discount = coupon.Value
	}
	if discount > orderValue {
		discount = orderValue
	}
	if discount < 0 {
		return 0
	}
	return discount
}

func validateCouponFields(code string, cmd UpsertCouponCommand) error {
	if !couponCodePattern.MatchString(code) {
		return fmt.Errorf("%w: code must be 3-24 uppercase letters or digits", ErrCouponInvalidInput)
	}
	switch cmd.Type {
	case domain.DiscountPercentage:
		if cmd.Value <= 0 || cmd.Value > 10000 {
			return fmt.Errorf("%w: percentage value must be between 1 and 10000 basis points", ErrCouponInvalidInput)
		}
	case domain.DiscountFixed:
		if cmd.Value <= 0 {
			return fmt.Errorf("%w: fixed value must be positive", ErrCouponInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrCouponInvalidInput, cmd.Type)
	}
	if cmd.MinOrderValue < 0 {
		return fmt.Errorf("%w: minimum order value cannot be negative", ErrCouponInvalidInput)
	}
	if cmd.ValidFrom.IsZero() || cmd.ValidUntil.IsZero() || !cmd.ValidUntil.After(cmd.ValidFrom) {
		return fmt.Errorf("%w: valid_until must be after valid_from", ErrCouponInvalidInput)
	}
	if cmd.UsageLimit != nil && *cmd.UsageLimit <= 0 {
		return fmt.Errorf("%w: usage limit must be positive", ErrCouponInvalidInput)
	}
	if cmd.PerCustomerLimit != nil && *cmd.PerCustomerLimit <= 0 {
		return fmt.Errorf("%w: per-customer limit must be positive", ErrCouponInvalidInput)
	}
	return nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCouponConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("coupon: repository unavailable: %w", err)
		}
	}

	return err
}
