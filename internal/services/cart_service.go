package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

var (
	// ErrCartInvalidInput signals the caller provided invalid cart data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartNotFound indicates the cart or one of its products is missing.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartProductUnavailable indicates the product cannot be added to a cart.
	ErrCartProductUnavailable = errors.New("cart: product unavailable")
	// ErrCartInsufficientStock indicates the requested quantity exceeds stock.
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Stock    repositories.StockRepository
	Coupons  CouponService
	Policy   CheckoutPolicy
	Clock    Clock
	Logger   LogFunc
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	stock    repositories.StockRepository
	coupons  CouponService
	policy   CheckoutPolicy
	clock    func() time.Time
	logger   LogFunc
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("cart service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		stock:    deps.Stock,
		coupons:  deps.Coupons,
		policy:   deps.Policy,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *cartService) GetOrCreateCart(ctx context.Context, customerID string) (Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		if isNotFound(err) {
			return domain.Cart{ID: customerID, CustomerID: customerID}, nil
		}
		return Cart{}, s.mapRepositoryError(err)
	}
	return cart, nil
}

func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	productID := strings.TrimSpace(cmd.ProductID)
	if customerID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: customer id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return Cart{}, fmt.Errorf("%w: product %s", ErrCartNotFound, productID)
		}
		return Cart{}, s.mapRepositoryError(err)
	}
	if !product.Active {
		return Cart{}, fmt.Errorf("%w: product %s", ErrCartProductUnavailable, productID)
	}

	level, err := s.stock.Level(ctx, productID)
	if err != nil && !isNotFound(err) {
		return Cart{}, s.mapRepositoryError(err)
	}
	if level.Quantity < int64(cmd.Quantity) {
		return Cart{}, fmt.Errorf("%w: product %s has %d units available", ErrCartInsufficientStock, productID, level.Quantity)
	}

	cart, err := s.GetOrCreateCart(ctx, customerID)
	if err != nil {
		return Cart{}, err
	}

	now := s.clock()
	found := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity = cmd.Quantity
			found = true
			break
		}
	}
	if !found {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: productID,
			Quantity:  cmd.Quantity,
			AddedAt:   now,
		})
	}
	cart.UpdatedAt = now

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	productID := strings.TrimSpace(cmd.ProductID)
	if customerID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: customer id and product id are required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}

	items := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ProductID == productID {
			removed = true
			continue
		}
		items = append(items, item)
	}
	if !removed {
		return Cart{}, fmt.Errorf("%w: product %s is not in the cart", ErrCartNotFound, productID)
	}
	cart.Items = items
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *cartService) ApplyCoupon(ctx context.Context, cmd CartCouponCommand) (Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	code := strings.TrimSpace(cmd.Code)
	if customerID == "" || code == "" {
		return Cart{}, fmt.Errorf("%w: customer id and coupon code are required", ErrCartInvalidInput)
	}
	if s.coupons == nil {
		return Cart{}, fmt.Errorf("%w: coupons are not supported", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return Cart{}, fmt.Errorf("%w: cannot apply a coupon to an empty cart", ErrCartInvalidInput)
	}

	subtotal, _, err := s.priceItems(ctx, cart)
	if err != nil {
		return Cart{}, err
	}

	quote, err := s.coupons.Quote(ctx, CouponQuoteCommand{
		Code:       code,
		CustomerID: customerID,
		OrderValue: subtotal,
		At:         s.clock(),
	})
	if err != nil {
		return Cart{}, err
	}

	cart.CouponCode = quote.Coupon.Code
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *cartService) RemoveCoupon(ctx context.Context, customerID string) (Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	if cart.CouponCode == "" {
		return cart, nil
	}

	cart.CouponCode = ""
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *cartService) Estimate(ctx context.Context, customerID string) (CartEstimate, error) {
	cart, err := s.GetOrCreateCart(ctx, customerID)
	if err != nil {
		return CartEstimate{}, err
	}
	if len(cart.Items) == 0 {
		return domain.CartEstimate{}, nil
	}

	subtotal, lines, err := s.priceItems(ctx, cart)
	if err != nil {
		return CartEstimate{}, err
	}

	var discount int64
	couponCode := cart.CouponCode
	if couponCode != "" && s.coupons != nil {
		quote, err := s.coupons.Quote(ctx, CouponQuoteCommand{
			Code:       couponCode,
			CustomerID: cart.CustomerID,
			OrderValue: subtotal,
			At:         s.clock(),
		})
		switch {
		case err == nil:
			discount = quote.Discount
		case errors.Is(err, ErrCouponNotApplicable) || errors.Is(err, ErrCouponNotFound):
			// The attached coupon no longer applies; price without it so the
			// estimate stays useful.
			s.logger(ctx, "cart.estimate.coupon.dropped", map[string]any{
				"customer": cart.CustomerID,
				"code":     couponCode,
				"error":    err.Error(),
			})
			couponCode = ""
		default:
			return CartEstimate{}, err
		}
	}

	totals := domain.ComputeTotals(subtotal, s.policy, discount)
	return domain.CartEstimate{
		Lines:          lines,
		Subtotal:       totals.Subtotal,
		ShippingCost:   totals.ShippingCost,
		TaxAmount:      totals.TaxAmount,
		DiscountAmount: totals.DiscountAmount,
		Total:          totals.Total,
		CouponCode:     couponCode,
	}, nil
}

func (s *cartService) ClearCart(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	if err := s.carts.Delete(ctx, customerID); err != nil && !isNotFound(err) {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *cartService) priceItems(ctx context.Context, cart Cart) (int64, []domain.CartEstimateLine, error) {
	products, err := s.products.FindByIDs(ctx, cartProductIDs(cart))
	if err != nil {
		return 0, nil, s.mapRepositoryError(err)
	}

	var subtotal int64
	lines := make([]domain.CartEstimateLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return 0, nil, fmt.Errorf("%w: product %s", ErrCartNotFound, item.ProductID)
		}
		unitPrice := product.CurrentPrice()
		lineTotal := unitPrice * int64(item.Quantity)
		subtotal += lineTotal
		lines = append(lines, domain.CartEstimateLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			Subtotal:    lineTotal,
		})
	}
	return subtotal, lines, nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("cart: repository unavailable: %w", err)
		}
	}

	return err
}
