package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/mercatto/api/internal/platform/firestore"
	"github.com/mercatto/api/internal/repositories"
)

// Registry bundles every Firestore-backed repository behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	departments *DepartmentRepository
	products    *ProductRepository
	stock       *StockRepository
	carts       *CartRepository
	coupons     *CouponRepository
	couponUsage *CouponUsageRepository
	orders      *OrderRepository
	payments    *PaymentRepository
	deliveries  *DeliveryRepository
	auditLogs   *AuditLogRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository on top of the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	departments, err := NewDepartmentRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	couponUsage, err := NewCouponUsageRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	deliveries, err := NewDeliveryRepository(provider)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		departments: departments,
		products:    products,
		stock:       stock,
		carts:       carts,
		coupons:     coupons,
		couponUsage: couponUsage,
		orders:      orders,
		payments:    payments,
		deliveries:  deliveries,
		auditLogs:   auditLogs,
		counters:    counters,
		health:      health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Departments() repositories.DepartmentRepository  { return r.departments }
func (r *Registry) Products() repositories.ProductRepository        { return r.products }
func (r *Registry) Stock() repositories.StockRepository             { return r.stock }
func (r *Registry) Carts() repositories.CartRepository              { return r.carts }
func (r *Registry) Coupons() repositories.CouponRepository          { return r.coupons }
func (r *Registry) CouponUsage() repositories.CouponUsageRepository { return r.couponUsage }
func (r *Registry) Orders() repositories.OrderRepository            { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository        { return r.payments }
func (r *Registry) Deliveries() repositories.DeliveryRepository     { return r.deliveries }
func (r *Registry) AuditLogs() repositories.AuditLogRepository      { return r.auditLogs }
func (r *Registry) Counters() repositories.CounterRepository        { return r.counters }
func (r *Registry) Health() repositories.HealthRepository           { return r.health }
