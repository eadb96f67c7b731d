package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/payments"
	"github.com/mercatto/api/internal/platform/config"
	"github.com/mercatto/api/internal/repositories"
	"github.com/mercatto/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Catalog    services.CatalogService
	Stock      services.StockService
	Coupons    services.CouponService
	Cart       services.CartService
	Orders     services.OrderService
	Payments   services.PaymentService
	Deliveries services.DeliveryService
	Audit      services.AuditLogService
}

// Dependencies carries the infrastructure collaborators the container cannot
// build itself. Tests can supply stubs for any of them.
type Dependencies struct {
	Registry repositories.Registry
	Gateway  payments.Gateway
	Notifier services.NotificationPublisher
	Logger   *zap.Logger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Bridge       *services.EventBridge
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notification publisher is required")
	}

	svc, bridge, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
		Bridge:       bridge,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps Dependencies) (Services, *services.EventBridge, error) {
	var svc Services
	reg := deps.Registry

	policy := domain.CheckoutPolicy{
		ShippingFlatFee:       cfg.Checkout.ShippingFlatFee,
		FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
		TaxBasisPoints:        cfg.Checkout.TaxBasisPoints,
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Entries: reg.AuditLogs(),
		Clock:   time.Now,
		Logger:  namedLogFunc(deps.Logger, "audit"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Departments: reg.Departments(),
		Products:    reg.Products(),
		Clock:       time.Now,
		Logger:      namedLogFunc(deps.Logger, "catalog"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Stock:    reg.Stock(),
		Products: reg.Products(),
		Audit:    auditSvc,
		Clock:    time.Now,
		Logger:   namedLogFunc(deps.Logger, "stock"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Usage:   reg.CouponUsage(),
		Orders:  reg.Orders(),
		Audit:   auditSvc,
		Clock:   time.Now,
		Logger:  namedLogFunc(deps.Logger, "coupons"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Stock:    reg.Stock(),
		Coupons:  couponSvc,
		Policy:   policy,
		Clock:    time.Now,
		Logger:   namedLogFunc(deps.Logger, "cart"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	bridge, err := services.NewEventBridge(services.EventBridgeDeps{
		Notifier: deps.Notifier,
		Logger:   namedLogFunc(deps.Logger, "bridge"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build event bridge: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		Stock:      reg.Stock(),
		Counters:   reg.Counters(),
		Coupons:    couponSvc,
		Policy:     policy,
		Audit:      auditSvc,
		Clock:      time.Now,
		Events:     bridge,
		Logger:     namedLogFunc(deps.Logger, "orders"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments: reg.Payments(),
		Orders:   orderSvc,
		Gateway:  deps.Gateway,
		Audit:    auditSvc,
		Clock:    time.Now,
		Events:   bridge,
		Logger:   namedLogFunc(deps.Logger, "payments"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	deliverySvc, err := services.NewDeliveryService(services.DeliveryServiceDeps{
		Deliveries: reg.Deliveries(),
		Orders:     orderSvc,
		Audit:      auditSvc,
		Clock:      time.Now,
		Events:     bridge,
		Logger:     namedLogFunc(deps.Logger, "deliveries"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build delivery service: %w", err)
	}
	svc.Deliveries = deliverySvc

	// The bridge opens deliveries when orders confirm, so the delivery
	// service is attached after both sides exist.
	bridge.SetDeliveryService(deliverySvc)

	return svc, bridge, nil
}

func namedLogFunc(logger *zap.Logger, name string) services.LogFunc {
	if logger == nil {
		return nil
	}
	scoped := logger.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		scoped.Info(event, zFields...)
	}
}
