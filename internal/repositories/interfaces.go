package repositories

import (
	"context"
	"time"

	domain "github.com/mercatto/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Departments() DepartmentRepository
	Products() ProductRepository
	Stock() StockRepository
	Carts() CartRepository
	Coupons() CouponRepository
	CouponUsage() CouponUsageRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Deliveries() DeliveryRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// DepartmentRepository persists catalog departments.
type DepartmentRepository interface {
	Insert(ctx context.Context, dept domain.Department) error
	Update(ctx context.Context, dept domain.Department) error
	FindByID(ctx context.Context, deptID string) (domain.Department, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Department], error)
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	DepartmentID string
	ActiveOnly   bool
	FeaturedOnly bool
	Pagination   domain.Pagination
}

// StockRepository owns the append-only movement ledger and the per-product
// aggregate. Append must update both in one transaction so the aggregate
// always equals the ledger sum.
type StockRepository interface {
	Append(ctx context.Context, movement domain.StockMovement) (domain.StockLevel, error)
	Level(ctx context.Context, productID string) (domain.StockLevel, error)
	Levels(ctx context.Context, productIDs []string) (map[string]domain.StockLevel, error)
	ListMovements(ctx context.Context, filter StockMovementFilter) (domain.CursorPage[domain.StockMovement], error)
}

// StockMovementFilter narrows ledger listings.
type StockMovementFilter struct {
	ProductID  string
	Type       domain.MovementType
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CartRepository owns cart persistence. The document ID equals the customer ID.
type CartRepository interface {
	Get(ctx context.Context, customerID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, customerID string) error
}

// CouponRepository persists coupon definitions.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
}

// CouponUsageRepository reads redemption rows. Writes happen only inside the
// checkout transaction via OrderRepository.CreateCheckout.
type CouponUsageRepository interface {
	CountByCustomer(ctx context.Context, couponID string, customerID string) (int64, error)
	ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error)
}

// CheckoutWrite is the atomic unit persisted by CreateCheckout. Either all of
// it commits (order, stock debits, coupon redemption, cart removal) or none.
type CheckoutWrite struct {
	Order      domain.Order
	Movements  []domain.StockMovement
	Redemption *domain.CouponUsage
	ClearCart  string
	Now        time.Time
}

// OrderRepository persists orders, their status history and the checkout unit.
type OrderRepository interface {
	CreateCheckout(ctx context.Context, write CheckoutWrite) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	CountByCustomerAndStatus(ctx context.Context, customerID string, statuses []domain.OrderStatus) (int64, error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
	ListStatusHistory(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderStatusChange], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     domain.OrderStatus
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderStatusUpdate applies one validated transition together with its
// history row and timestamp stamps. ExpectedFrom guards against concurrent
// transitions; the repository must fail with a conflict when the stored
// status no longer matches. Restock movements, when present, are appended to
// the stock ledger and applied to the aggregates in the same transaction as
// the status change.
type OrderStatusUpdate struct {
	OrderID      string
	ExpectedFrom domain.OrderStatus
	To           domain.OrderStatus
	Change       domain.OrderStatusChange
	Stamps       OrderStamps
	Restock      []domain.StockMovement
	Now          time.Time
}

// OrderStamps carries the lifecycle timestamps set by specific transitions.
type OrderStamps struct {
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

// PaymentRepository persists payments, refunds and installment plans.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByGatewayRef(ctx context.Context, gatewayRef string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	InsertRefund(ctx context.Context, refund domain.PaymentRefund) error
	UpdateRefund(ctx context.Context, refund domain.PaymentRefund) error
	ListRefunds(ctx context.Context, paymentID string) ([]domain.PaymentRefund, error)
	ReplaceInstallments(ctx context.Context, paymentID string, plan []domain.PaymentInstallment) error
	ListInstallments(ctx context.Context, paymentID string) ([]domain.PaymentInstallment, error)
}

// DeliveryRepository persists deliveries, their history and feedback.
type DeliveryRepository interface {
	Insert(ctx context.Context, delivery domain.Delivery) error
	FindByID(ctx context.Context, deliveryID string) (domain.Delivery, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Delivery, error)
	FindByTrackingCode(ctx context.Context, trackingCode string) (domain.Delivery, error)
	List(ctx context.Context, filter DeliveryListFilter) (domain.CursorPage[domain.Delivery], error)
	UpdateStatus(ctx context.Context, update DeliveryStatusUpdate) (domain.Delivery, error)
	AssignDriver(ctx context.Context, deliveryID string, driverID string, now time.Time) (domain.Delivery, error)
	ListStatusHistory(ctx context.Context, deliveryID string, pager domain.Pagination) (domain.CursorPage[domain.DeliveryStatusChange], error)
	InsertFeedback(ctx context.Context, feedback domain.DeliveryFeedback) error
	FindFeedback(ctx context.Context, deliveryID string) (domain.DeliveryFeedback, error)
}

// DeliveryListFilter narrows delivery listings.
type DeliveryListFilter struct {
	DriverID   string
	CustomerID string
	Status     domain.DeliveryStatus
	Pagination domain.Pagination
}

// DeliveryStatusUpdate applies one validated delivery transition with its
// history row. ExpectedFrom carries the same conflict guard as orders.
// SignatureRef and PhotoRef hold proof-of-delivery references captured on the
// delivered status.
type DeliveryStatusUpdate struct {
	DeliveryID   string
	ExpectedFrom domain.DeliveryStatus
	To           domain.DeliveryStatus
	Change       domain.DeliveryStatusChange
	DeliveredAt  *time.Time
	SignatureRef string
	PhotoRef     string
	Now          time.Time
}

// AuditLogRepository appends and lists operational trace rows.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	ActorID    string
	Action     string
	TargetRef  string
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterRepository hands out monotonic sequence values for human-readable
// numbers such as order numbers.
type CounterRepository interface {
	Next(ctx context.Context, name string, step int64) (int64, error)
}

// HealthRepository reports backend dependency health for readiness probes.
type HealthRepository interface {
	Check(ctx context.Context) error
}
