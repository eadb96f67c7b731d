package services

import (
	"context"
	"time"

	domain "github.com/mercatto/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Address              = domain.Address
	Department           = domain.Department
	Product              = domain.Product
	MovementType         = domain.MovementType
	StockMovement        = domain.StockMovement
	StockLevel           = domain.StockLevel
	Cart                 = domain.Cart
	CartItem             = domain.CartItem
	CartEstimate         = domain.CartEstimate
	CartEstimateLine     = domain.CartEstimateLine
	Coupon               = domain.Coupon
	CouponUsage          = domain.CouponUsage
	DiscountType         = domain.DiscountType
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	OrderStatusChange    = domain.OrderStatusChange
	OrderTotals          = domain.OrderTotals
	CheckoutPolicy       = domain.CheckoutPolicy
	Payment              = domain.Payment
	PaymentMethod        = domain.PaymentMethod
	PaymentStatus        = domain.PaymentStatus
	PaymentRefund        = domain.PaymentRefund
	PaymentInstallment   = domain.PaymentInstallment
	Delivery             = domain.Delivery
	DeliveryStatus       = domain.DeliveryStatus
	DeliveryStatusChange = domain.DeliveryStatusChange
	DeliveryFeedback     = domain.DeliveryFeedback
	TrackingView         = domain.TrackingView
	AuditLogEntry        = domain.AuditLogEntry
	Role                 = domain.Role
)

// Actor identifies who performed an operation, used for authorisation checks
// and audit trails.
type Actor struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// IsDriver reports whether the actor holds the driver role.
func (a Actor) IsDriver() bool { return a.Role == domain.RoleDriver }

// CatalogService manages departments and products for browsing and admin upkeep.
type CatalogService interface {
	CreateDepartment(ctx context.Context, cmd UpsertDepartmentCommand) (Department, error)
	UpdateDepartment(ctx context.Context, cmd UpsertDepartmentCommand) (Department, error)
	ListDepartments(ctx context.Context, pager Pagination) (domain.CursorPage[Department], error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]Product, error)
	ListProducts(ctx context.Context, filter ProductListQuery) (domain.CursorPage[Product], error)
	DeactivateProduct(ctx context.Context, cmd DeactivateProductCommand) (Product, error)
}

// UpsertDepartmentCommand carries department create/update input.
type UpsertDepartmentCommand struct {
	DepartmentID string
	Name         string
	Description  string
	Active       *bool
	Actor        Actor
}

// UpsertProductCommand carries product create/update input. Prices are cents.
type UpsertProductCommand struct {
	ProductID        string
	DepartmentID     string
	SKU              string
	Name             string
	Description      string
	Price            int64
	PromotionalPrice *int64
	OnPromotion      *bool
	Featured         *bool
	Active           *bool
	ImageURL         string
	Actor            Actor
}

// DeactivateProductCommand soft-removes a product from sale.
type DeactivateProductCommand struct {
	ProductID string
	Actor     Actor
}

// ProductListQuery narrows product listings.
type ProductListQuery struct {
	DepartmentID string
	ActiveOnly   bool
	FeaturedOnly bool
	Pagination   Pagination
}

// StockService owns the append-only stock ledger and derived levels.
type StockService interface {
	RecordMovement(ctx context.Context, cmd RecordMovementCommand) (StockMovement, StockLevel, error)
	CurrentStock(ctx context.Context, productID string) (StockLevel, error)
	CurrentStocks(ctx context.Context, productIDs []string) (map[string]StockLevel, error)
	ListMovements(ctx context.Context, query StockMovementQuery) (domain.CursorPage[StockMovement], error)
}

// RecordMovementCommand appends one ledger row. Quantity must be positive for
// in/out movements; adjustments accept negative values.
type RecordMovementCommand struct {
	ProductID string
	Quantity  int64
	Type      MovementType
	Reason    string
	Actor     Actor
}

// StockMovementQuery narrows ledger listings.
type StockMovementQuery struct {
	ProductID  string
	Type       MovementType
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// CouponService owns coupon definitions, validation and discount math.
// Redemption itself happens inside the checkout transaction.
type CouponService interface {
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (Coupon, error)
	ListCoupons(ctx context.Context, pager Pagination) (domain.CursorPage[Coupon], error)
	// Quote validates the coupon for the customer and order value and returns
	// the discount amount. A zero discount with nil error never happens; an
	// invalid coupon returns a typed error.
	Quote(ctx context.Context, cmd CouponQuoteCommand) (CouponQuote, error)
}

// UpsertCouponCommand carries coupon create/update input.
type UpsertCouponCommand struct {
	CouponID         string
	Code             string
	Description      string
	Type             DiscountType
	Value            int64
	MinOrderValue    int64
	MaxDiscount      *int64
	UsageLimit       *int64
	PerCustomerLimit *int64
	FirstOrderOnly   *bool
	Active           *bool
	ValidFrom        time.Time
	ValidUntil       time.Time
	Actor            Actor
}

// CouponQuoteCommand asks for a discount quote against an order value.
type CouponQuoteCommand struct {
	Code       string
	CustomerID string
	OrderValue int64
	At         time.Time
}

// CouponQuote is the result of a successful validation.
type CouponQuote struct {
	Coupon   Coupon
	Discount int64
}

// CartService manages mutable cart state and pricing estimates.
type CartService interface {
	GetOrCreateCart(ctx context.Context, customerID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyCoupon(ctx context.Context, cmd CartCouponCommand) (Cart, error)
	RemoveCoupon(ctx context.Context, customerID string) (Cart, error)
	Estimate(ctx context.Context, customerID string) (CartEstimate, error)
	ClearCart(ctx context.Context, customerID string) error
}

// UpsertCartItemCommand sets the quantity for a product in the cart.
type UpsertCartItemCommand struct {
	CustomerID string
	ProductID  string
	Quantity   int
}

// RemoveCartItemCommand drops one product from the cart.
type RemoveCartItemCommand struct {
	CustomerID string
	ProductID  string
}

// CartCouponCommand attaches a coupon code to the cart.
type CartCouponCommand struct {
	CustomerID string
	Code       string
}

// OrderService encapsulates checkout, listing and the status workflow.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	ListStatusHistory(ctx context.Context, orderID string, actor Actor, pager Pagination) (domain.CursorPage[OrderStatusChange], error)
}

// CheckoutCommand turns the customer's cart into an order.
type CheckoutCommand struct {
	CustomerID      string
	PaymentMethod   PaymentMethod
	ShippingAddress Address
	CouponCode      string
	Notes           string
}

// OrderListQuery narrows order listings. Customers only ever see their own
// orders; the service enforces that from the actor.
type OrderListQuery struct {
	Actor      Actor
	CustomerID string
	Status     OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// OrderStatusTransitionCommand moves an order along the workflow.
type OrderStatusTransitionCommand struct {
	OrderID string
	To      OrderStatus
	Note    string
	Actor   Actor
}

// CancelOrderCommand cancels an order and restores its stock.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   Actor
}

// PaymentService handles payment processing, refunds, installments and
// gateway webhook reconciliation.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (Payment, error)
	ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error)
	GetPayment(ctx context.Context, paymentID string, actor Actor) (Payment, error)
	ListPayments(ctx context.Context, orderID string, actor Actor) ([]Payment, error)
	Refund(ctx context.Context, cmd RefundCommand) (PaymentRefund, error)
	ListRefunds(ctx context.Context, paymentID string, actor Actor) ([]PaymentRefund, error)
	CreateInstallmentPlan(ctx context.Context, cmd InstallmentPlanCommand) ([]PaymentInstallment, error)
	ReconcileGateway(ctx context.Context, cmd GatewayEventCommand) error
}

// CreatePaymentCommand opens a pending payment for an order.
type CreatePaymentCommand struct {
	OrderID      string
	Method       PaymentMethod
	Installments int
	Actor        Actor
}

// ProcessPaymentCommand sends a pending payment to the gateway.
type ProcessPaymentCommand struct {
	PaymentID string
	CardToken string
	Actor     Actor
}

// RefundCommand returns part or all of an approved payment.
type RefundCommand struct {
	PaymentID string
	Amount    int64
	Reason    string
	Actor     Actor
}

// InstallmentPlanCommand splits a payment into equal monthly slices.
type InstallmentPlanCommand struct {
	PaymentID string
	Count     int
	FirstDue  time.Time
	Actor     Actor
}

// GatewayEventCommand carries an asynchronous gateway notification.
type GatewayEventCommand struct {
	GatewayRef string
	EventType  string
	Approved   bool
	Reason     string
}

// DeliveryService owns delivery lifecycle, driver assignment and tracking.
type DeliveryService interface {
	CreateForOrder(ctx context.Context, cmd CreateDeliveryCommand) (Delivery, error)
	GetDelivery(ctx context.Context, deliveryID string, actor Actor) (Delivery, error)
	ListDeliveries(ctx context.Context, query DeliveryListQuery) (domain.CursorPage[Delivery], error)
	AssignDriver(ctx context.Context, cmd AssignDriverCommand) (Delivery, error)
	UpdateStatus(ctx context.Context, cmd DeliveryStatusCommand) (Delivery, error)
	Track(ctx context.Context, trackingCode string) (TrackingView, error)
	SubmitFeedback(ctx context.Context, cmd DeliveryFeedbackCommand) (DeliveryFeedback, error)
}

// CreateDeliveryCommand opens a delivery for a confirmed order.
type CreateDeliveryCommand struct {
	OrderID       string
	EstimatedDate *time.Time
	DriverID      string
}

// DeliveryListQuery narrows delivery listings. Drivers only see their own
// deliveries; the service enforces that from the actor.
type DeliveryListQuery struct {
	Actor      Actor
	DriverID   string
	Status     DeliveryStatus
	Pagination Pagination
}

// AssignDriverCommand hands a delivery to a driver.
type AssignDriverCommand struct {
	DeliveryID string
	DriverID   string
	Actor      Actor
}

// DeliveryStatusCommand moves a delivery along the workflow. SignatureRef and
// PhotoRef are opaque proof-of-delivery references, honoured only on the
// delivered status.
type DeliveryStatusCommand struct {
	DeliveryID   string
	To           DeliveryStatus
	Location     string
	Latitude     *float64
	Longitude    *float64
	Note         string
	SignatureRef string
	PhotoRef     string
	Actor        Actor
}

// DeliveryFeedbackCommand records the customer rating after completion.
type DeliveryFeedbackCommand struct {
	DeliveryID   string
	Rating       int
	DriverRating int
	Comment      string
	Actor        Actor
}

// AuditLogService records operational traces without ever failing the caller.
type AuditLogService interface {
	Record(ctx context.Context, entry AuditLogEntry) error
	List(ctx context.Context, query AuditLogQuery) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogQuery narrows audit trail listings.
type AuditLogQuery struct {
	ActorID    string
	Action     string
	TargetRef  string
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// NotificationEvent is the payload published for the external notification
// service: who to notify, about what, with which details.
type NotificationEvent struct {
	EventType string         `json:"event_type"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Notification event types emitted by the services.
const (
	EventOrderCreated          = "order.created"
	EventOrderStatusChanged    = "order.status.changed"
	EventPaymentCompleted      = "payment.completed"
	EventPaymentFailed         = "payment.failed"
	EventDeliveryStatusChanged = "delivery.status.changed"
)

// NotificationPublisher hands events to the message broker. Implementations
// must be safe for concurrent use.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, event NotificationEvent) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// IDGenerator produces unique identifiers.
type IDGenerator func() string

// LogFunc receives structured service events for observability hooks.
type LogFunc func(ctx context.Context, event string, fields map[string]any)
