package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the next page token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Address captures a shipping or billing address snapshot. Amounts of
// validation are intentionally light; upstream forms own the heavy checks.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Department groups products for catalog browsing.
type Department struct {
	ID          string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Product is a sellable catalog entry. Prices are stored in cents.
type Product struct {
	ID               string
	DepartmentID     string
	SKU              string
	Name             string
	Description      string
	Price            int64
	PromotionalPrice *int64
	OnPromotion      bool
	Featured         bool
	Active           bool
	ImageURL         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CurrentPrice returns the promotional price while the product is flagged as
// on promotion and carries one below the list price, otherwise the list price.
// A stored promotional price alone does not discount anything; the flag is
// what activates it.
func (p Product) CurrentPrice() int64 {
	if p.OnPromotion && p.PromotionalPrice != nil && *p.PromotionalPrice > 0 && *p.PromotionalPrice < p.Price {
		return *p.PromotionalPrice
	}
	return p.Price
}

// MovementType classifies a stock ledger entry.
type MovementType string

const (
	// MovementIn records goods entering stock (purchases, returns).
	MovementIn MovementType = "in"
	// MovementOut records goods leaving stock (sales, losses).
	MovementOut MovementType = "out"
	// MovementAdjustment records manual corrections; quantity may be negative.
	MovementAdjustment MovementType = "adjustment"
)

// StockMovement is one immutable row in the append-only stock ledger.
// Quantities for in/out movements are stored as positive magnitudes; the
// movement type determines the sign applied to the running level.
type StockMovement struct {
	ID        string
	ProductID string
	Quantity  int64
	Type      MovementType
	Reason    string
	ActorID   string
	CreatedAt time.Time
}

// Delta returns the signed effect of the movement on the stock level.
func (m StockMovement) Delta() int64 {
	if m.Type == MovementOut {
		return -m.Quantity
	}
	return m.Quantity
}

// StockLevel is the materialized per-product aggregate kept in step with the
// ledger inside the same transaction.
type StockLevel struct {
	ProductID string
	Quantity  int64
	UpdatedAt time.Time
}

// Cart aggregates the mutable shopping cart state for a customer. One cart
// per customer; the document ID equals the customer ID.
type Cart struct {
	ID         string
	CustomerID string
	Items      []CartItem
	CouponCode string
	UpdatedAt  time.Time
}

// CartItem stores a single product entry within a cart. Prices are resolved
// live at estimate/checkout time, never stored here.
type CartItem struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
}

// CartEstimate is the computed pricing preview for a cart.
type CartEstimate struct {
	Lines          []CartEstimateLine
	Subtotal       int64
	ShippingCost   int64
	TaxAmount      int64
	DiscountAmount int64
	Total          int64
	CouponCode     string
}

// CartEstimateLine prices one cart item at current catalog prices.
type CartEstimateLine struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	Subtotal    int64
}

// DiscountType selects how a coupon discount is computed.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the order value.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed amount.
	DiscountFixed DiscountType = "fixed"
)

// Coupon is a promotion definition. Monetary fields are cents; Percentage is
// expressed in basis points of one percent times 100 (i.e. 10% == 1000).
type Coupon struct {
	ID               string
	Code             string
	Description      string
	Type             DiscountType
	Value            int64
	MinOrderValue    int64
	MaxDiscount      *int64
	UsageLimit       *int64
	UsedCount        int64
	PerCustomerLimit *int64
	FirstOrderOnly   bool
	Active           bool
	ValidFrom        time.Time
	ValidUntil       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CouponUsage records one redemption of a coupon by an order. The pair
// (CouponID, OrderID) is unique.
type CouponUsage struct {
	ID             string
	CouponID       string
	Code           string
	CustomerID     string
	OrderID        string
	DiscountAmount int64
	CreatedAt      time.Time
}

// OrderStatus enumerates the order workflow states.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment was approved.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned indicates the delivered order came back.
	OrderStatusReturned OrderStatus = "returned"
)

// OrderItem freezes product name and unit price at checkout time.
type OrderItem struct {
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   int64
	Subtotal    int64
}

// Order is the purchase aggregate. The totals invariant
// Total == Subtotal + ShippingCost + TaxAmount - DiscountAmount holds at all
// times; services recompute and verify it whenever amounts change.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	Status          OrderStatus
	Items           []OrderItem
	Subtotal        int64
	ShippingCost    int64
	TaxAmount       int64
	DiscountAmount  int64
	Total           int64
	CouponCode      string
	PaymentMethod   PaymentMethod
	ShippingAddress Address
	Notes           string
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStatusChange is one row of an order's status history.
type OrderStatusChange struct {
	ID        string
	OrderID   string
	From      OrderStatus
	To        OrderStatus
	ActorID   string
	Note      string
	CreatedAt time.Time
}

// PaymentMethod enumerates accepted payment instruments.
type PaymentMethod string

const (
	// PaymentMethodCreditCard settles through the card gateway.
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	// PaymentMethodDebitCard settles through the card gateway.
	PaymentMethodDebitCard PaymentMethod = "debit_card"
	// PaymentMethodPix settles through instant bank transfer.
	PaymentMethodPix PaymentMethod = "pix"
	// PaymentMethodBoleto settles through bank slip.
	PaymentMethodBoleto PaymentMethod = "boleto"
)

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the payment was created but not sent.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing indicates the gateway call is in flight.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusApproved indicates the gateway authorized the charge.
	PaymentStatusApproved PaymentStatus = "approved"
	// PaymentStatusDeclined indicates the gateway refused the charge.
	PaymentStatusDeclined PaymentStatus = "declined"
	// PaymentStatusCancelled indicates the payment was abandoned.
	PaymentStatusCancelled PaymentStatus = "cancelled"
	// PaymentStatusRefunded indicates the full net amount was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusPartiallyRefunded indicates part of the net amount was returned.
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	// PaymentStatusChargeback indicates the issuer reversed the charge.
	PaymentStatusChargeback PaymentStatus = "chargeback"
	// PaymentStatusExpired indicates the payment window closed unused.
	PaymentStatusExpired PaymentStatus = "expired"
)

// Payment is one attempt to settle an order. NetAmount is always
// Amount - FeeAmount and never negative.
type Payment struct {
	ID            string
	OrderID       string
	CustomerID    string
	Method        PaymentMethod
	Status        PaymentStatus
	Amount        int64
	FeeAmount     int64
	NetAmount     int64
	GatewayRef    string
	FailureReason string
	Installments  int
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RefundStatus enumerates refund lifecycle states.
type RefundStatus string

const (
	// RefundStatusPending indicates the refund awaits gateway confirmation.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusCompleted indicates the gateway returned the funds.
	RefundStatusCompleted RefundStatus = "completed"
	// RefundStatusFailed indicates the gateway rejected the refund.
	RefundStatusFailed RefundStatus = "failed"
)

// PaymentRefund records one partial or full refund against a payment.
type PaymentRefund struct {
	ID          string
	PaymentID   string
	Amount      int64
	Reason      string
	Status      RefundStatus
	GatewayRef  string
	RequestedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentInstallment is one slice of an installment plan. Numbers start at 1
// and are unique per payment.
type PaymentInstallment struct {
	ID        string
	PaymentID string
	Number    int
	Amount    int64
	DueDate   time.Time
	PaidAt    *time.Time
	CreatedAt time.Time
}

// DeliveryStatus enumerates delivery workflow states.
type DeliveryStatus string

const (
	// DeliveryStatusAssigned indicates a driver was assigned.
	DeliveryStatusAssigned DeliveryStatus = "assigned"
	// DeliveryStatusPickedUp indicates the driver collected the package.
	DeliveryStatusPickedUp DeliveryStatus = "picked_up"
	// DeliveryStatusInTransit indicates the package is on its way.
	DeliveryStatusInTransit DeliveryStatus = "in_transit"
	// DeliveryStatusDelivered indicates the package reached the customer.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed indicates the delivery attempt failed.
	DeliveryStatusFailed DeliveryStatus = "failed"
	// DeliveryStatusReturned indicates the package went back to origin.
	DeliveryStatusReturned DeliveryStatus = "returned"
)

// GeoPoint is an optional GPS coordinate attached to delivery events.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Delivery tracks the physical fulfilment of one order. TrackingCode is the
// only identifier exposed publicly and must be unguessable. SignatureRef and
// PhotoRef are opaque references to proof-of-delivery artifacts captured when
// the package is handed over.
type Delivery struct {
	ID              string
	OrderID         string
	OrderNumber     string
	CustomerID      string
	DriverID        string
	Status          DeliveryStatus
	TrackingCode    string
	DestinationAddr Address
	EstimatedDate   *time.Time
	DeliveredAt     *time.Time
	SignatureRef    string
	PhotoRef        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeliveryStatusChange is one row of a delivery's status history.
type DeliveryStatusChange struct {
	ID         string
	DeliveryID string
	From       DeliveryStatus
	To         DeliveryStatus
	ActorID    string
	Location   string
	Position   *GeoPoint
	Note       string
	CreatedAt  time.Time
}

// DeliveryFeedback stores a customer rating for a completed delivery. One
// per delivery.
type DeliveryFeedback struct {
	ID           string
	DeliveryID   string
	CustomerID   string
	Rating       int
	DriverRating int
	Comment      string
	CreatedAt    time.Time
}

// TrackingView is the public projection of a delivery, safe to return
// without authentication.
type TrackingView struct {
	TrackingCode  string
	Status        DeliveryStatus
	City          string
	State         string
	EstimatedDate *time.Time
	DeliveredAt   *time.Time
	History       []TrackingEvent
}

// TrackingEvent is the public projection of one status change.
type TrackingEvent struct {
	Status    DeliveryStatus
	Location  string
	Note      string
	CreatedAt time.Time
}

// AuditLogEntry is a best-effort operational trace row.
type AuditLogEntry struct {
	ID        string
	ActorID   string
	ActorRole string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	CreatedAt time.Time
}

// Role enumerates the caller roles carried in auth tokens.
type Role string

const (
	// RoleCustomer is a shopper.
	RoleCustomer Role = "customer"
	// RoleAdmin is back-office staff.
	RoleAdmin Role = "admin"
	// RoleDriver is delivery personnel.
	RoleDriver Role = "driver"
)
