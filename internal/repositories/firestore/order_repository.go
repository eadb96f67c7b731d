package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
	"github.com/mercatto/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderHistoryCollection = "history"
)

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	CustomerID      string              `firestore:"customerId"`
	Status          string              `firestore:"status"`
	Items           []orderItemDocument `firestore:"items"`
	Subtotal        int64               `firestore:"subtotal"`
	ShippingCost    int64               `firestore:"shippingCost"`
	TaxAmount       int64               `firestore:"taxAmount"`
	DiscountAmount  int64               `firestore:"discountAmount"`
	Total           int64               `firestore:"total"`
	CouponCode      string              `firestore:"couponCode,omitempty"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	Notes           string              `firestore:"notes,omitempty"`
	ConfirmedAt     *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	SKU         string `firestore:"sku,omitempty"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Subtotal    int64  `firestore:"subtotal"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Name:       strings.TrimSpace(addr.Name),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Name:       d.Name,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			SKU:         strings.TrimSpace(item.SKU),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}
	}
	return orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		CustomerID:      strings.TrimSpace(order.CustomerID),
		Status:          string(order.Status),
		Items:           items,
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		TaxAmount:       order.TaxAmount,
		DiscountAmount:  order.DiscountAmount,
		Total:           order.Total,
		CouponCode:      strings.TrimSpace(order.CouponCode),
		PaymentMethod:   string(order.PaymentMethod),
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		Notes:           strings.TrimSpace(order.Notes),
		ConfirmedAt:     order.ConfirmedAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		CustomerID:      d.CustomerID,
		Status:          domain.OrderStatus(d.Status),
		Items:           items,
		Subtotal:        d.Subtotal,
		ShippingCost:    d.ShippingCost,
		TaxAmount:       d.TaxAmount,
		DiscountAmount:  d.DiscountAmount,
		Total:           d.Total,
		CouponCode:      d.CouponCode,
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		ShippingAddress: d.ShippingAddress.toDomain(),
		Notes:           d.Notes,
		ConfirmedAt:     d.ConfirmedAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type orderHistoryDocument struct {
	OrderID   string    `firestore:"orderId"`
	From      string    `firestore:"from,omitempty"`
	To        string    `firestore:"to"`
	ActorID   string    `firestore:"actorId,omitempty"`
	Note      string    `firestore:"note,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderHistoryDocument(change domain.OrderStatusChange) orderHistoryDocument {
	return orderHistoryDocument{
		OrderID:   strings.TrimSpace(change.OrderID),
		From:      string(change.From),
		To:        string(change.To),
		ActorID:   strings.TrimSpace(change.ActorID),
		Note:      strings.TrimSpace(change.Note),
		CreatedAt: change.CreatedAt.UTC(),
	}
}

func (d orderHistoryDocument) toDomain(id string) domain.OrderStatusChange {
	return domain.OrderStatusChange{
		ID:        id,
		OrderID:   d.OrderID,
		From:      domain.OrderStatus(d.From),
		To:        domain.OrderStatus(d.To),
		ActorID:   d.ActorID,
		Note:      d.Note,
		CreatedAt: d.CreatedAt,
	}
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Status history lives in a subcollection under each order document.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// stockWrite is a staged aggregate update, collected during the read phase of
// a transaction and flushed once all reads are done.
type stockWrite struct {
	ref *firestore.DocumentRef
	doc stockLevelDocument
}

// CreateCheckout persists the order, debits stock, redeems the coupon and
// clears the cart in one transaction. Any failed precondition rolls the whole
// write back and surfaces a typed CheckoutError.
func (r *OrderRepository) CreateCheckout(ctx context.Context, write repositories.CheckoutWrite) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := write.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("checkout: order id is required")
	}

	now := write.Now.UTC()
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads first: Firestore transactions forbid reads after writes.
		stockWrites := make([]stockWrite, 0, len(write.Movements))
		for _, movement := range write.Movements {
			levelRef := client.Collection(stockLevelsCollection).Doc(movement.ProductID)
			var levelDoc stockLevelDocument
			snap, err := tx.Get(levelRef)
			if err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
			} else if err := snap.DataTo(&levelDoc); err != nil {
				return fmt.Errorf("decode stock level %s: %w", movement.ProductID, err)
			}

			next := levelDoc.Quantity + movement.Delta()
			if next < 0 {
				return repositories.NewCheckoutInsufficientStock(movement.ProductID, movement.Quantity, levelDoc.Quantity)
			}
			levelDoc.Quantity = next
			levelDoc.UpdatedAt = now
			stockWrites = append(stockWrites, stockWrite{ref: levelRef, doc: levelDoc})
		}

		var couponRef *firestore.DocumentRef
		var couponDoc couponDocument
		if write.Redemption != nil {
			couponRef = client.Collection(couponsCollection).Doc(write.Redemption.CouponID)
			snap, err := tx.Get(couponRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted,
						fmt.Sprintf("coupon %s no longer exists", write.Redemption.CouponID), err)
				}
				return err
			}
			if err := snap.DataTo(&couponDoc); err != nil {
				return fmt.Errorf("decode coupon %s: %w", write.Redemption.CouponID, err)
			}
			if couponDoc.UsageLimit != nil && couponDoc.UsedCount >= *couponDoc.UsageLimit {
				return repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted,
					fmt.Sprintf("coupon %s usage limit reached", couponDoc.Code), nil)
			}
			couponDoc.UsedCount++
			couponDoc.UpdatedAt = now
		}

		for _, sw := range stockWrites {
			if err := tx.Set(sw.ref, sw.doc); err != nil {
				return err
			}
		}
		for _, movement := range write.Movements {
			movementRef := client.Collection(stockMovementsCollection).Doc(movement.ID)
			if err := tx.Create(movementRef, newStockMovementDocument(movement)); err != nil {
				return err
			}
		}

		if write.Redemption != nil {
			if err := tx.Set(couponRef, couponDoc); err != nil {
				return err
			}
			usageRef := client.Collection(couponUsagesCollection).Doc(write.Redemption.ID)
			if err := tx.Create(usageRef, newCouponUsageDocument(*write.Redemption)); err != nil {
				if status.Code(err) == codes.AlreadyExists {
					return repositories.NewCheckoutError(repositories.CheckoutErrorCouponRedeemed,
						fmt.Sprintf("coupon %s already redeemed for order %s", write.Redemption.Code, write.Redemption.OrderID), err)
				}
				return err
			}
		}

		orderRef := client.Collection(ordersCollection).Doc(order.ID)
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}

		historyRef := orderRef.Collection(orderHistoryCollection).NewDoc()
		if err := tx.Create(historyRef, newOrderHistoryDocument(domain.OrderStatusChange{
			OrderID:   order.ID,
			To:        order.Status,
			ActorID:   order.CustomerID,
			CreatedAt: now,
		})); err != nil {
			return err
		}

		if customerID := strings.TrimSpace(write.ClearCart); customerID != "" {
			cartRef := client.Collection(cartsCollection).Doc(customerID)
			if err := tx.Delete(cartRef); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var checkoutErr *repositories.CheckoutError
		if errors.As(err, &checkoutErr) {
			return domain.Order{}, checkoutErr
		}
		return domain.Order{}, pfirestore.WrapError("orders.createCheckout", err)
	}
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)
	token, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			query = query.Where("customerId", "==", customerID)
		}
		if filter.Status != "" {
			query = query.Where("status", "==", string(filter.Status))
		}
		if filter.CreatedAt.From != nil {
			query = query.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
		}
		if filter.CreatedAt.To != nil {
			query = query.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(pageSize + 1)
		if token != nil {
			query = query.StartAfter(token.CreatedAt, token.ID)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return paginate(orders, pageSize, func(o domain.Order) pageToken {
		return pageToken{CreatedAt: o.CreatedAt, ID: o.ID}
	})
}

func (r *OrderRepository) CountByCustomerAndStatus(ctx context.Context, customerID string, statuses []domain.OrderStatus) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(ordersCollection).
		Where("customerId", "==", strings.TrimSpace(customerID))
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		query = query.Where("status", "in", values)
	}

	result, err := query.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.countByCustomerAndStatus", err)
	}
	return aggregationCount(result, "count")
}

// UpdateStatus applies one transition with its history row. The write fails
// with a conflict when the stored status no longer matches ExpectedFrom.
// Restock movements commit atomically with the status change so a cancelled
// order can never leave the ledger partially compensated.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(update.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order update status: order id is required")
	}

	now := update.Now.UTC()
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef := client.Collection(ordersCollection).Doc(orderID)
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.Status != string(update.ExpectedFrom) {
			return pfirestore.WrapError("orders.updateStatus",
				status.Errorf(codes.FailedPrecondition, "order %s is %s, expected %s", orderID, doc.Status, update.ExpectedFrom))
		}

		// All reads happen before the first write.
		stockWrites := make([]stockWrite, 0, len(update.Restock))
		for _, movement := range update.Restock {
			levelRef := client.Collection(stockLevelsCollection).Doc(movement.ProductID)
			var levelDoc stockLevelDocument
			levelSnap, err := tx.Get(levelRef)
			if err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
			} else if err := levelSnap.DataTo(&levelDoc); err != nil {
				return fmt.Errorf("decode stock level %s: %w", movement.ProductID, err)
			}
			levelDoc.Quantity += movement.Delta()
			levelDoc.UpdatedAt = now
			stockWrites = append(stockWrites, stockWrite{ref: levelRef, doc: levelDoc})
		}

		doc.Status = string(update.To)
		doc.UpdatedAt = now
		if update.Stamps.ConfirmedAt != nil {
			doc.ConfirmedAt = update.Stamps.ConfirmedAt
		}
		if update.Stamps.ShippedAt != nil {
			doc.ShippedAt = update.Stamps.ShippedAt
		}
		if update.Stamps.DeliveredAt != nil {
			doc.DeliveredAt = update.Stamps.DeliveredAt
		}
		if update.Stamps.CancelledAt != nil {
			doc.CancelledAt = update.Stamps.CancelledAt
		}

		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		historyRef := orderRef.Collection(orderHistoryCollection).NewDoc()
		if err := tx.Create(historyRef, newOrderHistoryDocument(update.Change)); err != nil {
			return err
		}

		for _, sw := range stockWrites {
			if err := tx.Set(sw.ref, sw.doc); err != nil {
				return err
			}
		}
		for _, movement := range update.Restock {
			movementRef := client.Collection(stockMovementsCollection).Doc(movement.ID)
			if err := tx.Create(movementRef, newStockMovementDocument(movement)); err != nil {
				return err
			}
		}

		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updateStatus", err)
	}
	return updated, nil
}

func (r *OrderRepository) ListStatusHistory(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderStatusChange], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.OrderStatusChange]{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.OrderStatusChange]{}, errors.New("order history: order id is required")
	}

	pageSize := clampPageSize(pager.PageSize)
	token, err := decodePageToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderStatusChange]{}, pfirestore.WrapError("orders.listHistory", err)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.OrderStatusChange]{}, err
	}

	query := client.Collection(ordersCollection).Doc(orderID).Collection(orderHistoryCollection).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)
	if token != nil {
		query = query.StartAfter(token.CreatedAt, token.ID)
	}

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.OrderStatusChange]{}, pfirestore.WrapError("orders.listHistory", err)
	}

	changes := make([]domain.OrderStatusChange, 0, len(snaps))
	for _, snap := range snaps {
		var doc orderHistoryDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.OrderStatusChange]{}, fmt.Errorf("decode order history %s: %w", snap.Ref.ID, err)
		}
		changes = append(changes, doc.toDomain(snap.Ref.ID))
	}

	return paginate(changes, pageSize, func(c domain.OrderStatusChange) pageToken {
		return pageToken{CreatedAt: c.CreatedAt, ID: c.ID}
	})
}
