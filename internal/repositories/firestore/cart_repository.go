package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
)

const cartsCollection = "carts"

type cartDocument struct {
	CustomerID string             `firestore:"customerId"`
	Items      []cartItemDocument `firestore:"items"`
	CouponCode string             `firestore:"couponCode,omitempty"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt.UTC(),
		}
	}
	return cartDocument{
		CustomerID: strings.TrimSpace(cart.CustomerID),
		Items:      items,
		CouponCode: strings.TrimSpace(cart.CouponCode),
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		}
	}
	return domain.Cart{
		ID:         id,
		CustomerID: d.CustomerID,
		Items:      items,
		CouponCode: d.CouponCode,
		UpdatedAt:  d.UpdatedAt,
	}
}

// CartRepository implements repositories.CartRepository. The document ID
// equals the customer ID, so every customer has at most one cart.
type CartRepository struct {
	carts *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		carts: pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil),
	}, nil
}

func (r *CartRepository) Get(ctx context.Context, customerID string) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	doc, err := r.carts.Get(ctx, customerID)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	customerID := strings.TrimSpace(cart.CustomerID)
	if customerID == "" {
		return domain.Cart{}, errors.New("cart save: customer id is required")
	}
	cart.ID = customerID
	if _, err := r.carts.Set(ctx, customerID, newCartDocument(cart)); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (r *CartRepository) Delete(ctx context.Context, customerID string) error {
	if r == nil || r.carts == nil {
		return errors.New("cart repository not initialised")
	}
	return r.carts.Delete(ctx, customerID)
}
