package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
	"github.com/mercatto/api/internal/repositories"
)

const (
	stockMovementsCollection = "stockMovements"
	stockLevelsCollection    = "stockLevels"
)

type stockMovementDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int64     `firestore:"quantity"`
	Type      string    `firestore:"type"`
	Reason    string    `firestore:"reason"`
	ActorID   string    `firestore:"actorId,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newStockMovementDocument(movement domain.StockMovement) stockMovementDocument {
	return stockMovementDocument{
		ProductID: strings.TrimSpace(movement.ProductID),
		Quantity:  movement.Quantity,
		Type:      string(movement.Type),
		Reason:    strings.TrimSpace(movement.Reason),
		ActorID:   strings.TrimSpace(movement.ActorID),
		CreatedAt: movement.CreatedAt.UTC(),
	}
}

func (d stockMovementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:        id,
		ProductID: d.ProductID,
		Quantity:  d.Quantity,
		Type:      domain.MovementType(d.Type),
		Reason:    d.Reason,
		ActorID:   d.ActorID,
		CreatedAt: d.CreatedAt,
	}
}

type stockLevelDocument struct {
	Quantity  int64     `firestore:"quantity"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d stockLevelDocument) toDomain(productID string) domain.StockLevel {
	return domain.StockLevel{
		ProductID: productID,
		Quantity:  d.Quantity,
		UpdatedAt: d.UpdatedAt,
	}
}

// StockRepository implements repositories.StockRepository. The movement ledger
// and the per-product aggregate are written in one transaction so the
// aggregate always equals the ledger sum.
type StockRepository struct {
	provider  *pfirestore.Provider
	movements *pfirestore.BaseRepository[stockMovementDocument]
	levels    *pfirestore.BaseRepository[stockLevelDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:  provider,
		movements: pfirestore.NewBaseRepository[stockMovementDocument](provider, stockMovementsCollection, nil),
		levels:    pfirestore.NewBaseRepository[stockLevelDocument](provider, stockLevelsCollection, nil),
	}, nil
}

// Append writes the movement row and applies its delta to the aggregate. The
// ledger accepts movements that leave the level negative; availability is
// enforced by the checkout transaction, not here.
func (r *StockRepository) Append(ctx context.Context, movement domain.StockMovement) (domain.StockLevel, error) {
	if r == nil || r.provider == nil {
		return domain.StockLevel{}, errors.New("stock repository not initialised")
	}
	productID := strings.TrimSpace(movement.ProductID)
	if productID == "" {
		return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorInvalidMovement, "stock append: product id is required", nil)
	}
	if movement.ID == "" {
		return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorInvalidMovement, "stock append: movement id is required", nil)
	}

	var level domain.StockLevel
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		levelRef, err := r.levels.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}

		var levelDoc stockLevelDocument
		snap, err := tx.Get(levelRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
		} else if err := snap.DataTo(&levelDoc); err != nil {
			return fmt.Errorf("decode stock level %s: %w", productID, err)
		}

		movementRef, err := r.movements.DocumentRef(ctx, movement.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(movementRef, newStockMovementDocument(movement)); err != nil {
			return err
		}

		levelDoc.Quantity += movement.Delta()
		levelDoc.UpdatedAt = movement.CreatedAt.UTC()
		if err := tx.Set(levelRef, levelDoc); err != nil {
			return err
		}

		level = levelDoc.toDomain(productID)
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return domain.StockLevel{}, stockErr
		}
		return domain.StockLevel{}, pfirestore.WrapError("stock.append", err)
	}
	return level, nil
}

func (r *StockRepository) Level(ctx context.Context, productID string) (domain.StockLevel, error) {
	if r == nil || r.levels == nil {
		return domain.StockLevel{}, errors.New("stock repository not initialised")
	}
	doc, err := r.levels.Get(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *StockRepository) Levels(ctx context.Context, productIDs []string) (map[string]domain.StockLevel, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("stock repository not initialised")
	}

	levels := make(map[string]domain.StockLevel, len(productIDs))
	if len(productIDs) == 0 {
		return levels, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			refs = append(refs, client.Collection(stockLevelsCollection).Doc(trimmed))
		}
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("stock.levels", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc stockLevelDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode stock level %s: %w", snap.Ref.ID, err)
		}
		levels[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return levels, nil
}

func (r *StockRepository) ListMovements(ctx context.Context, filter repositories.StockMovementFilter) (domain.CursorPage[domain.StockMovement], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.StockMovement]{}, errors.New("stock repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)
	token, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, pfirestore.WrapError("stock.listMovements", err)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}

	query := client.Collection(stockMovementsCollection).Query
	if productID := strings.TrimSpace(filter.ProductID); productID != "" {
		query = query.Where("productId", "==", productID)
	}
	if filter.Type != "" {
		query = query.Where("type", "==", string(filter.Type))
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

	iter := query.Documents(ctx)
	defer iter.Stop()

	var movements []domain.StockMovement
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, pfirestore.WrapError("stock.listMovements", err)
		}
		var doc stockMovementDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockMovement]{}, fmt.Errorf("decode stock movement %s: %w", snap.Ref.ID, err)
		}
		movements = append(movements, doc.toDomain(snap.Ref.ID))
	}

	return paginate(movements, pageSize, func(m domain.StockMovement) pageToken {
		return pageToken{CreatedAt: m.CreatedAt, ID: m.ID}
	})
}
