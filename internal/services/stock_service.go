package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid movement data.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockNotFound indicates the product has no catalog entry.
	ErrStockNotFound = errors.New("stock: not found")
)

// StockServiceDeps bundles collaborators required to construct the stock service.
type StockServiceDeps struct {
	Stock       repositories.StockRepository
	Products    repositories.ProductRepository
	Audit       AuditLogService
	Clock       Clock
	IDGenerator IDGenerator
	Logger      LogFunc
}

type stockService struct {
	stock    repositories.StockRepository
	products repositories.ProductRepository
	audit    AuditLogService
	clock    func() time.Time
	newID    func() string
	logger   LogFunc
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock service: stock repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
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

	return &stockService{
		stock:    deps.Stock,
		products: deps.Products,
		audit:    deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *stockService) RecordMovement(ctx context.Context, cmd RecordMovementCommand) (StockMovement, StockLevel, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockMovement{}, StockLevel{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return StockMovement{}, StockLevel{}, fmt.Errorf("%w: reason is required", ErrStockInvalidInput)
	}

	switch cmd.Type {
	case domain.MovementIn, domain.MovementOut:
		if cmd.Quantity <= 0 {
			return StockMovement{}, StockLevel{}, fmt.Errorf("%w: quantity must be positive for %s movements", ErrStockInvalidInput, cmd.Type)
		}
	case domain.MovementAdjustment:
		if cmd.Quantity == 0 {
			return StockMovement{}, StockLevel{}, fmt.Errorf("%w: adjustment quantity cannot be zero", ErrStockInvalidInput)
		}
	default:
		return StockMovement{}, StockLevel{}, fmt.Errorf("%w: unknown movement type %q", ErrStockInvalidInput, cmd.Type)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		if isNotFound(err) {
			return StockMovement{}, StockLevel{}, fmt.Errorf("%w: product %s", ErrStockNotFound, productID)
		}
		return StockMovement{}, StockLevel{}, s.mapRepositoryError(err)
	}

	movement := domain.StockMovement{
		ID:        movementIDPrefix + s.newID(),
		ProductID: productID,
		Quantity:  cmd.Quantity,
		Type:      cmd.Type,
		Reason:    strings.TrimSpace(cmd.Reason),
		ActorID:   cmd.Actor.ID,
		CreatedAt: s.clock(),
	}

	level, err := s.stock.Append(ctx, movement)
	if err != nil {
		return StockMovement{}, StockLevel{}, s.mapStockError(err)
	}

	s.logger(ctx, "stock.movement.recorded", map[string]any{
		"product":  productID,
		"type":     string(movement.Type),
		"quantity": movement.Quantity,
		"level":    level.Quantity,
	})

	recordAudit(ctx, s.audit, cmd.Actor, "stock.movement_recorded", "product:"+productID, map[string]any{
		"movement": movement.ID,
		"type":     string(movement.Type),
		"quantity": movement.Quantity,
	})

	return movement, level, nil
}

func (s *stockService) CurrentStock(ctx context.Context, productID string) (StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}

	level, err := s.stock.Level(ctx, productID)
	if err != nil {
		// Products never moved report a zero level rather than an error.
		if isNotFound(err) {
			return domain.StockLevel{ProductID: productID}, nil
		}
		return StockLevel{}, s.mapRepositoryError(err)
	}
	return level, nil
}

func (s *stockService) CurrentStocks(ctx context.Context, productIDs []string) (map[string]StockLevel, error) {
	if len(productIDs) == 0 {
		return map[string]StockLevel{}, nil
	}

	levels, err := s.stock.Levels(ctx, productIDs)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	for _, id := range productIDs {
		if _, ok := levels[id]; !ok {
			levels[id] = domain.StockLevel{ProductID: id}
		}
	}
	return levels, nil
}

func (s *stockService) ListMovements(ctx context.Context, query StockMovementQuery) (domain.CursorPage[StockMovement], error) {
	page, err := s.stock.ListMovements(ctx, repositories.StockMovementFilter{
		ProductID:  strings.TrimSpace(query.ProductID),
		Type:       query.Type,
		CreatedAt:  domain.RangeQuery[time.Time]{From: query.From, To: query.To},
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[StockMovement]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *stockService) mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Code == repositories.StockErrorInvalidMovement {
			return fmt.Errorf("%w: %v", ErrStockInvalidInput, err)
		}
	}

	return s.mapRepositoryError(err)
}

func (s *stockService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrStockNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("stock: repository unavailable: %w", err)
		}
	}

	return err
}
