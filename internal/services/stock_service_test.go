package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/mercatto/api/internal/domain"
)

func newStockServiceForTest(t *testing.T, deps StockServiceDeps) StockService {
	t.Helper()
	if deps.Stock == nil {
		deps.Stock = &stubStockRepo{}
	}
	if deps.Products == nil {
		deps.Products = &stubProductRepo{
			findFn: func(_ context.Context, productID string) (domain.Product, error) {
				return domain.Product{ID: productID, Active: true}, nil
			},
		}
	}
	if deps.Clock == nil {
		deps.Clock = fixedOrderClock
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("mov")
	}
	svc, err := NewStockService(deps)
	if err != nil {
		t.Fatalf("NewStockService returned error: %v", err)
	}
	return svc
}

func TestRecordMovementAppendsLedgerRow(t *testing.T) {
	var appended domain.StockMovement
	svc := newStockServiceForTest(t, StockServiceDeps{
		Stock: &stubStockRepo{
			appendFn: func(_ context.Context, movement domain.StockMovement) (domain.StockLevel, error) {
				appended = movement
				return domain.StockLevel{ProductID: movement.ProductID, Quantity: 30}, nil
			},
		},
	})

	movement, level, err := svc.RecordMovement(context.Background(), RecordMovementCommand{
		ProductID: "prod-1",
		Quantity:  10,
		Type:      domain.MovementIn,
		Reason:    "supplier delivery",
		Actor:     Actor{ID: "adm-1", Role: domain.RoleAdmin},
	})
	if err != nil {
		t.Fatalf("RecordMovement returned error: %v", err)
	}

	if movement.ID == "" || movement.CreatedAt != fixedOrderClock() {
		t.Errorf("unexpected movement %#v", movement)
	}
	if appended.Reason != "supplier delivery" || appended.ActorID != "adm-1" {
		t.Errorf("unexpected appended row %#v", appended)
	}
	if level.Quantity != 30 {
		t.Errorf("unexpected level %d", level.Quantity)
	}
}

func TestRecordMovementValidation(t *testing.T) {
	svc := newStockServiceForTest(t, StockServiceDeps{})

	cases := []struct {
		name string
		cmd  RecordMovementCommand
	}{
		{name: "missing product", cmd: RecordMovementCommand{Quantity: 1, Type: domain.MovementIn, Reason: "x"}},
		{name: "missing reason", cmd: RecordMovementCommand{ProductID: "prod-1", Quantity: 1, Type: domain.MovementIn}},
		{name: "negative in", cmd: RecordMovementCommand{ProductID: "prod-1", Quantity: -1, Type: domain.MovementIn, Reason: "x"}},
		{name: "zero out", cmd: RecordMovementCommand{ProductID: "prod-1", Quantity: 0, Type: domain.MovementOut, Reason: "x"}},
		{name: "zero adjustment", cmd: RecordMovementCommand{ProductID: "prod-1", Quantity: 0, Type: domain.MovementAdjustment, Reason: "x"}},
		{name: "unknown type", cmd: RecordMovementCommand{ProductID: "prod-1", Quantity: 1, Type: "transfer", Reason: "x"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.RecordMovement(context.Background(), tc.cmd); !errors.Is(err, ErrStockInvalidInput) {
				t.Fatalf("expected ErrStockInvalidInput, got %v", err)
			}
		})
	}
}

func TestRecordMovementNegativeAdjustmentAllowed(t *testing.T) {
	svc := newStockServiceForTest(t, StockServiceDeps{
		Stock: &stubStockRepo{
			appendFn: func(_ context.Context, movement domain.StockMovement) (domain.StockLevel, error) {
				if movement.Quantity != -3 {
					t.Fatalf("expected negative adjustment to pass through, got %d", movement.Quantity)
				}
				return domain.StockLevel{ProductID: movement.ProductID, Quantity: 7}, nil
			},
		},
	})

	_, level, err := svc.RecordMovement(context.Background(), RecordMovementCommand{
		ProductID: "prod-1",
		Quantity:  -3,
		Type:      domain.MovementAdjustment,
		Reason:    "inventory recount",
	})
	if err != nil {
		t.Fatalf("RecordMovement returned error: %v", err)
	}
	if level.Quantity != 7 {
		t.Errorf("unexpected level %d", level.Quantity)
	}
}

func TestRecordMovementUnknownProduct(t *testing.T) {
	svc := newStockServiceForTest(t, StockServiceDeps{
		Products: &stubProductRepo{
			findFn: func(context.Context, string) (domain.Product, error) {
				return domain.Product{}, notFoundErr("missing")
			},
		},
	})

	_, _, err := svc.RecordMovement(context.Background(), RecordMovementCommand{
		ProductID: "ghost",
		Quantity:  1,
		Type:      domain.MovementIn,
		Reason:    "x",
	})
	if !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("expected ErrStockNotFound, got %v", err)
	}
}

func TestRecordMovementRecordsAuditTrail(t *testing.T) {
	sink := &captureAuditSink{}
	svc := newStockServiceForTest(t, StockServiceDeps{Audit: sink})

	if _, _, err := svc.RecordMovement(context.Background(), RecordMovementCommand{
		ProductID: "prod-1",
		Quantity:  10,
		Type:      domain.MovementIn,
		Reason:    "supplier delivery",
		Actor:     Actor{ID: "adm-1", Role: domain.RoleAdmin},
	}); err != nil {
		t.Fatalf("RecordMovement returned error: %v", err)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 trail entry, got %d", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.Action != "stock.movement_recorded" || entry.TargetRef != "product:prod-1" {
		t.Errorf("unexpected trail entry %#v", entry)
	}
}

func TestRecordMovementAllowsNegativeLevel(t *testing.T) {
	// The ledger never rejects a movement for driving the level below zero;
	// only checkout enforces availability.
	svc := newStockServiceForTest(t, StockServiceDeps{
		Stock: &stubStockRepo{
			appendFn: func(_ context.Context, movement domain.StockMovement) (domain.StockLevel, error) {
				if movement.Type != domain.MovementOut || movement.Quantity != 99 {
					t.Fatalf("unexpected movement %#v", movement)
				}
				return domain.StockLevel{ProductID: movement.ProductID, Quantity: -94}, nil
			},
		},
	})

	movement, level, err := svc.RecordMovement(context.Background(), RecordMovementCommand{
		ProductID: "prod-1",
		Quantity:  99,
		Type:      domain.MovementOut,
		Reason:    "shrinkage",
	})
	if err != nil {
		t.Fatalf("RecordMovement returned error: %v", err)
	}
	if movement.ProductID != "prod-1" {
		t.Errorf("unexpected movement %#v", movement)
	}
	if level.Quantity != -94 {
		t.Errorf("expected negative level to be reported, got %d", level.Quantity)
	}
}

func TestCurrentStockDefaultsToZero(t *testing.T) {
	svc := newStockServiceForTest(t, StockServiceDeps{
		Stock: &stubStockRepo{
			levelFn: func(context.Context, string) (domain.StockLevel, error) {
				return domain.StockLevel{}, notFoundErr("no level")
			},
		},
	})

	level, err := svc.CurrentStock(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("CurrentStock returned error: %v", err)
	}
	if level.ProductID != "prod-1" || level.Quantity != 0 {
		t.Errorf("expected zero level, got %#v", level)
	}
}

func TestCurrentStocksFillsMissingProducts(t *testing.T) {
	svc := newStockServiceForTest(t, StockServiceDeps{
		Stock: &stubStockRepo{
			levelsFn: func(context.Context, []string) (map[string]domain.StockLevel, error) {
				return map[string]domain.StockLevel{
					"prod-1": {ProductID: "prod-1", Quantity: 12},
				}, nil
			},
		},
	})

	levels, err := svc.CurrentStocks(context.Background(), []string{"prod-1", "prod-2"})
	if err != nil {
		t.Fatalf("CurrentStocks returned error: %v", err)
	}
	if levels["prod-1"].Quantity != 12 {
		t.Errorf("unexpected level for prod-1: %#v", levels["prod-1"])
	}
	if levels["prod-2"].Quantity != 0 {
		t.Errorf("expected zero level for prod-2, got %#v", levels["prod-2"])
	}
}
