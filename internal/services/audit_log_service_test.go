package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/repositories"
)

type stubAuditRepo struct {
	appendFn func(context.Context, domain.AuditLogEntry) error
	listFn   func(context.Context, repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

func (s *stubAuditRepo) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, entry)
	}
	return nil
}

func (s *stubAuditRepo) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

// captureAuditSink collects trail entries recorded by other services.
type captureAuditSink struct {
	entries []AuditLogEntry
	err     error
}

func (c *captureAuditSink) Record(_ context.Context, entry AuditLogEntry) error {
	c.entries = append(c.entries, entry)
	return c.err
}

func (c *captureAuditSink) List(context.Context, AuditLogQuery) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, errors.New("not implemented")
}

func newAuditServiceForTest(t *testing.T, repo repositories.AuditLogRepository) AuditLogService {
	t.Helper()
	if repo == nil {
		repo = &stubAuditRepo{}
	}
	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Entries:     repo,
		Clock:       fixedOrderClock,
		IDGenerator: sequentialIDs("aid"),
	})
	if err != nil {
		t.Fatalf("NewAuditLogService returned error: %v", err)
	}
	return svc
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	var appended domain.AuditLogEntry
	repo := &stubAuditRepo{
		appendFn: func(_ context.Context, entry domain.AuditLogEntry) error {
			appended = entry
			return nil
		},
	}
	svc := newAuditServiceForTest(t, repo)

	err := svc.Record(context.Background(), AuditLogEntry{
		ActorID:   "adm-1",
		Action:    "order.cancel",
		TargetRef: "ord-1",
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if appended.ID == "" {
		t.Error("expected generated id")
	}
	if !appended.CreatedAt.Equal(fixedOrderClock()) {
		t.Errorf("unexpected timestamp %v", appended.CreatedAt)
	}
}

func TestRecordNeverFailsTheCaller(t *testing.T) {
	repo := &stubAuditRepo{
		appendFn: func(context.Context, domain.AuditLogEntry) error {
			return errors.New("backend down")
		},
	}
	svc := newAuditServiceForTest(t, repo)

	if err := svc.Record(context.Background(), AuditLogEntry{Action: "order.cancel"}); err != nil {
		t.Fatalf("expected append failure to be swallowed, got %v", err)
	}
}

func TestRecordSkipsEmptyAction(t *testing.T) {
	appends := 0
	repo := &stubAuditRepo{
		appendFn: func(context.Context, domain.AuditLogEntry) error {
			appends++
			return nil
		},
	}
	svc := newAuditServiceForTest(t, repo)

	if err := svc.Record(context.Background(), AuditLogEntry{ActorID: "adm-1"}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if appends != 0 {
		t.Errorf("expected no append for empty action, got %d", appends)
	}
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc := newAuditServiceForTest(t, nil)

	from := fixedOrderClock()
	to := from.Add(-time.Hour)
	_, err := svc.List(context.Background(), AuditLogQuery{From: &from, To: &to})
	if !errors.Is(err, ErrAuditInvalidInput) {
		t.Fatalf("expected ErrAuditInvalidInput, got %v", err)
	}
}

func TestListPassesFilter(t *testing.T) {
	var captured repositories.AuditLogFilter
	repo := &stubAuditRepo{
		listFn: func(_ context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
			captured = filter
			return domain.CursorPage[domain.AuditLogEntry]{}, nil
		},
	}
	svc := newAuditServiceForTest(t, repo)

	if _, err := svc.List(context.Background(), AuditLogQuery{
		ActorID:   "adm-1",
		Action:    "order.cancel",
		TargetRef: "ord-1",
	}); err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	if captured.ActorID != "adm-1" || captured.Action != "order.cancel" || captured.TargetRef != "ord-1" {
		t.Errorf("unexpected filter %#v", captured)
	}
}
