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

const auditIDPrefix = "aud_"

// ErrAuditInvalidInput signals an audit query with invalid parameters.
var ErrAuditInvalidInput = errors.New("audit: invalid input")

// AuditLogServiceDeps bundles collaborators required to construct the audit log service.
type AuditLogServiceDeps struct {
	Entries     repositories.AuditLogRepository
	Clock       Clock
	IDGenerator IDGenerator
	Logger      LogFunc
}

type auditLogService struct {
	entries repositories.AuditLogRepository
	clock   func() time.Time
	newID   func() string
	logger  LogFunc
}

// NewAuditLogService wires dependencies into a concrete AuditLogService implementation.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Entries == nil {
		return nil, errors.New("audit log service: repository is required")
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

	return &auditLogService{
		entries: deps.Entries,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record appends a trace row. Failures are logged and swallowed so the audit
// trail never breaks the operation being traced.
func (s *auditLogService) Record(ctx context.Context, entry AuditLogEntry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return nil
	}

	if entry.ID == "" {
		entry.ID = auditIDPrefix + s.newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock()
	}

	if err := s.entries.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append.failed", map[string]any{
			"action": entry.Action,
			"target": entry.TargetRef,
			"error":  err.Error(),
		})
	}
	return nil
}

// recordAudit appends a trace row when an audit sink is configured. The trail
// is best effort and never fails the traced operation.
func recordAudit(ctx context.Context, sink AuditLogService, actor Actor, action, targetRef string, metadata map[string]any) {
	if sink == nil {
		return
	}
	_ = sink.Record(ctx, AuditLogEntry{
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Action:    action,
		TargetRef: targetRef,
		Metadata:  metadata,
	})
}

func (s *auditLogService) List(ctx context.Context, query AuditLogQuery) (domain.CursorPage[AuditLogEntry], error) {
	if query.From != nil && query.To != nil && query.To.Before(*query.From) {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: time range is inverted", ErrAuditInvalidInput)
	}

	page, err := s.entries.List(ctx, repositories.AuditLogFilter{
		ActorID:   strings.TrimSpace(query.ActorID),
		Action:    strings.TrimSpace(query.Action),
		TargetRef: strings.TrimSpace(query.TargetRef),
		CreatedAt: domain.RangeQuery[time.Time]{
			From: query.From,
			To:   query.To,
		},
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, err
	}
	return page, nil
}
