package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
	"github.com/mercatto/api/internal/repositories"
)

const auditLogsCollection = "auditLogs"

type auditLogDocument struct {
	ActorID   string         `firestore:"actorId"`
	ActorRole string         `firestore:"actorRole,omitempty"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func newAuditLogDocument(entry domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		ActorID:   strings.TrimSpace(entry.ActorID),
		ActorRole: strings.TrimSpace(entry.ActorRole),
		Action:    strings.TrimSpace(entry.Action),
		TargetRef: strings.TrimSpace(entry.TargetRef),
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        id,
		ActorID:   d.ActorID,
		ActorRole: d.ActorRole,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Metadata:  d.Metadata,
		Diff:      d.Diff,
		CreatedAt: d.CreatedAt,
	}
}

// AuditLogRepository implements repositories.AuditLogRepository. Entries are
// append-only.
type AuditLogRepository struct {
	entries *pfirestore.BaseRepository[auditLogDocument]
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		entries: pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection, nil),
	}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.entries == nil {
		return errors.New("audit log repository not initialised")
	}
	_, err := r.entries.Create(ctx, entry.ID, newAuditLogDocument(entry))
	return err
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.entries == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)
	token, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
	}

	docs, err := r.entries.Query(ctx, func(query firestore.Query) firestore.Query {
		if actorID := strings.TrimSpace(filter.ActorID); actorID != "" {
			query = query.Where("actorId", "==", actorID)
		}
		if action := strings.TrimSpace(filter.Action); action != "" {
			query = query.Where("action", "==", action)
		}
		if targetRef := strings.TrimSpace(filter.TargetRef); targetRef != "" {
			query = query.Where("targetRef", "==", targetRef)
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
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	entries := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return paginate(entries, pageSize, func(e domain.AuditLogEntry) pageToken {
		return pageToken{CreatedAt: e.CreatedAt, ID: e.ID}
	})
}
