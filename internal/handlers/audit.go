package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mercatto/api/internal/domain"
	"github.com/mercatto/api/internal/platform/auth"
	"github.com/mercatto/api/internal/platform/httpx"
	"github.com/mercatto/api/internal/services"
)

// AuditHandlers exposes the audit trail to back-office staff.
type AuditHandlers struct {
	authn *auth.Authenticator
	audit services.AuditLogService
}

// NewAuditHandlers constructs the admin audit handlers.
func NewAuditHandlers(authn *auth.Authenticator, audit services.AuditLogService) *AuditHandlers {
	return &AuditHandlers{
		authn: authn,
		audit: audit,
	}
}

// Routes wires the audit endpoints onto the provided router.
func (h *AuditHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Get("/audit-logs", h.listEntries)
}

func (h *AuditHandlers) listEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_unavailable", "audit service is unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	from, err := parseTimeParam(r, "from")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.audit.List(ctx, services.AuditLogQuery{
		ActorID:    strings.TrimSpace(r.URL.Query().Get("actor_id")),
		Action:     strings.TrimSpace(r.URL.Query().Get("action")),
		TargetRef:  strings.TrimSpace(r.URL.Query().Get("target_ref")),
		From:       from,
		To:         to,
		Pagination: pager,
	})
	if err != nil {
		writeAuditError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListResponse(page, buildAuditEntryPayload))
}

func writeAuditError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrAuditInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("audit_error", "audit query failed", http.StatusInternalServerError))
	}
}

type auditEntryPayload struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	ActorRole string         `json:"actor_role,omitempty"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

func buildAuditEntryPayload(entry domain.AuditLogEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:        entry.ID,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}
