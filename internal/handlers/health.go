package handlers

import (
	"net/http"
	"time"

	"github.com/mercatto/api/internal/platform/httpx"
	"github.com/mercatto/api/internal/repositories"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	health  repositories.HealthRepository
	started time.Time
}

// NewHealthHandlers constructs health handlers. The repository is optional;
// without it Readyz behaves like Healthz.
func NewHealthHandlers(health repositories.HealthRepository) *HealthHandlers {
	return &HealthHandlers{
		health:  health,
		started: time.Now(),
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.started).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz probes backend dependencies before reporting ready.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.health != nil {
		if err := h.health.Check(ctx); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("not_ready", "dependency check failed", http.StatusServiceUnavailable))
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ready"})
}
