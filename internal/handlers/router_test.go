package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterHealthEndpoints(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected readyz 200, got %d", rr.Code)
	}
}

func TestRouterNotImplementedFallbacks(t *testing.T) {
	router := NewRouter()

	paths := []string{
		"/api/v1/cart",
		"/api/v1/orders",
		"/api/v1/payments",
		"/api/v1/deliveries",
		"/api/v1/admin/products",
		"/api/v1/departments",
		"/api/v1/tracking/abc123",
	}
	for _, path := range paths {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected 501 for %s, got %d", path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "not_implemented") {
			t.Fatalf("expected not_implemented code for %s, got %s", path, rr.Body.String())
		}
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "route_not_found") {
		t.Fatalf("expected route_not_found code, got %s", rr.Body.String())
	}
}

func TestRouterRegistrarsTakePrecedence(t *testing.T) {
	router := NewRouter(
		WithCartRoutes(func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			})
		}),
		WithCatalogRoutes(func(r chi.Router) {
			r.Get("/departments", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			})
		}),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected cart registrar to serve, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/departments", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected catalog registrar to serve, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected orders fallback 501, got %d", rr.Code)
	}
}

func TestRouterWebhookMiddlewares(t *testing.T) {
	var seen bool
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/payments", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}),
		WithWebhookMiddlewares(mw),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !seen {
		t.Fatalf("expected webhook middleware to run")
	}

	seen = false
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rr.Code)
	}
	if seen {
		t.Fatalf("webhook middleware must not apply outside the webhook group")
	}
}
