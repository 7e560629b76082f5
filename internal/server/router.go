package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortify-systems/sentinel/internal/auth"
	"github.com/shortify-systems/sentinel/internal/middleware"
)

// NewRouter constructs a ServeMux with the sentinel API routes
// registered. Reads require a bearer token when auth is enabled; the
// ingestion endpoint and health probes are always open so edge proxies
// and load balancers need no credentials.
func NewRouter(h *Handler, v *auth.Validator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/events", h.IngestEvent)

	protected := func(fn http.HandlerFunc) http.Handler {
		return v.RequireAuth(fn)
	}
	mux.Handle("GET /api/v1/identities/{identity}/tracking", protected(h.GetTracking))
	mux.Handle("GET /api/v1/identities/{identity}/reputation", protected(h.GetReputation))
	mux.Handle("GET /api/v1/alerts", protected(h.ListAlerts))
	mux.Handle("GET /api/v1/alerts/{id}", protected(h.GetAlert))
	mux.Handle("GET /api/v1/runs", protected(h.ListRuns))
	mux.Handle("GET /api/v1/runs/{id}", protected(h.GetRun))

	return middleware.RequestID(mux)
}
