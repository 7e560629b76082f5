package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shortify-systems/sentinel/internal/httputil"
	"github.com/shortify-systems/sentinel/internal/metrics"
	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/pipeline"
	"github.com/shortify-systems/sentinel/internal/repository"
	"github.com/shortify-systems/sentinel/internal/reputation"
	"github.com/shortify-systems/sentinel/internal/tracking"
)

// Handler serves the sentinel HTTP API.
type Handler struct {
	pipeline   *pipeline.Pipeline
	store      *tracking.Store
	reputation *reputation.Cache
	repo       repository.Repository
	logger     *slog.Logger
}

// NewHandler creates an API handler. repo may be nil when persistence is
// disabled; the list endpoints then return 503.
func NewHandler(
	p *pipeline.Pipeline,
	store *tracking.Store,
	rep *reputation.Cache,
	repo repository.Repository,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		pipeline:   p,
		store:      store,
		reputation: rep,
		repo:       repo,
		logger:     logger,
	}
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready reports whether the persistence backends are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// IngestEvent handles POST /api/v1/events. Accepted events return the
// scoring outcome; events rejected by validation return 400.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.RequestEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Identity == "" {
		ev.Identity = httputil.GetClientIP(r)
	}

	metrics.EventsTotal.WithLabelValues("http", ev.Status).Inc()

	result, err := h.pipeline.Process(r.Context(), &ev)
	if err != nil {
		if errors.Is(err, models.ErrMissingIdentity) || errors.Is(err, models.ErrMissingStatus) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("event ingestion failed", "identity", ev.Identity, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, result)
}

// trackingResponse pairs both window records for one identity.
type trackingResponse struct {
	Identity    string           `json:"identity"`
	ShortWindow *tracking.Record `json:"short_window,omitempty"`
	LongWindow  *tracking.Record `json:"long_window,omitempty"`
}

// GetTracking handles GET /api/v1/identities/{identity}/tracking.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if identity == "" {
		httputil.WriteError(w, http.StatusBadRequest, "identity is required")
		return
	}

	resp := trackingResponse{Identity: identity}
	short, err := h.store.Get(r.Context(), identity, tracking.ShortWindow)
	if err != nil && !errors.Is(err, tracking.ErrNotFound) {
		h.logger.Error("tracking read failed", "identity", identity, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "tracking read failed")
		return
	}
	resp.ShortWindow = short

	long, err := h.store.Get(r.Context(), identity, tracking.LongWindow)
	if err != nil && !errors.Is(err, tracking.ErrNotFound) {
		h.logger.Error("tracking read failed", "identity", identity, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "tracking read failed")
		return
	}
	resp.LongWindow = long

	if resp.ShortWindow == nil && resp.LongWindow == nil {
		httputil.WriteError(w, http.StatusNotFound, "no tracking state for identity")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// GetReputation handles GET /api/v1/identities/{identity}/reputation.
func (h *Handler) GetReputation(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if identity == "" {
		httputil.WriteError(w, http.StatusBadRequest, "identity is required")
		return
	}

	entry, err := h.reputation.Lookup(r.Context(), identity)
	if err != nil {
		h.logger.Error("reputation lookup failed", "identity", identity, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "reputation lookup failed")
		return
	}

	// Surface cache-vs-lookup without persisting it.
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entry":  entry,
		"source": entry.Source,
	})
}

// ListAlerts handles GET /api/v1/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	p := httputil.ParsePagination(r, 50, 500)
	alerts, total, err := h.repo.ListAlerts(r.Context(), p.Limit, p.Offset())
	if err != nil {
		h.logger.Error("alert listing failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "alert listing failed")
		return
	}
	p.Total = total
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":     alerts,
		"pagination": p,
	})
}

// GetAlert handles GET /api/v1/alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	alert, err := h.repo.GetAlertByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.logger.Error("alert read failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "alert read failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, alert)
}

// ListRuns handles GET /api/v1/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	p := httputil.ParsePagination(r, 50, 500)
	runs, total, err := h.repo.ListRuns(r.Context(), p.Limit, p.Offset())
	if err != nil {
		h.logger.Error("run listing failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "run listing failed")
		return
	}
	p.Total = total
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":       runs,
		"pagination": p,
	})
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	run, err := h.repo.GetRunByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("run read failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "run read failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}
