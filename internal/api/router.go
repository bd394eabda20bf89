package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"stock-outage-alerts/internal/analytics"
	"stock-outage-alerts/internal/cache"
	"stock-outage-alerts/internal/scraper"
	"stock-outage-alerts/internal/service"
	"stock-outage-alerts/internal/storage"
	"stock-outage-alerts/internal/version"
)

// SessionRecorder persists scraped records as a session and runs the engine.
type SessionRecorder interface {
	RecordSession(ctx context.Context, keyword, pincode string, records []scraper.Record) (service.Outcome, error)
}

// Deps are the collaborators the HTTP surface reads from.
type Deps struct {
	Store     storage.Repository
	Analytics *analytics.Analytics
	Recorder  SessionRecorder
	Cache     *cache.ForecastCache
	Timeout   time.Duration
	Logger    zerolog.Logger
}

type handler struct {
	Deps
	now func() time.Time
}

// NewRouter wires every endpoint.
func NewRouter(deps Deps) http.Handler {
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	h := &handler{Deps: deps, now: time.Now}
	h.Logger = deps.Logger.With().Str("component", "api").Logger()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(deps.Timeout))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "stockwatch", "version": version.Version})
	})

	router.Route("/v1", func(r chi.Router) {
		r.Get("/alerts", h.listAlerts)
		r.Get("/alerts/stats", h.alertStats)
		r.Patch("/alerts/{id}/resolve", h.resolveAlert)
		r.Get("/summaries", h.listSummaries)
		r.Get("/summaries/{date}", h.getSummary)
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{id}", h.getSession)
		r.Post("/sessions", h.ingestSession)
		r.Get("/forecast", h.forecast)
		r.Get("/forecast/products", h.forecastProducts)
		r.Get("/clusters", h.clusters)
		r.Get("/correlation", h.correlation)
		r.Get("/metrics", h.metrics)
		r.Get("/analytics", h.bundle)
	})
	return router
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AlertFilter{
		Keyword:     q.Get("keyword"),
		Pincode:     q.Get("pincode"),
		Type:        storage.AlertType(q.Get("type")),
		Significant: q.Get("significant") == "true",
		Limit:       parsePositive(q.Get("limit"), 100),
	}
	switch q.Get("status") {
	case "active":
		resolved := false
		filter.Resolved = &resolved
	case "resolved":
		resolved := true
		filter.Resolved = &resolved
	}

	alerts, err := h.Store.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": alerts})
}

func (h *handler) alertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.AlertStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid alert id"))
		return
	}
	alert, err := h.Store.ResolveAlert(r.Context(), id, h.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("alert not found"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *handler) listSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Store.ListDailySummaries(r.Context(), parsePositive(r.URL.Query().Get("limit"), 30))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": summaries})
}

func (h *handler) getSummary(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("date must be YYYY-MM-DD"))
		return
	}
	summary, err := h.Store.GetDailySummary(r.Context(), date)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no summary for %s", storage.DateKey(date)))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListRecentSessions(r.Context(), parsePositive(r.URL.Query().Get("limit"), 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid session id"))
		return
	}
	session, err := h.Store.GetSession(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("session not found"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type ingestRequest struct {
	Keyword  string           `json:"keyword"`
	Pincode  string           `json:"pincode"`
	Products []scraper.Record `json:"products"`
}

func (h *handler) ingestSession(w http.ResponseWriter, r *http.Request) {
	if h.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("ingestion disabled"))
		return
	}
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Keyword == "" || req.Pincode == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("keyword and pincode are required"))
		return
	}

	outcome, err := h.Recorder.RecordSession(r.Context(), req.Keyword, req.Pincode, req.Products)
	if err != nil {
		h.Logger.Error().Err(err).Str("keyword", req.Keyword).Str("pincode", req.Pincode).Msg("ingest failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}
