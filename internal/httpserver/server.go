package httpserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/presslane/adserve/internal/config"
	"github.com/presslane/adserve/internal/engine"
	"github.com/presslane/adserve/internal/geo"
	"github.com/presslane/adserve/internal/metrics"
	"github.com/presslane/adserve/internal/middleware"
	"github.com/presslane/adserve/internal/models"
)

// Dependencies holds everything the HTTP layer needs.
type Dependencies struct {
	Engine  *engine.Engine
	Geo     *geo.Resolver
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server adapts the decision engine to HTTP. It owns no business logic:
// handlers translate requests into engine calls and engine errors into
// status codes.
type Server struct {
	engine *engine.Engine
	geo    *geo.Resolver
	logger *zap.Logger
	config *config.Config
}

// NewServer constructs an http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		engine: deps.Engine,
		geo:    deps.Geo,
		logger: deps.Logger,
		config: deps.Config,
	}

	recovery := middleware.NewRecoveryMiddleware(deps.Logger)
	logging := middleware.NewLoggingMiddleware(deps.Logger)
	ratelimit := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger)

	r := chi.NewRouter()
	r.Use(recovery.Handler, logging.Handler, ratelimit.Handler)

	r.Get("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		r.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/serve", s.handleServe)
		r.Post("/events", s.handleTrack)
		r.Get("/campaigns/{id}/stats", s.handleStats)
		r.Get("/campaigns/{id}/stats/events", s.handleEventStats)
		r.Post("/campaigns/{id}/stats/reconcile", s.handleReconcile)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleServe answers a page-render request with at most one ad decision.
// "No ad" is a 204, never an error: an empty placement is the normal state
// for most page views.
func (s *Server) handleServe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	placement := models.Placement(q.Get("placement"))
	if !placement.Valid() {
		writeError(w, http.StatusBadRequest, "unknown placement")
		return
	}

	rc := models.RequestContext{
		PageType:    q.Get("page_type"),
		PageKey:     q.Get("page_key"),
		Device:      q.Get("device"),
		VisitorType: models.VisitorType(q.Get("visitor_type")),
		Country:     q.Get("country"),
		CategoryID:  q.Get("category_id"),
		SessionID:   q.Get("session_id"),
		UserID:      q.Get("user_id"),
		IPHash:      q.Get("ip_hash"),
		ClientIP:    clientIP(r),
	}
	if rc.VisitorType == "" {
		rc.VisitorType = models.VisitorUnknown
	}
	if rc.Country == "" {
		rc.Country = s.geo.Country(rc.ClientIP)
	}

	decision, err := s.engine.ServeAd(r.Context(), placement, rc)
	if err != nil {
		s.logger.Error("serve failed", zap.Error(err), zap.String("placement", string(placement)))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	if decision == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type trackPayload struct {
	CampaignID   string                `json:"campaign_id"`
	CollectionID string                `json:"collection_id,omitempty"`
	AdID         string                `json:"ad_id"`
	Type         string                `json:"type"`
	DedupeKey    string                `json:"dedupe_key,omitempty"`
	Context      models.RequestContext `json:"context"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var payload trackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := s.engine.TrackEvent(r.Context(), engine.TrackRequest{
		CampaignID:   payload.CampaignID,
		CollectionID: payload.CollectionID,
		AdID:         payload.AdID,
		Type:         models.EventType(payload.Type),
		DedupeKey:    payload.DedupeKey,
		Context:      payload.Context,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, engine.ErrInvalidEventType):
		writeError(w, http.StatusBadRequest, "invalid event type")
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "campaign or ad not found")
	default:
		s.logger.Error("track failed", zap.Error(err), zap.String("campaign_id", payload.CampaignID))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := s.engine.CampaignRollup(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error("rollup failed", zap.Error(err), zap.String("campaign_id", id))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, ok := parseTimeParam(w, r.URL.Query().Get("from"))
	if !ok {
		return
	}
	to, ok := parseTimeParam(w, r.URL.Query().Get("to"))
	if !ok {
		return
	}

	counts, err := s.engine.EventBreakdown(r.Context(), id, from, to)
	if err != nil {
		s.logger.Error("event breakdown failed", zap.Error(err), zap.String("campaign_id", id))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := s.engine.ReconcileFromEvents(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error("reconcile failed", zap.Error(err), zap.String("campaign_id", id))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// clientIP extracts the caller's IP, honoring X-Forwarded-For set by the
// edge proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseTimeParam parses an optional RFC 3339 timestamp or plain date
// query parameter. It writes a 400 and returns ok=false on bad input.
func parseTimeParam(w http.ResponseWriter, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, true
	}
	writeError(w, http.StatusBadRequest, "invalid time parameter")
	return time.Time{}, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
