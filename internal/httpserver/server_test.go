package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presslane/adserve/internal/config"
	"github.com/presslane/adserve/internal/engine"
	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

func newTestServer(t *testing.T, campaigns ...*models.Campaign) http.Handler {
	t.Helper()
	repo := storage.NewInMemoryCampaignRepo()
	for _, c := range campaigns {
		require.NoError(t, repo.Upsert(context.Background(), c))
	}
	eng := engine.NewEngine(repo, storage.NewInMemoryEventStore())
	return NewServer(&Dependencies{
		Engine: eng,
		Config: &config.Config{},
		Logger: zap.NewNop(),
	})
}

func activeCampaign() *models.Campaign {
	return &models.Campaign{
		ID:        "c1",
		Name:      "spring promo",
		Placement: models.PlacementSidebar,
		Status:    models.CampaignStatusActive,
		Frequency: models.Frequency{Type: models.FrequencyUnlimited},
		Ads:       []models.AdVariant{{AdID: "a1", Weight: 100, IsActive: true}},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeReturnsDecision(t *testing.T) {
	srv := newTestServer(t, activeCampaign())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/serve?placement=sidebar&page_type=article", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var decision engine.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&decision))
	assert.Equal(t, "c1", decision.CampaignID)
	assert.Equal(t, "a1", decision.Ad.AdID)
}

func TestServeEmptyPlacementIs204(t *testing.T) {
	srv := newTestServer(t, activeCampaign())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/serve?placement=popup", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServeRejectsUnknownPlacement(t *testing.T) {
	srv := newTestServer(t)
	for _, placement := range []string{"", "hero_banner", "SIDEBAR"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/serve?placement="+placement, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "placement %q", placement)
	}
}

func postJSON(t *testing.T, srv http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)
	return rec
}

func TestTrackAcceptsEvent(t *testing.T) {
	srv := newTestServer(t, activeCampaign())
	rec := postJSON(t, srv, "/v1/events", map[string]any{
		"campaign_id": "c1",
		"ad_id":       "a1",
		"type":        "impression",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTrackRejectsInvalidType(t *testing.T) {
	srv := newTestServer(t, activeCampaign())
	rec := postJSON(t, srv, "/v1/events", map[string]any{
		"campaign_id": "c1",
		"ad_id":       "a1",
		"type":        "hover",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackUnknownCampaignIs404(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv, "/v1/events", map[string]any{
		"campaign_id": "ghost",
		"ad_id":       "a1",
		"type":        "click",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrackMalformedBody(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte("{not json")))
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsRollup(t *testing.T) {
	c := activeCampaign()
	c.Ads[0].Stats = models.AdStats{Impressions: 200, Clicks: 10}
	srv := newTestServer(t, c)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns/c1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.CampaignStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(200), stats.Impressions)
	assert.Equal(t, int64(10), stats.Clicks)
	assert.Equal(t, 5.00, stats.CTR)
}

func TestStatsUnknownCampaignIs404(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns/ghost/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStatsRejectsBadTimeParam(t *testing.T) {
	srv := newTestServer(t, activeCampaign())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns/c1/stats/events?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStatsReflectsTrackedEvents(t *testing.T) {
	srv := newTestServer(t, activeCampaign())

	for _, typ := range []string{"impression", "impression", "click"} {
		rec := postJSON(t, srv, "/v1/events", map[string]any{
			"campaign_id": "c1", "ad_id": "a1", "type": typ,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns/c1/stats/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var counts map[models.EventType]int64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&counts))
	assert.Equal(t, int64(2), counts[models.EventImpression])
	assert.Equal(t, int64(1), counts[models.EventClick])
}

func TestReconcileEndpoint(t *testing.T) {
	srv := newTestServer(t, activeCampaign())
	rec := postJSON(t, srv, "/v1/events", map[string]any{
		"campaign_id": "c1", "ad_id": "a1", "type": "impression",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/campaigns/c1/stats/reconcile", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.CampaignStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.Impressions)
}

func TestClientIPFromForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:52100"
	assert.Equal(t, "198.51.100.4", clientIP(req))
}
