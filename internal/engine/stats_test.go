package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

func TestCampaignRollupSumsVariants(t *testing.T) {
	repo := storage.NewInMemoryCampaignRepo()
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, &models.Campaign{
		ID:        "c1",
		Placement: models.PlacementSidebar,
		Status:    models.CampaignStatusActive,
		Ads: []models.AdVariant{
			{AdID: "a1", IsActive: true, Stats: models.AdStats{Impressions: 100, Clicks: 4, Conversions: 1}},
			{AdID: "a2", IsActive: true, Stats: models.AdStats{Impressions: 300, Clicks: 12, Conversions: 2}},
			{AdID: "a3", IsActive: false, Stats: models.AdStats{Impressions: 50, Clicks: 2}},
		},
	}))
	eng := NewEngine(repo, storage.NewInMemoryEventStore())

	stats, err := eng.CampaignRollup(ctx, "c1")
	require.NoError(t, err)
	// Disabled variants still count: their history does not vanish when
	// they are rotated out.
	assert.Equal(t, int64(450), stats.Impressions)
	assert.Equal(t, int64(18), stats.Clicks)
	assert.Equal(t, int64(3), stats.Conversions)
	assert.Equal(t, 4.00, stats.CTR)

	// The rollup is persisted, not just returned.
	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, *stats, c.Stats)
}

func TestCampaignRollupUnknownCampaign(t *testing.T) {
	eng := NewEngine(storage.NewInMemoryCampaignRepo(), storage.NewInMemoryEventStore())
	_, err := eng.CampaignRollup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventBreakdownGroupsByTypeWithinWindow(t *testing.T) {
	store := storage.NewInMemoryEventStore()
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	events := []models.AdEvent{
		{ID: "1", Type: models.EventImpression, CampaignID: "c1", CreatedAt: base.Add(1 * time.Hour)},
		{ID: "2", Type: models.EventImpression, CampaignID: "c1", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "3", Type: models.EventClick, CampaignID: "c1", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "4", Type: models.EventImpression, CampaignID: "c1", CreatedAt: base.Add(48 * time.Hour)},
		{ID: "5", Type: models.EventImpression, CampaignID: "other", CreatedAt: base.Add(1 * time.Hour)},
	}
	for i := range events {
		_, err := store.Insert(ctx, &events[i])
		require.NoError(t, err)
	}
	eng := NewEngine(storage.NewInMemoryCampaignRepo(), store)

	counts, err := eng.EventBreakdown(ctx, "c1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.EventImpression])
	assert.Equal(t, int64(1), counts[models.EventClick])

	// Open window sees everything for the campaign.
	counts, err = eng.EventBreakdown(ctx, "c1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.EventImpression])
}

func TestReconcileFromEventsOverwritesRollup(t *testing.T) {
	repo := storage.NewInMemoryCampaignRepo()
	store := storage.NewInMemoryEventStore()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.Campaign{
		ID:        "c1",
		Placement: models.PlacementSidebar,
		Status:    models.CampaignStatusActive,
		// Counters drifted: say a crash lost increments.
		Stats: models.CampaignStats{Impressions: 2, Clicks: 0},
		Ads:   []models.AdVariant{{AdID: "a1", IsActive: true}},
	}))

	events := []models.AdEvent{
		{ID: "1", Type: models.EventImpression, CampaignID: "c1", CreatedAt: time.Now()},
		{ID: "2", Type: models.EventImpression, CampaignID: "c1", CreatedAt: time.Now()},
		// Legacy import rows count as impressions when re-deriving.
		{ID: "3", Type: models.EventView, CampaignID: "c1", CreatedAt: time.Now()},
		{ID: "4", Type: models.EventClick, CampaignID: "c1", CreatedAt: time.Now()},
	}
	for i := range events {
		_, err := store.Insert(ctx, &events[i])
		require.NoError(t, err)
	}
	eng := NewEngine(repo, store)

	stats, err := eng.ReconcileFromEvents(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Impressions)
	assert.Equal(t, int64(1), stats.Clicks)
	assert.Equal(t, 33.33, stats.CTR)

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, *stats, c.Stats)
}
