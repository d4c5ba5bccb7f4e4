package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

func newRecorderFixture(t *testing.T) (*Engine, *storage.InMemoryCampaignRepo, *storage.InMemoryEventStore) {
	t.Helper()
	repo := storage.NewInMemoryCampaignRepo()
	store := storage.NewInMemoryEventStore()
	require.NoError(t, repo.Upsert(context.Background(), sidebarCampaign("c1",
		models.AdVariant{AdID: "a1", Weight: 100, IsActive: true},
	)))
	return NewEngine(repo, store), repo, store
}

func TestTrackEventRecordsAndIncrements(t *testing.T) {
	eng, repo, store := newRecorderFixture(t)
	ctx := context.Background()

	err := eng.TrackEvent(ctx, TrackRequest{
		CampaignID: "c1", AdID: "a1", Type: models.EventImpression,
		Context: models.RequestContext{SessionID: "s1", PageType: "article"},
	})
	require.NoError(t, err)

	n, err := store.CountEvents(ctx, storage.FrequencyQuery{CampaignID: "c1", Type: models.EventImpression})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(1), c.Ads[0].Stats.Impressions)
	assert.Equal(t, int64(0), c.Ads[0].Stats.Clicks)
}

func TestTrackEventDedupeIsIdempotent(t *testing.T) {
	eng, repo, store := newRecorderFixture(t)
	ctx := context.Background()
	req := TrackRequest{
		CampaignID: "c1", AdID: "a1", Type: models.EventClick,
		DedupeKey: "s1:a1:click:bucket-7",
		Context:   models.RequestContext{SessionID: "s1"},
	}

	require.NoError(t, eng.TrackEvent(ctx, req))
	// Retry of the same logical click: acknowledged, not double-counted.
	require.NoError(t, eng.TrackEvent(ctx, req))

	n, err := store.CountEvents(ctx, storage.FrequencyQuery{CampaignID: "c1", Type: models.EventClick})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Ads[0].Stats.Clicks)
}

func TestTrackEventDistinctDedupeKeysBothCount(t *testing.T) {
	eng, _, store := newRecorderFixture(t)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2"} {
		require.NoError(t, eng.TrackEvent(ctx, TrackRequest{
			CampaignID: "c1", AdID: "a1", Type: models.EventImpression,
			DedupeKey: key,
		}))
	}
	n, err := store.CountEvents(ctx, storage.FrequencyQuery{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTrackEventInvalidTypeRejectedBeforeWrites(t *testing.T) {
	eng, repo, store := newRecorderFixture(t)
	ctx := context.Background()

	for _, typ := range []models.EventType{"", "view", "hover", "purchase"} {
		err := eng.TrackEvent(ctx, TrackRequest{CampaignID: "c1", AdID: "a1", Type: typ})
		assert.ErrorIs(t, err, ErrInvalidEventType, "type %q", typ)
	}

	n, err := store.CountEvents(ctx, storage.FrequencyQuery{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Ads[0].Stats.Impressions)
}

func TestTrackEventUnknownCampaign(t *testing.T) {
	eng, _, store := newRecorderFixture(t)
	ctx := context.Background()

	err := eng.TrackEvent(ctx, TrackRequest{CampaignID: "ghost", AdID: "a1", Type: models.EventImpression})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.CountEvents(ctx, storage.FrequencyQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "nothing stored for an unknown campaign")
}

func TestTrackEventUnknownAdVariant(t *testing.T) {
	eng, _, _ := newRecorderFixture(t)
	err := eng.TrackEvent(context.Background(), TrackRequest{
		CampaignID: "c1", AdID: "ghost", Type: models.EventClick,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrackEventCTRRecomputedOnEveryIncrement(t *testing.T) {
	eng, repo, _ := newRecorderFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, eng.TrackEvent(ctx, TrackRequest{
			CampaignID: "c1", AdID: "a1", Type: models.EventImpression,
		}))
	}
	require.NoError(t, eng.TrackEvent(ctx, TrackRequest{
		CampaignID: "c1", AdID: "a1", Type: models.EventClick,
	}))

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.Ads[0].Stats.Impressions)
	assert.Equal(t, int64(1), c.Ads[0].Stats.Clicks)
	assert.Equal(t, 10.00, c.Ads[0].Stats.CTR)
}

func TestTrackEventConversion(t *testing.T) {
	eng, repo, _ := newRecorderFixture(t)
	ctx := context.Background()

	require.NoError(t, eng.TrackEvent(ctx, TrackRequest{
		CampaignID: "c1", AdID: "a1", Type: models.EventConversion,
	}))

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Ads[0].Stats.Conversions)
	assert.Equal(t, int64(0), c.Ads[0].Stats.Impressions)
}
