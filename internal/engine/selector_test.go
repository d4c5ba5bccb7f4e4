package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

func newTestEngine(t *testing.T, campaigns []*models.Campaign, opts ...Option) *Engine {
	t.Helper()
	repo := storage.NewInMemoryCampaignRepo()
	for _, c := range campaigns {
		require.NoError(t, repo.Upsert(context.Background(), c))
	}
	opts = append([]Option{WithRand(rand.New(rand.NewSource(1)).Float64)}, opts...)
	return NewEngine(repo, storage.NewInMemoryEventStore(), opts...)
}

func sidebarCampaign(id string, ads ...models.AdVariant) *models.Campaign {
	return &models.Campaign{
		ID:        id,
		Name:      "campaign " + id,
		Placement: models.PlacementSidebar,
		Status:    models.CampaignStatusActive,
		Frequency: models.Frequency{Type: models.FrequencyUnlimited},
		Ads:       ads,
	}
}

func TestServeAdNoCampaigns(t *testing.T) {
	eng := newTestEngine(t, nil)
	decision, err := eng.ServeAd(context.Background(), models.PlacementSidebar, models.RequestContext{})
	require.NoError(t, err)
	assert.Nil(t, decision)
}

func TestServeAdNoActiveVariants(t *testing.T) {
	eng := newTestEngine(t, []*models.Campaign{
		sidebarCampaign("c1",
			models.AdVariant{AdID: "a1", Weight: 50, IsActive: false},
			models.AdVariant{AdID: "a2", Weight: 50, IsActive: false},
		),
	})
	decision, err := eng.ServeAd(context.Background(), models.PlacementSidebar, models.RequestContext{})
	require.NoError(t, err)
	assert.Nil(t, decision)
}

func TestServeAdSingleActiveVariantAlwaysWins(t *testing.T) {
	eng := newTestEngine(t, []*models.Campaign{
		sidebarCampaign("c1",
			models.AdVariant{AdID: "a1", Weight: 1, IsActive: true},
			models.AdVariant{AdID: "a2", Weight: 99, IsActive: false},
		),
	})
	for i := 0; i < 50; i++ {
		decision, err := eng.ServeAd(context.Background(), models.PlacementSidebar, models.RequestContext{})
		require.NoError(t, err)
		require.NotNil(t, decision)
		assert.Equal(t, "a1", decision.Ad.AdID)
	}
}

func TestServeAdTargetingFiltersCampaign(t *testing.T) {
	c := sidebarCampaign("c1", models.AdVariant{AdID: "a1", Weight: 100, IsActive: true})
	c.Targeting = models.Targeting{Pages: []string{"article"}}
	eng := newTestEngine(t, []*models.Campaign{c})

	decision, err := eng.ServeAd(context.Background(), models.PlacementSidebar, models.RequestContext{PageType: "home"})
	require.NoError(t, err)
	assert.Nil(t, decision)

	decision, err = eng.ServeAd(context.Background(), models.PlacementSidebar, models.RequestContext{PageType: "article"})
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, "c1", decision.CampaignID)
}

func TestServeAdPlacementIsolation(t *testing.T) {
	eng := newTestEngine(t, []*models.Campaign{
		sidebarCampaign("c1", models.AdVariant{AdID: "a1", Weight: 100, IsActive: true}),
	})
	decision, err := eng.ServeAd(context.Background(), models.PlacementTopBanner, models.RequestContext{})
	require.NoError(t, err)
	assert.Nil(t, decision)
}

// Weights are relative: a 10/90 split must converge on a 10/90 traffic
// share regardless of whether the weights sum to 100.
func TestSelectVariantWeightedSplit(t *testing.T) {
	eng := newTestEngine(t, nil, WithRand(rand.New(rand.NewSource(7)).Float64))
	c := sidebarCampaign("c1",
		models.AdVariant{AdID: "low", Weight: 10, IsActive: true},
		models.AdVariant{AdID: "high", Weight: 90, IsActive: true},
	)

	const draws = 100000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		ad := eng.selectVariant(c)
		require.NotNil(t, ad)
		counts[ad.AdID]++
	}

	lowShare := float64(counts["low"]) / draws
	assert.InDelta(t, 0.10, lowShare, 0.01, "low-weight share %f", lowShare)
	assert.Equal(t, draws, counts["low"]+counts["high"])
}

func TestSelectVariantEvenSplit(t *testing.T) {
	eng := newTestEngine(t, nil, WithRand(rand.New(rand.NewSource(11)).Float64))
	c := sidebarCampaign("c1",
		models.AdVariant{AdID: "a", Weight: 50, IsActive: true},
		models.AdVariant{AdID: "b", Weight: 50, IsActive: true},
	)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[eng.selectVariant(c).AdID]++
	}
	assert.InDelta(t, 500, counts["a"], 60)
	assert.InDelta(t, 500, counts["b"], 60)
}

func TestSelectVariantZeroWeightNeverWins(t *testing.T) {
	eng := newTestEngine(t, nil, WithRand(rand.New(rand.NewSource(3)).Float64))
	c := sidebarCampaign("c1",
		models.AdVariant{AdID: "zero", Weight: 0, IsActive: true},
		models.AdVariant{AdID: "weighted", Weight: 5, IsActive: true},
	)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, "weighted", eng.selectVariant(c).AdID)
	}
}

func TestSelectVariantAllZeroWeightsFallBackToUniform(t *testing.T) {
	eng := newTestEngine(t, nil, WithRand(rand.New(rand.NewSource(5)).Float64))
	c := sidebarCampaign("c1",
		models.AdVariant{AdID: "a", Weight: 0, IsActive: true},
		models.AdVariant{AdID: "b", Weight: 0, IsActive: true},
	)
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[eng.selectVariant(c).AdID]++
	}
	assert.Greater(t, counts["a"], 0)
	assert.Greater(t, counts["b"], 0)
}

// With several eligible campaigns each should receive a comparable share
// of the placement's traffic.
func TestSelectCampaignUniformAcrossEligible(t *testing.T) {
	eng := newTestEngine(t, []*models.Campaign{
		sidebarCampaign("c1", models.AdVariant{AdID: "a1", Weight: 100, IsActive: true}),
		sidebarCampaign("c2", models.AdVariant{AdID: "a2", Weight: 100, IsActive: true}),
	}, WithRand(rand.New(rand.NewSource(13)).Float64))

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		decision, err := eng.ServeAd(context.Background(), models.PlacementSidebar, models.RequestContext{})
		require.NoError(t, err)
		require.NotNil(t, decision)
		counts[decision.CampaignID]++
	}
	assert.InDelta(t, 1000, counts["c1"], 120)
	assert.InDelta(t, 1000, counts["c2"], 120)
}
