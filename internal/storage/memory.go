package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/presslane/adserve/internal/models"
)

// InMemoryCampaignRepo stores campaigns in memory. It backs tests and the
// degraded startup path when PostgreSQL is unreachable.
type InMemoryCampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[string]*models.Campaign
}

// NewInMemoryCampaignRepo creates an empty in-memory campaign repo.
func NewInMemoryCampaignRepo() *InMemoryCampaignRepo {
	return &InMemoryCampaignRepo{
		campaigns: make(map[string]*models.Campaign),
	}
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	cp.Ads = make([]models.AdVariant, len(c.Ads))
	copy(cp.Ads, c.Ads)
	cp.Targeting.Pages = append([]string(nil), c.Targeting.Pages...)
	cp.Targeting.Devices = append([]string(nil), c.Targeting.Devices...)
	cp.Targeting.Countries = append([]string(nil), c.Targeting.Countries...)
	cp.Targeting.Categories = append([]string(nil), c.Targeting.Categories...)
	if c.Schedule.EndDate != nil {
		end := *c.Schedule.EndDate
		cp.Schedule.EndDate = &end
	}
	return &cp
}

func (r *InMemoryCampaignRepo) ListByPlacementAndStatus(ctx context.Context, placement models.Placement, status models.CampaignStatus) ([]*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Campaign, 0)
	for _, c := range r.campaigns {
		if c.Placement == placement && c.Status == status {
			res = append(res, cloneCampaign(c))
		}
	}
	return res, nil
}

func (r *InMemoryCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.campaigns[id]; ok {
		return cloneCampaign(c), nil
	}
	return nil, nil
}

func (r *InMemoryCampaignRepo) Upsert(ctx context.Context, c *models.Campaign) error {
	if c == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *InMemoryCampaignRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.campaigns, id)
	return nil
}

// IncrementAdStats bumps one variant counter under the write lock, which
// makes the read-modify-write atomic for this implementation.
func (r *InMemoryCampaignRepo) IncrementAdStats(ctx context.Context, campaignID, adID string, eventType models.EventType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	ad := c.FindAd(adID)
	if ad == nil {
		return ErrNotFound
	}
	switch eventType {
	case models.EventImpression, models.EventView:
		ad.Stats.Impressions++
	case models.EventClick:
		ad.Stats.Clicks++
	case models.EventConversion:
		ad.Stats.Conversions++
	}
	ad.Stats.CTR = RecomputeCTR(ad.Stats.Clicks, ad.Stats.Impressions)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryCampaignRepo) UpdateCampaignStats(ctx context.Context, campaignID string, stats models.CampaignStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	c.Stats = stats
	return nil
}

// RecomputeCTR returns clicks/impressions as a percentage rounded to two
// decimals, or 0 when there are no impressions.
func RecomputeCTR(clicks, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	return math.Round(float64(clicks)/float64(impressions)*100*100) / 100
}
