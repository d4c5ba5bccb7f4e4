package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/presslane/adserve/internal/models"
)

// ServeAd decides which ad, if any, to show at a placement for the given
// request context. It is read-only apart from the frequency-history read.
// A nil Decision with a nil error means "no ad" and is the normal outcome
// for placements without an eligible campaign.
func (e *Engine) ServeAd(ctx context.Context, placement models.Placement, rc models.RequestContext) (*Decision, error) {
	start := e.now()
	if e.metrics != nil {
		e.metrics.ServeRequests.WithLabelValues(string(placement)).Inc()
	}

	decision, outcome, err := e.serve(ctx, placement, rc)
	if e.metrics != nil {
		e.metrics.ServeOutcomes.WithLabelValues(string(placement), outcome).Inc()
		e.metrics.ServeLatency.WithLabelValues(outcome).Observe(e.now().Sub(start).Seconds())
	}
	return decision, err
}

func (e *Engine) serve(ctx context.Context, placement models.Placement, rc models.RequestContext) (*Decision, string, error) {
	campaign, err := e.selectCampaign(ctx, placement, rc)
	if err != nil {
		return nil, "error", err
	}
	if campaign == nil {
		return nil, "no_campaign", nil
	}

	// Frequency capping vetoes before a variant is even drawn.
	suppressed, err := e.guard.ShouldSuppress(ctx, campaign, rc)
	if err != nil {
		return nil, "error", fmt.Errorf("frequency check: %w", err)
	}
	if suppressed {
		if e.metrics != nil {
			e.metrics.FreqCapSuppressed.Inc()
		}
		e.logger.Debug("serve suppressed by frequency cap",
			zap.String("campaign_id", campaign.ID),
			zap.String("session_id", rc.SessionID),
		)
		return nil, "freq_capped", nil
	}

	ad := e.selectVariant(campaign)
	if ad == nil {
		return nil, "no_variant", nil
	}

	e.logger.Debug("ad served",
		zap.String("campaign_id", campaign.ID),
		zap.String("ad_id", ad.AdID),
		zap.String("placement", string(placement)),
	)
	return &Decision{CampaignID: campaign.ID, Ad: *ad}, "served", nil
}

// selectCampaign fetches active campaigns for the placement and filters
// them through targeting and schedule. When several remain, one is chosen
// uniformly at random: every eligible campaign gets an equal share of the
// placement's traffic.
func (e *Engine) selectCampaign(ctx context.Context, placement models.Placement, rc models.RequestContext) (*models.Campaign, error) {
	campaigns, err := e.campaigns.ListByPlacementAndStatus(ctx, placement, models.CampaignStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}

	now := e.now()
	eligible := campaigns[:0]
	for _, c := range campaigns {
		if ok, dim := matchTargeting(c.Targeting, rc); !ok {
			if e.metrics != nil {
				e.metrics.RecordTargetingMiss(dim)
			}
			continue
		}
		if !ScheduleActive(c.Schedule, now) {
			if e.metrics != nil {
				e.metrics.ScheduleRejections.Inc()
			}
			continue
		}
		eligible = append(eligible, c)
	}

	switch len(eligible) {
	case 0:
		return nil, nil
	case 1:
		return eligible[0], nil
	}
	idx := int(e.randFloat() * float64(len(eligible)))
	if idx >= len(eligible) {
		idx = len(eligible) - 1
	}
	return eligible[idx], nil
}

// selectVariant performs a weighted random draw among the campaign's
// active variants. Weights are relative, not normalized: [10, 90] splits
// traffic 10/90 and [1, 9] splits it identically. Non-positive weights
// never win unless every active variant has one, in which case the draw
// degrades to uniform. The last variant absorbs any floating-point
// remainder so the walk cannot fall off the end.
func (e *Engine) selectVariant(c *models.Campaign) *models.AdVariant {
	active := c.ActiveAds()
	switch len(active) {
	case 0:
		return nil
	case 1:
		return &active[0]
	}

	var total float64
	for _, ad := range active {
		if ad.Weight > 0 {
			total += float64(ad.Weight)
		}
	}
	if total <= 0 {
		idx := int(e.randFloat() * float64(len(active)))
		if idx >= len(active) {
			idx = len(active) - 1
		}
		return &active[idx]
	}

	r := e.randFloat() * total
	for i := range active {
		if active[i].Weight <= 0 {
			continue
		}
		r -= float64(active[i].Weight)
		if r < 0 {
			return &active[i]
		}
	}
	return &active[len(active)-1]
}

// startOfDay returns midnight of t's day in t's location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
