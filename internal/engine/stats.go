package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

// CampaignRollup recomputes the campaign-level rollup by summing the
// embedded variant counters, persists it and returns it. The rollup is
// derived on explicit request rather than on every event write, so callers
// needing a fresh number must call this; between calls the stored rollup
// may trail the per-variant counters.
func (e *Engine) CampaignRollup(ctx context.Context, campaignID string) (*models.CampaignStats, error) {
	campaign, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign %q", ErrNotFound, campaignID)
	}

	var stats models.CampaignStats
	for _, ad := range campaign.Ads {
		stats.Impressions += ad.Stats.Impressions
		stats.Clicks += ad.Stats.Clicks
		stats.Conversions += ad.Stats.Conversions
	}
	stats.CTR = storage.RecomputeCTR(stats.Clicks, stats.Impressions)

	if err := e.campaigns.UpdateCampaignStats(ctx, campaignID, stats); err != nil {
		return nil, fmt.Errorf("persist rollup: %w", err)
	}
	return &stats, nil
}

// EventBreakdown aggregates the raw event log for a campaign by event type
// within [from, to]. This view is independent of the embedded counters and
// the two are not automatically reconciled: counters can run ahead of a
// retention-trimmed log, and the log sees legacy rows the counters never
// did. Use ReconcileFromEvents to re-derive counters from the log.
func (e *Engine) EventBreakdown(ctx context.Context, campaignID string, from, to time.Time) (map[models.EventType]int64, error) {
	res, err := e.events.Aggregate(ctx, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}
	return res, nil
}

// ReconcileFromEvents overwrites the campaign rollup with totals derived
// from the event log. This is the explicit reconciliation hook between the
// two stats views; it does not touch per-variant counters.
func (e *Engine) ReconcileFromEvents(ctx context.Context, campaignID string) (*models.CampaignStats, error) {
	campaign, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign %q", ErrNotFound, campaignID)
	}

	counts, err := e.events.Aggregate(ctx, campaignID, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}

	stats := models.CampaignStats{
		Impressions: counts[models.EventImpression] + counts[models.EventView],
		Clicks:      counts[models.EventClick],
		Conversions: counts[models.EventConversion],
	}
	stats.CTR = storage.RecomputeCTR(stats.Clicks, stats.Impressions)

	if err := e.campaigns.UpdateCampaignStats(ctx, campaignID, stats); err != nil {
		return nil, fmt.Errorf("persist rollup: %w", err)
	}
	return &stats, nil
}
