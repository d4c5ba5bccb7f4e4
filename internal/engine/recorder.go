package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

// TrackRequest describes one impression, click or conversion to record.
// DedupeKey is optional; when the caller supplies one (or derives one, for
// example a hash over identity+ad+page+type+time bucket), retries of the
// same logical occurrence collapse into a single stored event.
type TrackRequest struct {
	CampaignID   string           `json:"campaign_id"`
	CollectionID string           `json:"collection_id,omitempty"`
	AdID         string           `json:"ad_id"`
	Type         models.EventType `json:"type"`
	DedupeKey    string           `json:"dedupe_key,omitempty"`
	Context      models.RequestContext
}

// TrackEvent durably records an ad event and updates the variant's
// counters. The call is idempotent under DedupeKey: a duplicate is not an
// error, it is acknowledged with no second row and no second increment.
//
// Order of operations: the event row is appended first and the counters
// are bumped only for newly inserted rows. This keeps the counters and the
// event log consistent when a timed-out caller retries.
func (e *Engine) TrackEvent(ctx context.Context, req TrackRequest) error {
	switch req.Type {
	case models.EventImpression, models.EventClick, models.EventConversion:
	default:
		// Rejected before any storage access. "view" rows exist only as
		// legacy imports and are not accepted through this path.
		if e.metrics != nil {
			e.metrics.TrackFailures.WithLabelValues("invalid_type").Inc()
		}
		return fmt.Errorf("%w: %q", ErrInvalidEventType, req.Type)
	}

	campaign, err := e.campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.TrackFailures.WithLabelValues("storage").Inc()
		}
		return fmt.Errorf("resolve campaign: %w", err)
	}
	if campaign == nil || campaign.FindAd(req.AdID) == nil {
		if e.metrics != nil {
			e.metrics.TrackFailures.WithLabelValues("not_found").Inc()
		}
		return fmt.Errorf("%w: campaign %q ad %q", ErrNotFound, req.CampaignID, req.AdID)
	}

	rc := req.Context
	ev := &models.AdEvent{
		ID:           uuid.NewString(),
		Type:         req.Type,
		CampaignID:   req.CampaignID,
		CollectionID: req.CollectionID,
		AdID:         req.AdID,
		PageType:     rc.PageType,
		PageKey:      rc.PageKey,
		Device:       rc.Device,
		Country:      rc.Country,
		Category:     rc.CategoryID,
		SessionID:    rc.SessionID,
		UserID:       rc.UserID,
		IPHash:       rc.IPHash,
		DedupeKey:    req.DedupeKey,
		CreatedAt:    e.now().UTC(),
	}

	inserted, err := e.events.Insert(ctx, ev)
	if err != nil {
		if e.metrics != nil {
			e.metrics.TrackFailures.WithLabelValues("storage").Inc()
		}
		return fmt.Errorf("store event: %w", err)
	}
	if !inserted {
		if e.metrics != nil {
			e.metrics.DedupeHits.Inc()
		}
		e.logger.Debug("duplicate event ignored",
			zap.String("dedupe_key", req.DedupeKey),
			zap.String("campaign_id", req.CampaignID),
		)
		return nil
	}

	if err := e.campaigns.IncrementAdStats(ctx, req.CampaignID, req.AdID, req.Type); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Campaign deleted between resolution and increment; the
			// event row stands, there is nothing left to count against.
			e.logger.Warn("campaign vanished during track",
				zap.String("campaign_id", req.CampaignID),
				zap.String("ad_id", req.AdID),
			)
			return nil
		}
		return fmt.Errorf("increment stats: %w", err)
	}

	if e.freq != nil {
		e.freq.RecordEvent(ctx, ev, campaignLocation(campaign))
	}
	if e.metrics != nil {
		e.metrics.TrackedEvents.WithLabelValues(string(req.Type)).Inc()
	}
	e.logger.Debug("event recorded",
		zap.String("event_id", ev.ID),
		zap.String("type", string(req.Type)),
		zap.String("campaign_id", req.CampaignID),
		zap.String("ad_id", req.AdID),
	)
	return nil
}
