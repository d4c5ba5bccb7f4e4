package engine

import (
	"context"
	"time"

	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

// FrequencyHistory answers "how many matching events has this viewer
// already generated". The event store satisfies it directly; the Redis
// counter store satisfies it with O(1) counter reads.
type FrequencyHistory interface {
	CountEvents(ctx context.Context, q storage.FrequencyQuery) (int64, error)
}

// FrequencyGuard decides whether a viewer has exhausted a campaign's
// impression or click allowance and the ad must be suppressed. It only
// vetoes serving; it never blocks the recording of events that do occur.
type FrequencyGuard struct {
	history FrequencyHistory
	now     func() time.Time
}

// NewFrequencyGuard creates a guard over the given history source.
func NewFrequencyGuard(history FrequencyHistory, now func() time.Time) *FrequencyGuard {
	if now == nil {
		now = time.Now
	}
	return &FrequencyGuard{history: history, now: now}
}

// ShouldSuppress reports whether the campaign's frequency policy forbids
// showing the ad to this viewer.
//
// Identifier precedence: userID when present, else sessionID. With
// neither, the cap cannot be enforced and the viewer is treated as
// not-yet-seen; anonymous popup traffic is effectively uncapped. For
// once_per_session the scope follows the same fallback: when the session
// is absent the count is user-scoped, which is wider than a session. Both
// behaviors are inherited from the legacy tracker and kept as-is.
func (g *FrequencyGuard) ShouldSuppress(ctx context.Context, c *models.Campaign, rc models.RequestContext) (bool, error) {
	freq := c.Frequency
	if freq.Type == "" || freq.Type == models.FrequencyUnlimited {
		return false, nil
	}
	if rc.UserID == "" && rc.SessionID == "" {
		return false, nil
	}

	q := storage.FrequencyQuery{CampaignID: c.ID}
	if rc.UserID != "" {
		q.UserID = rc.UserID
	} else {
		q.SessionID = rc.SessionID
	}
	// Popups are capped per page: the same viewer may still see the
	// campaign on a different article.
	if c.Placement == models.PlacementPopup && rc.PageKey != "" {
		q.PageKey = rc.PageKey
	}

	switch freq.Type {
	case models.FrequencyOncePerSession:
		// No time bound: the identifier itself delimits the session.
	case models.FrequencyOncePerDay:
		q.Since = startOfDay(g.now().In(campaignLocation(c)))
	default:
		// Unknown policy: fail closed for serving, consistent with how
		// malformed targeting is handled.
		return true, nil
	}

	maxImpressions := freq.MaxImpressions
	if maxImpressions <= 0 {
		maxImpressions = 1
	}

	q.Type = models.EventImpression
	impressions, err := g.history.CountEvents(ctx, q)
	if err != nil {
		return false, err
	}
	if impressions >= int64(maxImpressions) {
		return true, nil
	}

	if freq.MaxClicks > 0 {
		q.Type = models.EventClick
		clicks, err := g.history.CountEvents(ctx, q)
		if err != nil {
			return false, err
		}
		if clicks >= int64(freq.MaxClicks) {
			return true, nil
		}
	}
	return false, nil
}

// campaignLocation resolves the campaign's schedule timezone, falling back
// to UTC. Daily caps reset at midnight in this location.
func campaignLocation(c *models.Campaign) *time.Location {
	if c.Schedule.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
