package storage

import (
	"context"
	"errors"
	"time"

	"github.com/presslane/adserve/internal/models"
)

// ErrNotFound is returned when a referenced campaign or ad variant does
// not exist in storage.
var ErrNotFound = errors.New("storage: not found")

// =============================================
// CAMPAIGN REPOSITORY
// =============================================

// CampaignRepo defines operations for campaign storage. Implementations
// must make IncrementAdStats atomic: concurrent increments on the same
// variant must never lose updates.
type CampaignRepo interface {
	// ListByPlacementAndStatus returns campaigns for one placement in the
	// given lifecycle state. This is the selection engine's hot read.
	ListByPlacementAndStatus(ctx context.Context, placement models.Placement, status models.CampaignStatus) ([]*models.Campaign, error)

	// GetByID returns a campaign or nil when absent.
	GetByID(ctx context.Context, id string) (*models.Campaign, error)

	// Upsert writes a campaign together with its embedded variants.
	Upsert(ctx context.Context, c *models.Campaign) error

	// Delete removes a campaign and, with it, all of its variants.
	Delete(ctx context.Context, id string) error

	// IncrementAdStats bumps the counter matching eventType on one variant
	// and recomputes its CTR in the same write. Returns ErrNotFound when
	// the campaign or variant is gone.
	IncrementAdStats(ctx context.Context, campaignID, adID string, eventType models.EventType) error

	// UpdateCampaignStats persists a recomputed campaign-level rollup.
	UpdateCampaignStats(ctx context.Context, campaignID string, stats models.CampaignStats) error
}

// =============================================
// EVENT STORE
// =============================================

// FrequencyQuery narrows event counting for frequency capping and
// aggregation. Zero-valued fields are not filtered on. CampaignID and
// CollectionID are alternative scopes; the guard sets exactly one.
type FrequencyQuery struct {
	CampaignID   string
	CollectionID string
	SessionID    string
	UserID       string
	PageKey      string
	Type         models.EventType
	Since        time.Time // zero = no lower bound
}

// EventStore persists immutable ad events. Rows carrying a dedupe key are
// unique on it: a second insert with the same key is silently dropped.
type EventStore interface {
	// Insert appends an event. It reports false when the event's dedupe
	// key already exists; that outcome is not an error.
	Insert(ctx context.Context, ev *models.AdEvent) (inserted bool, err error)

	// CountEvents counts stored events matching the query.
	CountEvents(ctx context.Context, q FrequencyQuery) (int64, error)

	// Aggregate groups events for a campaign by type within [from, to].
	Aggregate(ctx context.Context, campaignID string, from, to time.Time) (map[models.EventType]int64, error)

	// PurgeExpired deletes events created before the cutoff and returns
	// how many were removed. Backing stores with native TTL may make this
	// a no-op.
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}
