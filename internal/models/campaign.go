package models

import (
	"time"
)

// Placement identifies the page slot a campaign renders into. A campaign
// is bound to exactly one placement and never competes across placements.
type Placement string

const (
	PlacementPopup        Placement = "popup"
	PlacementTopBanner    Placement = "top_banner"
	PlacementInContent    Placement = "in_content"
	PlacementSidebar      Placement = "sidebar"
	PlacementFloating     Placement = "floating"
	PlacementFooterBanner Placement = "footer_banner"
)

// Valid reports whether p is one of the known placements.
func (p Placement) Valid() bool {
	switch p {
	case PlacementPopup, PlacementTopBanner, PlacementInContent,
		PlacementSidebar, PlacementFloating, PlacementFooterBanner:
		return true
	}
	return false
}

// CampaignStatus is the campaign lifecycle state. Only active campaigns
// are eligible for selection.
type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "draft"
	CampaignStatusActive CampaignStatus = "active"
	CampaignStatusPaused CampaignStatus = "paused"
	CampaignStatusEnded  CampaignStatus = "ended"
)

// VisitorType classifies the viewer for targeting purposes.
type VisitorType string

const (
	VisitorAll       VisitorType = "all"
	VisitorNew       VisitorType = "new"
	VisitorReturning VisitorType = "returning"
	VisitorUnknown   VisitorType = "unknown"
)

// Targeting defines the predicates a request context must satisfy for a
// campaign to be eligible. An empty slice on any dimension matches
// everything for that dimension.
type Targeting struct {
	Pages      []string    `json:"pages,omitempty"`      // page types (home, article, category, ...)
	Devices    []string    `json:"devices,omitempty"`    // desktop, mobile, tablet
	Visitors   VisitorType `json:"visitors,omitempty"`   // all, new, returning
	Countries  []string    `json:"countries,omitempty"`  // ISO 3166-1 alpha-2 codes
	Categories []string    `json:"categories,omitempty"` // content category IDs
}

// Schedule is the campaign's active time window. A nil EndDate means the
// campaign runs open-ended. Comparisons happen in the declared IANA
// timezone, not server-local time.
type Schedule struct {
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Timezone  string     `json:"timezone,omitempty"` // e.g. "Europe/Berlin"
}

// FrequencyType selects the capping policy applied per viewer.
type FrequencyType string

const (
	FrequencyUnlimited      FrequencyType = "unlimited"
	FrequencyOncePerSession FrequencyType = "once_per_session"
	FrequencyOncePerDay     FrequencyType = "once_per_day"
)

// Frequency caps how often one viewer sees or clicks a campaign.
// MaxImpressions and MaxClicks of zero mean "one" for the capped policies.
type Frequency struct {
	Type           FrequencyType `json:"type"`
	MaxImpressions int           `json:"max_impressions,omitempty"`
	MaxClicks      int           `json:"max_clicks,omitempty"`
}

// AdStats holds per-variant performance counters. CTR is stored as a
// percentage rounded to two decimals and recomputed on every counter write.
type AdStats struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
	Conversions int64   `json:"conversions"`
}

// CampaignStats is the campaign-level rollup derived from summing the
// embedded variant stats. It is recomputed on explicit request, so it may
// lag behind the per-variant counters.
type CampaignStats struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
	Conversions int64   `json:"conversions"`
}

// AdVariant is one creative inside a campaign, competing via weighted
// rotation. Variants have no independent lifecycle: they are written and
// deleted only as part of their campaign.
type AdVariant struct {
	AdID     string  `json:"ad_id"`
	Name     string  `json:"name,omitempty"`
	Weight   int     `json:"weight"` // 0-100, relative (not normalized)
	IsActive bool    `json:"is_active"`
	Stats    AdStats `json:"stats"`
}

// Campaign is one placement with N ad variants plus the targeting,
// scheduling and frequency rules the decision engine evaluates.
type Campaign struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Placement Placement      `json:"placement"`
	Status    CampaignStatus `json:"status"`
	Targeting Targeting      `json:"targeting"`
	Schedule  Schedule       `json:"schedule"`
	Frequency Frequency      `json:"frequency"`
	Ads       []AdVariant    `json:"ads"`
	Stats     CampaignStats  `json:"stats"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ActiveAds returns the variants currently enabled for rotation.
func (c *Campaign) ActiveAds() []AdVariant {
	res := make([]AdVariant, 0, len(c.Ads))
	for _, ad := range c.Ads {
		if ad.IsActive {
			res = append(res, ad)
		}
	}
	return res
}

// FindAd returns the variant with the given ID, or nil when absent.
func (c *Campaign) FindAd(adID string) *AdVariant {
	for i := range c.Ads {
		if c.Ads[i].AdID == adID {
			return &c.Ads[i]
		}
	}
	return nil
}
