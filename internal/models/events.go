package models

import (
	"time"
)

// EventType classifies a single tracked ad interaction.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventView       EventType = "view"
	EventConversion EventType = "conversion"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventImpression, EventClick, EventView, EventConversion:
		return true
	}
	return false
}

// EventRetention is how long raw ad events are kept before the storage
// layer expires them.
const EventRetention = 90 * 24 * time.Hour

// AdEvent is one immutable record of an impression, click, view or
// conversion. Events are created once by the recorder and never mutated;
// they disappear only through retention expiry.
type AdEvent struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// References. CollectionID carries events produced by the legacy
	// two-tier collection/ad model through the same pipeline.
	CampaignID   string `json:"campaign_id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	AdID         string `json:"ad_id"`

	// Render context.
	PageType string `json:"page_type,omitempty"`
	PageKey  string `json:"page_key,omitempty"`
	Device   string `json:"device,omitempty"`
	Country  string `json:"country,omitempty"`
	Category string `json:"category,omitempty"`

	// Viewer identity. IPHash is a salted hash; raw IPs never reach the
	// hot path.
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	IPHash    string `json:"ip_hash,omitempty"`

	// DedupeKey, when present, enforces at most one stored row per
	// logical occurrence.
	DedupeKey string `json:"dedupe_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RequestContext is the render-side input to an ad decision. It is
// assembled by the page-render layer (an upstream collaborator) and passed
// through unchanged; ClientIP is used only to derive Country when the
// caller did not resolve it.
type RequestContext struct {
	PageType    string      `json:"page_type,omitempty"`
	PageKey     string      `json:"page_key,omitempty"`
	Device      string      `json:"device,omitempty"`
	VisitorType VisitorType `json:"visitor_type,omitempty"`
	Country     string      `json:"country,omitempty"`
	CategoryID  string      `json:"category_id,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	IPHash      string      `json:"ip_hash,omitempty"`
	ClientIP    string      `json:"-"`
}
