package engine

import (
	"time"

	"github.com/presslane/adserve/internal/models"
)

// ScheduleActive reports whether now falls inside the campaign's window.
// Start and end are interpreted as wall-clock instants in the campaign's
// declared IANA timezone, so a campaign ending "2025-03-01" stops at that
// date's midnight in its own region regardless of where the server runs.
// A zero start means no lower bound; a nil end means open-ended. A
// malformed timezone fails closed: the campaign is treated as not running.
func ScheduleActive(s models.Schedule, now time.Time) bool {
	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return false
		}
		loc = l
	}

	localNow := now.In(loc)
	if !s.StartDate.IsZero() && localNow.Before(rebase(s.StartDate, loc)) {
		return false
	}
	if s.EndDate != nil && localNow.After(rebase(*s.EndDate, loc)) {
		return false
	}
	return true
}

// rebase reinterprets t's wall-clock reading in loc. Campaign dates are
// authored as local dates; stored instants carry whatever zone the writer
// used, so the wall clock is the authoritative part.
func rebase(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}
