package models

import "time"

// ProcessedVisit is the canonical, merged, non-overlapping visit record
// used for the user-facing history. The merger rebuilds them wholesale for
// any touched time range.
type ProcessedVisit struct {
	ID              int64     `json:"id" db:"id"`
	UserID          string    `json:"userId" db:"user_id"`
	PlaceID         int64     `json:"placeId" db:"place_id"`
	StartTime       time.Time `json:"startTime" db:"start_time"`
	EndTime         time.Time `json:"endTime" db:"end_time"`
	DurationSeconds int64     `json:"durationSeconds" db:"duration_seconds"`
	Version         int64     `json:"version" db:"version"`

	// Populated on joined reads, nil otherwise
	Place *SignificantPlace `json:"place,omitempty" db:"-"`
}
