package models

import "time"

// Trip is the inferred movement segment between two chronologically
// adjacent processed visits. Its bounds equal the end of the start visit
// and the start of the end visit.
type Trip struct {
	ID                      int64     `json:"id" db:"id"`
	UserID                  string    `json:"userId" db:"user_id"`
	StartTime               time.Time `json:"startTime" db:"start_time"`
	EndTime                 time.Time `json:"endTime" db:"end_time"`
	DurationSeconds         int64     `json:"durationSeconds" db:"duration_seconds"`
	EstimatedDistanceMeters float64   `json:"estimatedDistanceMeters" db:"estimated_distance_meters"`
	TravelledDistanceMeters float64   `json:"travelledDistanceMeters" db:"travelled_distance_meters"`
	TransportMode           string    `json:"transportMode" db:"transport_mode"`
	StartVisitID            int64     `json:"startVisitId" db:"start_visit_id"`
	EndVisitID              int64     `json:"endVisitId" db:"end_visit_id"`
	StartPlaceID            int64     `json:"startPlaceId" db:"start_place_id"`
	EndPlaceID              int64     `json:"endPlaceId" db:"end_place_id"`
	Version                 int64     `json:"version" db:"version"`
}

// TransportMode constants
const (
	TransportModeWalking = "WALKING"
	TransportModeCycling = "CYCLING"
	TransportModeDriving = "DRIVING"
	TransportModeTransit = "TRANSIT"
	TransportModeUnknown = "UNKNOWN"
)
