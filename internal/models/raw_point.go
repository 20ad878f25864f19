package models

import "time"

// RawPoint represents a single normalized GPS sample for a user.
// Points are immutable once stored; Processed marks consumption by the
// stay-point detector.
type RawPoint struct {
	ID             int64     `json:"id" db:"id"`
	UserID         string    `json:"userId" db:"user_id"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters" db:"accuracy_meters"`
	Processed      bool      `json:"processed" db:"processed"`
}

// IncomingPoint is a not-yet-validated sample as delivered by importers and
// trackers. The timestamp stays a string until ingest parses it; samples
// with unparsable timestamps are skipped, not fatal.
type IncomingPoint struct {
	Timestamp      string  `json:"timestamp"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}
