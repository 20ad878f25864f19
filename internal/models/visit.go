package models

import "time"

// Visit is one detected stay before place resolution is finalized at merge
// time. Created by the stay-point detector, consumed by the visit merger.
type Visit struct {
	ID              int64     `json:"id" db:"id"`
	UserID          string    `json:"userId" db:"user_id"`
	Latitude        float64   `json:"latitude" db:"latitude"`
	Longitude       float64   `json:"longitude" db:"longitude"`
	StartTime       time.Time `json:"startTime" db:"start_time"`
	EndTime         time.Time `json:"endTime" db:"end_time"`
	DurationSeconds int64     `json:"durationSeconds" db:"duration_seconds"`
	Processed       bool      `json:"processed" db:"processed"`
	Version         int64     `json:"version" db:"version"`
}
