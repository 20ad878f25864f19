package models

import "time"

// StayPoint is a transient spatio-temporal cluster of raw samples indicating
// the user remained roughly stationary. It is never persisted; the detector
// converts surviving stay points into Visits.
type StayPoint struct {
	Latitude      float64
	Longitude     float64
	ArrivalTime   time.Time
	DepartureTime time.Time
	Points        []RawPoint
}

// DurationSeconds returns the time spent at the stay point.
func (s StayPoint) DurationSeconds() int64 {
	return int64(s.DepartureTime.Sub(s.ArrivalTime).Seconds())
}
