// Package trips derives trips from gaps between consecutive processed
// visits and collapses duplicates produced by overlapping recomputes.
package trips

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/pipeline/userlock"
	"github.com/veloview/timeline-backend-go/internal/repository"
	"github.com/veloview/timeline-backend-go/internal/spatial"
)

// Average speed bands for transport mode inference, in km/h.
const (
	walkingMaxKmh = 7.0
	cyclingMaxKmh = 20.0
	drivingMaxKmh = 120.0
)

type publisher interface {
	Publish(topic string, payload interface{}) error
}

// Detector consumes trip.detect events and creates trips between
// consecutive processed visits around the triggering one.
type Detector struct {
	processed *repository.ProcessedVisitRepository
	points    *repository.PointRepository
	trips     *repository.TripRepository
	locks     *userlock.Registry
	publisher publisher
	window    time.Duration
	logger    *zap.Logger
}

// NewDetector creates a trip detector searching searchWindowHours around
// the triggering visit.
func NewDetector(
	processed *repository.ProcessedVisitRepository,
	points *repository.PointRepository,
	trips *repository.TripRepository,
	locks *userlock.Registry,
	pub publisher,
	searchWindowHours int,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		processed: processed,
		points:    points,
		trips:     trips,
		locks:     locks,
		publisher: pub,
		window:    time.Duration(searchWindowHours) * time.Hour,
		logger:    logger,
	}
}

// HandleMessage decodes a trip.detect event and runs detection.
func (d *Detector) HandleMessage(msg *message.Message) error {
	var evt bus.TripDetectEvent
	if err := bus.Unmarshal(msg, &evt); err != nil {
		return err
	}
	d.Process(evt.UserID, time.Unix(evt.VisitStartUnix, 0).UTC(), time.Unix(evt.VisitEndUnix, 0).UTC())
	return nil
}

// Process creates trips between consecutive processed visits found within
// the search window around the triggering visit. Existing identical trips
// are left alone. Failures are logged and the event dropped.
func (d *Detector) Process(userID string, visitStart, visitEnd time.Time) {
	d.locks.Lock(userID)
	defer d.locks.Unlock(userID)

	windowStart := visitStart.Add(-d.window)
	windowEnd := visitEnd.Add(d.window)
	visits, err := d.processed.FindInRange(userID, windowStart, windowEnd)
	if err != nil {
		d.logger.Error("failed to load processed visits",
			zap.String("user", userID), zap.Error(err))
		return
	}
	if len(visits) < 2 {
		return
	}

	created := 0
	for i := 0; i < len(visits)-1; i++ {
		trip, err := d.tripBetween(userID, &visits[i], &visits[i+1])
		if err != nil {
			d.logger.Error("failed to create trip",
				zap.String("user", userID), zap.Error(err))
			return
		}
		if trip != nil {
			created++
		}
	}
	if created > 0 {
		d.logger.Info("detected trips",
			zap.String("user", userID), zap.Int("count", created))

		evt := bus.TripMergeEvent{
			UserID:       userID,
			EarliestUnix: windowStart.Unix(),
			LatestUnix:   windowEnd.Unix(),
		}
		if err := d.publisher.Publish(bus.TopicTripMerge, evt); err != nil {
			d.logger.Error("failed to publish trip merge",
				zap.String("user", userID), zap.Error(err))
		}
	}
}

// tripBetween creates the trip spanning the gap between two consecutive
// visits, or returns nil when the pair yields no valid new trip.
func (d *Detector) tripBetween(userID string, startVisit, endVisit *models.ProcessedVisit) (*models.Trip, error) {
	tripStart := startVisit.EndTime
	tripEnd := endVisit.StartTime
	if !tripEnd.After(tripStart) {
		return nil, nil
	}

	// either visit may have been replaced by a concurrent recompute
	for _, id := range []int64{startVisit.ID, endVisit.ID} {
		if _, err := d.processed.FindByID(id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
	}

	exists, err := d.trips.Exists(userID, tripStart, tripEnd)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	estimated := 0.0
	if startVisit.Place != nil && endVisit.Place != nil {
		estimated = spatial.HaversineDistance(
			startVisit.Place.Latitude, startVisit.Place.Longitude,
			endVisit.Place.Latitude, endVisit.Place.Longitude)
	}
	travelled, err := d.travelledDistance(userID, tripStart, tripEnd)
	if err != nil {
		return nil, err
	}

	distanceForSpeed := travelled
	if distanceForSpeed == 0 {
		distanceForSpeed = estimated
	}

	trip := &models.Trip{
		UserID:                  userID,
		StartTime:               tripStart,
		EndTime:                 tripEnd,
		DurationSeconds:         int64(tripEnd.Sub(tripStart).Seconds()),
		EstimatedDistanceMeters: estimated,
		TravelledDistanceMeters: travelled,
		TransportMode:           inferTransportMode(distanceForSpeed, tripStart, tripEnd),
		StartVisitID:            startVisit.ID,
		EndVisitID:              endVisit.ID,
		StartPlaceID:            startVisit.PlaceID,
		EndPlaceID:              endVisit.PlaceID,
	}
	if err := d.trips.Insert(trip); err != nil {
		return nil, err
	}
	return trip, nil
}

func (d *Detector) travelledDistance(userID string, start, end time.Time) (float64, error) {
	points, err := d.points.FindBetweenExclusive(userID, start, end)
	if err != nil {
		return 0, err
	}
	if len(points) < 2 {
		return 0, nil
	}
	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Latitude
		lons[i] = p.Longitude
	}
	return spatial.PathDistance(lats, lons), nil
}

// inferTransportMode buckets the average speed over the trip.
func inferTransportMode(distanceMeters float64, start, end time.Time) string {
	durationSeconds := end.Unix() - start.Unix()
	if durationSeconds <= 0 {
		return models.TransportModeUnknown
	}
	speedKmh := distanceMeters / float64(durationSeconds) * 3.6
	switch {
	case speedKmh < walkingMaxKmh:
		return models.TransportModeWalking
	case speedKmh < cyclingMaxKmh:
		return models.TransportModeCycling
	case speedKmh < drivingMaxKmh:
		return models.TransportModeDriving
	default:
		return models.TransportModeTransit
	}
}
