package trips

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/pipeline/userlock"
	"github.com/veloview/timeline-backend-go/internal/repository"
	"github.com/veloview/timeline-backend-go/internal/spatial"
)

// Deduplicator collapses duplicate trips left behind by overlapping
// recomputes. Trips are grouped twice, once on minute-rounded start time
// and once on minute-rounded end time, so near-duplicates shifted by a few
// seconds on either side are caught.
type Deduplicator struct {
	trips  *repository.TripRepository
	points *repository.PointRepository
	places *repository.PlaceRepository
	locks  *userlock.Registry
	logger *zap.Logger
}

// NewDeduplicator creates a trip deduplicator.
func NewDeduplicator(
	trips *repository.TripRepository,
	points *repository.PointRepository,
	places *repository.PlaceRepository,
	locks *userlock.Registry,
	logger *zap.Logger,
) *Deduplicator {
	return &Deduplicator{trips: trips, points: points, places: places, locks: locks, logger: logger}
}

// HandleMessage decodes a trip.merge event and runs deduplication.
func (d *Deduplicator) HandleMessage(msg *message.Message) error {
	var evt bus.TripMergeEvent
	if err := bus.Unmarshal(msg, &evt); err != nil {
		return err
	}
	var from, to time.Time
	if evt.EarliestUnix != 0 || evt.LatestUnix != 0 {
		from = time.Unix(evt.EarliestUnix, 0).UTC()
		to = time.Unix(evt.LatestUnix, 0).UTC()
	}
	d.Process(evt.UserID, from, to)
	return nil
}

// Process merges duplicate trips for the user. A zero from/to pair means
// the whole history. Failures are logged and the event dropped.
func (d *Deduplicator) Process(userID string, from, to time.Time) {
	d.locks.Lock(userID)
	defer d.locks.Unlock(userID)

	for _, byStart := range []bool{true, false} {
		trips, err := d.load(userID, from, to)
		if err != nil {
			d.logger.Error("failed to load trips",
				zap.String("user", userID), zap.Error(err))
			return
		}
		if err := d.mergePass(userID, trips, byStart); err != nil {
			if errors.Is(err, repository.ErrOptimisticLock) {
				d.logger.Warn("dropping trip merge after concurrent trip change",
					zap.String("user", userID))
				return
			}
			d.logger.Error("failed to merge trips",
				zap.String("user", userID), zap.Error(err))
			return
		}
	}
}

func (d *Deduplicator) load(userID string, from, to time.Time) ([]models.Trip, error) {
	if from.IsZero() && to.IsZero() {
		return d.trips.FindByUser(userID)
	}
	return d.trips.FindInRange(userID, from, to)
}

// mergePass groups the trips and replaces every multi-member group with a
// single merged trip.
func (d *Deduplicator) mergePass(userID string, trips []models.Trip, byStart bool) error {
	groups := make(map[string][]models.Trip)
	for _, t := range trips {
		key := groupKey(&t, byStart)
		groups[key] = append(groups[key], t)
	}

	merged := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		if err := d.mergeGroup(userID, group); err != nil {
			return err
		}
		merged += len(group)
	}
	if merged > 0 {
		d.logger.Info("merged duplicate trips",
			zap.String("user", userID), zap.Int("count", merged), zap.Bool("byStart", byStart))
	}
	return nil
}

// groupKey identifies near-duplicate trips: same endpoints and the same
// minute on one side.
func groupKey(t *models.Trip, byStart bool) string {
	timeKey := t.EndTime.Unix() / 60
	if byStart {
		timeKey = t.StartTime.Unix() / 60
	}
	return fmt.Sprintf("%d_%d_%d", t.StartPlaceID, t.EndPlaceID, timeKey)
}

// mergeGroup replaces a group of duplicates with one trip spanning the
// earliest start to the latest end, with distance recomputed from raw
// points rather than summed across the duplicates.
func (d *Deduplicator) mergeGroup(userID string, group []models.Trip) error {
	base := group[0]
	earliestStart := base.StartTime
	latestEnd := base.EndTime
	for _, t := range group[1:] {
		if t.StartTime.Before(earliestStart) {
			earliestStart = t.StartTime
		}
		if t.EndTime.After(latestEnd) {
			latestEnd = t.EndTime
		}
	}

	travelled, err := d.recomputeTravelled(userID, earliestStart, latestEnd)
	if err != nil {
		return err
	}
	estimated, err := d.estimatedDistance(base.StartPlaceID, base.EndPlaceID)
	if err != nil {
		return err
	}
	if estimated == 0 {
		estimated = travelled
	}

	for _, t := range group {
		if err := d.trips.DeleteVersioned(t.ID, t.Version); err != nil {
			return err
		}
	}

	distanceForSpeed := travelled
	if distanceForSpeed == 0 {
		distanceForSpeed = estimated
	}
	mergedTrip := &models.Trip{
		UserID:                  userID,
		StartTime:               earliestStart,
		EndTime:                 latestEnd,
		DurationSeconds:         int64(latestEnd.Sub(earliestStart).Seconds()),
		EstimatedDistanceMeters: estimated,
		TravelledDistanceMeters: travelled,
		TransportMode:           mostCommonTransportMode(group),
		StartVisitID:            base.StartVisitID,
		EndVisitID:              base.EndVisitID,
		StartPlaceID:            base.StartPlaceID,
		EndPlaceID:              base.EndPlaceID,
	}
	return d.trips.Insert(mergedTrip)
}

func (d *Deduplicator) recomputeTravelled(userID string, start, end time.Time) (float64, error) {
	points, err := d.points.FindInRange(userID, start, end)
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

func (d *Deduplicator) estimatedDistance(startPlaceID, endPlaceID int64) (float64, error) {
	if startPlaceID == 0 || endPlaceID == 0 {
		return 0, nil
	}
	start, err := d.places.FindByID(startPlaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	end, err := d.places.FindByID(endPlaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return spatial.HaversineDistance(start.Latitude, start.Longitude, end.Latitude, end.Longitude), nil
}

// mostCommonTransportMode returns the majority mode across the group.
func mostCommonTransportMode(group []models.Trip) string {
	counts := make(map[string]int)
	for _, t := range group {
		if t.TransportMode != "" {
			counts[t.TransportMode]++
		}
	}
	best := models.TransportModeUnknown
	bestCount := 0
	for mode, count := range counts {
		if count > bestCount {
			best = mode
			bestCount = count
		}
	}
	return best
}
