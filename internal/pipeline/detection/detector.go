// Package detection finds stay points in windows of raw location points and
// materializes them as visits.
package detection

import (
	"errors"
	"sort"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/config"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/pipeline/userlock"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

// Recompute windows grow to cover visits they clip; growth is bounded to
// keep a pathological timeline from expanding forever.
const maxWindowGrowthRounds = 8

type publisher interface {
	Publish(topic string, payload interface{}) error
}

// Detector consumes stay.detection events and rewrites the visits inside
// the event's window.
type Detector struct {
	points    *repository.PointRepository
	visits    *repository.VisitRepository
	locks     *userlock.Registry
	publisher publisher
	cfg       config.VisitDetection
	padding   time.Duration
	logger    *zap.Logger
}

// NewDetector creates a stay-point detector.
func NewDetector(
	points *repository.PointRepository,
	visits *repository.VisitRepository,
	locks *userlock.Registry,
	pub publisher,
	cfg config.VisitDetection,
	windowPadMinutes int,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		points:    points,
		visits:    visits,
		locks:     locks,
		publisher: pub,
		cfg:       cfg,
		padding:   time.Duration(windowPadMinutes) * time.Minute,
		logger:    logger,
	}
}

// HandleMessage decodes a stay.detection event and recomputes the window.
func (d *Detector) HandleMessage(msg *message.Message) error {
	var evt bus.StayDetectionEvent
	if err := bus.Unmarshal(msg, &evt); err != nil {
		return err
	}
	d.Process(evt.UserID, time.Unix(evt.EarliestUnix, 0).UTC(), time.Unix(evt.LatestUnix, 0).UTC())
	return nil
}

// Process recomputes the visits whose window intersects [earliest, latest].
// The window is padded on both sides, then grown until it fully covers
// every existing visit it touches so boundary visits are replaced whole
// instead of truncated. Failures are logged and the event dropped.
func (d *Detector) Process(userID string, earliest, latest time.Time) {
	d.locks.Lock(userID)
	defer d.locks.Unlock(userID)

	windowStart := earliest.Add(-d.padding)
	windowEnd := latest.Add(d.padding)

	existing, err := d.stabilizeWindow(userID, &windowStart, &windowEnd)
	if err != nil {
		d.logger.Error("failed to load existing visits",
			zap.String("user", userID), zap.Error(err))
		return
	}

	for _, v := range existing {
		if err := d.visits.DeleteVersioned(v.ID, v.Version); err != nil {
			if errors.Is(err, repository.ErrOptimisticLock) {
				d.logger.Warn("dropping stay detection after concurrent visit change",
					zap.String("user", userID), zap.Int64("visit", v.ID))
				return
			}
			d.logger.Error("failed to delete visit",
				zap.String("user", userID), zap.Int64("visit", v.ID), zap.Error(err))
			return
		}
	}

	clusters, err := d.points.ClusteredPointsInRange(userID, windowStart, windowEnd,
		d.cfg.SearchDistanceMeters, d.cfg.MinimumAdjacentPoints)
	if err != nil {
		d.logger.Error("failed to cluster points",
			zap.String("user", userID), zap.Error(err))
		return
	}

	stayPoints := d.buildStayPoints(clusters)
	d.logger.Debug("detected stay points",
		zap.String("user", userID), zap.Int("count", len(stayPoints)))

	created := 0
	for _, sp := range stayPoints {
		visit := &models.Visit{
			UserID:          userID,
			Latitude:        sp.Latitude,
			Longitude:       sp.Longitude,
			StartTime:       sp.ArrivalTime,
			EndTime:         sp.DepartureTime,
			DurationSeconds: sp.DurationSeconds(),
		}
		if err := d.visits.Insert(visit); err != nil {
			d.logger.Error("failed to insert visit",
				zap.String("user", userID), zap.Error(err))
			return
		}
		created++
	}

	if len(existing) == 0 && created == 0 {
		return
	}
	evt := bus.VisitUpdatedEvent{
		UserID:       userID,
		EarliestUnix: windowStart.Unix(),
		LatestUnix:   windowEnd.Unix(),
	}
	if err := d.publisher.Publish(bus.TopicVisitUpdated, evt); err != nil {
		d.logger.Error("failed to publish visit update",
			zap.String("user", userID), zap.Error(err))
	}
}

// stabilizeWindow grows [windowStart, windowEnd] until it covers the full
// range of every visit overlapping it, returning the final overlap set.
func (d *Detector) stabilizeWindow(userID string, windowStart, windowEnd *time.Time) ([]models.Visit, error) {
	var existing []models.Visit
	for round := 0; round < maxWindowGrowthRounds; round++ {
		var err error
		existing, err = d.visits.FindOverlapping(userID, *windowStart, *windowEnd)
		if err != nil {
			return nil, err
		}

		grown := false
		for _, v := range existing {
			if v.StartTime.Before(*windowStart) {
				*windowStart = v.StartTime
				grown = true
			}
			if v.EndTime.After(*windowEnd) {
				*windowEnd = v.EndTime
				grown = true
			}
		}
		if !grown {
			break
		}
	}
	return existing, nil
}

// buildStayPoints splits each spatial cluster on time gaps, drops short
// stays and computes accuracy-weighted centroids for the rest.
func (d *Detector) buildStayPoints(clusters [][]models.RawPoint) []models.StayPoint {
	maxGap := time.Duration(d.cfg.MaxMergeGapSeconds) * time.Second
	minStay := time.Duration(d.cfg.MinimumStaySeconds) * time.Second

	var stayPoints []models.StayPoint
	for _, cluster := range clusters {
		sort.Slice(cluster, func(i, j int) bool {
			return cluster[i].Timestamp.Before(cluster[j].Timestamp)
		})

		for _, sub := range splitOnGaps(cluster, maxGap) {
			span := sub[len(sub)-1].Timestamp.Sub(sub[0].Timestamp)
			if span <= minStay {
				continue
			}
			lat, lon := weightedCenter(sub)
			stayPoints = append(stayPoints, models.StayPoint{
				Latitude:      lat,
				Longitude:     lon,
				ArrivalTime:   sub[0].Timestamp,
				DepartureTime: sub[len(sub)-1].Timestamp,
				Points:        sub,
			})
		}
	}

	sort.Slice(stayPoints, func(i, j int) bool {
		return stayPoints[i].ArrivalTime.Before(stayPoints[j].ArrivalTime)
	})
	return stayPoints
}

// splitOnGaps partitions a time-ordered cluster wherever consecutive points
// are further apart than maxGap. Revisits on different days stay separate.
func splitOnGaps(cluster []models.RawPoint, maxGap time.Duration) [][]models.RawPoint {
	if len(cluster) == 0 {
		return nil
	}
	var subs [][]models.RawPoint
	current := []models.RawPoint{cluster[0]}
	for i := 1; i < len(cluster); i++ {
		if cluster[i].Timestamp.Sub(cluster[i-1].Timestamp) < maxGap {
			current = append(current, cluster[i])
		} else {
			subs = append(subs, current)
			current = []models.RawPoint{cluster[i]}
		}
	}
	return append(subs, current)
}

// weightedCenter averages coordinates weighted by 1/accuracy, so precise
// fixes pull the centroid harder than noisy ones.
func weightedCenter(points []models.RawPoint) (lat, lon float64) {
	var weightSum, latSum, lonSum float64
	for _, p := range points {
		weight := 1.0
		if p.AccuracyMeters > 0 {
			weight = 1.0 / p.AccuracyMeters
		}
		weightSum += weight
		latSum += p.Latitude * weight
		lonSum += p.Longitude * weight
	}
	return latSum / weightSum, lonSum / weightSum
}
