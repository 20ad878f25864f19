// Package merging folds detected visits into the canonical processed
// timeline, collapsing consecutive visits at the same place.
package merging

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/config"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/pipeline/place"
	"github.com/veloview/timeline-backend-go/internal/pipeline/userlock"
	"github.com/veloview/timeline-backend-go/internal/repository"
	"github.com/veloview/timeline-backend-go/internal/spatial"
)

const maxWindowGrowthRounds = 8

// Fewer gap points than this means the stretch between two visits was
// effectively untracked, so a same-place pair merges by default.
const minGapPointsForSplit = 3

type publisher interface {
	Publish(topic string, payload interface{}) error
}

// Merger consumes visit.updated events and rebuilds the processed visits
// inside the affected window.
type Merger struct {
	visits    *repository.VisitRepository
	processed *repository.ProcessedVisitRepository
	points    *repository.PointRepository
	resolver  *place.Resolver
	locks     *userlock.Registry
	publisher publisher
	cfg       config.VisitMerging
	logger    *zap.Logger
}

// NewMerger creates a visit merger.
func NewMerger(
	visits *repository.VisitRepository,
	processed *repository.ProcessedVisitRepository,
	points *repository.PointRepository,
	resolver *place.Resolver,
	locks *userlock.Registry,
	pub publisher,
	cfg config.VisitMerging,
	logger *zap.Logger,
) *Merger {
	return &Merger{
		visits:    visits,
		processed: processed,
		points:    points,
		resolver:  resolver,
		locks:     locks,
		publisher: pub,
		cfg:       cfg,
		logger:    logger,
	}
}

// HandleMessage decodes a visit.updated event and rebuilds the window.
func (m *Merger) HandleMessage(msg *message.Message) error {
	var evt bus.VisitUpdatedEvent
	if err := bus.Unmarshal(msg, &evt); err != nil {
		return err
	}
	m.Process(evt.UserID, time.Unix(evt.EarliestUnix, 0).UTC(), time.Unix(evt.LatestUnix, 0).UTC())
	return nil
}

// Process rebuilds the processed timeline around [earliest, latest]. The
// window is extended by the configured search duration on both sides and
// grown to fully cover any processed visit it clips, so merges across the
// original boundary are found and nothing is truncated. Failures are
// logged and the event dropped.
func (m *Merger) Process(userID string, earliest, latest time.Time) {
	m.locks.Lock(userID)
	defer m.locks.Unlock(userID)

	extension := time.Duration(m.cfg.SearchDurationHours) * time.Hour
	windowStart := earliest.Add(-extension)
	windowEnd := latest.Add(extension)

	stale, err := m.stabilizeWindow(userID, &windowStart, &windowEnd)
	if err != nil {
		m.logger.Error("failed to load processed visits",
			zap.String("user", userID), zap.Error(err))
		return
	}
	for _, pv := range stale {
		if err := m.processed.DeleteVersioned(pv.ID, pv.Version); err != nil {
			if errors.Is(err, repository.ErrOptimisticLock) {
				m.logger.Warn("dropping visit merge after concurrent timeline change",
					zap.String("user", userID), zap.Int64("processedVisit", pv.ID))
				return
			}
			m.logger.Error("failed to delete processed visit",
				zap.String("user", userID), zap.Int64("processedVisit", pv.ID), zap.Error(err))
			return
		}
	}

	visits, err := m.visits.FindOverlapping(userID, windowStart, windowEnd)
	if err != nil {
		m.logger.Error("failed to load visits",
			zap.String("user", userID), zap.Error(err))
		return
	}
	if len(visits) == 0 {
		return
	}

	merged, err := m.mergeChronologically(userID, visits)
	if err != nil {
		m.logger.Error("failed to merge visits",
			zap.String("user", userID), zap.Error(err))
		return
	}

	visitIDs := make([]int64, len(visits))
	for i, v := range visits {
		visitIDs[i] = v.ID
	}
	if err := m.visits.MarkProcessed(visitIDs); err != nil {
		m.logger.Error("failed to mark visits processed",
			zap.String("user", userID), zap.Error(err))
		return
	}

	m.logger.Info("merged visits",
		zap.String("user", userID), zap.Int("visits", len(visits)), zap.Int("processed", len(merged)))

	for _, pv := range merged {
		evt := bus.TripDetectEvent{
			UserID:         userID,
			VisitStartUnix: pv.StartTime.Unix(),
			VisitEndUnix:   pv.EndTime.Unix(),
		}
		if err := m.publisher.Publish(bus.TopicTripDetect, evt); err != nil {
			m.logger.Error("failed to publish trip detection",
				zap.String("user", userID), zap.Error(err))
		}
	}
}

func (m *Merger) stabilizeWindow(userID string, windowStart, windowEnd *time.Time) ([]models.ProcessedVisit, error) {
	var stale []models.ProcessedVisit
	for round := 0; round < maxWindowGrowthRounds; round++ {
		var err error
		stale, err = m.processed.FindOverlapping(userID, *windowStart, *windowEnd)
		if err != nil {
			return nil, err
		}

		grown := false
		for _, pv := range stale {
			if pv.StartTime.Before(*windowStart) {
				*windowStart = pv.StartTime
				grown = true
			}
			if pv.EndTime.After(*windowEnd) {
				*windowEnd = pv.EndTime
				grown = true
			}
		}
		if !grown {
			break
		}
	}
	return stale, nil
}

// mergeChronologically walks the visits in start order, keeping an open
// range that absorbs the next visit when it resolves to the same place and
// either follows closely or the gap shows no real movement.
func (m *Merger) mergeChronologically(userID string, visits []models.Visit) ([]*models.ProcessedVisit, error) {
	currentPlace, err := m.resolver.Resolve(userID, visits[0].Latitude, visits[0].Longitude)
	if err != nil {
		return nil, err
	}
	currentStart := visits[0].StartTime
	currentEnd := visits[0].EndTime

	var result []*models.ProcessedVisit
	for _, next := range visits[1:] {
		nextPlace, err := m.resolver.Resolve(userID, next.Latitude, next.Longitude)
		if err != nil {
			return nil, err
		}

		if nextPlace.ID == currentPlace.ID {
			gap := next.StartTime.Sub(currentEnd)
			if gap <= time.Duration(m.cfg.MergeThresholdSeconds)*time.Second {
				currentEnd = laterOf(currentEnd, next.EndTime)
				continue
			}
			fluke, err := m.gapIsFluke(userID, currentEnd, next.StartTime)
			if err != nil {
				return nil, err
			}
			if fluke {
				currentEnd = laterOf(currentEnd, next.EndTime)
				continue
			}
		}

		if next.StartTime.Before(currentEnd) {
			currentEnd = next.StartTime
		}
		pv, err := m.store(userID, currentPlace.ID, currentStart, currentEnd)
		if err != nil {
			return nil, err
		}
		result = append(result, pv)

		currentPlace = nextPlace
		currentStart = next.StartTime
		currentEnd = next.EndTime
	}

	pv, err := m.store(userID, currentPlace.ID, currentStart, currentEnd)
	if err != nil {
		return nil, err
	}
	return append(result, pv), nil
}

// gapIsFluke reports whether the stretch between two same-place visits
// looks like sensor noise rather than a real departure: either too few
// points were recorded, or the path travelled stays short.
func (m *Merger) gapIsFluke(userID string, gapStart, gapEnd time.Time) (bool, error) {
	gapPoints, err := m.points.FindBetweenExclusive(userID, gapStart, gapEnd)
	if err != nil {
		return false, err
	}
	if len(gapPoints) < minGapPointsForSplit {
		return true, nil
	}
	lats := make([]float64, len(gapPoints))
	lons := make([]float64, len(gapPoints))
	for i, p := range gapPoints {
		lats[i] = p.Latitude
		lons[i] = p.Longitude
	}
	return spatial.PathDistance(lats, lons) < m.cfg.MergeThresholdMeters, nil
}

func (m *Merger) store(userID string, placeID int64, start, end time.Time) (*models.ProcessedVisit, error) {
	pv := &models.ProcessedVisit{
		UserID:          userID,
		PlaceID:         placeID,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: int64(end.Sub(start).Seconds()),
	}
	if err := m.processed.Insert(pv); err != nil {
		return nil, err
	}
	return pv, nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
