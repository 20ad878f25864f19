// Package ingest consumes raw location batches, filters anomalies and
// persists the surviving points.
package ingest

import (
	"sort"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/pipeline/anomaly"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

// Handler processes location.data events.
type Handler struct {
	points *repository.PointRepository
	filter *anomaly.Filter
	logger *zap.Logger
}

// NewHandler creates an ingest handler.
func NewHandler(points *repository.PointRepository, filter *anomaly.Filter, logger *zap.Logger) *Handler {
	return &Handler{points: points, filter: filter, logger: logger}
}

// HandleMessage decodes a location.data event and stores its points.
func (h *Handler) HandleMessage(msg *message.Message) error {
	var evt bus.LocationDataEvent
	if err := bus.Unmarshal(msg, &evt); err != nil {
		return err
	}
	saved, err := h.Process(evt.UserID, evt.Points)
	if err != nil {
		return err
	}
	if saved > 0 {
		h.logger.Info("saved new location points",
			zap.String("user", evt.UserID), zap.Int("count", saved))
	}
	return nil
}

// Process parses, orders and filters a batch, then persists the surviving
// points. Unparsable samples are skipped, duplicates are ignored. Returns
// the number of newly stored points.
func (h *Handler) Process(userID string, incoming []models.IncomingPoint) (int, error) {
	points := make([]models.RawPoint, 0, len(incoming))
	for _, p := range incoming {
		ts, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			h.logger.Debug("skipping point with unparsable timestamp",
				zap.String("user", userID), zap.String("timestamp", p.Timestamp))
			continue
		}
		points = append(points, models.RawPoint{
			UserID:         userID,
			Timestamp:      ts.UTC(),
			Latitude:       p.Latitude,
			Longitude:      p.Longitude,
			AccuracyMeters: p.AccuracyMeters,
		})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	kept := h.filter.Apply(points)

	saved := 0
	duplicates := 0
	for i := range kept {
		inserted, err := h.points.Insert(&kept[i])
		if err != nil {
			h.logger.Warn("failed to store location point",
				zap.String("user", userID), zap.Time("timestamp", kept[i].Timestamp), zap.Error(err))
			continue
		}
		if inserted {
			saved++
		} else {
			duplicates++
		}
	}
	if duplicates > 0 {
		h.logger.Debug("skipped duplicate points",
			zap.String("user", userID), zap.Int("count", duplicates))
	}
	return saved, nil
}
