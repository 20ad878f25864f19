package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veloview/timeline-backend-go/internal/middleware"
	"github.com/veloview/timeline-backend-go/internal/repository"
	"github.com/veloview/timeline-backend-go/pkg/response"
)

// TimelineHandler serves the user-facing visit and trip history.
type TimelineHandler struct {
	processed *repository.ProcessedVisitRepository
	trips     *repository.TripRepository
}

// NewTimelineHandler creates a new timeline handler
func NewTimelineHandler(processed *repository.ProcessedVisitRepository, trips *repository.TripRepository) *TimelineHandler {
	return &TimelineHandler{processed: processed, trips: trips}
}

// GetVisits handles GET /api/v1/timeline/visits
func (h *TimelineHandler) GetVisits(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}

	visits, err := h.processed.FindInRange(middleware.UserID(c), from, to)
	if err != nil {
		response.InternalError(c, "failed to load visits")
		return
	}
	response.Success(c, gin.H{"visits": visits, "total": len(visits)})
}

// GetTrips handles GET /api/v1/timeline/trips
func (h *TimelineHandler) GetTrips(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}

	trips, err := h.trips.FindInRange(middleware.UserID(c), from, to)
	if err != nil {
		response.InternalError(c, "failed to load trips")
		return
	}
	response.Success(c, gin.H{"trips": trips, "total": len(trips)})
}

// timeRange parses the from/to query parameters, defaulting to the last
// seven days when absent.
func timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(c, "invalid from timestamp")
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(c, "invalid to timestamp")
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}
	if to.Before(from) {
		response.BadRequest(c, "to must not precede from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
