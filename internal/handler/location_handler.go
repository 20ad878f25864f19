package handler

import (
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/middleware"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/pkg/response"
)

type publisher interface {
	Publish(topic string, payload interface{}) error
}

// LocationHandler accepts raw location uploads and hands them to the
// ingest stage via the bus.
type LocationHandler struct {
	publisher publisher
	logger    *zap.Logger
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(pub publisher, logger *zap.Logger) *LocationHandler {
	return &LocationHandler{publisher: pub, logger: logger}
}

type locationUpload struct {
	Points []models.IncomingPoint `json:"points" binding:"required"`
}

// Upload handles POST /api/v1/locations
func (h *LocationHandler) Upload(c *gin.Context) {
	var body locationUpload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if len(body.Points) == 0 {
		response.BadRequest(c, "no points supplied")
		return
	}

	userID := middleware.UserID(c)
	evt := bus.LocationDataEvent{UserID: userID, Points: body.Points}
	if err := h.publisher.Publish(bus.TopicLocationData, evt); err != nil {
		h.logger.Error("failed to publish location batch",
			zap.String("user", userID), zap.Error(err))
		response.InternalError(c, "failed to queue location data")
		return
	}

	response.Accepted(c, gin.H{"received": len(body.Points)})
}
