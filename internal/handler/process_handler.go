package handler

import (
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/middleware"
	"github.com/veloview/timeline-backend-go/internal/pipeline/trigger"
	"github.com/veloview/timeline-backend-go/pkg/response"
)

// ProcessHandler exposes manual pipeline triggering and the bulk import
// state flag used by external importers.
type ProcessHandler struct {
	publisher   publisher
	importState *trigger.ImportStateHolder
	logger      *zap.Logger
}

// NewProcessHandler creates a new process handler
func NewProcessHandler(pub publisher, importState *trigger.ImportStateHolder, logger *zap.Logger) *ProcessHandler {
	return &ProcessHandler{publisher: pub, importState: importState, logger: logger}
}

// TriggerProcessing handles POST /api/v1/process
func (h *ProcessHandler) TriggerProcessing(c *gin.Context) {
	userID := middleware.UserID(c)
	evt := bus.TriggerProcessingEvent{UserID: userID}
	if err := h.publisher.Publish(bus.TopicTriggerProcessing, evt); err != nil {
		h.logger.Error("failed to publish processing trigger",
			zap.String("user", userID), zap.Error(err))
		response.InternalError(c, "failed to queue processing")
		return
	}
	response.Accepted(c, nil)
}

// ImportStarted handles POST /api/v1/import/started. The pipeline trigger
// defers while the flag is set.
func (h *ProcessHandler) ImportStarted(c *gin.Context) {
	h.importState.ImportStarted()
	response.Success(c, nil)
}

// ImportFinished handles POST /api/v1/import/finished
func (h *ProcessHandler) ImportFinished(c *gin.Context) {
	h.importState.ImportFinished()
	response.Success(c, nil)
}
