package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/config"
	"github.com/veloview/timeline-backend-go/internal/handler"
	"github.com/veloview/timeline-backend-go/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Locations *handler.LocationHandler
	Timeline  *handler.TimelineHandler
	Places    *handler.PlaceHandler
	Process   *handler.ProcessHandler
}

// SetupRouter wires all HTTP routes.
func SetupRouter(cfg *config.Config, h Handlers, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger(logger))
	r.Use(gin.Recovery())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.Use(middleware.RateLimit(600, time.Minute))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Timeline Backend API is running",
		})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTSecret))
	{
		api.POST("/locations", h.Locations.Upload)

		timeline := api.Group("/timeline")
		{
			timeline.GET("/visits", h.Timeline.GetVisits)
			timeline.GET("/trips", h.Timeline.GetTrips)
		}

		places := api.Group("/places")
		{
			places.GET("/:id", h.Places.GetPlace)
			places.PUT("/:id", h.Places.RenamePlace)
		}

		api.POST("/process", h.Process.TriggerProcessing)

		imports := api.Group("/import")
		{
			imports.POST("/started", h.Process.ImportStarted)
			imports.POST("/finished", h.Process.ImportFinished)
		}
	}

	return r
}
