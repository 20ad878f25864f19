package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veloview/timeline-backend-go/internal/middleware"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/repository"
	"github.com/veloview/timeline-backend-go/pkg/response"
)

// PlaceHandler serves and renames significant places.
type PlaceHandler struct {
	places *repository.PlaceRepository
}

// NewPlaceHandler creates a new place handler
func NewPlaceHandler(places *repository.PlaceRepository) *PlaceHandler {
	return &PlaceHandler{places: places}
}

// GetPlace handles GET /api/v1/places/:id
func (h *PlaceHandler) GetPlace(c *gin.Context) {
	place, ok := h.ownedPlace(c)
	if !ok {
		return
	}
	response.Success(c, place)
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenamePlace handles PUT /api/v1/places/:id. A user-chosen name overrides
// whatever the geocoder found.
func (h *PlaceHandler) RenamePlace(c *gin.Context) {
	place, ok := h.ownedPlace(c)
	if !ok {
		return
	}

	var body renameRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	place.Name = body.Name
	if err := h.places.UpdateVersioned(place); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			response.Conflict(c, "place was modified concurrently, retry")
			return
		}
		response.InternalError(c, "failed to rename place")
		return
	}
	response.Success(c, place)
}

// ownedPlace loads the place from the path id, enforcing that it belongs
// to the requesting user.
func (h *PlaceHandler) ownedPlace(c *gin.Context) (*models.SignificantPlace, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid place ID")
		return nil, false
	}

	place, err := h.places.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.NotFound(c, "place not found")
			return nil, false
		}
		response.InternalError(c, "failed to load place")
		return nil, false
	}
	if place.UserID != middleware.UserID(c) {
		response.NotFound(c, "place not found")
		return nil, false
	}
	return place, true
}
