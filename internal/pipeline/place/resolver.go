// Package place resolves stay centroids to significant places, reusing a
// nearby existing place or creating a new one.
package place

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

type publisher interface {
	Publish(topic string, payload interface{}) error
}

// Resolver maps coordinates to significant places.
type Resolver struct {
	places      *repository.PlaceRepository
	publisher   publisher
	mergeMeters float64
	logger      *zap.Logger
}

// NewResolver creates a place resolver. mergeMeters is the radius within
// which an existing place absorbs a new stay centroid.
func NewResolver(places *repository.PlaceRepository, pub publisher, mergeMeters float64, logger *zap.Logger) *Resolver {
	return &Resolver{places: places, publisher: pub, mergeMeters: mergeMeters, logger: logger}
}

// Resolve returns the closest existing place within the merge radius, or
// creates a new one and announces it for geocoding. Name and address stay
// empty until the geocoder fills them in.
func (r *Resolver) Resolve(userID string, lat, lon float64) (*models.SignificantPlace, error) {
	nearby, err := r.places.FindNearby(userID, lat, lon, r.mergeMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to search nearby places: %w", err)
	}
	if len(nearby) > 0 {
		return &nearby[0], nil
	}

	created := &models.SignificantPlace{
		UserID:    userID,
		Latitude:  lat,
		Longitude: lon,
	}
	if err := r.places.Insert(created); err != nil {
		return nil, fmt.Errorf("failed to create place: %w", err)
	}
	r.logger.Info("created new significant place",
		zap.String("user", userID), zap.Int64("place", created.ID),
		zap.Float64("lat", lat), zap.Float64("lon", lon))

	evt := bus.PlaceCreatedEvent{
		UserID:    userID,
		PlaceID:   created.ID,
		Latitude:  lat,
		Longitude: lon,
	}
	if err := r.publisher.Publish(bus.TopicPlaceCreated, evt); err != nil {
		// geocoding is best effort, the place is usable without it
		r.logger.Warn("failed to announce new place",
			zap.Int64("place", created.ID), zap.Error(err))
	}
	return created, nil
}
