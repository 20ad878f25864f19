package bus

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/veloview/timeline-backend-go/internal/models"
)

// Topic names for the processing pipeline. Each stage consumes one topic
// and publishes to the next.
const (
	TopicLocationData      = "location.data"
	TopicStayDetection     = "stay.detection"
	TopicPlaceCreated      = "place.created"
	TopicVisitUpdated      = "visit.updated"
	TopicTripDetect        = "trip.detect"
	TopicTripMerge         = "trip.merge"
	TopicTriggerProcessing = "trigger.processing"
)

// LocationDataEvent carries a batch of raw location samples for one user.
type LocationDataEvent struct {
	UserID string                 `json:"userId"`
	Points []models.IncomingPoint `json:"points"`
}

// StayDetectionEvent asks the visit detector to process a window of points.
type StayDetectionEvent struct {
	UserID       string `json:"userId"`
	EarliestUnix int64  `json:"earliest"`
	LatestUnix   int64  `json:"latest"`
}

// PlaceCreatedEvent announces a newly created significant place so the
// geocoder can resolve its address.
type PlaceCreatedEvent struct {
	UserID    string  `json:"userId"`
	PlaceID   int64   `json:"placeId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// VisitUpdatedEvent announces that visits changed inside a time window and
// the merge stage should recompute the affected timeline.
type VisitUpdatedEvent struct {
	UserID       string `json:"userId"`
	EarliestUnix int64  `json:"earliest"`
	LatestUnix   int64  `json:"latest"`
}

// TripDetectEvent asks the trip detector to look around a processed visit.
type TripDetectEvent struct {
	UserID         string `json:"userId"`
	VisitStartUnix int64  `json:"visitStart"`
	VisitEndUnix   int64  `json:"visitEnd"`
}

// TripMergeEvent asks the deduplicator to collapse duplicate trips in a window.
type TripMergeEvent struct {
	UserID       string `json:"userId"`
	EarliestUnix int64  `json:"earliest"`
	LatestUnix   int64  `json:"latest"`
}

// TriggerProcessingEvent kicks off a full pipeline run.
type TriggerProcessingEvent struct {
	UserID string `json:"userId,omitempty"`
}

// Marshal encodes a payload into a watermill message with a fresh UUID.
func Marshal(payload interface{}) (*message.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return message.NewMessage(uuid.NewString(), body), nil
}

// Unmarshal decodes a watermill message payload into target.
func Unmarshal(msg *message.Message, target interface{}) error {
	if err := json.Unmarshal(msg.Payload, target); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return nil
}
