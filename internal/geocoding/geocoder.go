// Package geocoding fills in names and addresses for newly created places
// by querying a Photon-compatible reverse geocoding endpoint.
package geocoding

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

// Geocoder consumes place.created events. Failures leave the place usable
// but unnamed; nothing downstream waits on the result.
type Geocoder struct {
	places  *repository.PlaceRepository
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewGeocoder creates a geocoder against a Photon-style endpoint. An empty
// baseURL disables lookups.
func NewGeocoder(places *repository.PlaceRepository, baseURL string, logger *zap.Logger) *Geocoder {
	return &Geocoder{
		places:  places,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// HandleMessage decodes a place.created event and resolves the address.
func (g *Geocoder) HandleMessage(msg *message.Message) error {
	var evt bus.PlaceCreatedEvent
	if err := bus.Unmarshal(msg, &evt); err != nil {
		return err
	}
	g.Process(evt.PlaceID, evt.Latitude, evt.Longitude)
	return nil
}

// Process reverse geocodes the coordinate and writes name and address onto
// the place. Failures are logged and the event dropped.
func (g *Geocoder) Process(placeID int64, lat, lon float64) {
	if g.baseURL == "" {
		return
	}

	result, err := g.reverseGeocode(lat, lon)
	if err != nil {
		g.logger.Warn("reverse geocoding failed",
			zap.Int64("place", placeID), zap.Error(err))
		return
	}
	if result == nil {
		g.logger.Debug("no geocoding result", zap.Int64("place", placeID))
		return
	}

	place, err := g.places.FindByID(placeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return
		}
		g.logger.Error("failed to load place",
			zap.Int64("place", placeID), zap.Error(err))
		return
	}

	place.Name = result.displayName()
	place.Address = result.address()
	place.Geocoded = true
	if err := g.places.UpdateVersioned(place); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			g.logger.Warn("dropping geocode result after concurrent place change",
				zap.Int64("place", placeID))
			return
		}
		g.logger.Error("failed to update place",
			zap.Int64("place", placeID), zap.Error(err))
		return
	}
	g.logger.Info("geocoded place",
		zap.Int64("place", placeID), zap.String("name", place.Name))
}

type photonResponse struct {
	Features []struct {
		Properties photonProperties `json:"properties"`
	} `json:"features"`
}

type photonProperties struct {
	Name        string `json:"name"`
	Street      string `json:"street"`
	HouseNumber string `json:"housenumber"`
	Postcode    string `json:"postcode"`
	City        string `json:"city"`
}

func (p *photonProperties) displayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Street
}

func (p *photonProperties) address() string {
	return fmt.Sprintf("%s %s, %s %s", p.Street, p.HouseNumber, p.Postcode, p.City)
}

func (g *Geocoder) reverseGeocode(lat, lon float64) (*photonProperties, error) {
	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%f", lat))
	query.Set("lon", fmt.Sprintf("%f", lon))
	query.Set("limit", "1")

	resp, err := g.client.Get(g.baseURL + "/reverse?" + query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to call geocoder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var decoded photonResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if len(decoded.Features) == 0 {
		return nil, nil
	}
	return &decoded.Features[0].Properties, nil
}
