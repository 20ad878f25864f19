package trips

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/database"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/pipeline/userlock"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

type capturePublisher struct {
	topics   []string
	payloads []interface{}
}

func (p *capturePublisher) Publish(topic string, payload interface{}) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

type fixture struct {
	detector  *Detector
	dedup     *Deduplicator
	processed *repository.ProcessedVisitRepository
	points    *repository.PointRepository
	places    *repository.PlaceRepository
	trips     *repository.TripRepository
	published *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	processed := repository.NewProcessedVisitRepository(db)
	points := repository.NewPointRepository(db)
	places := repository.NewPlaceRepository(db)
	trips := repository.NewTripRepository(db)
	locks := userlock.NewRegistry()
	published := &capturePublisher{}

	return &fixture{
		detector:  NewDetector(processed, points, trips, locks, published, 24, zap.NewNop()),
		dedup:     NewDeduplicator(trips, points, places, locks, zap.NewNop()),
		processed: processed,
		points:    points,
		places:    places,
		trips:     trips,
		published: published,
	}
}

func (f *fixture) addPlace(t *testing.T, user string, lat, lon float64) *models.SignificantPlace {
	t.Helper()
	p := &models.SignificantPlace{UserID: user, Latitude: lat, Longitude: lon}
	require.NoError(t, f.places.Insert(p))
	return p
}

func (f *fixture) addProcessedVisit(t *testing.T, user string, placeID int64, start, end time.Time) *models.ProcessedVisit {
	t.Helper()
	pv := &models.ProcessedVisit{
		UserID: user, PlaceID: placeID, StartTime: start, EndTime: end,
		DurationSeconds: int64(end.Sub(start).Seconds()),
	}
	require.NoError(t, f.processed.Insert(pv))
	return pv
}

func TestTripCreatedBetweenConsecutiveVisits(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	home := f.addPlace(t, "alice", 60.0, 25.0)
	office := f.addPlace(t, "alice", 60.045, 25.0) // ~5 km north
	f.addProcessedVisit(t, "alice", home.ID, base, base.Add(time.Hour))
	second := f.addProcessedVisit(t, "alice", office.ID, base.Add(64*time.Minute), base.Add(9*time.Hour))

	f.detector.Process("alice", second.StartTime, second.EndTime)

	trips, err := f.trips.FindByUser("alice")
	require.NoError(t, err)
	require.Len(t, trips, 1)

	trip := trips[0]
	assert.Equal(t, base.Add(time.Hour), trip.StartTime)
	assert.Equal(t, base.Add(64*time.Minute), trip.EndTime)
	assert.Equal(t, home.ID, trip.StartPlaceID)
	assert.Equal(t, office.ID, trip.EndPlaceID)
	assert.InDelta(t, 5000, trip.EstimatedDistanceMeters, 150)
	// 5 km in 4 minutes is ~75 km/h
	assert.Equal(t, models.TransportModeDriving, trip.TransportMode)

	// new trips schedule a dedup pass over the window
	require.Len(t, f.published.topics, 1)
	assert.Equal(t, "trip.merge", f.published.topics[0])
}

func TestTripNotDuplicatedOnReprocess(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	home := f.addPlace(t, "bob", 60.0, 25.0)
	office := f.addPlace(t, "bob", 60.045, 25.0)
	f.addProcessedVisit(t, "bob", home.ID, base, base.Add(time.Hour))
	second := f.addProcessedVisit(t, "bob", office.ID, base.Add(90*time.Minute), base.Add(9*time.Hour))

	f.detector.Process("bob", second.StartTime, second.EndTime)
	f.detector.Process("bob", second.StartTime, second.EndTime)

	trips, err := f.trips.FindByUser("bob")
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

func TestOverlappingVisitsYieldNoTrip(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	home := f.addPlace(t, "carol", 60.0, 25.0)
	office := f.addPlace(t, "carol", 60.045, 25.0)
	// second visit starts before the first ends
	f.addProcessedVisit(t, "carol", home.ID, base, base.Add(2*time.Hour))
	second := f.addProcessedVisit(t, "carol", office.ID, base.Add(time.Hour), base.Add(3*time.Hour))

	f.detector.Process("carol", second.StartTime, second.EndTime)

	trips, err := f.trips.FindByUser("carol")
	require.NoError(t, err)
	assert.Empty(t, trips)
}

func TestTravelledDistanceFromRawPoints(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	home := f.addPlace(t, "dave", 60.0, 25.0)
	office := f.addPlace(t, "dave", 60.045, 25.0)
	f.addProcessedVisit(t, "dave", home.ID, base, base.Add(time.Hour))
	second := f.addProcessedVisit(t, "dave", office.ID, base.Add(90*time.Minute), base.Add(9*time.Hour))

	// a winding track strictly inside the gap, longer than the direct line
	for i := 1; i <= 5; i++ {
		_, err := f.points.Insert(&models.RawPoint{
			UserID: "dave", Timestamp: base.Add(time.Hour + time.Duration(i*5)*time.Minute),
			Latitude: 60.0 + float64(i)*0.009, Longitude: 25.0 + float64(i%2)*0.03, AccuracyMeters: 10,
		})
		require.NoError(t, err)
	}

	f.detector.Process("dave", second.StartTime, second.EndTime)

	trips, err := f.trips.FindByUser("dave")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Greater(t, trips[0].TravelledDistanceMeters, trips[0].EstimatedDistanceMeters)
}

func TestSlowTripInferredAsWalking(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	home := f.addPlace(t, "erin", 60.0, 25.0)
	park := f.addPlace(t, "erin", 60.009, 25.0) // ~1 km north
	f.addProcessedVisit(t, "erin", home.ID, base, base.Add(time.Hour))
	// a kilometre in 15 minutes is ~4 km/h
	second := f.addProcessedVisit(t, "erin", park.ID, base.Add(75*time.Minute), base.Add(2*time.Hour))

	f.detector.Process("erin", second.StartTime, second.EndTime)

	trips, err := f.trips.FindByUser("erin")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, models.TransportModeWalking, trips[0].TransportMode)
}

func TestSingleVisitYieldsNothing(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	home := f.addPlace(t, "fred", 60.0, 25.0)
	only := f.addProcessedVisit(t, "fred", home.ID, base, base.Add(time.Hour))

	f.detector.Process("fred", only.StartTime, only.EndTime)

	trips, err := f.trips.FindByUser("fred")
	require.NoError(t, err)
	assert.Empty(t, trips)
}
