package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/config"
	"github.com/veloview/timeline-backend-go/internal/database"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/pipeline/userlock"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

type capturePublisher struct {
	topics   []string
	payloads []interface{}
}

func (c *capturePublisher) Publish(topic string, payload interface{}) error {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload)
	return nil
}

type fixture struct {
	detector *Detector
	points   *repository.PointRepository
	visits   *repository.VisitRepository
	pub      *capturePublisher
}

func newFixture(t *testing.T, cfg config.VisitDetection) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	points := repository.NewPointRepository(db)
	visits := repository.NewVisitRepository(db)
	pub := &capturePublisher{}
	detector := NewDetector(points, visits, userlock.NewRegistry(), pub, cfg, 30, zap.NewNop())
	return &fixture{detector: detector, points: points, visits: visits, pub: pub}
}

func sensitiveConfig() config.VisitDetection {
	return config.VisitDetection{
		SearchDistanceMeters:  100,
		MinimumAdjacentPoints: 5,
		MinimumStaySeconds:    300,
		MaxMergeGapSeconds:    300,
	}
}

func insertStationary(t *testing.T, f *fixture, user string, start time.Time, count int, interval time.Duration, lat, lon float64) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := f.points.Insert(&models.RawPoint{
			UserID:         user,
			Timestamp:      start.Add(time.Duration(i) * interval),
			Latitude:       lat + float64(i%3)*0.00005,
			Longitude:      lon,
			AccuracyMeters: 10,
		})
		require.NoError(t, err)
	}
}

func TestStationaryClusterBecomesVisit(t *testing.T) {
	f := newFixture(t, sensitiveConfig())
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	insertStationary(t, f, "alice", start, 20, time.Minute, 60.0, 25.0)

	f.detector.Process("alice", start, start.Add(20*time.Minute))

	visits, err := f.visits.FindOverlapping("alice", start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, visits, 1)

	v := visits[0]
	assert.Equal(t, start, v.StartTime)
	assert.Equal(t, start.Add(19*time.Minute), v.EndTime)
	assert.InDelta(t, 60.0, v.Latitude, 0.001)
	assert.InDelta(t, 25.0, v.Longitude, 0.001)
	assert.Equal(t, int64(19*60), v.DurationSeconds)

	require.Len(t, f.pub.topics, 1)
	assert.Equal(t, bus.TopicVisitUpdated, f.pub.topics[0])
}

func TestShortStopProducesNoVisit(t *testing.T) {
	// default minimum stay is 20 minutes; a 10 minute stop must not count
	f := newFixture(t, config.Default().Detection.VisitDetection)
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	insertStationary(t, f, "bob", start, 10, time.Minute, 60.0, 25.0)

	f.detector.Process("bob", start, start.Add(10*time.Minute))

	visits, err := f.visits.FindOverlapping("bob", start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, visits)
	assert.Empty(t, f.pub.topics)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, sensitiveConfig())
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	insertStationary(t, f, "carol", start, 20, time.Minute, 60.0, 25.0)

	f.detector.Process("carol", start, start.Add(20*time.Minute))
	f.detector.Process("carol", start, start.Add(20*time.Minute))
	// partially overlapping window must replace, not duplicate
	f.detector.Process("carol", start.Add(5*time.Minute), start.Add(25*time.Minute))

	visits, err := f.visits.FindOverlapping("carol", start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, start, visits[0].StartTime)
	assert.Equal(t, start.Add(19*time.Minute), visits[0].EndTime)
}

func TestRevisitSplitsOnTimeGap(t *testing.T) {
	f := newFixture(t, sensitiveConfig())
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	insertStationary(t, f, "dave", start, 10, time.Minute, 60.0, 25.0)
	// back at the same spot four hours later
	insertStationary(t, f, "dave", start.Add(4*time.Hour), 10, time.Minute, 60.0, 25.0)

	f.detector.Process("dave", start, start.Add(5*time.Hour))

	visits, err := f.visits.FindOverlapping("dave", start.Add(-time.Hour), start.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, start, visits[0].StartTime)
	assert.Equal(t, start.Add(4*time.Hour), visits[1].StartTime)
}

func TestSparsePointsIgnored(t *testing.T) {
	f := newFixture(t, sensitiveConfig())
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	// only three points, below the minimum cluster size of five
	insertStationary(t, f, "erin", start, 3, time.Minute, 60.0, 25.0)

	f.detector.Process("erin", start, start.Add(time.Hour))

	visits, err := f.visits.FindOverlapping("erin", start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, visits)
}

func TestCentroidWeightedByAccuracy(t *testing.T) {
	f := newFixture(t, sensitiveConfig())
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	// five precise fixes at one spot, five sloppy fixes slightly north
	for i := 0; i < 5; i++ {
		_, err := f.points.Insert(&models.RawPoint{
			UserID: "fred", Timestamp: start.Add(time.Duration(i*2) * time.Minute),
			Latitude: 60.0, Longitude: 25.0, AccuracyMeters: 5,
		})
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := f.points.Insert(&models.RawPoint{
			UserID: "fred", Timestamp: start.Add(time.Duration(i*2+1) * time.Minute),
			Latitude: 60.0005, Longitude: 25.0, AccuracyMeters: 50,
		})
		require.NoError(t, err)
	}

	f.detector.Process("fred", start, start.Add(time.Hour))

	visits, err := f.visits.FindOverlapping("fred", start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, visits, 1)
	// centroid sits much closer to the precise fixes
	assert.Less(t, visits[0].Latitude, 60.0001)
}
