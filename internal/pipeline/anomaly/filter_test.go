package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/config"
	"github.com/veloview/timeline-backend-go/internal/models"
)

func testFilter() *Filter {
	return NewFilter(config.AnomalyFilter{
		MaxSpeedKmh:             150,
		MaxAccuracyMeters:       100,
		MaxDistanceJumpMeters:   5000,
		EdgeToleranceMultiplier: 1.5,
	}, zap.NewNop())
}

func point(offset time.Duration, lat, lon, accuracy float64) models.RawPoint {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.RawPoint{Timestamp: base.Add(offset), Latitude: lat, Longitude: lon, AccuracyMeters: accuracy}
}

func TestEmptyBatch(t *testing.T) {
	assert.Empty(t, testFilter().Apply(nil))
}

func TestAccuracyCeiling(t *testing.T) {
	points := []models.RawPoint{
		point(0, 60.0, 25.0, 10),
		point(time.Minute, 60.0001, 25.0, 500),
		point(2*time.Minute, 60.0002, 25.0, 10),
	}
	kept := testFilter().Apply(points)
	assert.Len(t, kept, 2)
	for _, p := range kept {
		assert.LessOrEqual(t, p.AccuracyMeters, 100.0)
	}
}

func TestImpossibleSpeedDropsWorseAccuracy(t *testing.T) {
	// middle pair jumps ~11 km in 60s (~660 km/h); the worse-accuracy side goes
	points := []models.RawPoint{
		point(0, 60.00, 25.0, 10),
		point(time.Minute, 60.001, 25.0, 10),
		point(2*time.Minute, 60.101, 25.0, 80),
		point(3*time.Minute, 60.102, 25.0, 10),
		point(4*time.Minute, 60.103, 25.0, 10),
	}
	kept := testFilter().Apply(points)
	for _, p := range kept {
		assert.NotEqual(t, 60.101, p.Latitude)
	}
}

func TestSteadyTrackUntouched(t *testing.T) {
	// ~111 m per minute, well under every threshold
	var points []models.RawPoint
	for i := 0; i < 10; i++ {
		points = append(points, point(time.Duration(i)*time.Minute, 60.0+float64(i)*0.001, 25.0, 10))
	}
	kept := testFilter().Apply(points)
	assert.Equal(t, points, kept)
}

func TestDirectionReversalDropsNoisyMiddle(t *testing.T) {
	// out-and-back spike: ~300 m out, ~300 m back, middle has worst accuracy
	points := []models.RawPoint{
		point(0, 60.0, 25.0, 10),
		point(time.Minute, 60.003, 25.0, 90),
		point(2*time.Minute, 60.0001, 25.0, 10),
	}
	kept := testFilter().Apply(points)
	assert.Len(t, kept, 2)
	for _, p := range kept {
		assert.NotEqual(t, 90.0, p.AccuracyMeters)
	}
}

func TestReversalKeptWhenAccuracyFine(t *testing.T) {
	// same spike but the middle point is as accurate as its neighbors
	points := []models.RawPoint{
		point(0, 60.0, 25.0, 10),
		point(time.Minute, 60.003, 25.0, 10),
		point(2*time.Minute, 60.0001, 25.0, 10),
	}
	kept := testFilter().Apply(points)
	assert.Len(t, kept, 3)
}

func TestOutputIsOrderedSubsequence(t *testing.T) {
	points := []models.RawPoint{
		point(0, 60.0, 25.0, 10),
		point(time.Minute, 60.001, 25.0, 200),
		point(2*time.Minute, 60.002, 25.0, 10),
		point(3*time.Minute, 60.5, 25.0, 300),
		point(4*time.Minute, 60.004, 25.0, 10),
	}
	kept := testFilter().Apply(points)
	// every kept point appears in the input, in the same relative order
	j := 0
	for _, p := range kept {
		found := false
		for ; j < len(points); j++ {
			if points[j] == p {
				found = true
				j++
				break
			}
		}
		assert.True(t, found, "kept point not in input order")
	}
}

func TestEdgeToleranceSparesBoundaryPair(t *testing.T) {
	// first pair implies ~190 km/h: above the base limit, under 1.5x
	points := []models.RawPoint{
		point(0, 60.0, 25.0, 10),
		point(time.Minute, 60.0285, 25.0, 10),
		point(2*time.Minute, 60.0290, 25.0, 10),
		point(3*time.Minute, 60.0295, 25.0, 10),
	}
	kept := testFilter().Apply(points)
	assert.Len(t, kept, 4)
}
