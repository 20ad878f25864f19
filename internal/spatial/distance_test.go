package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineDistance(t *testing.T) {
	// Helsinki central railway station to Helsinki cathedral, roughly 570m
	d := HaversineDistance(60.1719, 24.9414, 60.1699, 24.9524)
	assert.InDelta(t, 640, d, 60)

	// Same point
	assert.InDelta(t, 0, HaversineDistance(60.0, 25.0, 60.0, 25.0), 0.001)

	// One degree of latitude is about 111km anywhere
	d = HaversineDistance(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 500)
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing(0, 0, 1, 0), 0.5)    // due north
	assert.InDelta(t, 90, Bearing(0, 0, 0, 1), 0.5)   // due east
	assert.InDelta(t, 180, Bearing(1, 0, 0, 0), 0.5)  // due south
	assert.InDelta(t, 270, Bearing(0, 1, 0, 0), 0.5)  // due west
}

func TestTurnAngle(t *testing.T) {
	assert.InDelta(t, 180, TurnAngle(0, 180), 0.001)
	assert.InDelta(t, 20, TurnAngle(350, 10), 0.001)
	assert.InDelta(t, 90, TurnAngle(45, 135), 0.001)
	assert.InDelta(t, 0, TurnAngle(90, 90), 0.001)
}

func TestMetersToDegrees(t *testing.T) {
	latDeg, lonDeg := MetersToDegrees(111320, 0)
	assert.InDelta(t, 1.0, latDeg, 0.001)
	assert.InDelta(t, 1.0, lonDeg, 0.001)

	// At 60 degrees north a longitude degree covers half the distance
	_, lonDeg = MetersToDegrees(111320, 60)
	assert.InDelta(t, 2.0, lonDeg, 0.01)
}

func TestPathDistance(t *testing.T) {
	lats := []float64{60.0, 60.0, 60.0}
	lons := []float64{25.0, 25.01, 25.02}

	total := PathDistance(lats, lons)
	direct := HaversineDistance(60.0, 25.0, 60.0, 25.02)
	assert.InDelta(t, direct, total, 1)

	assert.Equal(t, 0.0, PathDistance(lats[:1], lons[:1]))
	assert.Equal(t, 0.0, PathDistance(lats, lons[:2]))
}
