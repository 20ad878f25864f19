package spatial

import (
	"math"

	"github.com/golang/geo/s2"
)

// Constants
const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters

	// Meters covered by one degree of latitude; longitude shrinks with cos(lat)
	metersPerDegree = 111320.0
)

// HaversineDistance calculates the great-circle distance between two points in meters
// using the Haversine formula
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Bearing calculates the initial bearing (forward azimuth) from point 1 to point 2
// Returns bearing in degrees (0-360), where 0 is North, 90 is East, etc.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lonDiff := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(lonDiff) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(lonDiff)
	bearing := math.Atan2(y, x)

	bearingDeg := bearing * 180 / math.Pi
	return math.Mod(bearingDeg+360, 360)
}

// TurnAngle returns the absolute angle in degrees (0-180) between two bearings
func TurnAngle(bearing1, bearing2 float64) float64 {
	diff := math.Abs(bearing2 - bearing1)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// MetersToDegrees converts a distance in meters to degrees of latitude and
// longitude at the given latitude. Longitude degrees get closer together as
// you move away from the equator.
func MetersToDegrees(meters, latitude float64) (latDegrees, lonDegrees float64) {
	latDegrees = meters / metersPerDegree
	lonDegrees = meters / (metersPerDegree * math.Cos(latitude*math.Pi/180))
	return latDegrees, lonDegrees
}

// PathDistance sums the great-circle distances between consecutive
// coordinate pairs. Returns 0 for fewer than two points.
func PathDistance(lats, lons []float64) float64 {
	if len(lats) < 2 || len(lats) != len(lons) {
		return 0
	}
	total := 0.0
	for i := 0; i < len(lats)-1; i++ {
		total += HaversineDistance(lats[i], lons[i], lats[i+1], lons[i+1])
	}
	return total
}
