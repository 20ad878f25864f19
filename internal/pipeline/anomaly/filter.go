// Package anomaly removes physically implausible points from an incoming
// batch before they are persisted. Four detectors run independently and
// their findings are unioned; the output is always an ordered subsequence
// of the input.
package anomaly

import (
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/config"
	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/spatial"
)

const (
	reversalAngleDegrees = 150.0
	reversalLegMeters    = 50.0
	edgeDisparityMeters  = 1000.0
)

// Filter drops anomalous points from ordered batches.
type Filter struct {
	cfg    config.AnomalyFilter
	logger *zap.Logger
}

// NewFilter creates a filter with the given thresholds.
func NewFilter(cfg config.AnomalyFilter, logger *zap.Logger) *Filter {
	return &Filter{cfg: cfg, logger: logger}
}

// Apply returns the batch with anomalies removed, preserving order.
func (f *Filter) Apply(points []models.RawPoint) []models.RawPoint {
	if len(points) == 0 {
		return nil
	}

	anomalies := make(map[int]bool)
	f.detectAccuracy(points, anomalies)
	f.detectSpeed(points, anomalies)
	f.detectDistanceJumps(points, anomalies)
	f.detectDirectionReversals(points, anomalies)

	kept := make([]models.RawPoint, 0, len(points))
	for i, p := range points {
		if !anomalies[i] {
			kept = append(kept, p)
		}
	}
	if dropped := len(points) - len(kept); dropped > 0 {
		f.logger.Debug("dropped anomalous points",
			zap.Int("dropped", dropped), zap.Int("kept", len(kept)))
	}
	return kept
}

func (f *Filter) detectAccuracy(points []models.RawPoint, anomalies map[int]bool) {
	for i, p := range points {
		if p.AccuracyMeters > f.cfg.MaxAccuracyMeters {
			anomalies[i] = true
		}
	}
}

func (f *Filter) detectSpeed(points []models.RawPoint, anomalies map[int]bool) {
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]

		elapsed := curr.Timestamp.Sub(prev.Timestamp).Seconds()
		if elapsed <= 0 {
			continue
		}
		distance := spatial.HaversineDistance(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)
		speedKmh := (distance / 1000.0) / (elapsed / 3600.0)

		maxSpeed := f.cfg.MaxSpeedKmh
		if isEdgePair(i, len(points)) {
			maxSpeed *= f.cfg.EdgeToleranceMultiplier
		}
		if speedKmh > maxSpeed {
			anomalies[worseOf(points, i-1, i)] = true
		}
	}
}

func (f *Filter) detectDistanceJumps(points []models.RawPoint, anomalies map[int]bool) {
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]

		distance := spatial.HaversineDistance(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)
		maxDistance := f.cfg.MaxDistanceJumpMeters
		if isEdgePair(i, len(points)) {
			maxDistance *= f.cfg.EdgeToleranceMultiplier
		}
		if distance <= maxDistance {
			continue
		}

		if isEdgePair(i, len(points)) {
			anomalies[selectWorseEdgePoint(points, i)] = true
		} else {
			anomalies[worseOf(points, i-1, i)] = true
		}
	}
}

func (f *Filter) detectDirectionReversals(points []models.RawPoint, anomalies map[int]bool) {
	for i := 1; i < len(points)-1; i++ {
		prev, curr, next := points[i-1], points[i], points[i+1]

		bearing1 := spatial.Bearing(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)
		bearing2 := spatial.Bearing(curr.Latitude, curr.Longitude, next.Latitude, next.Longitude)
		turn := spatial.TurnAngle(bearing1, bearing2)

		leg1 := spatial.HaversineDistance(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)
		leg2 := spatial.HaversineDistance(next.Latitude, next.Longitude, curr.Latitude, curr.Longitude)

		if turn > reversalAngleDegrees && leg1 > reversalLegMeters && leg2 > reversalLegMeters {
			worstNeighbor := prev.AccuracyMeters
			if next.AccuracyMeters > worstNeighbor {
				worstNeighbor = next.AccuracyMeters
			}
			if curr.AccuracyMeters > worstNeighbor {
				anomalies[i] = true
			}
		}
	}
}

// selectWorseEdgePoint decides which side of an edge pair to drop. When a
// second neighbor exists, the point whose distance to that neighbor is
// wildly inconsistent loses; otherwise the worse accuracy loses.
func selectWorseEdgePoint(points []models.RawPoint, i int) int {
	p1, p2 := i-1, i

	if i == 1 && len(points) > 2 {
		next := points[i+1]
		d1 := spatial.HaversineDistance(points[p1].Latitude, points[p1].Longitude, next.Latitude, next.Longitude)
		d2 := spatial.HaversineDistance(points[p2].Latitude, points[p2].Longitude, next.Latitude, next.Longitude)
		if abs(d1-d2) > edgeDisparityMeters {
			if d1 > d2 {
				return p1
			}
			return p2
		}
	}

	if i == len(points)-1 && len(points) > 2 {
		prevPrev := points[i-2]
		d1 := spatial.HaversineDistance(prevPrev.Latitude, prevPrev.Longitude, points[p1].Latitude, points[p1].Longitude)
		d2 := spatial.HaversineDistance(prevPrev.Latitude, prevPrev.Longitude, points[p2].Latitude, points[p2].Longitude)
		if abs(d1-d2) > edgeDisparityMeters {
			if d1 > d2 {
				return p1
			}
			return p2
		}
	}

	if points[p1].AccuracyMeters > points[p2].AccuracyMeters {
		return p1
	}
	return p2
}

// worseOf picks the index with the larger accuracy value, preferring the
// earlier point on ties.
func worseOf(points []models.RawPoint, a, b int) int {
	if points[b].AccuracyMeters > points[a].AccuracyMeters {
		return b
	}
	return a
}

// isEdgePair reports whether the pair ending at index i touches the first
// or last point of the batch.
func isEdgePair(i, total int) bool {
	return i == 1 || i == total-1
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
