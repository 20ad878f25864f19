package config

import "fmt"

// Sensitivity levels for the built-in detection presets. Lower levels
// detect fewer, larger visits; higher levels split stays more eagerly.
const (
	SensitivityLow     = 1
	SensitivityReduced = 2
	SensitivityMedium  = 3
	SensitivityRaised  = 4
	SensitivityHigh    = 5
)

// Preset returns the detection parameters for a sensitivity level (1-5).
func Preset(level int) (DetectionParameters, error) {
	switch level {
	case SensitivityLow:
		return preset(200, 8, 600, 600, 48, 600, 400), nil
	case SensitivityReduced:
		return preset(150, 6, 450, 450, 48, 450, 300), nil
	case SensitivityMedium:
		return preset(100, 5, 300, 300, 48, 300, 200), nil
	case SensitivityRaised:
		return preset(75, 4, 225, 225, 48, 225, 150), nil
	case SensitivityHigh:
		return preset(50, 3, 150, 150, 48, 150, 100), nil
	default:
		return DetectionParameters{}, fmt.Errorf("unknown sensitivity level %d", level)
	}
}

// MatchingSensitivity reports which preset the parameters correspond to, or
// 0 when they are a custom configuration.
func MatchingSensitivity(p DetectionParameters) int {
	for level := SensitivityLow; level <= SensitivityHigh; level++ {
		candidate, _ := Preset(level)
		if candidate == p {
			return level
		}
	}
	return 0
}

func preset(dist float64, minPts int, stay, gap int64, hours int, mergeSec int64, mergeMeters float64) DetectionParameters {
	return DetectionParameters{
		VisitDetection: VisitDetection{
			SearchDistanceMeters:  dist,
			MinimumAdjacentPoints: minPts,
			MinimumStaySeconds:    stay,
			MaxMergeGapSeconds:    gap,
		},
		VisitMerging: VisitMerging{
			SearchDurationHours:   hours,
			MergeThresholdSeconds: mergeSec,
			MergeThresholdMeters:  mergeMeters,
		},
	}
}
