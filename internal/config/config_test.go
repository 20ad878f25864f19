package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Equal(t, 100.0, cfg.Detection.VisitDetection.SearchDistanceMeters)
	assert.Equal(t, int64(1200), cfg.Detection.VisitDetection.MinimumStaySeconds)
	assert.Equal(t, int64(300), cfg.Detection.VisitMerging.MergeThresholdSeconds)
	assert.Equal(t, 1.5, cfg.Anomaly.EdgeToleranceMultiplier)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 24, cfg.TripSearchWindowHours)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TIMELINE_BATCH_SIZE", "25")
	t.Setenv("TIMELINE_DETECTION_VISIT_DETECTION_MINIMUM_STAY_SECONDS", "600")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, int64(600), cfg.Detection.VisitDetection.MinimumStaySeconds)
}

func TestSensitivityOverridesDetectionParameters(t *testing.T) {
	t.Setenv("TIMELINE_DETECTION_SENSITIVITY", "5")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	high, _ := Preset(SensitivityHigh)
	assert.Equal(t, high, cfg.Detection)
}

func TestUnknownSensitivityRejected(t *testing.T) {
	t.Setenv("TIMELINE_DETECTION_SENSITIVITY", "9")

	_, err := Load(viper.New())
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	low, err := Preset(SensitivityLow)
	require.NoError(t, err)
	assert.Equal(t, 200.0, low.VisitDetection.SearchDistanceMeters)
	assert.Equal(t, 8, low.VisitDetection.MinimumAdjacentPoints)
	assert.Equal(t, 400.0, low.VisitMerging.MergeThresholdMeters)

	high, err := Preset(SensitivityHigh)
	require.NoError(t, err)
	assert.Equal(t, 50.0, high.VisitDetection.SearchDistanceMeters)
	assert.Equal(t, int64(150), high.VisitDetection.MinimumStaySeconds)

	_, err = Preset(6)
	assert.Error(t, err)
}

func TestMatchingSensitivity(t *testing.T) {
	medium, _ := Preset(SensitivityMedium)
	assert.Equal(t, SensitivityMedium, MatchingSensitivity(medium))

	custom := medium
	custom.VisitDetection.MinimumStaySeconds = 1234
	assert.Equal(t, 0, MatchingSensitivity(custom))
}
