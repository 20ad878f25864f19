package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all externally supplied application settings.
type Config struct {
	HTTPAddress string `mapstructure:"http_address"`
	DBPath      string `mapstructure:"db_path"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	LogLevel    string `mapstructure:"log_level"`

	GeocoderURL string `mapstructure:"geocoder_url"`

	// Pipeline tuning
	Detection DetectionParameters `mapstructure:"detection"`
	Anomaly   AnomalyFilter       `mapstructure:"anomaly"`

	// DetectionSensitivity selects a built-in preset (1-5) overriding the
	// detection parameters wholesale. Zero keeps the individual settings.
	DetectionSensitivity int `mapstructure:"detection_sensitivity"`

	// TripSearchWindowHours bounds the processed-visit lookup around a
	// newly created visit during trip detection.
	TripSearchWindowHours int `mapstructure:"trip_search_window_hours"`

	// BatchSize is the number of unprocessed points dispatched per
	// stay-detection event.
	BatchSize int `mapstructure:"batch_size"`

	// WindowPadMinutes widens every detection window on both sides to
	// catch visits spanning window edges.
	WindowPadMinutes int `mapstructure:"window_pad_minutes"`

	// PlaceMergeDistanceMeters is the radius within which a stay centroid
	// reuses an existing significant place.
	PlaceMergeDistanceMeters float64 `mapstructure:"place_merge_distance_meters"`

	// EventBufferSize bounds how many pending events each pipeline stage
	// may queue before publishers block.
	EventBufferSize int `mapstructure:"event_buffer_size"`

	// ScheduleIntervalSeconds drives the periodic pipeline trigger and
	// trip maintenance runs. Zero disables the scheduler.
	ScheduleIntervalSeconds int `mapstructure:"schedule_interval_seconds"`
}

// DetectionParameters groups the stay-detection and visit-merging tunables.
type DetectionParameters struct {
	VisitDetection VisitDetection `mapstructure:"visit_detection"`
	VisitMerging   VisitMerging   `mapstructure:"visit_merging"`
}

// VisitDetection controls the spatial/temporal clustering of raw points.
type VisitDetection struct {
	SearchDistanceMeters  float64 `mapstructure:"search_distance_meters"`
	MinimumAdjacentPoints int     `mapstructure:"minimum_adjacent_points"`
	MinimumStaySeconds    int64   `mapstructure:"minimum_stay_seconds"`
	MaxMergeGapSeconds    int64   `mapstructure:"max_merge_gap_seconds"`
}

// VisitMerging controls how adjacent visits are stitched into processed visits.
type VisitMerging struct {
	SearchDurationHours   int     `mapstructure:"search_duration_hours"`
	MergeThresholdSeconds int64   `mapstructure:"merge_threshold_seconds"`
	MergeThresholdMeters  float64 `mapstructure:"merge_threshold_meters"`
}

// AnomalyFilter controls the ingest-time anomaly detection.
type AnomalyFilter struct {
	MaxSpeedKmh             float64 `mapstructure:"max_speed_kmh"`
	MaxAccuracyMeters       float64 `mapstructure:"max_accuracy_meters"`
	MaxDistanceJumpMeters   float64 `mapstructure:"max_distance_jump_meters"`
	EdgeToleranceMultiplier float64 `mapstructure:"edge_tolerance_multiplier"`
}

// ApplyDefaults registers the built-in defaults on the given viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetDefault("http_address", ":8080")
	v.SetDefault("db_path", "./data/timeline.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("geocoder_url", "")
	v.SetDefault("detection_sensitivity", 0)

	v.SetDefault("detection.visit_detection.search_distance_meters", 100.0)
	v.SetDefault("detection.visit_detection.minimum_adjacent_points", 5)
	v.SetDefault("detection.visit_detection.minimum_stay_seconds", 1200)
	v.SetDefault("detection.visit_detection.max_merge_gap_seconds", 300)

	v.SetDefault("detection.visit_merging.search_duration_hours", 48)
	v.SetDefault("detection.visit_merging.merge_threshold_seconds", 300)
	v.SetDefault("detection.visit_merging.merge_threshold_meters", 200.0)

	v.SetDefault("anomaly.max_speed_kmh", 1000.0)
	v.SetDefault("anomaly.max_accuracy_meters", 100.0)
	v.SetDefault("anomaly.max_distance_jump_meters", 5000.0)
	v.SetDefault("anomaly.edge_tolerance_multiplier", 1.5)

	v.SetDefault("trip_search_window_hours", 24)
	v.SetDefault("batch_size", 100)
	v.SetDefault("window_pad_minutes", 30)
	v.SetDefault("place_merge_distance_meters", 100.0)
	v.SetDefault("event_buffer_size", 64)
	v.SetDefault("schedule_interval_seconds", 60)
}

// Load builds a Config from defaults and TIMELINE_-prefixed environment
// variables applied on top.
func Load(v *viper.Viper) (*Config, error) {
	ApplyDefaults(v)

	v.SetEnvPrefix("TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DetectionSensitivity != 0 {
		params, err := Preset(cfg.DetectionSensitivity)
		if err != nil {
			return nil, err
		}
		cfg.Detection = params
	}
	return &cfg, nil
}

// Default returns the built-in configuration without environment overrides.
func Default() *Config {
	cfg, err := Load(viper.New())
	if err != nil {
		panic(err)
	}
	return cfg
}
