package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/api"
	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/config"
	"github.com/veloview/timeline-backend-go/internal/database"
	"github.com/veloview/timeline-backend-go/internal/geocoding"
	"github.com/veloview/timeline-backend-go/internal/handler"
	"github.com/veloview/timeline-backend-go/internal/logging"
	"github.com/veloview/timeline-backend-go/internal/pipeline/anomaly"
	"github.com/veloview/timeline-backend-go/internal/pipeline/detection"
	"github.com/veloview/timeline-backend-go/internal/pipeline/ingest"
	"github.com/veloview/timeline-backend-go/internal/pipeline/merging"
	"github.com/veloview/timeline-backend-go/internal/pipeline/place"
	"github.com/veloview/timeline-backend-go/internal/pipeline/trigger"
	"github.com/veloview/timeline-backend-go/internal/pipeline/trips"
	"github.com/veloview/timeline-backend-go/internal/pipeline/userlock"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

func main() {
	root := &cobra.Command{
		Use:   "timeline-server",
		Short: "Location timeline backend",
		Long:  "Ingests raw GPS points and derives visits, significant places and trips from them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.String("http_address", ":8080", "HTTP listen address")
	flags.String("db_path", "./data/timeline.db", "sqlite database path")
	flags.String("jwt_secret", "", "secret for verifying JWT bearer tokens")
	flags.String("log_level", "info", "log level (debug, info, warn, error)")
	flags.String("geocoder_url", "", "Photon base URL, empty disables reverse geocoding")
	flags.Int("detection_sensitivity", 0, "detection preset 1-5, 0 keeps individual settings")
	flags.Int("schedule_interval_seconds", 60, "pipeline trigger interval, 0 disables the scheduler")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	defer db.Close()

	points := repository.NewPointRepository(db)
	visits := repository.NewVisitRepository(db)
	processed := repository.NewProcessedVisitRepository(db)
	places := repository.NewPlaceRepository(db)
	tripRepo := repository.NewTripRepository(db)

	b, err := bus.New(logger, cfg.EventBufferSize)
	if err != nil {
		return err
	}
	defer b.Close()

	locks := userlock.NewRegistry()
	importState := trigger.NewImportStateHolder()

	ingestHandler := ingest.NewHandler(points, anomaly.NewFilter(cfg.Anomaly, logger), logger)
	pipelineTrigger := trigger.NewTrigger(points, b, importState, cfg.BatchSize, logger)
	stayDetector := detection.NewDetector(points, visits, locks, b,
		cfg.Detection.VisitDetection, cfg.WindowPadMinutes, logger)
	placeResolver := place.NewResolver(places, b, cfg.PlaceMergeDistanceMeters, logger)
	visitMerger := merging.NewMerger(visits, processed, points, placeResolver, locks, b,
		cfg.Detection.VisitMerging, logger)
	tripDetector := trips.NewDetector(processed, points, tripRepo, locks, b,
		cfg.TripSearchWindowHours, logger)
	tripDeduplicator := trips.NewDeduplicator(tripRepo, points, places, locks, logger)
	geocoder := geocoding.NewGeocoder(places, cfg.GeocoderURL, logger)

	b.Handle("ingest", bus.TopicLocationData, ingestHandler.HandleMessage)
	b.Handle("trigger", bus.TopicTriggerProcessing, pipelineTrigger.HandleMessage)
	b.Handle("stay_detection", bus.TopicStayDetection, stayDetector.HandleMessage)
	b.Handle("visit_merging", bus.TopicVisitUpdated, visitMerger.HandleMessage)
	b.Handle("trip_detection", bus.TopicTripDetect, tripDetector.HandleMessage)
	b.Handle("trip_dedup", bus.TopicTripMerge, tripDeduplicator.HandleMessage)
	b.Handle("geocoding", bus.TopicPlaceCreated, geocoder.HandleMessage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := b.Run(ctx); err != nil {
			logger.Error("message bus stopped", zap.Error(err))
		}
	}()
	<-b.Running()

	if cfg.ScheduleIntervalSeconds > 0 {
		go pipelineTrigger.Schedule(ctx, time.Duration(cfg.ScheduleIntervalSeconds)*time.Second)
	}

	router := api.SetupRouter(cfg, api.Handlers{
		Locations: handler.NewLocationHandler(b, logger),
		Timeline:  handler.NewTimelineHandler(processed, tripRepo),
		Places:    handler.NewPlaceHandler(places),
		Process:   handler.NewProcessHandler(b, importState, logger),
	}, logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
