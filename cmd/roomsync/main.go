package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomsync/internal/api"
	"roomsync/internal/config"
	"roomsync/internal/events"
	"roomsync/internal/export"
	"roomsync/internal/logging"
	"roomsync/internal/mapper"
	"roomsync/internal/metrics"
	"roomsync/internal/models"
	"roomsync/internal/reconcile"
	"roomsync/internal/repository"
	"roomsync/internal/scheduler"
	"roomsync/internal/service"
	"roomsync/internal/source"
	"roomsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	calendarSource, err := initCalendar(ctx, cfg, &logger)
	if err != nil {
		return err
	}

	redisClient, cache := initSnapshotCache(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	eventBus := events.NewEventBus()
	subscribeGridEvents(eventBus, &logger)

	directory := config.NewDirectory(cfg.Rooms)
	eventMapper := mapper.New(cfg.Calendar.Marker, &logger)
	reconciler := reconcile.New(calendarSource, eventMapper, directory, cache, eventBus, &logger)

	restoreCachedGrid(ctx, reconciler, cache, &logger)

	retryPolicy := worker.RetryPolicy{
		MaxRetries:   cfg.Worker.MaxRetries,
		InitialDelay: time.Duration(cfg.Worker.InitialDelay) * time.Second,
	}
	resyncWorker := worker.NewResync(calendarSource, reconciler, redisClient, eventBus, retryPolicy, &logger)
	go resyncWorker.Start(ctx)

	refreshScheduler := scheduler.New(reconciler, cfg.Refresh.IntervalSeconds, &logger)
	bookingService := service.NewBooking(
		reconciler, directory, calendarSource, refreshScheduler,
		resyncWorker, eventBus, cfg.Calendar.Marker, &logger,
	)

	if err := refreshScheduler.Start(); err != nil {
		return err
	}
	defer refreshScheduler.Stop()

	if cfg.API.Enabled {
		exporter := export.New(cfg.Exports.Path, &logger)
		apiServer := api.NewHTTPServer(
			cfg.API, reconciler, cache, directory,
			bookingService, refreshScheduler, exporter, &logger,
		)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Int("rooms", len(cfg.Rooms)).Msg("roomsync started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func initCalendar(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*source.GoogleCalendar, error) {
	calendarSource, err := source.NewGoogleCalendar(
		ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.Impersonate, logger,
	)
	if err != nil {
		logger.Error().Err(err).Msg("calendar client initialization failed")
		return nil, err
	}

	if err := calendarSource.TestConnection(ctx); err != nil {
		logger.Error().Err(err).Msg("calendar connection test failed")
		return nil, err
	}

	logger.Info().Msg("calendar client initialized")
	return calendarSource, nil
}

func initSnapshotCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *repository.FailoverSnapshotCache) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}

	primary := repository.NewRedisSnapshotCache(redisClient, models.DefaultSnapshotTTL*time.Second)
	fallback := repository.NewMemorySnapshotCache()
	return redisClient, repository.NewFailoverSnapshotCache(primary, fallback, logger)
}

// restoreCachedGrid publishes the last cached snapshot for today, if any, so
// the grid is not blank while the first pass runs.
func restoreCachedGrid(ctx context.Context, rec *reconcile.Reconciler, cache *repository.FailoverSnapshotCache, logger *zerolog.Logger) {
	dateKey := models.DateOf(time.Now()).Format(models.DateLayout)
	snap, err := cache.Get(ctx, dateKey)
	if err != nil || snap == nil {
		return
	}
	rec.Restore(snap)
	logger.Info().Str("date", dateKey).Uint64("generation", snap.Generation).Msg("restored cached grid")
}

func subscribeGridEvents(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventRoomDegraded, func(ev *events.Event) error {
		var payload events.RoomEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return nil
		}
		logger.Warn().Str("room", payload.RoomID).Msg("room source degraded, showing fallback data")
		return nil
	})
	bus.Subscribe(events.EventBookingSynced, func(ev *events.Event) error {
		var payload events.BookingEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return nil
		}
		logger.Info().Str("booking_id", payload.BookingID).Str("room", payload.RoomID).Msg("booking synced to calendar")
		return nil
	})
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
