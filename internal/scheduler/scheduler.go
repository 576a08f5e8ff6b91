package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomsync/internal/grid"
	"roomsync/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// passTimeout bounds a single reconciliation pass; a stuck fetch must not
// block the pass that supersedes it forever.
const passTimeout = 30 * time.Second

// PassRunner runs one reconciliation pass for a date.
type PassRunner interface {
	Run(ctx context.Context, date time.Time) (*grid.Snapshot, error)
}

// Scheduler owns the viewed date and decides when reconciliation passes
// happen: on a fixed interval, on date changes, and on explicit triggers
// such as a completed booking or the UI regaining visibility.
type Scheduler struct {
	runner   PassRunner
	interval time.Duration
	logger   zerolog.Logger

	cron *cron.Cron

	mu         sync.Mutex
	viewedDate time.Time
}

func New(runner PassRunner, intervalSeconds int, logger *zerolog.Logger) *Scheduler {
	if intervalSeconds <= 0 {
		intervalSeconds = models.DefaultRefreshInterval
	}
	return &Scheduler{
		runner:     runner,
		interval:   time.Duration(intervalSeconds) * time.Second,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		viewedDate: models.DateOf(time.Now()),
	}
}

// Start begins the interval ticks and fires an immediate first pass.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %ds", int(s.interval.Seconds()))
	if _, err := s.cron.AddFunc(spec, func() { s.Refresh("interval") }); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Dur("interval", s.interval).Msg("refresh schedule started")

	s.Refresh("startup")
	return nil
}

// Stop halts the interval ticks. Passes already running finish on their own.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Refresh launches one asynchronous pass for the viewed date. Stale results
// are discarded by the runner's generation check, so overlapping triggers
// are harmless.
func (s *Scheduler) Refresh(reason string) {
	date := s.ViewedDate()
	s.logger.Debug().Str("reason", reason).Str("date", date.Format(models.DateLayout)).Msg("refresh requested")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
		defer cancel()
		if _, err := s.runner.Run(ctx, date); err != nil {
			s.logger.Error().Err(err).Str("reason", reason).Msg("reconciliation pass failed")
		}
	}()
}

// SetViewedDate switches the date the grid projects and refreshes for it.
func (s *Scheduler) SetViewedDate(date time.Time) {
	normalized := models.DateOf(date)
	s.mu.Lock()
	changed := !normalized.Equal(s.viewedDate)
	s.viewedDate = normalized
	s.mu.Unlock()

	if changed {
		s.Refresh("date_changed")
	}
}

func (s *Scheduler) ViewedDate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewedDate
}

// OnVisibilityRegained refreshes after the display was asleep or hidden; the
// grid may be arbitrarily stale.
func (s *Scheduler) OnVisibilityRegained() {
	s.Refresh("visibility_regained")
}

// OnConfigChanged refreshes after the room set or source bindings changed.
func (s *Scheduler) OnConfigChanged() {
	s.Refresh("config_changed")
}
