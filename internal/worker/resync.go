package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"roomsync/internal/domain"
	"roomsync/internal/events"
	"roomsync/internal/grid"
	"roomsync/internal/metrics"
	"roomsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Resync retries remote event creates for bookings that exist only on the
// local grid. Tasks queue through redis when available so a restart does not
// lose them; otherwise an in-memory channel carries them.
type Resync struct {
	source        domain.CalendarSource
	holder        domain.GridHolder
	redis         *redis.Client
	bus           domain.EventPublisher
	retryPolicy   RetryPolicy
	queue         chan models.ResyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	logger        zerolog.Logger
}

// NewResync builds a worker with sane defaults.
func NewResync(
	source domain.CalendarSource,
	holder domain.GridHolder,
	redisClient *redis.Client,
	bus domain.EventPublisher,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *Resync {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &Resync{
		source:        source,
		holder:        holder,
		redis:         redisClient,
		bus:           bus,
		retryPolicy:   retry,
		queue:         make(chan models.ResyncTask, models.WorkerQueueSize),
		redisQueueKey: "roomsync:resync:queue",
		deadLetterKey: "roomsync:resync:deadletter",
		pollInterval:  2 * time.Second,
		logger:        logger.With().Str("component", "resync_worker").Logger(),
	}
}

// EnqueueCreate schedules a remote create retry via redis or the in-memory
// queue.
func (w *Resync) EnqueueCreate(ctx context.Context, task models.ResyncTask) error {
	if task.BookingID == "" {
		return errors.New("booking id is required")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
		return nil
	default:
		w.logger.Error().Str("booking_id", task.BookingID).Msg("in-memory queue full, task dropped")
		return errors.New("resync queue is full")
	}
}

// Start launches the main loop; stops when ctx is done.
func (w *Resync) Start(ctx context.Context) {
	w.logger.Info().Msg("resync worker started")
	defer w.logger.Info().Msg("resync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.process(ctx, t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.process(ctx, t)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Resync) tryLocalQueue() (models.ResyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.ResyncTask{}, false
	}
}

func (w *Resync) tryRedis(ctx context.Context) (models.ResyncTask, bool) {
	if w.redis == nil {
		return models.ResyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) && !errors.Is(err, redis.Nil) {
			w.logger.Warn().Err(err).Msg("redis BRPOP error")
		}
		return models.ResyncTask{}, false
	}
	if len(res) != 2 {
		return models.ResyncTask{}, false
	}
	var task models.ResyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.ResyncTask{}, false
	}
	return task, true
}

func (w *Resync) process(ctx context.Context, task models.ResyncTask) {
	if !w.stillPending(task) {
		w.logger.Info().Str("booking_id", task.BookingID).Msg("booking no longer on the grid, task dropped")
		metrics.IncBookingOp("resync", "dropped")
		return
	}

	remoteID, err := w.source.CreateEvent(ctx, task.Mailbox, task.Payload)
	if err != nil {
		w.retryOrFail(task, err)
		return
	}

	w.markSynced(task, remoteID)
	metrics.IncBookingOp("resync", "ok")

	if w.bus != nil {
		_ = w.bus.PublishJSON(events.EventBookingSynced, events.BookingEventPayload{
			BookingID: remoteID,
			RoomID:    task.RoomID,
			StartSlot: task.HeadSlot,
			Synced:    true,
		})
	}
}

// stillPending reports whether the local placeholder span is still on the
// grid. A booking cancelled before its retry fires must not be re-created
// remotely.
func (w *Resync) stillPending(task models.ResyncTask) bool {
	snap := w.holder.Current()
	if snap == nil {
		return false
	}
	span, head := snap.Grid.SpanAt(task.RoomID, task.HeadSlot)
	return span != nil && head && span.ID == task.BookingID
}

// markSynced swaps the local placeholder span for one carrying the remote
// event id. The span may have vanished if a pass rebuilt the grid from
// remote state in the meantime; then there is nothing left to mark, the
// created event itself arrives with the next pass.
func (w *Resync) markSynced(task models.ResyncTask, remoteID string) {
	_, err := w.holder.Apply(func(g *grid.Grid) (*grid.Grid, error) {
		span, head := g.SpanAt(task.RoomID, task.HeadSlot)
		if span == nil || !head || span.ID != task.BookingID {
			return g, nil
		}
		next, removed, err := g.Release(task.RoomID, task.HeadSlot)
		if err != nil {
			return nil, err
		}
		synced := *removed
		synced.ID = remoteID
		synced.Synced = true
		return next.Occupy(task.RoomID, removed.StartSlot, removed.EndSlot, synced)
	})
	if err != nil {
		w.logger.Debug().Err(err).Str("booking_id", task.BookingID).Msg("synced swap skipped")
	}
}

func (w *Resync) retryOrFail(task models.ResyncTask, cause error) {
	task.RetryCount++
	if task.RetryCount >= w.retryPolicy.MaxRetries {
		w.logger.Error().Err(cause).Str("booking_id", task.BookingID).
			Int("retries", task.RetryCount).Msg("resync task exhausted retries")
		metrics.IncBookingOp("resync", "dead")
		w.pushDeadLetter(task)
		return
	}

	delay := w.retryPolicy.NextDelay(task.RetryCount)
	w.logger.Warn().Err(cause).Str("booking_id", task.BookingID).
		Int("attempt", task.RetryCount).Dur("next_in", delay).Msg("resync attempt failed")
	metrics.IncBookingOp("resync", "retry")

	time.AfterFunc(delay, func() {
		if err := w.EnqueueCreate(context.Background(), task); err != nil {
			w.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("re-enqueue failed")
		}
	})
}

func (w *Resync) pushRedis(ctx context.Context, task models.ResyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *Resync) pushDeadLetter(task models.ResyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(context.Background(), w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("deadletter push failed")
	}
}
