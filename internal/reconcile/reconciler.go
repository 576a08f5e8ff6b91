package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"roomsync/internal/domain"
	"roomsync/internal/events"
	"roomsync/internal/grid"
	"roomsync/internal/mapper"
	"roomsync/internal/metrics"
	"roomsync/internal/models"
	"roomsync/internal/source"

	"github.com/rs/zerolog"
)

// ErrNoSnapshot means no reconciliation pass has published a grid yet.
var ErrNoSnapshot = errors.New("no grid snapshot published yet")

// dropOverlap labels remote events skipped because an earlier event of the
// same pass already occupied part of their range.
const dropOverlap = "overlapping_event"

// Reconciler turns remote calendar state into published grid snapshots.
// Each pass carries a generation token; a pass that finishes after a newer
// one has started is discarded instead of overwriting fresher data.
type Reconciler struct {
	source domain.CalendarSource
	mapper *mapper.Mapper
	dir    domain.RoomDirectory
	cache  domain.SnapshotCache
	bus    domain.EventPublisher
	logger zerolog.Logger

	gen     atomic.Uint64
	mu      sync.Mutex
	current *grid.Snapshot
}

func New(
	src domain.CalendarSource,
	m *mapper.Mapper,
	dir domain.RoomDirectory,
	cache domain.SnapshotCache,
	bus domain.EventPublisher,
	logger *zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		source: src,
		mapper: m,
		dir:    dir,
		cache:  cache,
		bus:    bus,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

type roomFetch struct {
	room   models.Room
	events []models.RawEvent
	err    error
}

// Run executes one full reconciliation pass for a date: per-room fetches in
// parallel with isolated failure, one shared personal-calendar fallback
// fetch, mapping, and atomic publication. Partial success is the normal
// case; only an auth failure aborts the pass.
func (r *Reconciler) Run(ctx context.Context, date time.Time) (*grid.Snapshot, error) {
	gen := r.gen.Add(1)
	rooms := r.dir.Rooms()
	from, to := models.DayWindow(date)

	fetches := make([]roomFetch, len(rooms))
	var wg sync.WaitGroup
	for i, room := range rooms {
		fetches[i].room = room
		if room.Mailbox == "" {
			continue
		}
		wg.Add(1)
		go func(i int, room models.Room) {
			defer wg.Done()
			evs, err := r.source.ListEvents(ctx, room.Mailbox, from, to)
			fetches[i].events = evs
			fetches[i].err = err
		}(i, room)
	}
	wg.Wait()

	status := make(map[string]models.SourceStatus, len(rooms))
	roomIDs := make([]string, len(rooms))
	for i, room := range rooms {
		roomIDs[i] = room.ID
		switch {
		case room.Mailbox == "":
			status[room.ID] = models.SourceUnconfigured
		case fetches[i].err != nil:
			if errors.Is(fetches[i].err, source.ErrAuthRequired) {
				metrics.IncSyncPass("failed")
				return nil, fetches[i].err
			}
			status[room.ID] = models.SourceDegraded
			metrics.IncRoomFetchFailure(room.ID)
			r.logger.Warn().Err(fetches[i].err).Str("room", room.ID).Msg("room calendar fetch failed")
		default:
			status[room.ID] = models.SourceOK
		}
	}

	g := grid.Empty(date, roomIDs)
	for i, room := range rooms {
		if status[room.ID] != models.SourceOK {
			continue
		}
		g = r.placeRoomEvents(g, room.ID, fetches[i].events)
	}

	// Fallback phase: one personal-calendar fetch shared by every room whose
	// own source is missing or degraded. Room-calendar data placed above is
	// never overridden here.
	fallback := fallbackRooms(rooms, status)
	if len(fallback) > 0 {
		personal, err := r.source.ListEvents(ctx, "", from, to)
		switch {
		case errors.Is(err, source.ErrAuthRequired):
			metrics.IncSyncPass("failed")
			return nil, err
		case err != nil:
			metrics.IncRoomFetchFailure("_personal")
			r.logger.Warn().Err(err).Msg("personal calendar fallback fetch failed")
		default:
			for _, room := range fallback {
				g = r.placePersonalEvents(g, room, personal)
			}
		}
	}

	snap := &grid.Snapshot{
		Date:       models.DateOf(date),
		Grid:       g,
		Status:     status,
		Generation: gen,
		SyncedAt:   time.Now(),
	}
	if !r.publish(ctx, snap) {
		metrics.IncSyncPass("superseded")
		return snap, nil
	}
	metrics.IncSyncPass("published")
	r.announce(snap, rooms)
	return snap, nil
}

func (r *Reconciler) placeRoomEvents(g *grid.Grid, roomID string, evs []models.RawEvent) *grid.Grid {
	for _, ev := range evs {
		res := r.mapper.MapRoomEvent(ev)
		if res.Span == nil {
			continue
		}
		g = r.occupy(g, roomID, res.Span)
	}
	return g
}

func (r *Reconciler) placePersonalEvents(g *grid.Grid, room models.Room, evs []models.RawEvent) *grid.Grid {
	for _, ev := range evs {
		res := r.mapper.MapPersonalEvent(ev, room)
		if res.Span == nil {
			continue
		}
		g = r.occupy(g, room.ID, res.Span)
	}
	return g
}

// occupy places a mapped span, keeping the grid overlap-free: when two
// remote events collide the first mapped one wins and the loser is counted.
func (r *Reconciler) occupy(g *grid.Grid, roomID string, span *models.BookingSpan) *grid.Grid {
	next, err := g.Occupy(roomID, span.StartSlot, span.EndSlot, *span)
	if err != nil {
		metrics.IncDroppedEvent(dropOverlap)
		r.logger.Debug().Err(err).Str("room", roomID).Str("event_id", span.ID).Msg("event skipped")
		return g
	}
	return next
}

// publish installs the snapshot unless a newer pass has started or already
// published. Returns false when the snapshot was discarded as stale.
func (r *Reconciler) publish(ctx context.Context, snap *grid.Snapshot) bool {
	if r.gen.Load() != snap.Generation {
		return false
	}

	r.mu.Lock()
	if r.current != nil && r.current.Generation > snap.Generation {
		r.mu.Unlock()
		return false
	}
	r.current = snap
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Set(ctx, snap); err != nil {
			r.logger.Warn().Err(err).Str("date", snap.DateKey()).Msg("snapshot cache write failed")
		}
	}
	return true
}

func (r *Reconciler) announce(snap *grid.Snapshot, rooms []models.Room) {
	if r.bus == nil {
		return
	}

	var degraded []string
	for _, room := range rooms {
		if snap.Status[room.ID] == models.SourceDegraded {
			degraded = append(degraded, room.ID)
		}
	}

	_ = r.bus.PublishJSON(events.EventGridPublished, events.GridEventPayload{
		Date:       snap.DateKey(),
		Generation: snap.Generation,
		Rooms:      len(rooms),
		Degraded:   degraded,
	})
	for _, roomID := range degraded {
		_ = r.bus.PublishJSON(events.EventRoomDegraded, events.RoomEventPayload{
			RoomID: roomID,
			Status: string(models.SourceDegraded),
		})
	}
}

// Restore seeds the holder with a cached snapshot at startup. It never
// replaces a snapshot a live pass has published, and it advances the
// generation counter past the restored value so the next pass supersedes it.
func (r *Reconciler) Restore(snap *grid.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return
	}
	r.current = snap
	for {
		cur := r.gen.Load()
		if cur >= snap.Generation || r.gen.CompareAndSwap(cur, snap.Generation) {
			return
		}
	}
}

// Current returns the most recently published snapshot, or nil before the
// first pass completes.
func (r *Reconciler) Current() *grid.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Apply runs a copy-on-write mutation against the current grid and installs
// the result as the new snapshot. The mutation sees whatever grid is
// current at commit time; the next completed pass overwrites it.
func (r *Reconciler) Apply(mutate func(*grid.Grid) (*grid.Grid, error)) (*grid.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil, ErrNoSnapshot
	}
	next, err := mutate(r.current.Grid)
	if err != nil {
		return nil, err
	}

	snap := &grid.Snapshot{
		Date:       r.current.Date,
		Grid:       next,
		Status:     r.current.Status,
		Generation: r.current.Generation,
		SyncedAt:   r.current.SyncedAt,
	}
	r.current = snap

	if r.cache != nil {
		if err := r.cache.Set(context.Background(), snap); err != nil {
			r.logger.Warn().Err(err).Str("date", snap.DateKey()).Msg("snapshot cache write failed")
		}
	}
	return snap, nil
}

func fallbackRooms(rooms []models.Room, status map[string]models.SourceStatus) []models.Room {
	var out []models.Room
	for _, room := range rooms {
		if s := status[room.ID]; s == models.SourceUnconfigured || s == models.SourceDegraded {
			out = append(out, room)
		}
	}
	return out
}
