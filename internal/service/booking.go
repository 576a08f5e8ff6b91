package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roomsync/internal/domain"
	"roomsync/internal/events"
	"roomsync/internal/grid"
	"roomsync/internal/metrics"
	"roomsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrEmptyBookerName means a create request arrived without a booker name.
	ErrEmptyBookerName = errors.New("booker name is required")

	// ErrInvalidRange means the requested slot range does not fit the day.
	ErrInvalidRange = errors.New("slot range does not fit the booking day")

	// ErrNotOrganizer means a cancel request came from someone other than
	// the booking's organizer.
	ErrNotOrganizer = errors.New("only the organizer can cancel this booking")
)

// Booking applies optimistic mutations: the grid changes first, the remote
// calendar follows, and a scheduled pass reconciles whatever diverged.
type Booking struct {
	holder    domain.GridHolder
	dir       domain.RoomDirectory
	source    domain.CalendarSource
	refresher domain.Refresher
	worker    domain.ResyncWorker
	bus       domain.EventPublisher
	marker    string
	logger    zerolog.Logger
}

func NewBooking(
	holder domain.GridHolder,
	dir domain.RoomDirectory,
	source domain.CalendarSource,
	refresher domain.Refresher,
	worker domain.ResyncWorker,
	bus domain.EventPublisher,
	marker string,
	logger *zerolog.Logger,
) *Booking {
	if marker == "" {
		marker = models.DefaultMarker
	}
	return &Booking{
		holder:    holder,
		dir:       dir,
		source:    source,
		refresher: refresher,
		worker:    worker,
		bus:       bus,
		marker:    marker,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

type CreateRequest struct {
	RoomID     string
	StartSlot  int
	EndSlot    int
	BookerName string
	Organizer  string
	Attendees  []string
}

// CreateResult reports the placed span. Warning is set when the booking is
// live locally but its remote event has not been written yet.
type CreateResult struct {
	Span    models.BookingSpan
	Warning string
}

// Create books a range: the slot is taken on the grid immediately, then the
// remote event is written. A remote failure keeps the local booking and
// hands the create to the resync worker instead of rolling back.
func (b *Booking) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if strings.TrimSpace(req.BookerName) == "" {
		metrics.IncBookingOp("create", "invalid")
		return nil, ErrEmptyBookerName
	}
	if req.StartSlot < 0 || req.EndSlot > models.SlotCount || req.EndSlot <= req.StartSlot {
		metrics.IncBookingOp("create", "invalid")
		return nil, ErrInvalidRange
	}
	room, ok := b.dir.RoomByID(req.RoomID)
	if !ok {
		metrics.IncBookingOp("create", "invalid")
		return nil, grid.ErrUnknownRoom
	}

	local := models.BookingSpan{
		ID:        uuid.NewString(),
		Label:     strings.TrimSpace(req.BookerName),
		Organizer: req.Organizer,
		Attendees: len(req.Attendees),
		Synced:    false,
	}

	snap, err := b.holder.Apply(func(g *grid.Grid) (*grid.Grid, error) {
		return g.Occupy(req.RoomID, req.StartSlot, req.EndSlot, local)
	})
	if err != nil {
		if errors.Is(err, grid.ErrSlotConflict) {
			// Someone else won the race; pull fresh remote state so the
			// caller sees who.
			metrics.IncBookingOp("create", "conflict")
			b.refresher.Refresh("booking_conflict")
			return nil, err
		}
		metrics.IncBookingOp("create", "failed")
		return nil, err
	}
	local.StartSlot = req.StartSlot
	local.EndSlot = req.EndSlot

	payload := b.eventPayload(snap.Date, room, req)
	remoteID, err := b.source.CreateEvent(ctx, room.Mailbox, payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("room", req.RoomID).Str("booking_id", local.ID).
			Msg("remote create failed, booking kept locally")
		metrics.IncBookingOp("create", "local")
		b.enqueueResync(ctx, room, local, payload)
		return &CreateResult{
			Span:    local,
			Warning: "booking saved locally; calendar event will be created in the background",
		}, nil
	}

	synced := local
	synced.ID = remoteID
	synced.Synced = true
	if _, err := b.holder.Apply(func(g *grid.Grid) (*grid.Grid, error) {
		next, _, err := g.Release(req.RoomID, req.StartSlot)
		if err != nil {
			return nil, err
		}
		return next.Occupy(req.RoomID, req.StartSlot, req.EndSlot, synced)
	}); err != nil {
		// The span vanished between the two mutations, which means a fresh
		// pass already replaced it with remote truth. Nothing to fix.
		b.logger.Debug().Err(err).Str("booking_id", local.ID).Msg("synced swap skipped")
	}

	metrics.IncBookingOp("create", "ok")
	b.publish(events.EventBookingCreated, req.RoomID, synced)
	b.refresher.Refresh("booking_created")
	return &CreateResult{Span: synced}, nil
}

type CancelRequest struct {
	RoomID    string
	HeadSlot  int
	Requester string
}

type CancelResult struct {
	Span    models.BookingSpan
	Warning string
}

// Cancel releases a booking by its head slot. The organizer check is
// permissive: spans with no recorded organizer, and requests with no
// identity, are allowed through rather than stranding the booking.
func (b *Booking) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	room, ok := b.dir.RoomByID(req.RoomID)
	if !ok {
		metrics.IncBookingOp("cancel", "invalid")
		return nil, grid.ErrUnknownRoom
	}

	var removed *models.BookingSpan
	_, err := b.holder.Apply(func(g *grid.Grid) (*grid.Grid, error) {
		span, head := g.SpanAt(req.RoomID, req.HeadSlot)
		if span == nil || !head {
			return nil, grid.ErrNotHeadSlot
		}
		if span.Organizer != "" && req.Requester != "" &&
			!strings.EqualFold(span.Organizer, req.Requester) {
			return nil, ErrNotOrganizer
		}
		next, sp, err := g.Release(req.RoomID, req.HeadSlot)
		removed = sp
		return next, err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotOrganizer):
			metrics.IncBookingOp("cancel", "forbidden")
		case errors.Is(err, grid.ErrNotHeadSlot):
			metrics.IncBookingOp("cancel", "not_head")
		default:
			metrics.IncBookingOp("cancel", "failed")
		}
		return nil, err
	}

	result := &CancelResult{Span: *removed}
	if removed.Synced {
		if err := b.source.DeleteEvent(ctx, room.Mailbox, removed.ID); err != nil {
			// The slot is already free locally; the orphaned remote event
			// comes back on the next pass if the delete never lands.
			b.logger.Warn().Err(err).Str("event_id", removed.ID).
				Msg("remote delete failed after local release")
			result.Warning = "slot freed locally; calendar event could not be removed yet"
			metrics.IncBookingOp("cancel", "local")
		} else {
			metrics.IncBookingOp("cancel", "ok")
			b.refresher.Refresh("booking_cancelled")
		}
	} else {
		metrics.IncBookingOp("cancel", "ok")
	}

	b.publish(events.EventBookingCancelled, req.RoomID, *removed)
	return result, nil
}

func (b *Booking) eventPayload(date time.Time, room models.Room, req CreateRequest) models.EventPayload {
	return models.EventPayload{
		Subject:   fmt.Sprintf("[%s] %s", room.Name, strings.TrimSpace(req.BookerName)),
		Body:      b.marker,
		Location:  room.Name,
		Start:     models.SlotTime(date, req.StartSlot),
		End:       models.SlotTime(date, req.EndSlot),
		Attendees: req.Attendees,
	}
}

func (b *Booking) enqueueResync(ctx context.Context, room models.Room, span models.BookingSpan, payload models.EventPayload) {
	if b.worker == nil {
		return
	}
	task := models.ResyncTask{
		RoomID:    room.ID,
		Mailbox:   room.Mailbox,
		BookingID: span.ID,
		HeadSlot:  span.StartSlot,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := b.worker.EnqueueCreate(ctx, task); err != nil {
		b.logger.Error().Err(err).Str("booking_id", span.ID).Msg("resync enqueue failed")
	}
}

func (b *Booking) publish(eventType, roomID string, span models.BookingSpan) {
	if b.bus == nil {
		return
	}
	_ = b.bus.PublishJSON(eventType, events.BookingEventPayload{
		RoomID:    roomID,
		BookingID: span.ID,
		Label:     span.Label,
		StartSlot: span.StartSlot,
		EndSlot:   span.EndSlot,
		Synced:    span.Synced,
	})
}
