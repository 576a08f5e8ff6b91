package mapper

import (
	"strings"

	"roomsync/internal/metrics"
	"roomsync/internal/models"

	"github.com/rs/zerolog"
)

// Drop reasons, used as metric labels.
const (
	DropMisalignedStart = "misaligned_start"
	DropNotRoomBooking  = "not_room_booking"
)

// labelMarker separates the bracketed room tag from the display label in
// subjects this system writes itself, e.g. "[Tarangire] Budget Review".
const labelMarker = "] "

// Result is the tagged outcome of mapping one raw event: either a span or a
// drop reason. A dropped event is a diagnostic, never an error.
type Result struct {
	Span    *models.BookingSpan
	Dropped string
}

// Mapper normalizes raw remote calendar events into booking spans. It is
// the only place that trusts anything about a RawEvent's fields.
type Mapper struct {
	marker string
	logger zerolog.Logger
}

func New(marker string, logger *zerolog.Logger) *Mapper {
	if marker == "" {
		marker = models.DefaultMarker
	}
	return &Mapper{
		marker: marker,
		logger: logger.With().Str("component", "mapper").Logger(),
	}
}

// MapRoomEvent maps an event fetched from a room's own mailbox. Every event
// from that source belongs to the room by construction, so no ownership
// filtering applies.
func (m *Mapper) MapRoomEvent(ev models.RawEvent) Result {
	return m.mapSpan(ev)
}

// MapPersonalEvent maps an event from the viewer's personal calendar against
// one candidate room. The event is accepted only when its body carries this
// system's marker string and it names the room, either in the location text
// or as a bracketed subject tag. Everything else is excluded so unrelated
// personal meetings never show up as fictitious room conflicts.
func (m *Mapper) MapPersonalEvent(ev models.RawEvent, room models.Room) Result {
	if !strings.Contains(ev.Body, m.marker) {
		return m.drop(ev, DropNotRoomBooking)
	}
	tag := "[" + room.Name + "]"
	if !strings.Contains(ev.Location, room.Name) && !strings.Contains(ev.Subject, tag) {
		return m.drop(ev, DropNotRoomBooking)
	}
	return m.mapSpan(ev)
}

func (m *Mapper) mapSpan(ev models.RawEvent) Result {
	start, ok := models.SlotIndexForTime(ev.Start)
	if !ok {
		// The event cannot be represented on the day axis. Dropped, not
		// surfaced: it reflects data outside the booking day rather than
		// a system fault.
		return m.drop(ev, DropMisalignedStart)
	}

	end := models.SlotCeil(ev.End)
	if end <= start {
		end = start + 1
	}

	return Result{Span: &models.BookingSpan{
		ID:        ev.ID,
		Label:     m.label(ev),
		Organizer: ev.OrganizerAddress,
		StartSlot: start,
		EndSlot:   end,
		Attendees: countAttendees(ev.Attendees),
		Synced:    true,
	}}
}

// label prefers the subject portion after the "] " marker (the convention
// for events this system created), then the organizer display name, then
// the raw subject, then a generic placeholder.
func (m *Mapper) label(ev models.RawEvent) string {
	if idx := strings.Index(ev.Subject, labelMarker); idx >= 0 {
		if rest := strings.TrimSpace(ev.Subject[idx+len(labelMarker):]); rest != "" {
			return rest
		}
	}
	if ev.OrganizerName != "" {
		return ev.OrganizerName
	}
	if s := strings.TrimSpace(ev.Subject); s != "" {
		return s
	}
	return models.DefaultLabel
}

// countAttendees counts invitees with a resolvable address. Room resource
// addresses are included, matching the count shown to the booker.
func countAttendees(attendees []models.Attendee) int {
	n := 0
	for _, a := range attendees {
		if a.Address != "" {
			n++
		}
	}
	return n
}

func (m *Mapper) drop(ev models.RawEvent, reason string) Result {
	metrics.IncDroppedEvent(reason)
	m.logger.Debug().
		Str("event_id", ev.ID).
		Str("reason", reason).
		Time("start", ev.Start).
		Msg("event dropped")
	return Result{Dropped: reason}
}
