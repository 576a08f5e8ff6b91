package grid

import (
	"errors"
	"time"

	"roomsync/internal/models"
)

var (
	// ErrSlotConflict means some slot in the requested range is already occupied.
	ErrSlotConflict = errors.New("slot range is already occupied")

	// ErrNotHeadSlot means a release targeted a continuation or an empty slot.
	ErrNotHeadSlot = errors.New("slot is not the head of a booking")

	// ErrUnknownRoom means the room is not part of this grid.
	ErrUnknownRoom = errors.New("room is not on the grid")

	// ErrInvalidRange means the slot range does not fit the day axis.
	ErrInvalidRange = errors.New("invalid slot range")
)

// Grid is the per-date projection: room -> 26 half-hour slots, each either
// free (nil) or pointing at a booking span. Every slot of a span shares one
// pointer; the head slot is the one matching the span's StartSlot. Mutating
// operations are copy-on-write and never partially apply.
type Grid struct {
	date  time.Time
	rooms []string
	cells map[string][]*models.BookingSpan
}

// Empty builds an all-free grid for a date and room set. Deterministic:
// the same inputs always produce an identical grid.
func Empty(date time.Time, rooms []string) *Grid {
	g := &Grid{
		date:  models.DateOf(date),
		rooms: append([]string(nil), rooms...),
		cells: make(map[string][]*models.BookingSpan, len(rooms)),
	}
	for _, r := range rooms {
		g.cells[r] = make([]*models.BookingSpan, models.SlotCount)
	}
	return g
}

// Date returns the grid's date, normalized to midnight local time.
func (g *Grid) Date() time.Time { return g.date }

// Rooms returns the room axis in configuration order.
func (g *Grid) Rooms() []string {
	return append([]string(nil), g.rooms...)
}

// SpanAt returns the span occupying a slot, and whether that slot is the
// span's head. The span is nil when the slot is free.
func (g *Grid) SpanAt(room string, slot int) (*models.BookingSpan, bool) {
	cells, ok := g.cells[room]
	if !ok || slot < 0 || slot >= models.SlotCount {
		return nil, false
	}
	span := cells[slot]
	if span == nil {
		return nil, false
	}
	return span, slot == span.StartSlot
}

// RangeFree reports whether every slot in [start, end) is free.
func (g *Grid) RangeFree(room string, start, end int) bool {
	cells, ok := g.cells[room]
	if !ok {
		return false
	}
	if end > models.SlotCount {
		end = models.SlotCount
	}
	for i := start; i < end; i++ {
		if cells[i] != nil {
			return false
		}
	}
	return true
}

// Occupy places a booking over [startSlot, endSlot). endSlot is exclusive
// and clamped to the grid length: an event extending past the visible day
// is truncated, not rejected. Fails with ErrSlotConflict if any slot in the
// range is taken, leaving the receiver untouched.
func (g *Grid) Occupy(room string, startSlot, endSlot int, span models.BookingSpan) (*Grid, error) {
	cells, ok := g.cells[room]
	if !ok {
		return nil, ErrUnknownRoom
	}
	if endSlot > models.SlotCount {
		endSlot = models.SlotCount
	}
	if startSlot < 0 || startSlot >= models.SlotCount || endSlot <= startSlot {
		return nil, ErrInvalidRange
	}
	for i := startSlot; i < endSlot; i++ {
		if cells[i] != nil {
			return nil, ErrSlotConflict
		}
	}

	span.StartSlot = startSlot
	span.EndSlot = endSlot

	next := g.clone()
	placed := &span
	for i := startSlot; i < endSlot; i++ {
		next.cells[room][i] = placed
	}
	return next, nil
}

// Release clears the booking whose head sits at headSlot. Clearing is
// identity-based: every slot in the room holding the same booking id is
// freed, no others. Targeting a continuation or an empty slot fails with
// ErrNotHeadSlot. Returns the removed span.
func (g *Grid) Release(room string, headSlot int) (*Grid, *models.BookingSpan, error) {
	if _, ok := g.cells[room]; !ok {
		return nil, nil, ErrUnknownRoom
	}
	span, head := g.SpanAt(room, headSlot)
	if span == nil || !head {
		return nil, nil, ErrNotHeadSlot
	}

	next := g.clone()
	for i, s := range next.cells[room] {
		if s != nil && s.ID == span.ID {
			next.cells[room][i] = nil
		}
	}
	removed := *span
	return next, &removed, nil
}

// Spans returns the head span of every booking in a room, in slot order.
func (g *Grid) Spans(room string) []models.BookingSpan {
	cells, ok := g.cells[room]
	if !ok {
		return nil
	}
	var out []models.BookingSpan
	for i, s := range cells {
		if s != nil && i == s.StartSlot {
			out = append(out, *s)
		}
	}
	return out
}

func (g *Grid) clone() *Grid {
	next := &Grid{
		date:  g.date,
		rooms: append([]string(nil), g.rooms...),
		cells: make(map[string][]*models.BookingSpan, len(g.cells)),
	}
	for room, cells := range g.cells {
		copied := make([]*models.BookingSpan, models.SlotCount)
		copy(copied, cells)
		next.cells[room] = copied
	}
	return next
}
