package grid

import (
	"testing"
	"time"

	"roomsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDate = time.Date(2026, 3, 12, 0, 0, 0, 0, time.Local)

func testRooms() []string { return []string{"tarangire", "ruaha", "serengeti"} }

func TestEmpty(t *testing.T) {
	g := Empty(testDate, testRooms())

	assert.Equal(t, testDate, g.Date())
	assert.Equal(t, testRooms(), g.Rooms())
	for _, room := range testRooms() {
		for i := 0; i < models.SlotCount; i++ {
			span, head := g.SpanAt(room, i)
			assert.Nil(t, span)
			assert.False(t, head)
		}
	}

	// deterministic: two empty grids for the same inputs are identical
	assert.Equal(t, g, Empty(testDate, testRooms()))
}

func TestOccupy(t *testing.T) {
	g := Empty(testDate, testRooms())

	t.Run("head and continuations", func(t *testing.T) {
		next, err := g.Occupy("tarangire", 2, 5, models.BookingSpan{ID: "ev-1", Label: "Standup"})
		require.NoError(t, err)

		span, head := next.SpanAt("tarangire", 2)
		require.NotNil(t, span)
		assert.True(t, head)
		assert.Equal(t, 2, span.StartSlot)
		assert.Equal(t, 5, span.EndSlot)

		for _, slot := range []int{3, 4} {
			span, head := next.SpanAt("tarangire", slot)
			require.NotNil(t, span)
			assert.False(t, head)
			assert.Equal(t, "ev-1", span.ID)
		}

		span, _ = next.SpanAt("tarangire", 5)
		assert.Nil(t, span)

		// the original grid is untouched
		span, _ = g.SpanAt("tarangire", 2)
		assert.Nil(t, span)
	})

	t.Run("conflict leaves grid unchanged", func(t *testing.T) {
		base, err := g.Occupy("ruaha", 4, 6, models.BookingSpan{ID: "ev-2"})
		require.NoError(t, err)

		next, err := base.Occupy("ruaha", 5, 8, models.BookingSpan{ID: "ev-3"})
		assert.ErrorIs(t, err, ErrSlotConflict)
		assert.Nil(t, next)

		// no partial write: slots 6 and 7 stayed free
		assert.True(t, base.RangeFree("ruaha", 6, 8))
	})

	t.Run("end clamped to grid length", func(t *testing.T) {
		next, err := g.Occupy("serengeti", 24, 40, models.BookingSpan{ID: "ev-4"})
		require.NoError(t, err)

		span, head := next.SpanAt("serengeti", 24)
		require.NotNil(t, span)
		assert.True(t, head)
		assert.Equal(t, models.SlotCount, span.EndSlot)
	})

	t.Run("invalid ranges", func(t *testing.T) {
		_, err := g.Occupy("tarangire", -1, 2, models.BookingSpan{ID: "x"})
		assert.ErrorIs(t, err, ErrInvalidRange)

		_, err = g.Occupy("tarangire", 5, 5, models.BookingSpan{ID: "x"})
		assert.ErrorIs(t, err, ErrInvalidRange)

		_, err = g.Occupy("kilimanjaro", 0, 2, models.BookingSpan{ID: "x"})
		assert.ErrorIs(t, err, ErrUnknownRoom)
	})
}

func TestRelease(t *testing.T) {
	g := Empty(testDate, testRooms())

	// Tarangire 09:00-10:00 booked as one span by A. Singh,
	// with an unrelated adjacent booking right after.
	g, err := g.Occupy("tarangire", 2, 4, models.BookingSpan{ID: "ev-singh", Label: "A. Singh"})
	require.NoError(t, err)
	g, err = g.Occupy("tarangire", 4, 6, models.BookingSpan{ID: "ev-other", Label: "Other"})
	require.NoError(t, err)

	t.Run("head clears whole span and no others", func(t *testing.T) {
		next, removed, err := g.Release("tarangire", 2)
		require.NoError(t, err)
		assert.Equal(t, "ev-singh", removed.ID)

		assert.True(t, next.RangeFree("tarangire", 2, 4))

		span, head := next.SpanAt("tarangire", 4)
		require.NotNil(t, span)
		assert.True(t, head)
		assert.Equal(t, "ev-other", span.ID)
	})

	t.Run("continuation fails", func(t *testing.T) {
		_, _, err := g.Release("tarangire", 3)
		assert.ErrorIs(t, err, ErrNotHeadSlot)
	})

	t.Run("empty slot fails", func(t *testing.T) {
		_, _, err := g.Release("tarangire", 10)
		assert.ErrorIs(t, err, ErrNotHeadSlot)
	})

	t.Run("unknown room", func(t *testing.T) {
		_, _, err := g.Release("kilimanjaro", 0)
		assert.ErrorIs(t, err, ErrUnknownRoom)
	})
}

func TestSpans(t *testing.T) {
	g := Empty(testDate, testRooms())
	g, err := g.Occupy("ruaha", 12, 14, models.BookingSpan{ID: "a", Label: "Budget Review"})
	require.NoError(t, err)
	g, err = g.Occupy("ruaha", 0, 1, models.BookingSpan{ID: "b", Label: "Early"})
	require.NoError(t, err)

	spans := g.Spans("ruaha")
	require.Len(t, spans, 2)
	assert.Equal(t, "b", spans[0].ID)
	assert.Equal(t, "a", spans[1].ID)
	assert.Nil(t, g.Spans("kilimanjaro"))
}
