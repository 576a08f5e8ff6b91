package models

import (
	"fmt"
	"time"
)

const (
	// SlotCount is the number of half-hour slots on the booking day axis.
	SlotCount = 26

	// SlotMinutes is the length of one slot.
	SlotMinutes = 30

	// DayStartHour and DayEndHour bound the booking day in local time.
	// 26 half-hour slots: the last one starts at 20:30 and ends at 21:00.
	DayStartHour = 8
	DayEndHour   = 21
)

// DateLayout is the canonical date key format used for grid and cache keys.
const DateLayout = "2006-01-02"

var slotCodes [SlotCount]string

func init() {
	for i := 0; i < SlotCount; i++ {
		mins := DayStartHour*60 + i*SlotMinutes
		slotCodes[i] = fmt.Sprintf("%02d:%02d", mins/60, mins%60)
	}
}

// SlotCodes returns the fixed slot axis, "08:00" through "20:30".
func SlotCodes() []string {
	out := make([]string, SlotCount)
	copy(out, slotCodes[:])
	return out
}

// SlotCode returns the start-time code of a slot index.
func SlotCode(i int) string {
	if i < 0 || i >= SlotCount {
		return ""
	}
	return slotCodes[i]
}

// SlotIndex resolves a "HH:MM" code to its slot index.
func SlotIndex(code string) (int, bool) {
	for i, c := range slotCodes {
		if c == code {
			return i, true
		}
	}
	return 0, false
}

// SlotIndexForTime maps a timestamp, truncated to minute precision, to the
// slot starting exactly at that time. Returns false when the time does not
// align to any of the fixed slot codes.
func SlotIndexForTime(t time.Time) (int, bool) {
	rel := t.Hour()*60 + t.Minute() - DayStartHour*60
	if rel < 0 || rel%SlotMinutes != 0 {
		return 0, false
	}
	idx := rel / SlotMinutes
	if idx >= SlotCount {
		return 0, false
	}
	return idx, true
}

// SlotCeil maps a timestamp to the exclusive slot index of the nearest
// boundary at or after it, clamped to the grid length. Used for event ends:
// an end between two boundaries rounds up, never down.
func SlotCeil(t time.Time) int {
	rel := t.Hour()*60 + t.Minute() - DayStartHour*60
	if rel <= 0 {
		return 0
	}
	idx := rel / SlotMinutes
	if rel%SlotMinutes != 0 {
		idx++
	}
	if idx > SlotCount {
		idx = SlotCount
	}
	return idx
}

// DateOf normalizes a timestamp to midnight in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayWindow returns the booking-day bounds for a date, 08:00 to 21:00 local.
// The window covers every slot on the axis, so reconciliation re-observes
// any booking the grid can hold.
func DayWindow(date time.Time) (time.Time, time.Time) {
	d := DateOf(date)
	return d.Add(DayStartHour * time.Hour), d.Add(DayEndHour * time.Hour)
}

// SlotTime returns the wall-clock start of a slot on the given date.
func SlotTime(date time.Time, slot int) time.Time {
	d := DateOf(date)
	return d.Add(time.Duration(DayStartHour)*time.Hour + time.Duration(slot*SlotMinutes)*time.Minute)
}
