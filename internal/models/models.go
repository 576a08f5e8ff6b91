package models

import "time"

// Room is immutable configuration: identity, display name, capacity and an
// optional bound mailbox address. A room without a mailbox is populated from
// the viewer's personal calendar.
type Room struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Capacity int    `yaml:"capacity" json:"capacity"`
	Mailbox  string `yaml:"mailbox" json:"mailbox,omitempty"`
}

// SourceStatus reflects the outcome of the last reconciliation pass for a
// single room and drives fallback selection.
type SourceStatus string

const (
	SourceUnconfigured SourceStatus = "unconfigured"
	SourceOK           SourceStatus = "ok"
	SourceDegraded     SourceStatus = "degraded"
)

// BookingSpan is one reservation occupying a contiguous slot range. ID is
// the remote event id once synced; unsynced local spans carry a generated
// uuid so identity-based clearing still works.
type BookingSpan struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Organizer string `json:"organizer,omitempty"`
	StartSlot int    `json:"start_slot"`
	EndSlot   int    `json:"end_slot"`
	Attendees int    `json:"attendees"`
	Synced    bool   `json:"synced"`
}

// Slots returns the number of half-hour slots the span covers.
func (s BookingSpan) Slots() int {
	return s.EndSlot - s.StartSlot
}

// Attendee is one invitee on a raw remote event.
type Attendee struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// RawEvent is the loosely-typed record a calendar source returns. The event
// mapper is the only consumer; nothing downstream trusts these fields.
type RawEvent struct {
	ID               string     `json:"id"`
	Subject          string     `json:"subject"`
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	OrganizerName    string     `json:"organizer_name,omitempty"`
	OrganizerAddress string     `json:"organizer_address,omitempty"`
	Attendees        []Attendee `json:"attendees,omitempty"`
	Body             string     `json:"body,omitempty"`
	Location         string     `json:"location,omitempty"`
}

// EventPayload is what the engine sends when creating a remote event. Body
// carries the private marker string so the personal-calendar ruleset can
// recognize this system's own bookings later.
type EventPayload struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Location  string    `json:"location,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
}
