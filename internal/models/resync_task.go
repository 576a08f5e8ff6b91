package models

import "time"

// ResyncTask asks the resync worker to retry the remote create for a
// booking that is only present locally. BookingID is the span's local uuid;
// HeadSlot locates it on the grid so the worker can swap in the remote
// identity once the create succeeds.
type ResyncTask struct {
	RoomID     string       `json:"room_id"`
	Mailbox    string       `json:"mailbox,omitempty"`
	BookingID  string       `json:"booking_id"`
	HeadSlot   int          `json:"head_slot"`
	Payload    EventPayload `json:"payload"`
	RetryCount int          `json:"retry_count"`
	CreatedAt  time.Time    `json:"created_at"`
}
