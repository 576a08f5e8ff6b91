package models

const (
	// DefaultRefreshInterval seconds between scheduled reconciliation passes
	DefaultRefreshInterval = 60

	// DefaultMarker tag embedded in event bodies for bookings this system creates
	DefaultMarker = "#roomsync"

	// DefaultLabel shown when neither subject nor organizer yields a name
	DefaultLabel = "Reserved"

	// DefaultSnapshotTTL seconds a cached grid snapshot stays in redis
	DefaultSnapshotTTL = 24 * 60 * 60

	// WorkerQueueSize size of the resync worker's in-memory queue
	WorkerQueueSize = 128
)
