package domain

import (
	"context"
	"time"

	"roomsync/internal/grid"
	"roomsync/internal/models"
)

// CalendarSource is the remote calendar collaborator. mailbox selects the
// calendar: a room's bound mailbox address, or empty for the viewer's
// personal calendar.
type CalendarSource interface {
	ListEvents(ctx context.Context, mailbox string, from, to time.Time) ([]models.RawEvent, error)
	CreateEvent(ctx context.Context, mailbox string, payload models.EventPayload) (string, error)
	DeleteEvent(ctx context.Context, mailbox string, eventID string) error
}

// RoomDirectory supplies the room-to-mailbox configuration, read at the
// start of each reconciliation pass. Read-only for the core.
type RoomDirectory interface {
	Rooms() []models.Room
	RoomByID(id string) (models.Room, bool)
}

// SnapshotCache stores published grid snapshots per date.
type SnapshotCache interface {
	Get(ctx context.Context, dateKey string) (*grid.Snapshot, error)
	Set(ctx context.Context, snap *grid.Snapshot) error
}

// EventPublisher fans domain events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// GridHolder exposes the currently published snapshot and applies
// copy-on-write mutations to it.
type GridHolder interface {
	Current() *grid.Snapshot
	Apply(mutate func(*grid.Grid) (*grid.Grid, error)) (*grid.Snapshot, error)
}

// Reconciler runs full fetch-map-publish passes.
type Reconciler interface {
	GridHolder
	Run(ctx context.Context, date time.Time) (*grid.Snapshot, error)
}

// Refresher requests a new reconciliation pass for the viewed date.
type Refresher interface {
	Refresh(reason string)
}

// ResyncWorker retries remote creates for bookings that only exist locally.
type ResyncWorker interface {
	EnqueueCreate(ctx context.Context, task models.ResyncTask) error
}
