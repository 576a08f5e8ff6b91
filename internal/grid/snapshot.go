package grid

import (
	"time"

	"roomsync/internal/models"
)

// Snapshot is one published reconciliation result: the grid for a date plus
// the per-room source status that produced it. Generation orders snapshots
// so a pass finishing after a newer one started can be discarded.
type Snapshot struct {
	Date       time.Time
	Grid       *Grid
	Status     map[string]models.SourceStatus
	Generation uint64
	SyncedAt   time.Time
}

// DateKey returns the canonical cache key for the snapshot's date.
func (s *Snapshot) DateKey() string {
	return s.Date.Format(models.DateLayout)
}
