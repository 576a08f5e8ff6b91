package repository

import (
	"context"
	"sync"

	"roomsync/internal/grid"
)

// MemorySnapshotCache keeps snapshots in process memory. Used standalone in
// tests and as the fallback tier behind Redis.
type MemorySnapshotCache struct {
	mu    sync.RWMutex
	snaps map[string]*grid.Snapshot
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{snaps: make(map[string]*grid.Snapshot)}
}

func (m *MemorySnapshotCache) Get(_ context.Context, dateKey string) (*grid.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snaps[dateKey], nil
}

func (m *MemorySnapshotCache) Set(_ context.Context, snap *grid.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.DateKey()] = snap
	return nil
}
