package repository

import (
	"context"
	"sync/atomic"
	"time"

	"roomsync/internal/domain"
	"roomsync/internal/grid"

	"github.com/rs/zerolog"
)

// FailoverSnapshotCache writes through a primary cache and falls back to a
// secondary when the primary errors. After a minute it probes the primary
// again.
type FailoverSnapshotCache struct {
	primary   domain.SnapshotCache
	fallback  domain.SnapshotCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSnapshotCache(primary, fallback domain.SnapshotCache, logger *zerolog.Logger) *FailoverSnapshotCache {
	return &FailoverSnapshotCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSnapshotCache) Get(ctx context.Context, dateKey string) (*grid.Snapshot, error) {
	if r.primaryUsable() {
		snap, err := r.primary.Get(ctx, dateKey)
		if err == nil {
			r.isDown.Store(false)
			return snap, nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, dateKey)
}

func (r *FailoverSnapshotCache) Set(ctx context.Context, snap *grid.Snapshot) error {
	// The fallback tier always gets the write so a later failover still
	// has the current grid.
	if err := r.fallback.Set(ctx, snap); err != nil {
		return err
	}

	if r.primaryUsable() {
		if err := r.primary.Set(ctx, snap); err != nil {
			r.markDown(err)
		}
	}
	return nil
}

func (r *FailoverSnapshotCache) primaryUsable() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after 1 minute
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func (r *FailoverSnapshotCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary snapshot cache failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}
