package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roomsync/internal/config"
	"roomsync/internal/grid"
	"roomsync/internal/models"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisSnapshotCache persists grid snapshots per date so a restart can show
// the last known grid before the first pass completes.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	if ttl == 0 {
		ttl = models.DefaultSnapshotTTL * time.Second
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

// snapshotDTO is the stored form. Only head spans are written; continuation
// slots are rebuilt from span ranges on load.
type snapshotDTO struct {
	Date       string                          `json:"date"`
	SyncedAt   time.Time                       `json:"synced_at"`
	Generation uint64                          `json:"generation"`
	Status     map[string]models.SourceStatus  `json:"status"`
	Rooms      []string                        `json:"rooms"`
	Spans      map[string][]models.BookingSpan `json:"spans"`
}

func snapshotKey(dateKey string) string {
	return fmt.Sprintf("roomsync:grid:%s", dateKey)
}

func (r *RedisSnapshotCache) Get(ctx context.Context, dateKey string) (*grid.Snapshot, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, snapshotKey(dateKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var dto snapshotDTO
	if err := json.Unmarshal([]byte(val), &dto); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return decodeSnapshot(&dto)
}

func (r *RedisSnapshotCache) Set(ctx context.Context, snap *grid.Snapshot) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(encodeSnapshot(snap))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := r.client.Set(ctx, snapshotKey(snap.DateKey()), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in redis: %w", err)
	}
	return nil
}

func encodeSnapshot(snap *grid.Snapshot) *snapshotDTO {
	rooms := snap.Grid.Rooms()
	spans := make(map[string][]models.BookingSpan, len(rooms))
	for _, room := range rooms {
		if s := snap.Grid.Spans(room); len(s) > 0 {
			spans[room] = s
		}
	}
	return &snapshotDTO{
		Date:       snap.DateKey(),
		SyncedAt:   snap.SyncedAt,
		Generation: snap.Generation,
		Status:     snap.Status,
		Rooms:      rooms,
		Spans:      spans,
	}
}

func decodeSnapshot(dto *snapshotDTO) (*grid.Snapshot, error) {
	date, err := time.ParseInLocation(models.DateLayout, dto.Date, time.Local)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot date: %w", err)
	}

	g := grid.Empty(date, dto.Rooms)
	for room, spans := range dto.Spans {
		for _, span := range spans {
			next, err := g.Occupy(room, span.StartSlot, span.EndSlot, span)
			if err != nil {
				return nil, fmt.Errorf("failed to rebuild grid for %s: %w", room, err)
			}
			g = next
		}
	}

	return &grid.Snapshot{
		Date:       date,
		Grid:       g,
		Status:     dto.Status,
		Generation: dto.Generation,
		SyncedAt:   dto.SyncedAt,
	}, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
