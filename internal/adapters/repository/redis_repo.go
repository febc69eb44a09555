// Package repository implements data persistence adapters
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"botflow/internal/core/ports"
)

// Ensure RedisDedupRepository implements DedupRepository
var _ ports.DedupRepository = (*RedisDedupRepository)(nil)

// RedisDedupRepository implements update deduplication using Redis.
// The store is shared so a webhook delivery and a poll cannot both process an update.
type RedisDedupRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisDedupRepository creates a new Redis dedup repository instance
func NewRedisDedupRepository(client redis.UniversalClient) *RedisDedupRepository {
	return &RedisDedupRepository{
		client: client,
		now:    time.Now,
	}
}

// IsDuplicate checks if an update key has already been processed
func (r *RedisDedupRepository) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	key := buildDedupKey(eventID)

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		slog.Error("Failed to check deduplication",
			"error", err,
			"event_id", eventID,
		)
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	slog.Warn("Duplicate update detected",
		"event_id", eventID,
		"key", key,
	)
	return true, nil
}

// MarkProcessed marks an update as processed with TTL.
// SET NX keeps the first marker's timestamp when two instances race.
func (r *RedisDedupRepository) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	key := buildDedupKey(eventID)

	// Value is a timestamp for debugging purposes
	err := r.client.SetNX(ctx, key, r.now().Unix(), ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Error("Failed to mark update as processed",
			"error", err,
			"event_id", eventID,
			"ttl", ttl,
		)
		return fmt.Errorf("mark processed: %w", err)
	}

	slog.Debug("Update marked as processed",
		"event_id", eventID,
		"key", key,
		"ttl", ttl,
	)
	return nil
}

// buildDedupKey constructs the Redis key for deduplication: dedup:update:{key}
func buildDedupKey(eventID string) string {
	return fmt.Sprintf("dedup:update:%s", eventID)
}
