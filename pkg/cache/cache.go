// Package cache provides a JSON codec over the durable key-value store.
// Records are marshalled on write and unmarshalled into a caller-provided
// target on read, so stores deal in typed values rather than bytes.
//
// Example usage:
//
//	c := cache.NewCache(kv)
//	if err := c.Set(ctx, cache.AssessmentKey(userID), &record); err != nil {
//	    log.Warn().Err(err).Msg("Failed to persist assessment")
//	}
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ieraasyl/PsoriScan/internal/database"
	"github.com/rs/zerolog/log"
)

// Cache wraps a database.KV with JSON serialization.
type Cache struct {
	kv database.KV
}

// NewCache creates a cache over kv.
func NewCache(kv database.KV) *Cache {
	return &Cache{kv: kv}
}

// Get retrieves the value at key and unmarshals it into target.
// Returns ErrCacheMiss if the key doesn't exist and ErrCorrupt if the stored
// bytes are not valid JSON for target.
func (c *Cache) Get(ctx context.Context, key string, target interface{}) error {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrCacheMiss
		}
		log.Error().Err(err).Str("key", key).Msg("Failed to get from storage")
		return fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal stored data")
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return nil
}

// Set marshals value to JSON and stores it at key.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if err := c.kv.Set(ctx, key, data); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to write to storage")
		return fmt.Errorf("cache set error: %w", err)
	}

	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("Stored record")
	return nil
}

// Delete removes one or more keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := c.kv.Delete(ctx, keys...); err != nil {
		log.Error().Err(err).Strs("keys", keys).Msg("Failed to delete from storage")
		return fmt.Errorf("cache delete error: %w", err)
	}

	log.Debug().Strs("keys", keys).Msg("Deleted records")
	return nil
}

// Exists reports whether key holds a value.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.kv.Get(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return true, nil
}
