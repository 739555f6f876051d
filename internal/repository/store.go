// Package repository provides the per-room key/value stores that hold room state.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"boardroom/internal/config"
	"boardroom/internal/database"

	"github.com/redis/go-redis/v9"
)

// Persisted keys.
const (
	KeyWaitingState = "waitingState"
	KeyGameState    = "gameState"
)

// ErrUnknownDriver is returned by Open for an unsupported STORE_DRIVER.
var ErrUnknownDriver = errors.New("unknown store driver")

// Store is one room's isolated key/value space.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Provider hands out the store of each room. Stores of different rooms never
// see each other's keys.
type Provider interface {
	ForRoom(roomID string) Store
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

// Load decodes key into dst. It reports false when the key has never been written.
func Load(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Save encodes v and writes it under key.
func Save(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Open builds the provider selected by cfg.StoreDriver. rdb is required for the redis driver.
func Open(cfg *config.Config, rdb *redis.Client) (Provider, error) {
	var p Provider
	switch cfg.StoreDriver {
	case config.StoreMemory, "":
		p = NewMemoryProvider()
	case config.StoreRedis:
		if rdb == nil {
			return nil, errors.New("redis store requires a redis client")
		}
		p = NewRedisProvider(rdb)
	case config.StorePostgres, config.StoreSQLite:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, err
		}
		p = NewGormProvider(db)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.StoreDriver)
	}
	return Instrument(p), nil
}
