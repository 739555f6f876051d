package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisProvider stores each room key under room:<roomID>:<key>.
type RedisProvider struct {
	rdb *redis.Client
}

// NewRedisProvider wraps an existing client. The provider does not own it.
func NewRedisProvider(rdb *redis.Client) *RedisProvider {
	return &RedisProvider{rdb: rdb}
}

// RoomKey derives the Redis key for one room key.
func RoomKey(roomID, key string) string {
	return "room:" + roomID + ":" + key
}

func (p *RedisProvider) ForRoom(roomID string) Store {
	return &redisStore{rdb: p.rdb, roomID: roomID}
}

func (p *RedisProvider) Name() string { return "redis" }

func (p *RedisProvider) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close is a no-op; the client is closed by whoever created it.
func (p *RedisProvider) Close() error { return nil }

type redisStore struct {
	rdb    *redis.Client
	roomID string
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, RoomKey(s.roomID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, RoomKey(s.roomID, key), value, 0).Err()
}
