package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coscribe/internal/models"
)

// RedisStore persists rooms as JSON blobs in Redis. Keys: `room:{id}` for
// state envelopes, `docsnap:{room}:{section}` for document snapshots.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func docSnapKey(roomID, sectionID string) string {
	return "docsnap:" + roomID + ":" + sectionID
}

// LoadRoomState implements RoomStore.
func (s *RedisStore) LoadRoomState(ctx context.Context, roomID string) (*models.RoomState, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	state, migrated, err := DecodeRoomState(data)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if migrated {
		if err := s.SaveRoomState(ctx, roomID, state); err != nil {
			return nil, fmt.Errorf("persist migrated room %s: %w", roomID, err)
		}
	}
	return state, nil
}

// SaveRoomState implements RoomStore.
func (s *RedisStore) SaveRoomState(ctx context.Context, roomID string, state *models.RoomState) error {
	data, err := EncodeRoomState(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, roomKey(roomID), data, 0).Err(); err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// SaveDocSnapshot implements RoomStore.
func (s *RedisStore) SaveDocSnapshot(ctx context.Context, roomID, sectionID string, snapshot []byte) error {
	if err := s.client.Set(ctx, docSnapKey(roomID, sectionID), snapshot, 0).Err(); err != nil {
		return fmt.Errorf("save doc snapshot %s/%s: %w", roomID, sectionID, err)
	}
	return nil
}

// LoadDocSnapshot implements RoomStore.
func (s *RedisStore) LoadDocSnapshot(ctx context.Context, roomID, sectionID string) ([]byte, error) {
	data, err := s.client.Get(ctx, docSnapKey(roomID, sectionID)).Bytes()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load doc snapshot %s/%s: %w", roomID, sectionID, err)
	}
	return data, nil
}

// DeleteDocSnapshot implements RoomStore.
func (s *RedisStore) DeleteDocSnapshot(ctx context.Context, roomID, sectionID string) error {
	if err := s.client.Del(ctx, docSnapKey(roomID, sectionID)).Err(); err != nil {
		return fmt.Errorf("delete doc snapshot %s/%s: %w", roomID, sectionID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
