package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/model"
)

// ErrRoomNotFound is returned when a room is not in the registry
var ErrRoomNotFound = errors.New("room not found")

// RoomCache is the relay's room registry
type RoomCache interface {
	SetMeta(ctx context.Context, meta *model.RoomMeta) error
	GetMeta(ctx context.Context, code string) (*model.RoomMeta, error)
	End(ctx context.Context, code string, at time.Time) (*model.RoomMeta, error)
	Delete(ctx context.Context, code string) error
	Exists(ctx context.Context, code string) (bool, error)
}

type roomCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoomCache creates a new room cache
func NewRoomCache(client *redis.Client) RoomCache {
	return &roomCache{
		client: client,
		ttl:    24 * time.Hour, // a school day, with margin
	}
}

func (c *roomCache) key(code string) string {
	return fmt.Sprintf("room:%s", code)
}

func (c *roomCache) SetMeta(ctx context.Context, meta *model.RoomMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(meta.Code), data, c.ttl).Err()
}

// GetMeta returns ErrRoomNotFound for unknown codes
func (c *roomCache) GetMeta(ctx context.Context, code string) (*model.RoomMeta, error) {
	data, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta model.RoomMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// End marks the room ended. Ending twice keeps the first end time.
func (c *roomCache) End(ctx context.Context, code string, at time.Time) (*model.RoomMeta, error) {
	meta, err := c.GetMeta(ctx, code)
	if err != nil {
		return nil, err
	}
	if meta.Status == model.RoomEnded {
		return meta, nil
	}
	meta.Status = model.RoomEnded
	meta.EndedAt = &at
	if err := c.SetMeta(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *roomCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}

func (c *roomCache) Exists(ctx context.Context, code string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(code)).Result()
	return n > 0, err
}
