package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/model"
)

// SnapshotCache stores a room's attendance under two string keys:
// attendance_{room} and active_participants_{room}
type SnapshotCache interface {
	Save(ctx context.Context, room string, snap model.Snapshot) error
	Load(ctx context.Context, room string) (*model.Snapshot, error)
	Delete(ctx context.Context, room string) error
}

type snapshotCache struct {
	client *redis.Client
	ttl    time.Duration // 0 keeps keys forever
}

// NewSnapshotCache creates a new snapshot cache
func NewSnapshotCache(client *redis.Client, ttl time.Duration) SnapshotCache {
	return &snapshotCache{client: client, ttl: ttl}
}

func (c *snapshotCache) Save(ctx context.Context, room string, snap model.Snapshot) error {
	records, err := marshalRecords(snap.Records)
	if err != nil {
		return err
	}
	active, err := marshalRecords(snap.ActiveParticipants)
	if err != nil {
		return err
	}

	// both keys change together
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, model.RecordsKey(room), records, c.ttl)
		pipe.Set(ctx, model.ActiveKey(room), active, c.ttl)
		return nil
	})
	return err
}

func (c *snapshotCache) Load(ctx context.Context, room string) (*model.Snapshot, error) {
	vals, err := c.client.MGet(ctx, model.RecordsKey(room), model.ActiveKey(room)).Result()
	if err != nil {
		return nil, err
	}
	if vals[0] == nil {
		return nil, nil
	}

	snap := &model.Snapshot{}
	if snap.Records, err = unmarshalRecords(vals[0]); err != nil {
		return nil, fmt.Errorf("%s: %w", model.RecordsKey(room), err)
	}
	if snap.ActiveParticipants, err = unmarshalRecords(vals[1]); err != nil {
		return nil, fmt.Errorf("%s: %w", model.ActiveKey(room), err)
	}
	return snap, nil
}

func (c *snapshotCache) Delete(ctx context.Context, room string) error {
	return c.client.Del(ctx, model.RecordsKey(room), model.ActiveKey(room)).Err()
}

func marshalRecords(recs []model.AttendanceRecord) ([]byte, error) {
	if recs == nil {
		recs = []model.AttendanceRecord{}
	}
	return json.Marshal(recs)
}

func unmarshalRecords(v interface{}) ([]model.AttendanceRecord, error) {
	recs := []model.AttendanceRecord{}
	if v == nil {
		return recs, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T", v)
	}
	if err := json.Unmarshal([]byte(s), &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
