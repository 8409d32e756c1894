package service

import (
	"context"

	"rollcall/internal/model"
)

// StateStore persists a room's attendance snapshot across restarts.
// Load returns (nil, nil) when nothing has been saved for the room.
type StateStore interface {
	Save(ctx context.Context, room string, snap model.Snapshot) error
	Load(ctx context.Context, room string) (*model.Snapshot, error)
}
