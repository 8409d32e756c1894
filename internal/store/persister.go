package store

import (
	"context"
	"log/slog"
	"time"

	"rollcall/internal/logger"
	"rollcall/internal/model"
	"rollcall/internal/service"
)

const defaultTimeout = 2 * time.Second

// Persister wraps a StateStore so that storage never fails a ledger
// mutation: errors are logged and swallowed, and every call gets its own
// timeout.
type Persister struct {
	next    service.StateStore
	timeout time.Duration
	log     *slog.Logger
}

// NewPersister wraps next. A non-positive timeout uses the 2s default.
func NewPersister(next service.StateStore, timeout time.Duration) *Persister {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Persister{
		next:    next,
		timeout: timeout,
		log:     logger.Component("persister"),
	}
}

// Save always returns nil
func (p *Persister) Save(ctx context.Context, room string, snap model.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.next.Save(ctx, room, snap); err != nil {
		p.log.Error("save snapshot failed",
			slog.String("room", room),
			slog.Int("records", len(snap.Records)),
			slog.Any("err", err))
	}
	return nil
}

// Load returns (nil, nil) when the underlying store fails or the payload
// cannot be decoded, so callers start from an empty ledger.
func (p *Persister) Load(ctx context.Context, room string) (*model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, err := p.next.Load(ctx, room)
	if err != nil {
		p.log.Error("load snapshot failed", slog.String("room", room), slog.Any("err", err))
		return nil, nil
	}
	return snap, nil
}
