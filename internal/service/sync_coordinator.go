package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rollcall/internal/logger"
	"rollcall/internal/model"
	"rollcall/internal/protocol"
)

// SyncCoordinator runs the bootstrap exchange for one client. The authority
// answers sync_request with its snapshot; every other client asks for one
// and adopts whatever sync_data arrives.
//
// Methods are called from the presence loop only.
type SyncCoordinator struct {
	room      string
	identity  string
	authority bool

	bus   EventBus
	codec *protocol.Codec
	log   *slog.Logger

	synced   bool
	lastSync time.Time

	retry *backoff.ExponentialBackOff // nil when retries are off
	timer *time.Timer
}

// SyncRetry enables re-sending sync_request while no sync_data has arrived
type SyncRetry struct {
	Enabled bool
	Initial time.Duration
	Max     time.Duration
}

func NewSyncCoordinator(room, identity string, authority bool, bus EventBus, codec *protocol.Codec, retry SyncRetry) *SyncCoordinator {
	c := &SyncCoordinator{
		room:      room,
		identity:  identity,
		authority: authority,
		bus:       bus,
		codec:     codec,
		log:       logger.Component("sync").With(slog.String("room", room)),
	}
	if retry.Enabled && !authority {
		bo := backoff.NewExponentialBackOff()
		if retry.Initial > 0 {
			bo.InitialInterval = retry.Initial
		}
		if retry.Max > 0 {
			bo.MaxInterval = retry.Max
		}
		bo.MaxElapsedTime = 0
		bo.Reset()
		c.retry = bo
	}
	return c
}

// Authority reports whether this client answers sync requests
func (c *SyncCoordinator) Authority() bool { return c.authority }

// Synced reports whether sync_data has been adopted at least once
func (c *SyncCoordinator) Synced() (bool, time.Time) { return c.synced, c.lastSync }

// Request publishes sync_request. The authority never asks.
func (c *SyncCoordinator) Request(ctx context.Context) {
	if c.authority {
		return
	}
	c.publish(ctx, protocol.SyncRequest{RequesterID: c.identity})
	c.schedule()
}

// Answer publishes sync_data with snap if this client is the authority
func (c *SyncCoordinator) Answer(ctx context.Context, req protocol.SyncRequest, snap model.Snapshot) {
	if !c.authority {
		return
	}
	c.log.Debug("answering sync request",
		slog.String("requester", req.RequesterID),
		slog.Int("records", len(snap.Records)))
	c.publish(ctx, protocol.SyncData{Snapshot: snap})
}

// Accept reports whether sync_data should replace the local ledger, and
// records the sync when it does. The authority ignores sync_data.
func (c *SyncCoordinator) Accept(now time.Time) bool {
	if c.authority {
		return false
	}
	c.synced = true
	c.lastSync = now
	c.stopTimer()
	if c.retry != nil {
		c.retry.Reset()
	}
	return true
}

// RetryC fires when an unanswered request should be re-sent.
// It is nil when retries are off, which blocks forever in a select.
func (c *SyncCoordinator) RetryC() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

// Retry re-sends sync_request after RetryC fired
func (c *SyncCoordinator) Retry(ctx context.Context) {
	c.timer = nil
	if c.synced {
		return
	}
	c.log.Info("no sync_data yet, asking again")
	c.Request(ctx)
}

// Stop releases the retry timer
func (c *SyncCoordinator) Stop() {
	c.stopTimer()
}

func (c *SyncCoordinator) schedule() {
	if c.retry == nil || c.synced {
		return
	}
	c.stopTimer()
	next := c.retry.NextBackOff()
	if next == backoff.Stop {
		return
	}
	c.timer = time.NewTimer(next)
}

func (c *SyncCoordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *SyncCoordinator) publish(ctx context.Context, ev protocol.Event) {
	frame, err := c.codec.Encode(ev)
	if err != nil {
		c.log.Error("encode failed", slog.String("event", string(ev.Kind())), slog.Any("err", err))
		return
	}
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, c.room, frame); err != nil {
		c.log.Warn("publish failed", slog.String("event", string(ev.Kind())), slog.Any("err", err))
	}
}
