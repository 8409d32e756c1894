package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/model"
	"rollcall/internal/protocol"
)

type recordingBus struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, FrameHandler) (Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) kinds(t *testing.T) []protocol.Kind {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	codec := protocol.NewCodec()
	out := make([]protocol.Kind, 0, len(b.frames))
	for _, f := range b.frames {
		ev, err := codec.Decode(f)
		require.NoError(t, err)
		out = append(out, ev.Kind())
	}
	return out
}

func TestSync_RolesIgnoreTheOtherSide(t *testing.T) {
	ctx := context.Background()
	b := &recordingBus{}
	codec := protocol.NewCodec()

	auth := NewSyncCoordinator("r", "t.nguyen", true, b, codec, SyncRetry{})
	auth.Request(ctx)
	assert.Empty(t, b.kinds(t), "authority never asks")
	assert.False(t, auth.Accept(time.Now()), "authority ignores sync_data")

	auth.Answer(ctx, protocol.SyncRequest{RequesterID: "kid"}, model.Snapshot{})
	assert.Equal(t, []protocol.Kind{protocol.KindSyncData}, b.kinds(t))

	req := NewSyncCoordinator("r", "kid", false, b, codec, SyncRetry{})
	req.Answer(ctx, protocol.SyncRequest{RequesterID: "other"}, model.Snapshot{})
	req.Request(ctx)
	assert.Equal(t, []protocol.Kind{protocol.KindSyncData, protocol.KindSyncRequest}, b.kinds(t))
	assert.Nil(t, req.RetryC(), "no retry unless enabled")

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.True(t, req.Accept(now))
	synced, at := req.Synced()
	assert.True(t, synced)
	assert.Equal(t, now, at)
}

func TestSync_RetryUntilSynced(t *testing.T) {
	ctx := context.Background()
	b := &recordingBus{}
	c := NewSyncCoordinator("r", "kid", false, b, protocol.NewCodec(), SyncRetry{
		Enabled: true, Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond,
	})
	defer c.Stop()

	c.Request(ctx)
	require.NotNil(t, c.RetryC())

	select {
	case <-c.RetryC():
		c.Retry(ctx)
	case <-time.After(2 * time.Second):
		t.Fatal("retry timer never fired")
	}
	assert.Len(t, b.kinds(t), 2)

	c.Accept(time.Now())
	assert.Nil(t, c.RetryC())
	c.Retry(ctx)
	assert.Len(t, b.kinds(t), 2, "no retry once synced")
}

func TestAccumulator_StartStop(t *testing.T) {
	var (
		mu sync.Mutex
		n  int
	)
	a := NewAccumulator(5*time.Millisecond, func() {
		mu.Lock()
		n++
		mu.Unlock()
	})
	a.Start()
	a.Start()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n >= 3
	}, 2*time.Second, 5*time.Millisecond)

	a.Stop()
	mu.Lock()
	stopped := n
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, stopped, n)
	mu.Unlock()
	a.Stop()
}
