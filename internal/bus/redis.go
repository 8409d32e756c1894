package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/logger"
	"rollcall/internal/service"
)

// Redis carries frames over Redis Pub/Sub, one channel per room
type Redis struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedis creates a bus on an existing client. Close does not close the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, log: logger.Component("bus.redis")}
}

// RedisChannel is the Pub/Sub channel of a room
func RedisChannel(room string) string {
	return fmt.Sprintf("attendance:%s", room)
}

func (b *Redis) Publish(ctx context.Context, room string, frame []byte) error {
	return b.client.Publish(ctx, RedisChannel(room), frame).Err()
}

func (b *Redis) Subscribe(ctx context.Context, room string, handler service.FrameHandler) (service.Subscription, error) {
	ps := b.client.Subscribe(ctx, RedisChannel(room))
	// wait for the subscribe confirmation so no frame published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", RedisChannel(room), err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	b.log.Debug("subscribed", slog.String("channel", RedisChannel(room)))
	return sub, nil
}

func (b *Redis) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
}

func (s *redisSub) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}
