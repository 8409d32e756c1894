package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"rollcall/internal/config"
	"rollcall/internal/logger"
	"rollcall/internal/service"
)

// Open connects the configured bus driver. The returned func closes the bus
// and then the driver's connection.
func Open(ctx context.Context, cfg *config.Config) (service.EventBus, func(), error) {
	log := logger.Component("bus")
	var (
		b       service.EventBus
		release func()
	)

	switch cfg.Agent.Bus {
	case config.BusMemory, "":
		m := NewMemory()
		b, release = m, func() { _ = m.Close() }

	case config.BusRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		r := NewRedis(rdb)
		b, release = r, func() {
			_ = r.Close()
			_ = rdb.Close()
		}

	case config.BusNATS:
		opts := []nats.Option{
			nats.Name("rollcall-agent/" + cfg.Agent.Identity),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2 * time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("nats disconnected", slog.Any("err", err))
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
			}),
		}
		if cfg.NATS.User != "" {
			opts = append(opts, nats.UserInfo(cfg.NATS.User, cfg.NATS.Password))
		}
		nc, err := nats.Connect(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		n := NewNATS(nc)
		b, release = n, func() {
			if err := n.Close(); err != nil {
				nc.Close()
			}
		}

	case config.BusWS:
		w := NewWS(WSConfig{URL: cfg.Relay.URL, Token: cfg.Relay.Token})
		b, release = w, func() { _ = w.Close() }

	default:
		return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Agent.Bus)
	}

	log.Info("bus ready", slog.String("driver", cfg.Agent.Bus))
	return b, release, nil
}
