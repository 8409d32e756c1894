package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"rollcall/internal/service"
)

// NATS carries frames over NATS core subjects, one subject per room
type NATS struct {
	nc *nats.Conn
}

// NewNATS creates a bus on an existing connection
func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc}
}

// NATSSubject is the subject of a room
func NATSSubject(room string) string {
	return fmt.Sprintf("attendance.%s", room)
}

func (b *NATS) Publish(_ context.Context, room string, frame []byte) error {
	return b.nc.Publish(NATSSubject(room), frame)
}

func (b *NATS) Subscribe(_ context.Context, room string, handler service.FrameHandler) (service.Subscription, error) {
	sub, err := b.nc.Subscribe(NATSSubject(room), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", NATSSubject(room), err)
	}
	return natsSub{sub}, nil
}

// Close drains the connection
func (b *NATS) Close() error {
	return b.nc.Drain()
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Close() error {
	return s.sub.Unsubscribe()
}
