package service

import "context"

// EventBus is the presence channel shared by every client of a room
// (interface lives here to avoid an import cycle with internal/bus).
// Delivery is best-effort: frames may be lost, duplicated or reordered, and
// a publisher usually receives its own frames back.
type EventBus interface {
	Publish(ctx context.Context, room string, frame []byte) error
	Subscribe(ctx context.Context, room string, handler FrameHandler) (Subscription, error)
	Close() error
}

// FrameHandler receives raw frames. It must not block for long.
type FrameHandler func(frame []byte)

// Subscription is an active room subscription
type Subscription interface {
	Close() error
}

// ConnectNotifier is implemented by subscriptions whose link can drop and
// come back. fn runs after every successful (re)connect.
type ConnectNotifier interface {
	OnConnect(fn func())
}
