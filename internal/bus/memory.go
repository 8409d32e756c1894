// Package bus implements service.EventBus over an in-process fan-out, Redis
// Pub/Sub, NATS core subjects and a WebSocket relay connection.
//
// None of the drivers acknowledge or retry. Frames are delivered to every
// subscriber of the room, including the publisher's own subscription.
package bus

import (
	"context"
	"errors"
	"sync"

	"rollcall/internal/service"
)

// ErrClosed is returned by a bus after Close
var ErrClosed = errors.New("bus closed")

// Memory is an in-process bus. Handlers run on the publisher's goroutine.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemory creates an empty in-process bus
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	bus     *Memory
	room    string
	handler service.FrameHandler
	once    sync.Once
}

func (m *Memory) Publish(_ context.Context, room string, frame []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*memorySub, 0, len(m.subs[room]))
	for s := range m.subs[room] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		s.handler(cp)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, room string, handler service.FrameHandler) (service.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &memorySub{bus: m, room: room, handler: handler}
	if m.subs[room] == nil {
		m.subs[room] = make(map[*memorySub]struct{})
	}
	m.subs[room][s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of live subscriptions for a room
func (m *Memory) Subscribers(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[room])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[*memorySub]struct{})
	return nil
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs[s.room], s)
		if len(s.bus.subs[s.room]) == 0 {
			delete(s.bus.subs, s.room)
		}
	})
	return nil
}
