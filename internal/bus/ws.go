package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"rollcall/internal/logger"
	"rollcall/internal/service"
)

// ErrNotConnected is returned when publishing while the relay link is down
var ErrNotConnected = errors.New("relay not connected")

const wsWriteWait = 10 * time.Second

// WSConfig configures the relay client
type WSConfig struct {
	URL   string // ws://host:port/v1/ws/rooms
	Token string

	ReconnectInterval time.Duration // first backoff step, default 500ms
	MaxReconnectWait  time.Duration // cap per step, default 30s
}

// WS carries frames through the relay server, one connection per room.
// Dropped connections are re-dialled with exponential backoff until the
// subscription is closed.
type WS struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	log    *slog.Logger

	mu     sync.Mutex
	subs   map[string]*wsSub
	closed bool
}

// NewWS creates a relay client bus
func NewWS(cfg WSConfig) *WS {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 500 * time.Millisecond
	}
	if cfg.MaxReconnectWait <= 0 {
		cfg.MaxReconnectWait = 30 * time.Second
	}
	return &WS{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    logger.Component("bus.ws"),
		subs:   make(map[string]*wsSub),
	}
}

type wsSub struct {
	bus     *WS
	room    string
	handler service.FrameHandler
	cancel  context.CancelFunc
	done    chan struct{}

	wmu       sync.Mutex
	conn      *websocket.Conn
	stopped   bool
	onConnect func()
}

func (b *WS) roomURL(room string) (string, error) {
	u, err := url.Parse(strings.TrimRight(b.cfg.URL, "/") + "/" + url.PathEscape(room))
	if err != nil {
		return "", err
	}
	if b.cfg.Token != "" {
		q := u.Query()
		q.Set("token", b.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Publish drops the frame with ErrNotConnected while the link is down
func (b *WS) Publish(_ context.Context, room string, frame []byte) error {
	b.mu.Lock()
	s, ok := b.subs[room]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no subscription for room %s", ErrNotConnected, room)
	}
	return s.write(frame)
}

// Subscribe dials the relay once. When the relay is unreachable the
// subscription is still returned and dialling continues in the background,
// as it does after later disconnects. A handshake the relay rejects (bad
// token, unknown or ended room) is returned as an error.
func (b *WS) Subscribe(ctx context.Context, room string, handler service.FrameHandler) (service.Subscription, error) {
	target, err := b.roomURL(room)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := b.subs[room]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to room %s", room)
	}
	b.mu.Unlock()

	conn, resp, err := b.dialer.DialContext(ctx, target, nil)
	switch {
	case err == nil:
	case rejected(resp):
		return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("dial relay: %w", ctx.Err())
	default:
		b.log.Warn("relay unreachable, retrying in background",
			slog.String("room", room), slog.Any("err", err))
		conn = nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &wsSub{
		bus:     b,
		room:    room,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
		conn:    conn,
	}

	b.mu.Lock()
	b.subs[room] = s
	b.mu.Unlock()

	go s.run(runCtx, target)
	if conn != nil {
		b.log.Info("relay connected", slog.String("room", room))
	}
	return s, nil
}

// OnConnect registers fn to run after every (re)connect. It also runs right
// away when the link is already up.
func (s *wsSub) OnConnect(fn func()) {
	s.wmu.Lock()
	s.onConnect = fn
	up := s.conn != nil
	s.wmu.Unlock()
	if up && fn != nil {
		fn()
	}
}

func (s *wsSub) connected() {
	s.wmu.Lock()
	fn := s.onConnect
	s.wmu.Unlock()
	if fn != nil {
		fn()
	}
}

// rejected reports a handshake answered with a 4xx, which retrying will not fix
func rejected(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500
}

func (b *WS) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*wsSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

func (s *wsSub) run(ctx context.Context, target string) {
	defer close(s.done)
	for {
		s.readLoop()
		if ctx.Err() != nil {
			return
		}
		s.setConn(nil)
		if err := s.reconnect(ctx, target); err != nil {
			if ctx.Err() == nil {
				s.bus.log.Error("relay link given up", slog.String("room", s.room), slog.Any("err", err))
			}
			return
		}
	}
}

func (s *wsSub) readLoop() {
	s.wmu.Lock()
	conn := s.conn
	s.wmu.Unlock()
	if conn == nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.bus.log.Warn("relay read failed", slog.String("room", s.room), slog.Any("err", err))
			}
			return
		}
		s.handler(data)
	}
}

func (s *wsSub) reconnect(ctx context.Context, target string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.bus.cfg.ReconnectInterval
	bo.MaxInterval = s.bus.cfg.MaxReconnectWait
	bo.MaxElapsedTime = 0 // until the subscription is closed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		conn, resp, err := s.bus.dialer.DialContext(ctx, target, nil)
		if err != nil {
			if rejected(resp) {
				return backoff.Permanent(fmt.Errorf("relay rejected connection: status %d", resp.StatusCode))
			}
			return err
		}
		if !s.setConn(conn) {
			return backoff.Permanent(ErrClosed)
		}
		s.bus.log.Info("relay connected", slog.String("room", s.room), slog.Int("attempt", attempt))
		s.connected()
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		s.bus.log.Warn("relay dial failed",
			slog.String("room", s.room),
			slog.Duration("retry_in", wait),
			slog.Any("err", err))
	})
}

// setConn swaps the live connection. It refuses (and closes c) once the
// subscription is stopped.
func (s *wsSub) setConn(c *websocket.Conn) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.stopped {
		if c != nil {
			_ = c.Close()
		}
		return false
	}
	if s.conn != nil && s.conn != c {
		_ = s.conn.Close()
	}
	s.conn = c
	return true
}

func (s *wsSub) write(frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsSub) Close() error {
	s.bus.mu.Lock()
	if cur, ok := s.bus.subs[s.room]; ok && cur == s {
		delete(s.bus.subs, s.room)
	}
	s.bus.mu.Unlock()

	s.cancel()
	s.wmu.Lock()
	s.stopped = true
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.conn = nil
	}
	s.wmu.Unlock()
	<-s.done
	return nil
}
