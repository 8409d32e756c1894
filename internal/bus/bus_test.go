package bus

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/config"
	"rollcall/internal/service"
)

type collector struct {
	mu     sync.Mutex
	frames []string
}

func (c *collector) handle(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(frame))
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestMemory_FanOutPerRoom(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	var a, c, other collector

	subA, err := b.Subscribe(ctx, "r1", a.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r1", c.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "r2", other.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "r1", []byte("hello")))
	assert.Equal(t, []string{"hello"}, a.got())
	assert.Equal(t, []string{"hello"}, c.got())
	assert.Empty(t, other.got())

	require.NoError(t, subA.Close())
	require.NoError(t, subA.Close())
	require.NoError(t, b.Publish(ctx, "r1", []byte("again")))
	assert.Equal(t, []string{"hello"}, a.got())
	assert.Equal(t, 1, b.Subscribers("r1"))

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, "r1", []byte("x")), ErrClosed)
}

func TestRedis_PubSub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedis(client)
	ctx := context.Background()
	var c collector

	sub, err := b.Subscribe(ctx, "math-7b", c.handle)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "math-7b", []byte(`{"type":"attendance"}`)))
	assert.Eventually(t, func() bool { return len(c.got()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"type":"attendance"}`, c.got()[0])
	assert.Equal(t, "attendance:math-7b", RedisChannel("math-7b"))
}

func TestNATSSubject(t *testing.T) {
	assert.Equal(t, "attendance.math-7b", NATSSubject("math-7b"))
}

// echoHandler sends every frame it reads back to the same connection
func echoHandler(seenToken *string) http.Handler {
	up := websocket.Upgrader{}
	var mu sync.Mutex
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*seenToken = r.URL.Query().Get("token")
		mu.Unlock()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})
}

func echoRelay(t *testing.T, seenToken *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(echoHandler(seenToken))
	t.Cleanup(srv.Close)
	return srv
}

func TestWS_PublishSubscribe(t *testing.T) {
	var token string
	srv := echoRelay(t, &token)

	b := NewWS(WSConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/rooms", Token: "tkn"})
	ctx := context.Background()
	var c collector

	assert.ErrorIs(t, b.Publish(ctx, "r1", []byte("early")), ErrNotConnected)

	sub, err := b.Subscribe(ctx, "r1", c.handle)
	require.NoError(t, err)
	assert.Equal(t, "tkn", token)

	require.NoError(t, b.Publish(ctx, "r1", []byte("frame")))
	assert.Eventually(t, func() bool { return len(c.got()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Close())
	assert.ErrorIs(t, b.Publish(ctx, "r1", []byte("late")), ErrNotConnected)
	require.NoError(t, b.Close())
}

func TestWS_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	b := NewWS(WSConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/rooms"})
	_, err := b.Subscribe(context.Background(), "r1", func([]byte) {})
	assert.ErrorContains(t, err, "status 401")
}

func TestWS_RelayStartsAfterSubscribe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	b := NewWS(WSConfig{
		URL:               "ws://" + addr + "/v1/ws/rooms",
		ReconnectInterval: 20 * time.Millisecond,
		MaxReconnectWait:  50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()
	var c collector

	sub, err := b.Subscribe(ctx, "r1", c.handle)
	require.NoError(t, err, "unreachable relay keeps the subscription")
	assert.ErrorIs(t, b.Publish(ctx, "r1", []byte("early")), ErrNotConnected)

	var (
		mu    sync.Mutex
		links int
	)
	notifier, ok := sub.(service.ConnectNotifier)
	require.True(t, ok)
	notifier.OnConnect(func() {
		mu.Lock()
		links++
		mu.Unlock()
	})

	var token string
	srv := httptest.NewUnstartedServer(echoHandler(&token))
	srv.Listener.Close()
	srv.Listener, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Close)

	assert.Eventually(t, func() bool {
		return b.Publish(ctx, "r1", []byte("frame")) == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return len(c.got()) > 0 }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, links)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := &config.Config{Agent: config.Agent{Bus: config.BusRedis}, Redis: config.Redis{Addr: mr.Addr()}}
	b, release, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, b)
	release()

	cfg.Agent.Bus = config.BusMemory
	b, release, err = Open(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)
	release()

	cfg.Agent.Bus = "smoke-signals"
	_, _, err = Open(ctx, cfg)
	assert.ErrorContains(t, err, "unknown bus driver")

	mr.Close()
	cfg.Agent.Bus = config.BusRedis
	_, _, err = Open(ctx, cfg)
	assert.ErrorContains(t, err, "ping redis")
}
