package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"rollcall/internal/logger"
	"rollcall/internal/model"
	"rollcall/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // sync_data carries whole snapshots
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens gate access, not origins
	},
}

// TokenValidator checks relay tokens
type TokenValidator interface {
	ValidateRelayToken(token string) (*model.RelayClaims, error)
}

// RoomLookup returns the registry entry of a room
type RoomLookup interface {
	GetRoom(ctx context.Context, code string) (*model.RoomMeta, error)
}

// Handler handles WebSocket connections
type Handler struct {
	hub   *Hub
	auth  TokenValidator
	rooms RoomLookup
	codec *protocol.Codec
	log   *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, auth TokenValidator, rooms RoomLookup) *Handler {
	return &Handler{
		hub:   hub,
		auth:  auth,
		rooms: rooms,
		codec: protocol.NewCodec(),
		log:   logger.Component("ws"),
	}
}

// RoomWS handles GET /v1/ws/rooms/{code}?token=...
func (h *Handler) RoomWS(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	token := r.URL.Query().Get("token")

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.ValidateRelayToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if claims.RoomCode != code {
		http.Error(w, "token not valid for this room", http.StatusForbidden)
		return
	}

	meta, err := h.rooms.GetRoom(r.Context(), code)
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if meta.Status == model.RoomEnded {
		http.Error(w, "room has ended", http.StatusGone)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	conn := &Connection{
		RoomCode:  code,
		Identity:  claims.Identity,
		Authority: claims.Authority,
		Send:      make(chan []byte, 256),
		Hub:       h.hub,
	}

	h.hub.Register(conn)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn)
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", slog.String("room", conn.RoomCode), slog.Any("err", err))
			}
			break
		}
		wsConn.SetReadDeadline(time.Now().Add(pongWait))

		if _, err := h.codec.Decode(frame); err != nil {
			h.log.Warn("dropping frame",
				slog.String("room", conn.RoomCode),
				slog.String("identity", conn.Identity),
				slog.Any("err", err))
			continue
		}
		h.hub.Relay(conn, frame)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
