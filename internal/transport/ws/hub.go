package ws

import (
	"log/slog"
	"sync"

	"rollcall/internal/logger"
)

// Hub relays attendance frames between the connections of each room.
// A room has at most one authority connection; a second one replaces it.
type Hub struct {
	// Room -> connections
	authorityConns map[string]*Connection
	peerConns      map[string]map[*Connection]struct{}

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
	disconnect chan string

	log *slog.Logger
}

// Connection represents a WebSocket connection
type Connection struct {
	RoomCode  string
	Identity  string
	Authority bool
	Send      chan []byte
	Hub       *Hub
}

// BroadcastMessage is a frame to relay to every connection of a room but its sender
type BroadcastMessage struct {
	RoomCode string
	From     *Connection
	Frame    []byte
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		authorityConns: make(map[string]*Connection),
		peerConns:      make(map[string]map[*Connection]struct{}),
		register:       make(chan *Connection),
		unregister:     make(chan *Connection),
		broadcast:      make(chan *BroadcastMessage, 256),
		disconnect:     make(chan string),
		log:            logger.Component("hub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if conn.Authority {
				if prev, ok := h.authorityConns[conn.RoomCode]; ok {
					close(prev.Send)
					h.log.Info("authority replaced",
						slog.String("room", conn.RoomCode),
						slog.String("previous", prev.Identity),
						slog.String("identity", conn.Identity))
				}
				h.authorityConns[conn.RoomCode] = conn
			} else {
				if h.peerConns[conn.RoomCode] == nil {
					h.peerConns[conn.RoomCode] = make(map[*Connection]struct{})
				}
				h.peerConns[conn.RoomCode][conn] = struct{}{}
			}
			h.log.Info("connected",
				slog.String("room", conn.RoomCode),
				slog.String("identity", conn.Identity),
				slog.Bool("authority", conn.Authority))
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			h.remove(conn)
			h.mu.Unlock()

		case code := <-h.disconnect:
			h.mu.Lock()
			if conn, ok := h.authorityConns[code]; ok {
				h.remove(conn)
			}
			for conn := range h.peerConns[code] {
				h.remove(conn)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, conn := range h.roomConns(msg.RoomCode) {
				if conn == msg.From {
					continue
				}
				select {
				case conn.Send <- msg.Frame:
				default:
					// Drop frame if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// remove closes conn's send channel if it is still registered. Caller holds mu.
func (h *Hub) remove(conn *Connection) {
	if conn.Authority {
		if existing, ok := h.authorityConns[conn.RoomCode]; ok && existing == conn {
			delete(h.authorityConns, conn.RoomCode)
			close(conn.Send)
			h.log.Info("authority disconnected", slog.String("room", conn.RoomCode), slog.String("identity", conn.Identity))
		}
		return
	}
	if peers, ok := h.peerConns[conn.RoomCode]; ok {
		if _, ok := peers[conn]; ok {
			delete(peers, conn)
			close(conn.Send)
			if len(peers) == 0 {
				delete(h.peerConns, conn.RoomCode)
			}
			h.log.Info("peer disconnected", slog.String("room", conn.RoomCode), slog.String("identity", conn.Identity))
		}
	}
}

// roomConns lists every connection of a room. Caller holds mu.
func (h *Hub) roomConns(code string) []*Connection {
	out := make([]*Connection, 0, len(h.peerConns[code])+1)
	if conn, ok := h.authorityConns[code]; ok {
		out = append(out, conn)
	}
	for conn := range h.peerConns[code] {
		out = append(out, conn)
	}
	return out
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Relay sends frame to every other connection of the sender's room
func (h *Hub) Relay(from *Connection, frame []byte) {
	h.broadcast <- &BroadcastMessage{RoomCode: from.RoomCode, From: from, Frame: frame}
}

// DisconnectRoom drops every connection of a room (implements service.RoomDisconnector)
func (h *Hub) DisconnectRoom(roomCode string) {
	h.disconnect <- roomCode
}

// RoomStats returns whether the room has an authority and how many peers it has
func (h *Hub) RoomStats(roomCode string) (hasAuthority bool, peers int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, hasAuthority = h.authorityConns[roomCode]
	return hasAuthority, len(h.peerConns[roomCode])
}
