package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/devices"
	"github.com/muurk/dtvplus/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	// Queued events per client before it is dropped
	sendBuffer = 32
)

// Event is one message on the device stream
type Event struct {
	Type   string       `json:"type"`
	Device devices.View `json:"device"`
	At     time.Time    `json:"at"`
}

// Stream fans device state changes out to websocket clients
type Stream struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewStream creates an empty stream
func NewStream() *Stream {
	return &Stream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the peer goes away
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("Stream upgrade failed", zap.Error(err))
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.addClient(c) {
		_ = conn.Close()
		return
	}
	logging.LogConnection(r.RemoteAddr, "stream_connected")

	go s.writePump(c)
	s.readPump(c)
	logging.LogConnection(r.RemoteAddr, "stream_closed")
}

// Broadcast queues a device state event for every client. Clients whose
// queue is full are disconnected.
func (s *Stream) Broadcast(view devices.View) {
	b, err := json.Marshal(Event{Type: "state", Device: view, At: time.Now().UTC()})
	if err != nil {
		logging.Error("Failed to encode stream event", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- b:
		default:
			logging.Warn("Dropping slow stream client",
				zap.String("remote_addr", c.conn.RemoteAddr().String()),
			)
			s.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		s.dropLocked(c)
	}
}

func (s *Stream) addClient(c *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Stream) removeClient(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		s.dropLocked(c)
	}
}

func (s *Stream) dropLocked(c *streamClient) {
	delete(s.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// readPump discards client messages and keeps the read deadline fresh
func (s *Stream) readPump(c *streamClient) {
	defer s.removeClient(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
