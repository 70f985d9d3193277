package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/event"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Hub fans committed events out to websocket subscribers. It is an
// event.Sink, so it only ever sees events after their transaction committed.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

type client struct {
	conn    *websocket.Conn
	symbol  string // empty subscribes to every symbol
	send    chan []byte
	writeMu sync.Mutex
	once    sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:      make(map[*client]struct{}),
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Name implements event.Sink.
func (h *Hub) Name() string { return "websocket" }

type wsMessage struct {
	Type string      `json:"type"`
	Seq  uint64      `json:"seq"`
	Data interface{} `json:"data"`
}

// Publish implements event.Sink. Slow clients whose buffer is full are
// disconnected rather than blocking the bus.
func (h *Hub) Publish(_ context.Context, ev event.Event) error {
	msg, err := json.Marshal(wsMessage{Type: ev.GetType().String(), Seq: ev.GetSeq(), Data: ev})
	if err != nil {
		return err
	}
	symbol := ev.Key()

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.symbol != "" && c.symbol != symbol {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("Dropping slow websocket client", slog.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
// The optional symbol query parameter narrows the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &client{
		conn:   conn,
		symbol: domain.NormalizeSymbol(r.URL.Query().Get("symbol")),
		send:   make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop only watches for pongs and the peer going away.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.ReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				_ = c.conn.Close()
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// close stops the write loop, which closes the connection.
func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}
