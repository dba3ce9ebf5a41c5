package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentroute/internal/bus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

// wsClient is one connected event-feed subscriber. Events fan out through
// a buffered channel so a slow client never blocks the bus; the channel
// is never closed to keep late broadcasts race-free, the done channel
// signals teardown instead.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// handleWebSocket upgrades the connection and streams bus events to the
// client until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan bus.Event, wsSendBuffer),
		done: make(chan struct{}),
	}
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.close()
	}()

	go s.writeLoop(client)

	// Read loop only detects disconnect; clients don't send anything.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *wsClient) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (s *Server) registerClient(c *wsClient) {
	s.eventPub.Subscribe(c.id, func(ev bus.Event) {
		select {
		case c.send <- ev:
		case <-c.done:
		default:
			slog.Warn("websocket client lagging, dropping event", "client", c.id, "event", ev.Name)
		}
	})

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *wsClient) {
	s.eventPub.Unsubscribe(c.id)
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	slog.Info("client disconnected", "id", c.id)
}
