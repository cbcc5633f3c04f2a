package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"spinmill/backend/internal/domain"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsClient wraps a connection with a mutex so pings and broadcasts never
// write concurrently.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub fans lot and inward entry change events out to websocket subscribers.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
}

// NewHub accepts websocket upgrades from allowedOrigin only, unless it is
// "*" or empty. Requests without an Origin header come from non-browser
// clients and are accepted.
func NewHub(logger logrus.FieldLogger, allowedOrigin string) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	allowedOrigin = strings.TrimRight(strings.TrimSpace(allowedOrigin), "/")
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || strings.EqualFold(origin, allowedOrigin)
			},
		},
		logger: logger,
	}
}

func (h *Hub) register(c *wsClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends evt to every connected client. Clients that fail a write are
// dropped.
func (h *Hub) Publish(evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.WithError(err).Error("marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		writeErr := func() (writeErr error) {
			defer func() {
				if r := recover(); r != nil {
					writeErr = fmt.Errorf("websocket write panic: %v", r)
				}
			}()
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return c.conn.WriteMessage(websocket.TextMessage, data)
		}()
		c.mu.Unlock()

		if writeErr != nil {
			h.logger.WithError(writeErr).Debug("dropping websocket client")
			h.unregister(c)
		}
	}
}

// ServeWS upgrades the request and keeps the connection alive with pings
// until the client goes away. Incoming messages are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn}
	total := h.register(c)
	h.logger.WithField("clients", total).Debug("websocket client connected")

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				c.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	h.logger.Debug("websocket client disconnected")
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}
