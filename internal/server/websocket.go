// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WSMessage represents a message sent over WebSocket.
//
// Type is "init" on connect, "job_update" for job state changes and
// "event" for flow progress events.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub manages WebSocket clients and broadcasts.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log zerolog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run dispatches messages to clients until ctx is done. It must be called
// at most once.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", n).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", n).Msg("websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, disconnect
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msgType string, data any) {
	b, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.log.Warn().Err(err).Str("type", msgType).Msg("websocket marshal failed")
		return
	}

	select {
	case h.broadcast <- b:
	default:
		h.log.Warn().Str("type", msgType).Msg("websocket broadcast channel full, dropping message")
	}
}

// BroadcastJob sends a job update to all clients.
func (h *WSHub) BroadcastJob(job Job) {
	h.Broadcast("job_update", job)
}

// BroadcastEvent sends a progress event to all clients.
func (h *WSHub) BroadcastEvent(event JobEvent) {
	h.Broadcast("event", event)
}

// join registers c; it reports false once the hub has stopped.
func (h *WSHub) join(c *WSClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *WSHub) leave(c *WSClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// upgrader applies the server's CORS origins to WebSocket upgrades.
func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.wsHub,
	}

	// Queue the initial state before registering so it is the first frame.
	s.sendInitialState(client)
	if !s.wsHub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// sendInitialState sends current job state to a newly connected client.
func (s *Server) sendInitialState(client *WSClient) {
	data, err := json.Marshal(WSMessage{
		Type: "init",
		Data: map[string]any{
			"jobs":    s.jobs.ListJobs(),
			"version": s.config.Version,
		},
	})
	if err != nil {
		return
	}
	client.send <- data
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump drains the connection so control frames are processed and
// unregisters the client when it goes away.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}
