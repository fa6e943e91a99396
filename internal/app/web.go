// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/pps_camera/internal/gps"
	"github.com/relabs-tech/pps_camera/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // field device on a private network
	},
}

const (
	wsWriteWait   = 5 * time.Second
	wsClientQueue = 16
)

// StatusServer serves the JSON status, the Prometheus metrics and a
// websocket stream of capture events.
type StatusServer struct {
	status func() Status
	hub    *captureHub
	srv    *http.Server
}

// NewStatusServer returns a server on port reporting status().
func NewStatusServer(port int, status func() Status) *StatusServer {
	s := &StatusServer{status: status, hub: newCaptureHub()}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routes of the server.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/captures", s.handleCapturesWS)
	return mux
}

// Publisher is the capture-event sink feeding websocket clients.
func (s *StatusServer) Publisher() telemetry.Publisher {
	return s.hub
}

// Start listens in the background.
func (s *StatusServer) Start() {
	go func() {
		log.Printf("web: status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("web: server error: %v", err)
		}
	}()
}

// Shutdown stops the listener and disconnects websocket clients.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *StatusServer) handleCapturesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	c := s.hub.add(conn)
	log.Printf("web: capture stream client connected (%s)", r.RemoteAddr)

	go c.writeLoop()

	// Read until the client goes away; incoming messages are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket error: %v", err)
			}
			break
		}
	}
	s.hub.remove(c)
	log.Printf("web: capture stream client disconnected (%s)", r.RemoteAddr)
}

type wsClient struct {
	conn *websocket.Conn
	send chan telemetry.CaptureEvent
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			log.Printf("web: websocket write error: %v", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(wsWriteWait))
}

// captureHub broadcasts capture events to websocket clients. A client that
// falls behind loses events instead of stalling the pulse path.
type captureHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newCaptureHub() *captureHub {
	return &captureHub{clients: make(map[*wsClient]struct{})}
}

func (h *captureHub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, send: make(chan telemetry.CaptureEvent, wsClientQueue)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *captureHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *captureHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *captureHub) PublishFix(gps.Fix) {}

func (h *captureHub) PublishCapture(ev telemetry.CaptureEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			log.Printf("web: client queue full, dropping capture event")
		}
	}
}

func (h *captureHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
