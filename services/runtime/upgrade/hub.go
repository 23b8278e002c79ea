// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package upgrade hosts the optional upgrade channel: persistent
// bidirectional connections established via HTTP protocol upgrade on a single
// configured path.
//
// The Hub owns the connection registry. Malformed inbound messages produce a
// structured error frame on the same connection instead of closing it; the
// lifecycle coordinator's drain closes every connection through CloseAll.
package upgrade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// writeWait bounds every outbound write, including close notifications.
const writeWait = 5 * time.Second

// Message is the inbound frame format.
type Message struct {
	// Action names the requested operation.
	Action string `json:"action"`

	// Data is an opaque payload forwarded to the handler.
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply is the outbound frame format. Error frames set Error and keep the
// connection open.
type Reply struct {
	Action    string          `json:"action"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Handler processes one well-formed inbound message and returns the reply.
type Handler func(sessionID string, msg Message) Reply

// Hub tracks open upgrade-channel connections.
type Hub struct {
	handler Handler
	log     *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewHub builds a Hub. A nil handler echoes messages back; a nil logger
// falls back to slog.Default().
func NewHub(handler Handler, log *slog.Logger) *Hub {
	if handler == nil {
		handler = func(sessionID string, msg Message) Reply {
			return Reply{Action: msg.Action, SessionID: sessionID, Data: msg.Data}
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: map[string]*websocket.Conn{},
	}
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Serve upgrades the request and runs the connection's read loop until the
// peer disconnects or the hub closes it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection", "error", err)
		return
	}

	sessionID := uuid.New().String()
	h.register(sessionID, ws)
	defer h.unregister(sessionID)

	h.log.Info("upgrade channel connected", "session_id", sessionID)
	if err := h.write(ws, Reply{Action: "session_created", SessionID: sessionID}); err != nil {
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.log.Info("upgrade channel disconnected", "session_id", sessionID, "error", err.Error())
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Action == "" {
			// Malformed input is answered in-band; the connection stays up.
			reply := Reply{Action: "error", SessionID: sessionID, Error: "malformed message: expected {\"action\": ...}"}
			if err := h.write(ws, reply); err != nil {
				return
			}
			continue
		}

		if err := h.write(ws, h.handler(sessionID, msg)); err != nil {
			return
		}
	}
}

// CloseAll sends a close notification to every open connection and closes
// it. Closes fan out concurrently and are all joined before return.
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	conns := make(map[string]*websocket.Conn, len(h.conns))
	for id, ws := range h.conns {
		conns[id] = ws
	}
	h.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for id, ws := range conns {
		g.Go(func() error {
			deadline := time.Now().Add(writeWait)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				h.log.Warn("close notification failed", "session_id", id, "error", err)
			}
			return ws.Close()
		})
	}
	return g.Wait()
}

func (h *Hub) register(id string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = ws
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	ws, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		ws.Close()
	}
}

func (h *Hub) write(ws *websocket.Conn, reply Reply) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(reply); err != nil {
		h.log.Warn("failed to write upgrade-channel reply", "error", err)
		return err
	}
	return nil
}
