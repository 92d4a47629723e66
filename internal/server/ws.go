// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/imajinxai/llm-arena/internal/panel"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a client may stay silent before it is dropped.
	wsPongWait = 60 * time.Second

	// wsPingPeriod must be shorter than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsMaxMessageSize caps frames read from the browser.
	wsMaxMessageSize = 4 << 10
)

// SnapshotMessage is pushed to WebSocket clients on connect and after every
// store change. Bursts of changes are coalesced into one snapshot.
type SnapshotMessage struct {
	Type    string         `json:"type"`
	Changes []panel.Change `json:"changes,omitempty"`
	WorkspaceResponse
}

func (s *Server) upgrader() *websocket.Upgrader {
	cors := DefaultCORSConfig(s.opts.AllowedOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 8192,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			if origin == "" {
				return true
			}
			// SECURITY: same-origin pages and configured origins only.
			if origin == "http://"+r.Host || origin == "https://"+r.Host {
				return true
			}
			return cors.allowOrigin(origin) != ""
		},
	}
}

// handleWebSocket upgrades the connection and streams workspace snapshots
// until the client disconnects or the server shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s.clients.Add(1)
	defer s.clients.Add(-1)

	ip := GetClientIP(r)
	s.logger.Info("websocket connected", "ip", ip)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes := s.store.Subscribe(panel.DefaultBufferSize)
	defer s.store.Unsubscribe(changes)

	go s.wsReadLoop(conn, cancel)
	s.wsWriteLoop(ctx, conn, changes)

	conn.Close()
	s.logger.Info("websocket disconnected", "ip", ip)
}

// wsReadLoop discards client frames and cancels ctx when the peer goes away.
// Reading is required for gorilla/websocket to process pong and close frames.
func (s *Server) wsReadLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

// wsWriteLoop owns all writes to conn.
func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, changes <-chan panel.Change) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	if err := s.writeSnapshot(conn, nil); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return

		case c, ok := <-changes:
			if !ok {
				return
			}
			batch := []panel.Change{c}
			// PERFORMANCE: streaming publishes a change per flush on every
			// generating panel; send one snapshot for whatever is queued.
		drain:
			for {
				select {
				case more, ok := <-changes:
					if !ok {
						break drain
					}
					batch = append(batch, more)
				default:
					break drain
				}
			}
			if err := s.writeSnapshot(conn, batch); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, changes []panel.Change) error {
	msg := SnapshotMessage{Type: "snapshot", Changes: changes, WorkspaceResponse: s.workspace()}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
