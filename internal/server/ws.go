package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/narrativa/dna-interview/internal/identity"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || originAllowed(allowedOrigins, origin) {
				return true
			}
			slog.Warn("websocket origin rejected", "origin", origin)
			return false
		},
	}
}

func wsHandler(hub *Hub, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity.FromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade error", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		payload, err := json.Marshal(ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
			UserID:    caller.UserID,
		})
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe(caller.UserID)
		defer hub.Unsubscribe(caller.UserID, ch)

		// Reads only detect the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg := <-ch:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}
