// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycode/overseer/internal/monitor"
)

// The WebSocket surface of the Monitor Feed: one subscription per
// connection, ping/pong keepalive, and a read goroutine whose only job
// is to notice the client hanging up.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// monitorWebSocket upgrades the connection and streams Monitor Feed
// events matching the "pattern" query parameter (default "*", the
// match-everything wildcard) until the client disconnects.
func monitorWebSocket(feed *monitor.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			pattern = "*"
		}

		subID, events := feed.Subscribe(pattern)
		defer feed.Unsubscribe(subID)

		done := make(chan struct{})
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		pingTicker := time.NewTicker(54 * time.Second)
		defer pingTicker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}
