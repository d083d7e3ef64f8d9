// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package reader

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const tapClientBuffer = 32

// TapEvent is what tap clients receive for each handled message.
type TapEvent struct {
	Destination string `json:"destination"`
	Domain      string `json:"domain"`
	Payload     any    `json:"payload"`
}

// Tap mirrors handled messages to websocket and server-sent-event clients.
// A client that cannot keep up is disconnected instead of slowing the
// listener down.
type Tap struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*tapClient]struct{}
}

type tapClient struct {
	remote string
	send   chan []byte
	once   sync.Once
}

func (c *tapClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewTap(logger *slog.Logger) *Tap {
	return &Tap{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With("component", "tap"),
		clients: make(map[*tapClient]struct{}),
	}
}

func (t *Tap) add(remote, transport string) *tapClient {
	client := &tapClient{remote: remote, send: make(chan []byte, tapClientBuffer)}
	t.mu.Lock()
	t.clients[client] = struct{}{}
	t.mu.Unlock()
	t.logger.Info("tap client connected", "remote", remote, "transport", transport)
	return client
}

// ServeHTTP upgrades the request to a websocket and streams events on it.
func (t *Tap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("ws upgrade failed", "error", err)
		return
	}
	client := t.add(r.RemoteAddr, "websocket")

	go t.writeLoop(conn, client)
	t.readLoop(conn)

	t.remove(client)
	conn.Close()
	t.logger.Info("tap client disconnected", "remote", r.RemoteAddr)
}

// readLoop only watches for the client going away.
func (t *Tap) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("ws read error", "error", err)
			}
			return
		}
	}
}

func (t *Tap) writeLoop(conn *websocket.Conn, c *tapClient) {
	for data := range c.send {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.logger.Warn("ws write failed", "error", err)
			conn.Close()
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

func (t *Tap) remove(c *tapClient) {
	t.mu.Lock()
	delete(t.clients, c)
	t.mu.Unlock()
	c.close()
}

// Publish sends payload to every connected client.
func (t *Tap) Publish(dest core.Destination, payload any) {
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	data, err := json.Marshal(TapEvent{Destination: dest.Name, Domain: dest.Domain(), Payload: payload})
	if err != nil {
		t.logger.Warn("tap marshal failed", "destination", dest.String(), "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.clients {
		select {
		case c.send <- data:
		default:
			t.logger.Warn("tap client too slow, dropping", "remote", c.remote)
			delete(t.clients, c)
			c.close()
		}
	}
}

func (t *Tap) Clients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Close disconnects every client.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.clients {
		delete(t.clients, c)
		c.close()
	}
}
