// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/llw2011/oc-monitor/internal/aggregator"
	"github.com/llw2011/oc-monitor/internal/auth"
	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/logging"
	"github.com/llw2011/oc-monitor/internal/metrics"
)

// EventPayload is the event fragment pushed to live viewers.
type EventPayload struct {
	TS        int64   `json:"ts"`
	AgentID   *string `json:"agent_id"`
	Level     string  `json:"level"`
	EventType string  `json:"event_type"`
	Message   string  `json:"message"`
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// sendBuffer sizes each viewer's outbound queue. A viewer that falls this
// far behind is dropped rather than allowed to stall broadcasts.
const sendBuffer = 32

type viewerConn struct {
	conn  *websocket.Conn
	full  bool
	send  chan []byte
	done  chan struct{}
	alive bool

	closeOnce sync.Once
}

// close signals the pumps to exit. The send channel is never closed, so a
// concurrent enqueue can at worst fill the buffer of a dead viewer.
func (v *viewerConn) close() {
	v.closeOnce.Do(func() {
		close(v.done)
		v.conn.Close()
	})
}

// Hub manages live dashboard connections. Every broadcast renders the
// snapshot once per privacy level from a single store read, so all viewers
// of a level see the same data.
type Hub struct {
	agg    *aggregator.Aggregator
	authz  *auth.Viewer
	m      *metrics.Metrics
	logger *logging.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[*viewerConn]struct{}
}

// NewHub creates a hub with no connected viewers.
func NewHub(agg *aggregator.Aggregator, authz *auth.Viewer, m *metrics.Metrics, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default().WithComponent("ws")
	}
	return &Hub{
		agg:    agg,
		authz:  authz,
		m:      m,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard token, not the Origin header, is the gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		viewers: make(map[*viewerConn]struct{}),
	}
}

// HandleWS upgrades the request and registers the viewer. The privacy level
// is fixed at connect time from the same rules as the REST endpoints.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	full := h.authz.FullView(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	v := &viewerConn{
		conn:  conn,
		full:  full,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		alive: true,
	}
	conn.SetPongHandler(func(string) error {
		h.mu.Lock()
		v.alive = true
		h.mu.Unlock()
		return nil
	})

	h.mu.Lock()
	h.viewers[v] = struct{}{}
	count := len(h.viewers)
	h.mu.Unlock()
	h.m.ConnectedViewers.Set(float64(count))

	go h.writePump(v)
	go h.readPump(v)

	h.enqueue(v, mustMarshal(wsMessage{Type: "hello", Data: map[string]any{
		"ts": clock.Unix(), "full": full,
	}}))
	if snap, err := h.agg.Snapshot(full); err == nil {
		h.enqueue(v, mustMarshal(wsMessage{Type: "node:update", Data: snap}))
	}
}

// BroadcastSnapshot pushes the current node list to every viewer. The store
// is read once; the masked variant is derived from the full snapshot.
func (h *Hub) BroadcastSnapshot() {
	h.mu.Lock()
	hasFull, hasLimited := false, false
	for v := range h.viewers {
		if v.full {
			hasFull = true
		} else {
			hasLimited = true
		}
	}
	h.mu.Unlock()
	if !hasFull && !hasLimited {
		return
	}

	snap, err := h.agg.Snapshot(true)
	if err != nil {
		h.logger.Error("snapshot for broadcast failed", "error", err)
		return
	}

	var fullMsg, limitedMsg []byte
	if hasFull {
		fullMsg = mustMarshal(wsMessage{Type: "node:update", Data: snap})
	}
	if hasLimited {
		limitedMsg = mustMarshal(wsMessage{Type: "node:update", Data: snap.MaskedCopy()})
	}

	h.mu.Lock()
	targets := make([]*viewerConn, 0, len(h.viewers))
	for v := range h.viewers {
		targets = append(targets, v)
	}
	h.mu.Unlock()

	for _, v := range targets {
		if v.full {
			h.enqueue(v, fullMsg)
		} else {
			h.enqueue(v, limitedMsg)
		}
	}
	h.m.BroadcastsSent.Inc()
}

// BroadcastEvent pushes a live event entry to every viewer.
func (h *Hub) BroadcastEvent(ev EventPayload) {
	msg := mustMarshal(wsMessage{Type: "event:new", Data: ev})

	h.mu.Lock()
	targets := make([]*viewerConn, 0, len(h.viewers))
	for v := range h.viewers {
		targets = append(targets, v)
	}
	h.mu.Unlock()

	for _, v := range targets {
		h.enqueue(v, msg)
	}
	h.m.BroadcastsSent.Inc()
}

// SweepLiveness evicts viewers that have not answered a probe since the last
// sweep, then probes the rest. A connection has a full sweep interval to
// answer before it is considered dead.
func (h *Hub) SweepLiveness() {
	h.mu.Lock()
	var dead, live []*viewerConn
	for v := range h.viewers {
		if !v.alive {
			dead = append(dead, v)
			delete(h.viewers, v)
			continue
		}
		v.alive = false
		live = append(live, v)
	}
	count := len(h.viewers)
	h.mu.Unlock()

	for _, v := range dead {
		v.close()
	}
	if len(dead) > 0 {
		h.logger.Info("evicted unresponsive viewers", "count", len(dead))
	}
	h.m.ConnectedViewers.Set(float64(count))

	ping := mustMarshal(wsMessage{Type: "ping", Data: map[string]int64{"ts": clock.Unix()}})
	for _, v := range live {
		_ = v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		h.enqueue(v, ping)
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// enqueue hands a message to the viewer's write pump. A full queue means the
// viewer is not keeping up and gets dropped.
func (h *Hub) enqueue(v *viewerConn, msg []byte) {
	if msg == nil {
		return
	}
	select {
	case v.send <- msg:
	default:
		h.remove(v)
	}
}

func (h *Hub) remove(v *viewerConn) {
	h.mu.Lock()
	_, present := h.viewers[v]
	delete(h.viewers, v)
	count := len(h.viewers)
	h.mu.Unlock()

	if present {
		h.m.ConnectedViewers.Set(float64(count))
	}
	v.close()
}

func (h *Hub) writePump(v *viewerConn) {
	for {
		select {
		case <-v.done:
			return
		case msg := <-v.send:
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(v)
				return
			}
		}
	}
}

// readPump drains inbound frames so pongs and close frames are processed.
// Viewers never send application data.
func (h *Hub) readPump(v *viewerConn) {
	defer h.remove(v)
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
