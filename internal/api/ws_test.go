// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, httpURL, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Type, msg.Data
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) json.RawMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		typ, data := readMessage(t, conn)
		if typ == wantType {
			return data
		}
	}
	t.Fatalf("no %s message received", wantType)
	return nil
}

func TestWSGreetingAndInitialSnapshot(t *testing.T) {
	s, srv := newTestServer(t, testConfig(""))
	_, token := registerAgent(t, srv.URL)
	resp := sendHeartbeat(t, srv.URL, token, map[string]any{"cpu_percent": 10.0})
	resp.Body.Close()

	conn := dialWS(t, srv.URL, "")

	typ, data := readMessage(t, conn)
	require.Equal(t, "hello", typ)
	var hello struct {
		TS   int64 `json:"ts"`
		Full bool  `json:"full"`
	}
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.True(t, hello.Full, "open instance serves the full view")
	assert.NotZero(t, hello.TS)

	data = readUntil(t, conn, "node:update")
	var snap struct {
		Nodes []struct {
			IP     string `json:"ip"`
			Online bool   `json:"online"`
		} `json:"nodes"`
		Masked bool `json:"masked"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Len(t, snap.Nodes, 1)
	assert.False(t, snap.Masked)
	assert.Equal(t, "10.0.0.1", snap.Nodes[0].IP)

	assert.Eventually(t, func() bool { return s.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestWSBroadcastOnHeartbeat(t *testing.T) {
	_, srv := newTestServer(t, testConfig(""))
	_, token := registerAgent(t, srv.URL)

	conn := dialWS(t, srv.URL, "")
	readUntil(t, conn, "node:update") // initial snapshot

	resp := sendHeartbeat(t, srv.URL, token, map[string]any{"cpu_percent": 42.0})
	resp.Body.Close()

	data := readUntil(t, conn, "event:new")
	var ev EventPayload
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "heartbeat", ev.EventType)

	readUntil(t, conn, "node:update")
}

func TestWSViewerLevelsSeeDifferentSnapshots(t *testing.T) {
	_, srv := newTestServer(t, testConfig("secret-dash"))
	_, token := registerAgent(t, srv.URL)
	resp := sendHeartbeat(t, srv.URL, token, map[string]any{"cpu_percent": 10.0})
	resp.Body.Close()

	limited := dialWS(t, srv.URL, "")
	full := dialWS(t, srv.URL, "?token=secret-dash")

	type snapData struct {
		Nodes []struct {
			IP string `json:"ip"`
		} `json:"nodes"`
		Masked bool `json:"masked"`
	}

	var limitedSnap, fullSnap snapData
	require.NoError(t, json.Unmarshal(readUntil(t, limited, "node:update"), &limitedSnap))
	require.NoError(t, json.Unmarshal(readUntil(t, full, "node:update"), &fullSnap))

	require.Len(t, limitedSnap.Nodes, 1)
	assert.True(t, limitedSnap.Masked)
	assert.Equal(t, "10.0.*.*", limitedSnap.Nodes[0].IP)

	require.Len(t, fullSnap.Nodes, 1)
	assert.False(t, fullSnap.Masked)
	assert.Equal(t, "10.0.0.1", fullSnap.Nodes[0].IP)
}

func TestWSLivenessEvictsSilentViewers(t *testing.T) {
	s, srv := newTestServer(t, testConfig(""))

	// This client never reads, so ping frames are never answered.
	conn := dialWS(t, srv.URL, "")
	_ = conn

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	// First sweep marks the viewer unconfirmed, second evicts it.
	s.hub.SweepLiveness()
	assert.Equal(t, 1, s.hub.ClientCount())
	s.hub.SweepLiveness()
	assert.Equal(t, 0, s.hub.ClientCount())
}

func TestWSResponsiveViewerSurvivesSweeps(t *testing.T) {
	s, srv := newTestServer(t, testConfig(""))

	conn := dialWS(t, srv.URL, "")
	// Reading keeps the client processing ping frames, which answers them
	// with pongs automatically.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	s.hub.SweepLiveness()
	// Give the pong a moment to arrive before the next sweep.
	time.Sleep(200 * time.Millisecond)
	s.hub.SweepLiveness()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, s.hub.ClientCount())
}
