// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	return New(st, 45*time.Second), st
}

func seedAgent(t *testing.T, st *store.Store, id, name, host, ip string, createdAt int64) {
	t.Helper()
	require.NoError(t, st.CreateAgent(&store.Agent{
		ID: id, Token: "tok_" + id, Name: name, Hostname: host, IP: ip,
		OS: "linux", CreatedAt: createdAt, UpdatedAt: createdAt, Enabled: true,
	}))
}

func seedHeartbeat(t *testing.T, st *store.Store, agentID string, ts int64, memTotal int64) {
	t.Helper()
	hb := &store.Heartbeat{AgentID: agentID, TS: ts}
	if memTotal > 0 {
		hb.MemTotalBytes = &memTotal
	}
	require.NoError(t, st.AppendHeartbeat(hb))
}

func TestOnlineBoundaryIsInclusive(t *testing.T) {
	agg, st := newTestAggregator(t)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	seedAgent(t, st, "a1", "edge", "edge-1", "10.0.0.1", now.Unix()-3600)
	seedAgent(t, st, "a2", "core", "core-1", "10.0.0.2", now.Unix()-3600)
	seedHeartbeat(t, st, "a1", now.Unix()-45, 0) // exactly at the timeout
	seedHeartbeat(t, st, "a2", now.Unix()-46, 0) // one second past

	snap, err := agg.Snapshot(true)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 2)

	byID := indexNodes(snap.Nodes)
	assert.True(t, byID["a1"].Online)
	assert.False(t, byID["a2"].Online)
}

func TestAgentWithoutHeartbeatUsesRegistrationTime(t *testing.T) {
	agg, st := newTestAggregator(t)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	seedAgent(t, st, "fresh", "fresh", "fresh-1", "10.0.1.1", now.Unix()-10)
	seedAgent(t, st, "stale", "stale", "stale-1", "10.0.1.2", now.Unix()-300)

	snap, err := agg.Snapshot(true)
	require.NoError(t, err)
	byID := indexNodes(snap.Nodes)
	assert.True(t, byID["fresh"].Online)
	assert.False(t, byID["stale"].Online)
	assert.Nil(t, byID["fresh"].Metrics)
}

func TestMergeByIPPicksRicherRepresentative(t *testing.T) {
	agg, st := newTestAggregator(t)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	// Two collectors on the same host report the same IP. The one with the
	// larger total memory wins representation even though its heartbeat is
	// older, and the group stays online if either member is fresh.
	seedAgent(t, st, "lite", "probe-lite", "db-1", "10.2.0.9", now.Unix()-3600)
	seedAgent(t, st, "full", "probe-full", "db-1", "10.2.0.9", now.Unix()-3600)
	seedHeartbeat(t, st, "lite", now.Unix()-5, 0)
	seedHeartbeat(t, st, "full", now.Unix()-120, 64<<30)

	snap, err := agg.Snapshot(true)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)

	node := snap.Nodes[0]
	assert.Equal(t, "full", node.AgentID)
	assert.True(t, node.Online, "any fresh member keeps the group online")
	assert.Equal(t, 2, node.MergedAgents)
	assert.ElementsMatch(t, []string{"probe-lite", "probe-full"}, node.MergedNames)
}

func TestMergeFallsBackToHostnameWhenIPMissing(t *testing.T) {
	agg, st := newTestAggregator(t)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	// "-" is the placeholder agents report before they learn an address.
	seedAgent(t, st, "x1", "x1", "shared-host", "", now.Unix())
	seedAgent(t, st, "x2", "x2", "shared-host", "-", now.Unix())
	seedAgent(t, st, "y1", "y1", "other-host", "", now.Unix())

	snap, err := agg.Snapshot(true)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
}

func TestMaskingHappensAfterGrouping(t *testing.T) {
	agg, st := newTestAggregator(t)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	// Identical IPs that would mask to the same prefix must still merge
	// on the real address, and distinct IPs sharing a /16 must not.
	seedAgent(t, st, "m1", "alpha-node", "alpha", "10.9.1.1", now.Unix())
	seedAgent(t, st, "m2", "beta-node", "beta", "10.9.2.2", now.Unix())

	snap, err := agg.Snapshot(false)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 2)
	assert.True(t, snap.Masked)
	for _, n := range snap.Nodes {
		assert.Equal(t, "10.9.*.*", n.IP)
		assert.Contains(t, n.Name, "***")
		assert.Contains(t, n.Hostname, "***")
	}
}

func TestMaskedDerivesFromFullSnapshot(t *testing.T) {
	agg, st := newTestAggregator(t)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	seedAgent(t, st, "a1", "gateway", "gw-fra-1", "203.0.113.7", now.Unix())
	seedHeartbeat(t, st, "a1", now.Unix(), 8<<30)

	full, err := agg.Snapshot(true)
	require.NoError(t, err)
	masked := full.MaskedCopy()

	require.Len(t, masked.Nodes, 1)
	assert.True(t, masked.Masked)
	assert.Equal(t, full.TS, masked.TS)
	assert.Equal(t, "203.0.*.*", masked.Nodes[0].IP)
	assert.Equal(t, "g***y", masked.Nodes[0].Name)
	assert.Equal(t, "gw***1", masked.Nodes[0].Hostname)
	// The source snapshot is untouched.
	assert.Equal(t, "203.0.113.7", full.Nodes[0].IP)
	assert.False(t, full.Masked)
}

func TestMaskHelpers(t *testing.T) {
	assert.Equal(t, "192.168.*.*", maskIP("192.168.4.20"))
	assert.Equal(t, "*.*.*.*", maskIP("fe80::1"))
	assert.Equal(t, "", maskIP(""))
	assert.Equal(t, "***", maskHost("db"))
	assert.Equal(t, "we***3", maskHost("web-cluster-3"))
	assert.Equal(t, "***", maskName("ab"))
	assert.Equal(t, "t***o", maskName("tokyo"))
}

func indexNodes(nodes []NodeView) map[string]NodeView {
	out := make(map[string]NodeView, len(nodes))
	for _, n := range nodes {
		out[n.AgentID] = n
	}
	return out
}
