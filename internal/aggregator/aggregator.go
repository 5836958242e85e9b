// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package aggregator reconciles raw per-agent heartbeats into one logical
// node per physical host and computes each node's online state.
package aggregator

import (
	"time"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/store"
)

// Metrics is the latest reported sample of a node, if any.
type Metrics struct {
	CPUPercent     *float64 `json:"cpu_percent"`
	MemUsedBytes   *int64   `json:"mem_used_bytes"`
	MemTotalBytes  *int64   `json:"mem_total_bytes"`
	DiskUsedBytes  *int64   `json:"disk_used_bytes"`
	DiskTotalBytes *int64   `json:"disk_total_bytes"`
	SwapUsedBytes  *int64   `json:"swap_used_bytes"`
	SwapTotalBytes *int64   `json:"swap_total_bytes"`
	UptimeSec      *int64   `json:"uptime_sec"`
	Load1m         *float64 `json:"load_1m"`
}

// NodeView is one merged logical host.
type NodeView struct {
	AgentID         string   `json:"agent_id"`
	Name            string   `json:"name"`
	Hostname        string   `json:"hostname"`
	IP              string   `json:"ip"`
	OS              string   `json:"os"`
	LastHeartbeatTS int64    `json:"last_heartbeat_ts"`
	Online          bool     `json:"online"`
	Metrics         *Metrics `json:"metrics"`
	MergedAgents    int      `json:"merged_agents"`
	MergedNames     []string `json:"merged_names"`
}

// Snapshot is the aggregator output for one point in time.
type Snapshot struct {
	Nodes  []NodeView `json:"nodes"`
	TS     int64      `json:"ts"`
	Masked bool       `json:"masked"`
}

// Aggregator derives node snapshots from the telemetry store.
type Aggregator struct {
	store          *store.Store
	offlineTimeout time.Duration
}

// New creates an Aggregator with the given offline timeout.
func New(st *store.Store, offlineTimeout time.Duration) *Aggregator {
	return &Aggregator{store: st, offlineTimeout: offlineTimeout}
}

// OfflineTimeout returns the configured offline threshold.
func (a *Aggregator) OfflineTimeout() time.Duration {
	return a.offlineTimeout
}

// Snapshot reads the registry and latest heartbeats and produces the merged
// node list. With full=false, identifying fields are masked after merging so
// masking never affects grouping.
func (a *Aggregator) Snapshot(full bool) (*Snapshot, error) {
	agents, err := a.store.EnabledAgents()
	if err != nil {
		return nil, err
	}
	latest, err := a.store.LatestHeartbeats()
	if err != nil {
		return nil, err
	}

	now := clock.Unix()
	timeout := int64(a.offlineTimeout / time.Second)

	raw := make([]NodeView, 0, len(agents))
	for _, agent := range agents {
		view := NodeView{
			AgentID:  agent.ID,
			Name:     agent.Name,
			Hostname: agent.Hostname,
			IP:       agent.IP,
			OS:       agent.OS,
		}
		if hb, ok := latest[agent.ID]; ok {
			view.LastHeartbeatTS = hb.TS
			view.Metrics = &Metrics{
				CPUPercent:     hb.CPUPercent,
				MemUsedBytes:   hb.MemUsedBytes,
				MemTotalBytes:  hb.MemTotalBytes,
				DiskUsedBytes:  hb.DiskUsedBytes,
				DiskTotalBytes: hb.DiskTotalBytes,
				SwapUsedBytes:  hb.SwapUsedBytes,
				SwapTotalBytes: hb.SwapTotalBytes,
				UptimeSec:      hb.UptimeSec,
				Load1m:         hb.Load1m,
			}
		} else {
			// No sample yet: a freshly registered agent counts as alive
			// until the timeout measured from registration elapses.
			view.LastHeartbeatTS = agent.UpdatedAt
			if view.LastHeartbeatTS == 0 {
				view.LastHeartbeatTS = agent.CreatedAt
			}
		}
		// Inclusive at the threshold: a heartbeat exactly offlineTimeout
		// old is still online.
		view.Online = now-view.LastHeartbeatTS <= timeout
		raw = append(raw, view)
	}

	nodes := mergeDuplicates(raw)

	if !full {
		for i := range nodes {
			nodes[i].Name = maskName(nodes[i].Name)
			nodes[i].Hostname = maskHost(nodes[i].Hostname)
			nodes[i].IP = maskIP(nodes[i].IP)
		}
	}

	return &Snapshot{Nodes: nodes, TS: now, Masked: !full}, nil
}

// MaskedCopy returns a masked copy of an already-computed full snapshot,
// so a single store read can serve viewers at both privacy levels.
func (s *Snapshot) MaskedCopy() *Snapshot {
	out := &Snapshot{TS: s.TS, Masked: true, Nodes: make([]NodeView, len(s.Nodes))}
	copy(out.Nodes, s.Nodes)
	for i := range out.Nodes {
		out.Nodes[i].Name = maskName(out.Nodes[i].Name)
		out.Nodes[i].Hostname = maskHost(out.Nodes[i].Hostname)
		out.Nodes[i].IP = maskIP(out.Nodes[i].IP)
	}
	return out
}

// groupKey picks the identity used to merge duplicate agents: reported IP
// when present and non-placeholder, else hostname, else the agent id.
func groupKey(v NodeView) string {
	if v.IP != "" && v.IP != "-" {
		return "ip:" + v.IP
	}
	if v.Hostname != "" {
		return "host:" + v.Hostname
	}
	return "host:" + v.AgentID
}

// mergeDuplicates collapses raw per-agent views that share a group key into
// one NodeView. The representative is the member with the largest reported
// total memory (a proxy for the most complete collector), ties broken by
// the newest heartbeat. A group is online if any member is.
func mergeDuplicates(raw []NodeView) []NodeView {
	groups := make(map[string][]NodeView)
	var order []string
	for _, v := range raw {
		key := groupKey(v)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], v)
	}

	merged := make([]NodeView, 0, len(order))
	for _, key := range order {
		members := groups[key]
		rep := members[0]
		for _, m := range members[1:] {
			if better(m, rep) {
				rep = m
			}
		}

		node := rep
		node.MergedAgents = len(members)
		node.MergedNames = nil
		for _, m := range members {
			if m.Name != "" {
				node.MergedNames = append(node.MergedNames, m.Name)
			}
			if m.Online {
				node.Online = true
			}
		}
		merged = append(merged, node)
	}
	return merged
}

func better(a, b NodeView) bool {
	am, bm := memTotal(a), memTotal(b)
	if am != bm {
		return am > bm
	}
	return a.LastHeartbeatTS > b.LastHeartbeatTS
}

func memTotal(v NodeView) int64 {
	if v.Metrics == nil || v.Metrics.MemTotalBytes == nil {
		return 0
	}
	return *v.Metrics.MemTotalBytes
}
