// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package alerting evaluates node snapshots against thresholds and manages
// per-alert acknowledgement and silence state.
package alerting

import (
	"math"
	"sort"
	"strings"

	"github.com/llw2011/oc-monitor/internal/aggregator"
	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/errors"
	"github.com/llw2011/oc-monitor/internal/store"
)

// Limits are the evaluation thresholds.
type Limits struct {
	CPUHigh    float64
	MemHigh    float64
	DiskHigh   float64
	StaleSec   int64
	OfflineSec int64
}

// Engine derives alerts from node snapshots. Alerts are recomputed on every
// call; only ack/silence state is persisted.
type Engine struct {
	agg    *aggregator.Aggregator
	store  *store.Store
	limits Limits
	admin  string
}

// NewEngine creates an alert engine. admin is recorded as the acting user on
// acknowledgements.
func NewEngine(agg *aggregator.Aggregator, st *store.Store, limits Limits, admin string) *Engine {
	return &Engine{agg: agg, store: st, limits: limits, admin: admin}
}

// Evaluate computes the current alert report. With full=false node names in
// the report are the masked ones, so the report leaks nothing the caller's
// node view would not.
func (e *Engine) Evaluate(full bool) (*Report, error) {
	snap, err := e.agg.Snapshot(full)
	if err != nil {
		return nil, err
	}
	return e.EvaluateSnapshot(snap)
}

// EvaluateSnapshot computes the alert report for an already-built snapshot.
func (e *Engine) EvaluateSnapshot(snap *aggregator.Snapshot) (*Report, error) {
	now := clock.Unix()
	states, err := e.store.AlertStates()
	if err != nil {
		return nil, err
	}

	var items []Alert
	for _, n := range snap.Nodes {
		staleSec := now - n.LastHeartbeatTS
		if staleSec < 0 {
			staleSec = 0
		}

		// Offline and stale are mutually exclusive: once the node is
		// offline the lag alert would be redundant noise.
		if !n.Online {
			items = append(items, Alert{
				ID: n.AgentID + ":" + TypeOffline, TS: now,
				Severity: SeverityCritical, Type: TypeOffline,
				AgentID: n.AgentID, Node: n.Name,
				Message:   "node offline (heartbeat timeout)",
				Value:     float64(staleSec),
				Threshold: float64(e.limits.OfflineSec),
			})
		} else if staleSec >= e.limits.StaleSec {
			items = append(items, Alert{
				ID: n.AgentID + ":" + TypeStale, TS: now,
				Severity: SeverityWarn, Type: TypeStale,
				AgentID: n.AgentID, Node: n.Name,
				Message:   "node heartbeat delayed",
				Value:     float64(staleSec),
				Threshold: float64(e.limits.StaleSec),
			})
		}

		if n.Metrics == nil {
			continue
		}
		m := n.Metrics
		if m.CPUPercent != nil && *m.CPUPercent >= e.limits.CPUHigh {
			items = append(items, Alert{
				ID: n.AgentID + ":" + TypeCPUHigh, TS: now,
				Severity: SeverityWarn, Type: TypeCPUHigh,
				AgentID: n.AgentID, Node: n.Name,
				Message:   "cpu usage high",
				Value:     *m.CPUPercent,
				Threshold: e.limits.CPUHigh,
			})
		}
		if pct := usagePercent(m.MemUsedBytes, m.MemTotalBytes); pct >= e.limits.MemHigh {
			items = append(items, Alert{
				ID: n.AgentID + ":" + TypeMemHigh, TS: now,
				Severity: SeverityWarn, Type: TypeMemHigh,
				AgentID: n.AgentID, Node: n.Name,
				Message:   "memory usage high",
				Value:     pct,
				Threshold: e.limits.MemHigh,
			})
		}
		if pct := usagePercent(m.DiskUsedBytes, m.DiskTotalBytes); pct >= e.limits.DiskHigh {
			items = append(items, Alert{
				ID: n.AgentID + ":" + TypeDiskHigh, TS: now,
				Severity: SeverityWarn, Type: TypeDiskHigh,
				AgentID: n.AgentID, Node: n.Name,
				Message:   "disk usage high",
				Value:     pct,
				Threshold: e.limits.DiskHigh,
			})
		}
	}

	for i := range items {
		st, ok := states[items[i].ID]
		if !ok {
			items[i].Actionable = true
			continue
		}
		items[i].Acked = st.Acked
		items[i].AckedAt = st.AckedAt
		items[i].AckedBy = st.AckedBy
		items[i].SilenceUntil = st.SilenceUntil
		items[i].Silenced = st.SilenceUntil != nil && now < *st.SilenceUntil
		items[i].Actionable = !items[i].Silenced && !items[i].Acked
	}

	// Critical first, otherwise evaluation order is preserved.
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Severity == SeverityCritical && items[b].Severity != SeverityCritical
	})

	rep := &Report{
		TS:     snap.TS,
		Masked: snap.Masked,
		Total:  len(items),
		Thresholds: Thresholds{
			CPUHigh:    e.limits.CPUHigh,
			MemHigh:    e.limits.MemHigh,
			DiskHigh:   e.limits.DiskHigh,
			StaleSec:   e.limits.StaleSec,
			OfflineSec: e.limits.OfflineSec,
		},
		Items: items,
	}
	for _, a := range items {
		switch a.Severity {
		case SeverityCritical:
			rep.Critical++
			if a.Actionable {
				rep.ActionableCritical++
			}
		case SeverityWarn:
			rep.Warn++
		}
	}
	return rep, nil
}

// Ack marks an alert acknowledged by the admin user.
func (e *Engine) Ack(alertID string) error {
	id := strings.TrimSpace(alertID)
	if id == "" {
		return errors.New(errors.KindValidation, "missing alert_id")
	}
	now := clock.Unix()
	acked := true
	if err := e.store.UpsertAlertState(id, store.StatePatch{
		Acked: &acked, AckedAt: &now, AckedBy: &e.admin,
	}); err != nil {
		return err
	}
	return e.store.AppendEvent(&store.Event{
		TS: now, Level: store.LevelInfo, Type: store.EventAlertAck,
		Message: "alert ack: " + id,
	})
}

// Silence mutes an alert for the given number of minutes and returns the
// resulting silence deadline. Durations under a minute round up to one.
func (e *Engine) Silence(alertID string, minutes float64) (int64, error) {
	id := strings.TrimSpace(alertID)
	if id == "" {
		return 0, errors.New(errors.KindValidation, "missing alert_id")
	}
	if minutes < 1 {
		minutes = 1
	}
	now := clock.Unix()
	until := now + int64(math.Floor(minutes*60))
	if err := e.store.UpsertAlertState(id, store.StatePatch{SilenceUntil: &until}); err != nil {
		return 0, err
	}
	meta := store.JSONMeta(map[string]any{"minutes": minutes, "until": until})
	if err := e.store.AppendEvent(&store.Event{
		TS: now, Level: store.LevelInfo, Type: store.EventAlertSilence,
		Message: "alert silence: " + id, MetaJSON: meta,
	}); err != nil {
		return 0, err
	}
	return until, nil
}

// usagePercent returns used/total as a percentage rounded to one decimal.
// A missing or zero total reads as zero usage rather than a division error.
func usagePercent(used, total *int64) float64 {
	if total == nil || *total <= 0 {
		return 0
	}
	var u int64
	if used != nil {
		u = *used
	}
	pct := float64(u) / float64(*total) * 100
	return math.Round(pct*10) / 10
}
