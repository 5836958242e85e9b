// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the daemon's Prometheus instrumentation. All
// collectors live on an injected registry so parallel tests never collide
// on global registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the daemon updates.
type Metrics struct {
	Registry *prometheus.Registry

	HeartbeatsReceived prometheus.Counter
	EventsWritten      prometheus.Counter
	BroadcastsSent     prometheus.Counter
	ConnectedViewers   prometheus.Gauge
	NotifyAttempts     *prometheus.CounterVec
	RetentionDeleted   *prometheus.CounterVec
}

// New creates a registry with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		HeartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocmonitor_heartbeats_received_total",
			Help: "Heartbeat submissions accepted.",
		}),
		EventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocmonitor_events_written_total",
			Help: "Event rows appended to the store.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocmonitor_ws_broadcasts_total",
			Help: "Websocket broadcast messages fanned out.",
		}),
		ConnectedViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocmonitor_ws_connected_viewers",
			Help: "Currently connected websocket viewers.",
		}),
		NotifyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocmonitor_notify_attempts_total",
			Help: "Alert notification attempts by outcome.",
		}, []string{"outcome"}),
		RetentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocmonitor_retention_deleted_total",
			Help: "Rows removed by retention cleanup by table.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		m.HeartbeatsReceived,
		m.EventsWritten,
		m.BroadcastsSent,
		m.ConnectedViewers,
		m.NotifyAttempts,
		m.RetentionDeleted,
	)
	return m
}
