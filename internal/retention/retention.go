// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package retention prunes aged events and heartbeats.
package retention

import (
	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/logging"
	"github.com/llw2011/oc-monitor/internal/store"
)

// Result summarizes one cleanup pass.
type Result struct {
	TS                int64 `json:"ts"`
	DeletedEvents     int64 `json:"deleted_events"`
	DeletedHeartbeats int64 `json:"deleted_heartbeats"`
}

// Manager deletes rows older than the configured horizons.
type Manager struct {
	store          *store.Store
	eventsDays     int
	heartbeatsDays int
	logger         *logging.Logger
}

// New creates a retention manager. Horizons below one day clamp to one.
func New(st *store.Store, eventsDays, heartbeatsDays int, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default().WithComponent("retention")
	}
	if eventsDays < 1 {
		eventsDays = 1
	}
	if heartbeatsDays < 1 {
		heartbeatsDays = 1
	}
	return &Manager{
		store:          st,
		eventsDays:     eventsDays,
		heartbeatsDays: heartbeatsDays,
		logger:         logger,
	}
}

// Horizons returns the configured horizons in days.
func (m *Manager) Horizons() (eventsDays, heartbeatsDays int) {
	return m.eventsDays, m.heartbeatsDays
}

// Run deletes everything past the horizons. A summary event is written only
// when at least one row went away, so an idle instance does not fill its own
// event log with cleanup noise.
func (m *Manager) Run() (*Result, error) {
	now := clock.Unix()
	res := &Result{TS: now}

	var err error
	res.DeletedEvents, err = m.store.DeleteEventsBefore(now - int64(m.eventsDays)*86400)
	if err != nil {
		return nil, err
	}
	res.DeletedHeartbeats, err = m.store.DeleteHeartbeatsBefore(now - int64(m.heartbeatsDays)*86400)
	if err != nil {
		return nil, err
	}

	if res.DeletedEvents > 0 || res.DeletedHeartbeats > 0 {
		meta := store.JSONMeta(map[string]any{
			"deleted_events":     res.DeletedEvents,
			"deleted_heartbeats": res.DeletedHeartbeats,
		})
		if err := m.store.AppendEvent(&store.Event{
			TS: now, Level: store.LevelInfo, Type: store.EventRetentionCleanup,
			Message: "retention cleanup", MetaJSON: meta,
		}); err != nil {
			return nil, err
		}
		m.logger.Info("retention cleanup",
			"deleted_events", res.DeletedEvents,
			"deleted_heartbeats", res.DeletedHeartbeats)
	}
	return res, nil
}
