// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": clock.Unix()})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	_, admin := s.viewer.IsAdmin(r)
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"full":            s.viewer.FullView(r),
		"token_required":  s.viewer.TokenRequired(),
		"admin_logged_in": admin,
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agg.Snapshot(s.viewer.FullView(r))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Evaluate(s.viewer.FullView(r))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertID string `json:"alert_id"`
	}
	if !BindJSON(w, r, &req) {
		return
	}
	if err := s.engine.Ack(req.AlertID); err != nil {
		WriteErr(w, err)
		return
	}
	s.metrics.EventsWritten.Inc()
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAlertSilence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertID string  `json:"alert_id"`
		Minutes float64 `json:"minutes"`
	}
	if !BindJSON(w, r, &req) {
		return
	}
	if req.Minutes == 0 {
		req.Minutes = 30
	}
	until, err := s.engine.Silence(req.AlertID, req.Minutes)
	if err != nil {
		WriteErr(w, err)
		return
	}
	s.metrics.EventsWritten.Inc()
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "silence_until": until})
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ts := clock.Unix()
	snap, err := s.agg.Snapshot(s.viewer.FullView(r))
	if err != nil {
		WriteErr(w, err)
		return
	}
	events, heartbeats, err := s.store.Counts()
	if err != nil {
		WriteErr(w, err)
		return
	}
	lastCleanup, err := s.store.LastEventOfType(store.EventRetentionCleanup)
	if err != nil {
		WriteErr(w, err)
		return
	}
	var lastCleanupTS *int64
	if lastCleanup != nil {
		lastCleanupTS = &lastCleanup.TS
	}

	online := 0
	for _, n := range snap.Nodes {
		if n.Online {
			online++
		}
	}
	eventsDays, heartbeatsDays := s.retention.Horizons()

	uptime := ts - s.startTime.Unix()
	if uptime < 0 {
		uptime = 0
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"ts":         ts,
		"uptime_sec": uptime,
		"ws_clients": s.hub.ClientCount(),
		"nodes": map[string]int{
			"total":   len(snap.Nodes),
			"online":  online,
			"offline": len(snap.Nodes) - online,
		},
		"database": map[string]any{
			"path":       s.cfg.DBPath,
			"events":     events,
			"heartbeats": heartbeats,
		},
		"retention": map[string]any{
			"events_days":     eventsDays,
			"heartbeats_days": heartbeatsDays,
			"last_cleanup_ts": lastCleanupTS,
		},
		"providers": s.providers.ProbeAll(r.Context()),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agg.Snapshot(s.viewer.FullView(r))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ts":     snap.TS,
		"masked": snap.Masked,
		"items":  s.providers.Matrix(r.Context(), snap.Nodes),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	filter := store.EventFilter{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "pageSize"),
		Level:    r.URL.Query().Get("level"),
		Type:     r.URL.Query().Get("type"),
		AgentID:  r.URL.Query().Get("agent_id"),
	}
	items, total, err := s.store.Events(filter)
	if err != nil {
		WriteErr(w, err)
		return
	}

	full := s.viewer.FullView(r)
	out := make([]map[string]any, 0, len(items))
	for _, ev := range items {
		row := map[string]any{
			"id":        ev.ID,
			"ts":        ev.TS,
			"agent_id":  ev.AgentID,
			"level":     ev.Level,
			"type":      ev.Type,
			"message":   ev.Message,
			"meta_json": ev.MetaJSON,
		}
		if !full {
			// Limited viewers see activity, not its content.
			if ev.Type == store.EventHeartbeat {
				row["message"] = "heartbeat received"
			} else {
				row["message"] = "event"
			}
			if ev.AgentID != nil {
				row["agent_id"] = truncateID(*ev.AgentID)
			}
		}
		out = append(out, row)
	}

	page, pageSize := filter.Normalized()
	WriteJSON(w, http.StatusOK, map[string]any{
		"page":       page,
		"pageSize":   pageSize,
		"total":      total,
		"totalPages": totalPages(total, pageSize),
		"items":      out,
		"masked":     !full,
	})
}

func truncateID(id string) string {
	if len(id) > 10 {
		id = id[:10]
	}
	return id + "***"
}

func totalPages(total int64, pageSize int) int64 {
	if pageSize <= 0 {
		return 0
	}
	return (total + int64(pageSize) - 1) / int64(pageSize)
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
