// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/store"
)

type registerRequest struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	OS       string `json:"os"`
}

type heartbeatRequest struct {
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

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !BindJSON(w, r, &req) {
		return
	}
	for field, value := range map[string]string{
		"name": req.Name, "hostname": req.Hostname, "ip": req.IP, "os": req.OS,
	} {
		if strings.TrimSpace(value) == "" {
			WriteError(w, http.StatusBadRequest, "missing field: "+field)
			return
		}
	}

	ts := clock.Unix()
	agent := &store.Agent{
		ID:        "agent_" + uuid.NewString(),
		Token:     "ocm_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:      req.Name,
		Hostname:  req.Hostname,
		IP:        req.IP,
		OS:        req.OS,
		CreatedAt: ts,
		UpdatedAt: ts,
		Enabled:   true,
	}
	if err := s.store.CreateAgent(agent); err != nil {
		WriteErr(w, err)
		return
	}

	s.appendEvent(&store.Event{
		TS: ts, AgentID: &agent.ID, Level: store.LevelInfo,
		Type: store.EventRegister, Message: "agent registered: " + agent.Name,
	})
	s.hub.BroadcastEvent(EventPayload{
		TS: ts, AgentID: &agent.ID, Level: store.LevelInfo,
		EventType: store.EventRegister, Message: "agent registered: " + agent.Name,
	})
	s.hub.BroadcastSnapshot()

	WriteJSON(w, http.StatusOK, map[string]string{
		"agent_id": agent.ID,
		"token":    agent.Token,
	})
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.authAgent(w, r)
	if !ok {
		return
	}
	var req heartbeatRequest
	if !BindJSON(w, r, &req) {
		return
	}

	ts := clock.Unix()
	hb := &store.Heartbeat{
		AgentID:        agent.ID,
		TS:             ts,
		CPUPercent:     req.CPUPercent,
		MemUsedBytes:   req.MemUsedBytes,
		MemTotalBytes:  req.MemTotalBytes,
		DiskUsedBytes:  req.DiskUsedBytes,
		DiskTotalBytes: req.DiskTotalBytes,
		SwapUsedBytes:  req.SwapUsedBytes,
		SwapTotalBytes: req.SwapTotalBytes,
		UptimeSec:      req.UptimeSec,
		Load1m:         req.Load1m,
	}
	if err := s.store.AppendHeartbeat(hb); err != nil {
		WriteErr(w, err)
		return
	}
	if err := s.store.TouchAgent(agent.ID, ts); err != nil {
		WriteErr(w, err)
		return
	}
	s.metrics.HeartbeatsReceived.Inc()

	s.appendEvent(&store.Event{
		TS: ts, AgentID: &agent.ID, Level: store.LevelInfo,
		Type: store.EventHeartbeat, Message: "heartbeat received",
	})
	s.hub.BroadcastEvent(EventPayload{
		TS: ts, AgentID: &agent.ID, Level: store.LevelInfo,
		EventType: store.EventHeartbeat, Message: "heartbeat received",
	})
	s.hub.BroadcastSnapshot()

	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// authAgent resolves the bearer token to an enabled agent. On failure the
// 401 is already written.
func (s *Server) authAgent(w http.ResponseWriter, r *http.Request) (*store.Agent, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		WriteError(w, http.StatusUnauthorized, ErrUnauthorized)
		return nil, false
	}
	token := strings.TrimSpace(h[len("Bearer "):])
	if token == "" {
		WriteError(w, http.StatusUnauthorized, ErrUnauthorized)
		return nil, false
	}
	agent, err := s.store.AgentByToken(token)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, ErrUnauthorized)
		return nil, false
	}
	return agent, true
}

// appendEvent writes an event row and counts it. Write failures are logged
// rather than failing the request that produced the event.
func (s *Server) appendEvent(ev *store.Event) {
	if err := s.store.AppendEvent(ev); err != nil {
		s.logger.Error("append event failed", "type", ev.Type, "error", err)
		return
	}
	s.metrics.EventsWritten.Inc()
}
