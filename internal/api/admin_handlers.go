// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/csv"
	"net"
	"net/http"
	"strconv"

	"github.com/llw2011/oc-monitor/internal/auth"
	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/store"
)

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !BindJSON(w, r, &req) {
		return
	}

	token, err := s.authority.Login(req.Username, req.Password)
	if err != nil {
		WriteErr(w, err)
		return
	}

	user := s.authority.AdminUser()
	s.appendEvent(&store.Event{
		TS: clock.Unix(), Level: store.LevelInfo, Type: store.EventAdminLogin,
		Message: "admin login: " + user, MetaJSON: store.JSONMeta(clientInfo(r)),
	})

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.authority.TTL().Seconds()),
	})
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	s.appendEvent(&store.Event{
		TS: clock.Unix(), Level: store.LevelInfo, Type: store.EventAdminLogout,
		Message: "admin logout", MetaJSON: store.JSONMeta(clientInfo(r)),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.viewer.IsAdmin(r)
	var userField *string
	if ok {
		userField = &user
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok": true, "logged_in": ok, "user": userField,
	})
}

func (s *Server) handleNotifyStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"enabled":          s.cfg.Notify.Enabled,
		"configured":       s.dispatcher.Configured(),
		"min_interval_sec": s.cfg.Notify.MinIntervalSec,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page")
	pageSize := queryInt(r, "pageSize")
	items, total, err := s.store.AuditEvents(page, pageSize)
	if err != nil {
		WriteErr(w, err)
		return
	}
	norm := store.EventFilter{Page: page, PageSize: pageSize}
	page, pageSize = norm.Normalized()
	WriteJSON(w, http.StatusOK, map[string]any{
		"page":       page,
		"pageSize":   pageSize,
		"total":      total,
		"totalPages": totalPages(total, pageSize),
		"items":      items,
	})
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.AuditExport(0)
	if err != nil {
		WriteErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="oc-monitor-audit.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ts", "level", "type", "message", "meta_json"})
	for _, ev := range rows {
		meta := ""
		if ev.MetaJSON != nil {
			meta = *ev.MetaJSON
		}
		_ = cw.Write([]string{
			strconv.FormatInt(ev.TS, 10), ev.Level, ev.Type, ev.Message, meta,
		})
	}
	cw.Flush()
}

func (s *Server) handleRetentionStatus(w http.ResponseWriter, r *http.Request) {
	events, heartbeats, err := s.store.Counts()
	if err != nil {
		WriteErr(w, err)
		return
	}
	eventsDays, heartbeatsDays := s.retention.Horizons()
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":                        true,
		"retention_events_days":     eventsDays,
		"retention_heartbeats_days": heartbeatsDays,
		"counts": map[string]int64{
			"events":     events,
			"heartbeats": heartbeats,
		},
	})
}

func (s *Server) handleRetentionRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.retention.Run()
	if err != nil {
		WriteErr(w, err)
		return
	}
	s.metrics.RetentionDeleted.WithLabelValues("events").Add(float64(result.DeletedEvents))
	s.metrics.RetentionDeleted.WithLabelValues("heartbeats").Add(float64(result.DeletedHeartbeats))
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

// clientInfo captures the caller's address and agent string for audit rows.
func clientInfo(r *http.Request) map[string]string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return map[string]string{"ip": ip, "user_agent": r.UserAgent()}
}
