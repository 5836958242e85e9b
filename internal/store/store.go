// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is the telemetry store: a sqlite-backed append-only log of
// heartbeat samples and events plus the mutable agent registry and per-alert
// state. It is the single durable shared resource in the daemon.
package store

import (
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/errors"
)

// Store wraps the database handle. Every mutation is a single atomic
// append or upsert, so there is no cross-row transaction surface.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the sqlite database at path. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "open database %s", path)
	}
	if err := db.AutoMigrate(&Agent{}, &Heartbeat{}, &Event{}, &AlertState{}); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "migrate schema")
	}
	return &Store{db: db}, nil
}

// ---- agents ----

// CreateAgent inserts a new agent row.
func (s *Store) CreateAgent(a *Agent) error {
	if err := s.db.Create(a).Error; err != nil {
		return errors.Wrap(err, errors.KindInternal, "create agent")
	}
	return nil
}

// AgentByToken resolves a bearer token to an enabled agent.
func (s *Store) AgentByToken(token string) (*Agent, error) {
	var a Agent
	err := s.db.Where("token = ? AND enabled = ?", token, true).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.New(errors.KindPermission, "unknown agent token")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "lookup agent by token")
	}
	return &a, nil
}

// EnabledAgents returns all enabled agents in registration order.
func (s *Store) EnabledAgents() ([]Agent, error) {
	var agents []Agent
	if err := s.db.Where("enabled = ?", true).Order("created_at ASC, id ASC").Find(&agents).Error; err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "list agents")
	}
	return agents, nil
}

// TouchAgent bumps an agent's updated_at to ts.
func (s *Store) TouchAgent(id string, ts int64) error {
	err := s.db.Model(&Agent{}).Where("id = ?", id).Update("updated_at", ts).Error
	return errors.Wrap(err, errors.KindInternal, "touch agent")
}

// ---- heartbeats ----

// AppendHeartbeat appends one sample.
func (s *Store) AppendHeartbeat(hb *Heartbeat) error {
	if err := s.db.Create(hb).Error; err != nil {
		return errors.Wrap(err, errors.KindInternal, "append heartbeat")
	}
	return nil
}

// LatestHeartbeats returns the most recent sample per agent.
func (s *Store) LatestHeartbeats() (map[string]Heartbeat, error) {
	var rows []Heartbeat
	err := s.db.Raw(`
		SELECT h.* FROM heartbeats h
		INNER JOIN (
			SELECT agent_id, MAX(ts) AS max_ts FROM heartbeats GROUP BY agent_id
		) m ON h.agent_id = m.agent_id AND h.ts = m.max_ts
		GROUP BY h.agent_id`).Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "query latest heartbeats")
	}
	out := make(map[string]Heartbeat, len(rows))
	for _, hb := range rows {
		out[hb.AgentID] = hb
	}
	return out, nil
}

// ---- events ----

// AppendEvent appends one event row.
func (s *Store) AppendEvent(ev *Event) error {
	if ev.TS == 0 {
		ev.TS = clock.Unix()
	}
	if err := s.db.Create(ev).Error; err != nil {
		return errors.Wrap(err, errors.KindInternal, "append event")
	}
	return nil
}

// EventFilter narrows and paginates an event query. Zero page values are
// normalized to page 1 / size 50; size is capped at 200.
type EventFilter struct {
	Page     int
	PageSize int
	Level    string
	Type     string
	AgentID  string
}

func (f *EventFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 50
	}
	if f.PageSize > 200 {
		f.PageSize = 200
	}
}

// Normalized returns the page and page size a query with this filter
// actually uses.
func (f EventFilter) Normalized() (page, pageSize int) {
	f.normalize()
	return f.Page, f.PageSize
}

// Events returns a page of events, newest first, plus the unpaged total.
func (s *Store) Events(filter EventFilter) ([]Event, int64, error) {
	filter.normalize()

	q := s.db.Model(&Event{})
	if filter.Level != "" {
		q = q.Where("level = ?", filter.Level)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.KindInternal, "count events")
	}

	var items []Event
	err := q.Order("ts DESC, id DESC").
		Limit(filter.PageSize).
		Offset((filter.Page - 1) * filter.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.KindInternal, "query events")
	}
	return items, total, nil
}

var auditTypes = []string{EventAdminLogin, EventAdminLogout}

// AuditEvents returns a page of admin login/logout events, newest first.
func (s *Store) AuditEvents(page, pageSize int) ([]Event, int64, error) {
	f := EventFilter{Page: page, PageSize: pageSize}
	f.normalize()

	q := s.db.Model(&Event{}).Where("type IN ?", auditTypes)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.KindInternal, "count audit events")
	}
	var items []Event
	err := q.Order("ts DESC, id DESC").Limit(f.PageSize).Offset((f.Page - 1) * f.PageSize).Find(&items).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.KindInternal, "query audit events")
	}
	return items, total, nil
}

// AuditExport returns up to limit audit rows for CSV export, newest first.
func (s *Store) AuditExport(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	var items []Event
	err := s.db.Where("type IN ?", auditTypes).Order("ts DESC, id DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "export audit events")
	}
	return items, nil
}

// LastEventOfType returns the newest event of the given type, or nil.
func (s *Store) LastEventOfType(eventType string) (*Event, error) {
	var ev Event
	err := s.db.Where("type = ?", eventType).Order("ts DESC, id DESC").First(&ev).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "query last event")
	}
	return &ev, nil
}

// ---- alert state ----

// AlertStates returns all persisted alert state rows keyed by alert id.
func (s *Store) AlertStates() (map[string]AlertState, error) {
	var rows []AlertState
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "query alert state")
	}
	out := make(map[string]AlertState, len(rows))
	for _, r := range rows {
		out[r.AlertID] = r
	}
	return out, nil
}

// AlertStateByID returns one alert state row, or nil when none exists.
func (s *Store) AlertStateByID(alertID string) (*AlertState, error) {
	var row AlertState
	err := s.db.Where("alert_id = ?", alertID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "query alert state")
	}
	return &row, nil
}

// UpsertAlertState applies a partial update to the alert state row,
// creating it with defaults first if missing. Fields outside the patch
// keep their previous values: silencing must not clear an ack and the
// notifier's throttle timestamp must not touch either.
func (s *Store) UpsertAlertState(alertID string, patch StatePatch) error {
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return errors.New(errors.KindValidation, "empty alert id")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row AlertState
		err := tx.Where("alert_id = ?", alertID).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			row = AlertState{AlertID: alertID}
		} else if err != nil {
			return errors.Wrap(err, errors.KindInternal, "read alert state")
		}

		if patch.Acked != nil {
			row.Acked = *patch.Acked
		}
		if patch.AckedAt != nil {
			row.AckedAt = patch.AckedAt
		}
		if patch.AckedBy != nil {
			row.AckedBy = patch.AckedBy
		}
		if patch.SilenceUntil != nil {
			row.SilenceUntil = patch.SilenceUntil
		}
		if patch.LastNotifiedAt != nil {
			row.LastNotifiedAt = patch.LastNotifiedAt
		}
		row.UpdatedAt = clock.Unix()

		if err := tx.Save(&row).Error; err != nil {
			return errors.Wrap(err, errors.KindInternal, "write alert state")
		}
		return nil
	})
}

// ---- retention / stats ----

// DeleteEventsBefore deletes events older than ts, returning the count.
func (s *Store) DeleteEventsBefore(ts int64) (int64, error) {
	res := s.db.Where("ts < ?", ts).Delete(&Event{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, errors.KindInternal, "delete events")
	}
	return res.RowsAffected, nil
}

// DeleteHeartbeatsBefore deletes heartbeats older than ts, returning the count.
func (s *Store) DeleteHeartbeatsBefore(ts int64) (int64, error) {
	res := s.db.Where("ts < ?", ts).Delete(&Heartbeat{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, errors.KindInternal, "delete heartbeats")
	}
	return res.RowsAffected, nil
}

// Counts returns the current event and heartbeat row counts.
func (s *Store) Counts() (events int64, heartbeats int64, err error) {
	if err := s.db.Model(&Event{}).Count(&events).Error; err != nil {
		return 0, 0, errors.Wrap(err, errors.KindInternal, "count events")
	}
	if err := s.db.Model(&Heartbeat{}).Count(&heartbeats).Error; err != nil {
		return 0, 0, errors.Wrap(err, errors.KindInternal, "count heartbeats")
	}
	return events, heartbeats, nil
}
