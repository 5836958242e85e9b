// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import "encoding/json"

// All timestamps are unix seconds. The wire format and the schema agree on
// this so rows round-trip to API payloads without conversion.

// Agent is a registered reporting source. Agents are never deleted, only
// disabled, so heartbeat history stays attributable.
type Agent struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	Token     string `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Name      string `gorm:"size:255;not null" json:"name"`
	Hostname  string `gorm:"size:255" json:"hostname"`
	IP        string `gorm:"size:64" json:"ip"`
	OS        string `gorm:"size:128" json:"os"`
	// Timestamps come from the clock package, not gorm's auto-time hooks,
	// and Enabled carries no column default: a false value must survive
	// the insert rather than be dropped as a zero value.
	CreatedAt int64 `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt int64 `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
	Enabled   bool  `gorm:"not null" json:"enabled"`
}

func (Agent) TableName() string { return "agents" }

// Heartbeat is one immutable metrics sample. Metric fields are pointers:
// agents report what they can, and absent is distinct from zero.
type Heartbeat struct {
	ID             uint64   `gorm:"primaryKey" json:"-"`
	AgentID        string   `gorm:"size:64;not null;index:idx_heartbeats_agent_ts,priority:1" json:"agent_id"`
	TS             int64    `gorm:"not null;index:idx_heartbeats_agent_ts,priority:2,sort:desc" json:"ts"`
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

func (Heartbeat) TableName() string { return "heartbeats" }

// Event levels.
const (
	LevelInfo = "info"
	LevelWarn = "warn"
)

// Event types written by the daemon. The audit endpoints filter on the
// admin login/logout pair.
const (
	EventRegister         = "register"
	EventHeartbeat        = "heartbeat"
	EventAdminLogin       = "admin_login"
	EventAdminLogout      = "admin_logout"
	EventAlertAck         = "alert_ack"
	EventAlertSilence     = "alert_silence"
	EventAlertNotified    = "alert_notified"
	EventAlertNotifyFail  = "alert_notify_failed"
	EventRetentionCleanup = "retention_cleanup"
)

// Event is one append-only audit/log row.
type Event struct {
	ID       uint64  `gorm:"primaryKey" json:"id"`
	TS       int64   `gorm:"not null;index:idx_events_ts,sort:desc" json:"ts"`
	AgentID  *string `gorm:"size:64;index:idx_events_agent" json:"agent_id"`
	Level    string  `gorm:"size:16;not null" json:"level"`
	Type     string  `gorm:"size:64;not null;index" json:"type"`
	Message  string  `gorm:"type:text;not null" json:"message"`
	MetaJSON *string `gorm:"type:text" json:"meta_json"`
}

func (Event) TableName() string { return "events" }

// AlertState is the persisted acknowledgement/silence/notify state for one
// deterministic alert id ("<agent>:<type>"). Rows are created lazily on the
// first ack/silence/notify action and are never pruned: the underlying
// condition comes and goes, the operator's decision about it should not.
type AlertState struct {
	AlertID        string  `gorm:"primaryKey;size:128" json:"alert_id"`
	Acked          bool    `gorm:"not null;default:false" json:"acked"`
	AckedAt        *int64  `json:"acked_at"`
	AckedBy        *string `gorm:"size:128" json:"acked_by"`
	SilenceUntil   *int64  `json:"silence_until"`
	LastNotifiedAt *int64  `json:"last_notified_at"`
	UpdatedAt      int64   `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (AlertState) TableName() string { return "alert_state" }

// StatePatch is a partial update to an AlertState row. Nil fields are left
// untouched; this is what makes ack and silence independent of each other.
type StatePatch struct {
	Acked          *bool
	AckedAt        *int64
	AckedBy        *string
	SilenceUntil   *int64
	LastNotifiedAt *int64
}

// JSONMeta marshals v for an Event's MetaJSON column. Marshal failures
// produce a nil column instead of a write error.
func JSONMeta(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
