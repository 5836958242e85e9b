// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alerting

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarn     Severity = "warn"
)

// Alert types. The alert id is "<agent_id>:<type>", so at most one alert of
// each type exists per node and ack/silence state survives recomputation.
const (
	TypeOffline  = "offline"
	TypeStale    = "stale"
	TypeCPUHigh  = "cpu_high"
	TypeMemHigh  = "mem_high"
	TypeDiskHigh = "disk_high"
)

// Alert is one active condition on a node, enriched with its persisted
// acknowledgement and silence state.
type Alert struct {
	ID           string   `json:"id"`
	TS           int64    `json:"ts"`
	Severity     Severity `json:"severity"`
	Type         string   `json:"type"`
	AgentID      string   `json:"agent_id"`
	Node         string   `json:"node"`
	Message      string   `json:"message"`
	Value        float64  `json:"value"`
	Threshold    float64  `json:"threshold"`
	Acked        bool     `json:"acked"`
	AckedAt      *int64   `json:"acked_at"`
	AckedBy      *string  `json:"acked_by"`
	SilenceUntil *int64   `json:"silence_until"`
	Silenced     bool     `json:"silenced"`
	Actionable   bool     `json:"actionable"`
}

// Thresholds echoes the evaluation limits so dashboards can label alerts
// without a second config round trip.
type Thresholds struct {
	CPUHigh    float64 `json:"cpu_high"`
	MemHigh    float64 `json:"mem_high"`
	DiskHigh   float64 `json:"disk_high"`
	StaleSec   int64   `json:"stale_sec"`
	OfflineSec int64   `json:"offline_sec"`
}

// Report is the full evaluation result for one snapshot.
type Report struct {
	TS                 int64      `json:"ts"`
	Masked             bool       `json:"masked"`
	Total              int        `json:"total"`
	Critical           int        `json:"critical"`
	Warn               int        `json:"warn"`
	ActionableCritical int        `json:"actionable_critical"`
	Thresholds         Thresholds `json:"thresholds"`
	Items              []Alert    `json:"items"`
}
