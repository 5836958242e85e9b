// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon configuration from an HCL file with
// environment variable overrides for secrets and deploy-time values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/llw2011/oc-monitor/internal/errors"
	"github.com/llw2011/oc-monitor/internal/logging"
)

// Config is the full daemon configuration.
type Config struct {
	Listen string `hcl:"listen,optional"`
	DBPath string `hcl:"db_path,optional"`

	Logging   *LoggingConfig   `hcl:"logging,block"`
	Monitor   *MonitorConfig   `hcl:"monitor,block"`
	Auth      *AuthConfig      `hcl:"auth,block"`
	Notify    *NotifyConfig    `hcl:"notify,block"`
	Retention *RetentionConfig `hcl:"retention,block"`
	Providers []ProviderTarget `hcl:"provider,block"`
}

// LoggingConfig mirrors logging.Config in HCL form.
type LoggingConfig struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
	Output string `hcl:"output,optional"`
}

// MonitorConfig holds aggregation and alert thresholds.
type MonitorConfig struct {
	OfflineTimeoutSec int64   `hcl:"offline_timeout_sec,optional"`
	StaleSec          int64   `hcl:"stale_sec,optional"`
	CPUHigh           float64 `hcl:"cpu_high,optional"`
	MemHigh           float64 `hcl:"mem_high,optional"`
	DiskHigh          float64 `hcl:"disk_high,optional"`
	ProbeTimeoutSec   int64   `hcl:"probe_timeout_sec,optional"`
}

// AuthConfig holds the admin credential and dashboard token settings.
// An empty DashboardToken means every caller gets the full view; that is
// deliberate fail-open behavior for single-operator deployments.
type AuthConfig struct {
	DashboardToken string `hcl:"dashboard_token,optional"`
	AdminUser      string `hcl:"admin_user,optional"`
	AdminPass      string `hcl:"admin_pass,optional"`
	SessionSecret  string `hcl:"session_secret,optional"`
	SessionTTLSec  int64  `hcl:"session_ttl_sec,optional"`
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	Enabled          bool   `hcl:"enabled,optional"`
	MinIntervalSec   int64  `hcl:"min_interval_sec,optional"`
	TelegramBotToken string `hcl:"telegram_bot_token,optional"`
	TelegramChatID   string `hcl:"telegram_chat_id,optional"`
	WebhookURL       string `hcl:"webhook_url,optional"`
}

// RetentionConfig holds pruning horizons in days.
type RetentionConfig struct {
	EventsDays     int `hcl:"events_days,optional"`
	HeartbeatsDays int `hcl:"heartbeats_days,optional"`
}

// ProviderTarget is one named external endpoint probed for availability.
type ProviderTarget struct {
	Name string `hcl:"name,label"`
	URL  string `hcl:"url"`
}

// Load reads the config file at path, fills defaults, and applies
// environment overrides. An empty path yields a default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "parse config %s", path)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":3800"
	}
	if c.DBPath == "" {
		c.DBPath = "./monitor.db"
	}
	if c.Logging == nil {
		def := logging.DefaultConfig()
		c.Logging = &LoggingConfig{Level: def.Level, Format: def.Format, Output: def.Output}
	}
	if c.Monitor == nil {
		c.Monitor = &MonitorConfig{}
	}
	m := c.Monitor
	if m.OfflineTimeoutSec == 0 {
		m.OfflineTimeoutSec = 45
	}
	if m.StaleSec == 0 {
		m.StaleSec = m.OfflineTimeoutSec + 15
		if m.StaleSec < 60 {
			m.StaleSec = 60
		}
	}
	if m.CPUHigh == 0 {
		m.CPUHigh = 90
	}
	if m.MemHigh == 0 {
		m.MemHigh = 90
	}
	if m.DiskHigh == 0 {
		m.DiskHigh = 90
	}
	if m.ProbeTimeoutSec == 0 {
		m.ProbeTimeoutSec = 2
	}
	if c.Auth == nil {
		c.Auth = &AuthConfig{}
	}
	if c.Auth.AdminUser == "" {
		c.Auth.AdminUser = "admin"
	}
	if c.Auth.SessionTTLSec == 0 {
		c.Auth.SessionTTLSec = 86400
	}
	if c.Notify == nil {
		c.Notify = &NotifyConfig{}
	}
	if c.Notify.MinIntervalSec == 0 {
		c.Notify.MinIntervalSec = 300
	}
	if c.Retention == nil {
		c.Retention = &RetentionConfig{}
	}
	if c.Retention.EventsDays == 0 {
		c.Retention.EventsDays = 30
	}
	if c.Retention.HeartbeatsDays == 0 {
		c.Retention.HeartbeatsDays = 14
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OCM_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("OCM_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("OCM_DASHBOARD_TOKEN"); v != "" {
		c.Auth.DashboardToken = v
	}
	if v := os.Getenv("OCM_ADMIN_USER"); v != "" {
		c.Auth.AdminUser = v
	}
	if v := os.Getenv("OCM_ADMIN_PASS"); v != "" {
		c.Auth.AdminPass = v
	}
	if v := os.Getenv("OCM_SESSION_SECRET"); v != "" {
		c.Auth.SessionSecret = v
	}
	if v := os.Getenv("OCM_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramBotToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("OCM_TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.TelegramChatID = strings.TrimSpace(v)
	}
	if v := os.Getenv("OCM_NOTIFY_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("OCM_NOTIFY_ENABLED"); v != "" {
		c.Notify.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OCM_PROVIDER_TARGETS"); strings.TrimSpace(v) != "" {
		if targets := parseProviderTargets(v); len(targets) > 0 {
			c.Providers = targets
		}
	}
	// The admin password doubles as the dashboard token fallback so a
	// minimal deployment needs only one secret.
	if c.Auth.AdminPass == "" {
		c.Auth.AdminPass = c.Auth.DashboardToken
	}
	if c.Auth.SessionSecret == "" {
		c.Auth.SessionSecret = randomSecret()
	}
}

// parseProviderTargets accepts either a JSON object {"name":"url"} or the
// compact "name=url;name2=url2" form.
func parseProviderTargets(raw string) []ProviderTarget {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var obj map[string]string
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil
		}
		// JSON objects are unordered; sort names for a stable probe order.
		names := make([]string, 0, len(obj))
		for name, url := range obj {
			if strings.TrimSpace(url) != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		out := make([]ProviderTarget, 0, len(names))
		for _, name := range names {
			out = append(out, ProviderTarget{Name: name, URL: strings.TrimSpace(obj[name])})
		}
		return out
	}

	var out []ProviderTarget
	for _, item := range strings.Split(raw, ";") {
		i := strings.Index(item, "=")
		if i <= 0 {
			continue
		}
		name := strings.TrimSpace(item[:i])
		url := strings.TrimSpace(item[i+1:])
		if name != "" && url != "" {
			out = append(out, ProviderTarget{Name: name, URL: url})
		}
	}
	return out
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Monitor.OfflineTimeoutSec <= 0 {
		return errors.New(errors.KindValidation, "monitor.offline_timeout_sec must be positive")
	}
	if c.Monitor.StaleSec < c.Monitor.OfflineTimeoutSec {
		return errors.New(errors.KindValidation, "monitor.stale_sec must not be below the offline timeout")
	}
	if c.Retention.EventsDays < 1 || c.Retention.HeartbeatsDays < 1 {
		return errors.New(errors.KindValidation, "retention horizons must be at least 1 day")
	}
	if c.Notify.Enabled && c.Notify.MinIntervalSec <= 0 {
		return errors.New(errors.KindValidation, "notify.min_interval_sec must be positive")
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if p.URL == "" {
			return errors.Errorf(errors.KindValidation, "provider %q has no url", p.Name)
		}
		if seen[p.Name] {
			return errors.Errorf(errors.KindValidation, "duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// LoggingSettings converts the HCL block into the logging package config.
func (c *Config) LoggingSettings() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

func randomSecret() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Extremely unlikely; fall back to a process-unique value.
		return "ocm-" + strconv.Itoa(os.Getpid())
	}
	return hex.EncodeToString(b)
}
