// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package notification delivers critical-alert messages to external channels.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/llw2011/oc-monitor/internal/config"
	"github.com/llw2011/oc-monitor/internal/logging"
)

// Notification is one outbound message.
type Notification struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dispatcher fans a notification out to every configured channel. Delivery
// is best effort per channel; Send reports an error only when no channel
// accepted the message, which is what the notifier's retry logic keys on.
type Dispatcher struct {
	mu     sync.RWMutex
	config *config.NotifyConfig
	logger *logging.Logger

	httpClient *http.Client

	// Telegram API base, overridable in tests.
	telegramBase string
}

// NewDispatcher creates a dispatcher for the given notify settings.
func NewDispatcher(cfg *config.NotifyConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default().WithComponent("notification")
	}
	return &Dispatcher{
		config:       cfg,
		logger:       logger,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		telegramBase: "https://api.telegram.org",
	}
}

// UpdateConfig swaps the notify settings.
func (d *Dispatcher) UpdateConfig(cfg *config.NotifyConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
}

// Configured reports whether at least one channel can deliver.
func (d *Dispatcher) Configured() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg := d.config
	if cfg == nil {
		return false
	}
	return (cfg.TelegramBotToken != "" && cfg.TelegramChatID != "") || cfg.WebhookURL != ""
}

// Send delivers n to all configured channels and returns an error when every
// channel failed (or none was configured).
func (d *Dispatcher) Send(n Notification) error {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	if cfg == nil || !cfg.Enabled {
		return fmt.Errorf("notifications disabled")
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	attempted := 0
	delivered := 0
	var lastErr error

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		attempted++
		if err := d.sendTelegram(cfg, n); err != nil {
			lastErr = err
			d.logger.Error("telegram send failed", "title", n.Title, "error", err)
		} else {
			delivered++
		}
	}
	if cfg.WebhookURL != "" {
		attempted++
		if err := d.sendWebhook(cfg.WebhookURL, n); err != nil {
			lastErr = err
			d.logger.Error("webhook send failed", "title", n.Title, "error", err)
		} else {
			delivered++
		}
	}

	if attempted == 0 {
		return fmt.Errorf("no notification channel configured")
	}
	if delivered == 0 {
		return lastErr
	}
	return nil
}

func (d *Dispatcher) sendTelegram(cfg *config.NotifyConfig, n Notification) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", d.telegramBase, cfg.TelegramBotToken)
	text := n.Title
	if n.Message != "" {
		text += "\n" + n.Message
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":                  cfg.TelegramChatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	return d.post(url, body)
}

func (d *Dispatcher) sendWebhook(url string, n Notification) error {
	body, err := json.Marshal(map[string]any{
		"title":   n.Title,
		"text":    fmt.Sprintf("*%s*\n%s\n_Level: %s_", n.Title, n.Message, n.Level),
		"level":   n.Level,
		"ts":      n.Timestamp.Unix(),
		"data":    n.Data,
		"message": n.Message,
	})
	if err != nil {
		return err
	}
	return d.post(url, body)
}

func (d *Dispatcher) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delivery failed with status %d", resp.StatusCode)
	}
	return nil
}

// LevelFor maps an alert severity string onto a notification level.
func LevelFor(severity string) string {
	if strings.EqualFold(severity, "critical") {
		return "critical"
	}
	return "warning"
}
