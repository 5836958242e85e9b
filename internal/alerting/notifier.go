// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alerting

import (
	"fmt"
	"time"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/logging"
	"github.com/llw2011/oc-monitor/internal/notification"
	"github.com/llw2011/oc-monitor/internal/store"
)

// Notifier pushes critical actionable alerts to the dispatcher, throttled
// per alert id.
type Notifier struct {
	engine      *Engine
	store       *store.Store
	dispatcher  *notification.Dispatcher
	minInterval int64
	logger      *logging.Logger

	// OnAttempt, when set, observes each delivery attempt outcome
	// ("success" or "failure").
	OnAttempt func(outcome string)
}

// NewNotifier creates a notifier. minInterval is the per-alert delivery
// floor in seconds.
func NewNotifier(engine *Engine, st *store.Store, d *notification.Dispatcher, minInterval int64, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default().WithComponent("notifier")
	}
	return &Notifier{
		engine:      engine,
		store:       st,
		dispatcher:  d,
		minInterval: minInterval,
		logger:      logger,
	}
}

// RunOnce evaluates alerts and delivers every critical actionable alert
// whose last delivery is older than the minimum interval. The throttle
// timestamp advances only on successful delivery, so a failed send is
// retried on the next pass instead of waiting out the interval.
func (n *Notifier) RunOnce() error {
	now := clock.Unix()
	report, err := n.engine.Evaluate(true)
	if err != nil {
		return err
	}

	for _, a := range report.Items {
		if a.Severity != SeverityCritical || !a.Actionable {
			continue
		}
		st, err := n.store.AlertStateByID(a.ID)
		if err != nil {
			return err
		}
		if st != nil && st.LastNotifiedAt != nil && *st.LastNotifiedAt > 0 &&
			now-*st.LastNotifiedAt < n.minInterval {
			continue
		}

		msg := notification.Notification{
			Title: "OC-Monitor Critical Alert",
			Message: fmt.Sprintf("Node: %s\nType: %s\nMessage: %s\nValue/Threshold: %v / %v\nTime: %s",
				nodeLabel(a), a.Type, a.Message, a.Value, a.Threshold,
				time.Unix(now, 0).UTC().Format(time.RFC3339)),
			Level: notification.LevelFor(string(a.Severity)),
			Data:  map[string]any{"alert_id": a.ID, "agent_id": a.AgentID},
		}

		agentID := a.AgentID
		if sendErr := n.dispatcher.Send(msg); sendErr != nil {
			n.observe("failure")
			n.logger.Warn("alert delivery failed", "alert_id", a.ID, "error", sendErr)
			meta := store.JSONMeta(map[string]any{"error": sendErr.Error()})
			if err := n.store.AppendEvent(&store.Event{
				TS: now, AgentID: &agentID, Level: store.LevelWarn,
				Type:    store.EventAlertNotifyFail,
				Message: "notify failed: " + a.ID, MetaJSON: meta,
			}); err != nil {
				return err
			}
			continue
		}

		n.observe("success")
		if err := n.store.UpsertAlertState(a.ID, store.StatePatch{LastNotifiedAt: &now}); err != nil {
			return err
		}
		if err := n.store.AppendEvent(&store.Event{
			TS: now, AgentID: &agentID, Level: store.LevelWarn,
			Type:    store.EventAlertNotified,
			Message: "notified: " + a.ID,
		}); err != nil {
			return err
		}
		n.logger.Info("alert delivered", "alert_id", a.ID)
	}
	return nil
}

func (n *Notifier) observe(outcome string) {
	if n.OnAttempt != nil {
		n.OnAttempt(outcome)
	}
}

func nodeLabel(a Alert) string {
	if a.Node != "" {
		return a.Node
	}
	if a.AgentID != "" {
		return a.AgentID
	}
	return "-"
}
