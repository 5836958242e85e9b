// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alerting

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/config"
	"github.com/llw2011/oc-monitor/internal/notification"
	"github.com/llw2011/oc-monitor/internal/store"
)

func newTestNotifier(t *testing.T, status int) (*Notifier, *store.Store, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	e, st := newTestEngine(t)
	d := notification.NewDispatcher(&config.NotifyConfig{Enabled: true, WebhookURL: srv.URL}, nil)
	return NewNotifier(e, st, d, 300, nil), st, &hits
}

func seedOffline(t *testing.T, st *store.Store, id string, now int64) {
	t.Helper()
	addAgent(t, st, id, "node-"+id, "10.5.0."+id, now-3600)
	require.NoError(t, st.AppendHeartbeat(&store.Heartbeat{AgentID: id, TS: now - 500}))
}

func lastNotifiedAt(t *testing.T, st *store.Store, id string) *int64 {
	t.Helper()
	row, err := st.AlertStateByID(id)
	require.NoError(t, err)
	if row == nil {
		return nil
	}
	return row.LastNotifiedAt
}

func TestRunOnceDeliversAndRecordsThrottle(t *testing.T) {
	n, st, hits := newTestNotifier(t, http.StatusOK)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	seedOffline(t, st, "1", now.Unix())

	require.NoError(t, n.RunOnce())
	assert.Equal(t, 1, *hits)

	last := lastNotifiedAt(t, st, "1:offline")
	require.NotNil(t, last)
	assert.Equal(t, now.Unix(), *last)

	ev, err := st.LastEventOfType(store.EventAlertNotified)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Contains(t, ev.Message, "1:offline")

	// A second pass inside the interval delivers nothing.
	clock.SetFixed(now.Add(299 * time.Second))
	require.NoError(t, n.RunOnce())
	assert.Equal(t, 1, *hits)

	// At exactly the interval delivery resumes.
	clock.SetFixed(now.Add(300 * time.Second))
	require.NoError(t, n.RunOnce())
	assert.Equal(t, 2, *hits)
}

func TestRunOnceFailureLeavesThrottleUntouched(t *testing.T) {
	n, st, hits := newTestNotifier(t, http.StatusBadGateway)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	seedOffline(t, st, "1", now.Unix())

	require.NoError(t, n.RunOnce())
	assert.Equal(t, 1, *hits)
	assert.Nil(t, lastNotifiedAt(t, st, "1:offline"))

	ev, err := st.LastEventOfType(store.EventAlertNotifyFail)
	require.NoError(t, err)
	require.NotNil(t, ev)

	// The very next pass retries immediately.
	require.NoError(t, n.RunOnce())
	assert.Equal(t, 2, *hits)
}

func TestRunOnceSkipsNonCriticalAndNonActionable(t *testing.T) {
	n, st, hits := newTestNotifier(t, http.StatusOK)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	// Warn-only node.
	addAgent(t, st, "warm", "warm", "10.5.1.1", now.Unix())
	require.NoError(t, st.AppendHeartbeat(&store.Heartbeat{
		AgentID: "warm", TS: now.Unix(), CPUPercent: f64(99),
	}))
	// Critical but acknowledged.
	seedOffline(t, st, "2", now.Unix())
	require.NoError(t, n.engine.Ack("2:offline"))

	require.NoError(t, n.RunOnce())
	assert.Zero(t, *hits)
}
