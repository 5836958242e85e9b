// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/store"
)

func newTestManager(t *testing.T, eventsDays, hbDays int) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	return New(st, eventsDays, hbDays, nil), st
}

func TestRunPrunesPastHorizons(t *testing.T) {
	m, st := newTestManager(t, 30, 14)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	require.NoError(t, st.CreateAgent(&store.Agent{
		ID: "a1", Token: "t1", Name: "a1", CreatedAt: now.Unix(), UpdatedAt: now.Unix(), Enabled: true,
	}))

	old := now.Unix() - 31*86400
	fresh := now.Unix() - 86400
	require.NoError(t, st.AppendEvent(&store.Event{TS: old, Level: store.LevelInfo, Type: store.EventHeartbeat, Message: "old"}))
	require.NoError(t, st.AppendEvent(&store.Event{TS: fresh, Level: store.LevelInfo, Type: store.EventHeartbeat, Message: "fresh"}))
	require.NoError(t, st.AppendHeartbeat(&store.Heartbeat{AgentID: "a1", TS: now.Unix() - 15*86400}))
	require.NoError(t, st.AppendHeartbeat(&store.Heartbeat{AgentID: "a1", TS: now.Unix() - 86400}))

	res, err := m.Run()
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedEvents)
	assert.Equal(t, int64(1), res.DeletedHeartbeats)

	ev, err := st.LastEventOfType(store.EventRetentionCleanup)
	require.NoError(t, err)
	require.NotNil(t, ev)

	events, heartbeats, err := st.Counts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), heartbeats)
	// The fresh event plus the cleanup summary itself.
	assert.Equal(t, int64(2), events)
}

func TestRunIsSilentWhenNothingDeleted(t *testing.T) {
	m, st := newTestManager(t, 30, 14)
	now := time.Now().Truncate(time.Second)
	clock.SetFixed(now)
	defer clock.Reset()

	res, err := m.Run()
	require.NoError(t, err)
	assert.Zero(t, res.DeletedEvents)
	assert.Zero(t, res.DeletedHeartbeats)

	ev, err := st.LastEventOfType(store.EventRetentionCleanup)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestHorizonsClampToOneDay(t *testing.T) {
	m, _ := newTestManager(t, 0, -3)
	ev, hb := m.Horizons()
	assert.Equal(t, 1, ev)
	assert.Equal(t, 1, hb)
}
