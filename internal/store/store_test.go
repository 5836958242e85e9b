// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llw2011/oc-monitor/internal/clock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	return s
}

func ptrBool(v bool) *bool       { return &v }
func ptrInt64(v int64) *int64    { return &v }
func ptrString(v string) *string { return &v }

func TestAgentTokenLookup(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Unix()

	require.NoError(t, s.CreateAgent(&Agent{
		ID: "agent_1", Token: "tok_1", Name: "web-1",
		CreatedAt: now, UpdatedAt: now, Enabled: true,
	}))
	require.NoError(t, s.CreateAgent(&Agent{
		ID: "agent_2", Token: "tok_2", Name: "web-2",
		CreatedAt: now, UpdatedAt: now, Enabled: false,
	}))

	a, err := s.AgentByToken("tok_1")
	require.NoError(t, err)
	assert.Equal(t, "agent_1", a.ID)

	// Disabled agents do not authenticate.
	_, err = s.AgentByToken("tok_2")
	assert.Error(t, err)

	_, err = s.AgentByToken("nope")
	assert.Error(t, err)
}

func TestEnabledAgentsExcludesDisabled(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Unix()
	require.NoError(t, s.CreateAgent(&Agent{ID: "a", Token: "t1", Name: "a", CreatedAt: now, UpdatedAt: now, Enabled: true}))
	require.NoError(t, s.CreateAgent(&Agent{ID: "b", Token: "t2", Name: "b", CreatedAt: now, UpdatedAt: now, Enabled: false}))

	agents, err := s.EnabledAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a", agents[0].ID)
}

func TestAgentTimestampsKeepGivenValues(t *testing.T) {
	s := newTestStore(t)

	// Timestamps far from wall clock: any auto-time hook would replace them.
	require.NoError(t, s.CreateAgent(&Agent{
		ID: "a", Token: "t", Name: "a",
		CreatedAt: 1000, UpdatedAt: 1000, Enabled: true,
	}))
	require.NoError(t, s.TouchAgent("a", 2000))

	a, err := s.AgentByToken("t")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.CreatedAt)
	assert.Equal(t, int64(2000), a.UpdatedAt)
}

func TestLatestHeartbeats(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Unix()

	for i := int64(0); i < 3; i++ {
		cpu := float64(10 * i)
		require.NoError(t, s.AppendHeartbeat(&Heartbeat{AgentID: "a", TS: base + i, CPUPercent: &cpu}))
	}
	require.NoError(t, s.AppendHeartbeat(&Heartbeat{AgentID: "b", TS: base}))

	latest, err := s.LatestHeartbeats()
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, base+2, latest["a"].TS)
	require.NotNil(t, latest["a"].CPUPercent)
	assert.Equal(t, float64(20), *latest["a"].CPUPercent)
	assert.Equal(t, base, latest["b"].TS)
}

func TestEventPagination(t *testing.T) {
	s := newTestStore(t)
	base := int64(1_000_000)

	// 25 matching rows plus noise that the filter must drop.
	for i := 0; i < 25; i++ {
		require.NoError(t, s.AppendEvent(&Event{
			TS: base + int64(i), Level: LevelInfo, Type: EventHeartbeat,
			Message: fmt.Sprintf("hb %d", i), AgentID: ptrString("a"),
		}))
	}
	require.NoError(t, s.AppendEvent(&Event{TS: base, Level: LevelWarn, Type: EventAlertNotifyFail, Message: "noise"}))

	items, total, err := s.Events(EventFilter{Page: 2, PageSize: 10, Type: EventHeartbeat})
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	require.Len(t, items, 10)
	// Newest first: page 2 of 25 rows holds rows 11..20, i.e. ts base+14..base+5.
	assert.Equal(t, base+14, items[0].TS)
	assert.Equal(t, base+5, items[9].TS)
}

func TestAuditEventsOnlyLoginLogout(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendEvent(&Event{TS: 1, Level: LevelInfo, Type: EventAdminLogin, Message: "in"}))
	require.NoError(t, s.AppendEvent(&Event{TS: 2, Level: LevelInfo, Type: EventAdminLogout, Message: "out"}))
	require.NoError(t, s.AppendEvent(&Event{TS: 3, Level: LevelInfo, Type: EventHeartbeat, Message: "hb"}))

	items, total, err := s.AuditEvents(1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	assert.Equal(t, EventAdminLogout, items[0].Type)
}

func TestUpsertAlertStatePartial(t *testing.T) {
	s := newTestStore(t)
	clock.SetFixed(time.Unix(5000, 0))
	defer clock.Reset()

	// First touch creates the row lazily.
	require.NoError(t, s.UpsertAlertState("agent_1:cpu_high", StatePatch{
		Acked: ptrBool(true), AckedAt: ptrInt64(5000), AckedBy: ptrString("admin"),
	}))

	// Silence twice: later call wins, ack fields untouched.
	require.NoError(t, s.UpsertAlertState("agent_1:cpu_high", StatePatch{SilenceUntil: ptrInt64(6000)}))
	require.NoError(t, s.UpsertAlertState("agent_1:cpu_high", StatePatch{SilenceUntil: ptrInt64(9000)}))

	row, err := s.AlertStateByID("agent_1:cpu_high")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.Acked)
	assert.Equal(t, "admin", *row.AckedBy)
	assert.Equal(t, int64(9000), *row.SilenceUntil)
	assert.Nil(t, row.LastNotifiedAt)
	assert.Equal(t, int64(5000), row.UpdatedAt)
}

func TestUpsertAlertStateRejectsEmptyID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.UpsertAlertState("  ", StatePatch{Acked: ptrBool(true)}))
}

func TestRetentionDeletes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendEvent(&Event{TS: 100, Level: LevelInfo, Type: EventHeartbeat, Message: "old"}))
	require.NoError(t, s.AppendEvent(&Event{TS: 200, Level: LevelInfo, Type: EventHeartbeat, Message: "new"}))
	require.NoError(t, s.AppendHeartbeat(&Heartbeat{AgentID: "a", TS: 100}))
	require.NoError(t, s.AppendHeartbeat(&Heartbeat{AgentID: "a", TS: 200}))

	ne, err := s.DeleteEventsBefore(150)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ne)

	nh, err := s.DeleteHeartbeatsBefore(150)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nh)

	events, heartbeats, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), events)
	assert.Equal(t, int64(1), heartbeats)
}
