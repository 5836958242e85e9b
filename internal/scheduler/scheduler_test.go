// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTasksRunOnTheirIntervals(t *testing.T) {
	s := New(nil)
	var runs atomic.Int64
	s.Add("counter", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int64(3))
}

func TestPanicDoesNotKillOtherTasks(t *testing.T) {
	s := New(nil)
	var healthy atomic.Int64
	s.Add("bomb", 10*time.Millisecond, func(ctx context.Context) error {
		panic("boom")
	})
	s.Add("steady", 10*time.Millisecond, func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	})

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, healthy.Load(), int64(3))
	assert.GreaterOrEqual(t, s.PanicCount("bomb"), 3)
	assert.Zero(t, s.PanicCount("steady"))
}

func TestStopWaitsAndAddAfterStartIsIgnored(t *testing.T) {
	s := New(nil)
	var runs atomic.Int64
	s.Add("tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background())
	s.Add("late", time.Millisecond, func(ctx context.Context) error {
		t.Error("late task must not run")
		return nil
	})

	time.Sleep(30 * time.Millisecond)
	s.Stop()
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no ticks after Stop returns")
}
