// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scheduler runs the daemon's periodic background tasks and keeps
// one misbehaving task from taking the rest down.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/llw2011/oc-monitor/internal/logging"
)

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a set of ticker loops. Each task runs on its own goroutine;
// a panic inside a tick is recovered and counted, never propagated.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []Task
	logger *logging.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	panics map[string]int
}

// New creates an empty scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default().WithComponent("scheduler")
	}
	return &Scheduler{logger: logger, panics: make(map[string]int)}
}

// Add registers a task. Tasks added after Start are ignored.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.tasks = append(s.tasks, Task{Name: name, Interval: interval, Run: run})
}

// Start launches every registered task loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

// Stop cancels all task loops and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// PanicCount returns how many ticks of the named task have panicked.
func (s *Scheduler) PanicCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panics[name]
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.panics[t.Name]++
			count := s.panics[t.Name]
			s.mu.Unlock()
			s.logger.Error("task panicked",
				"task", t.Name,
				"panic", fmt.Sprint(r),
				"total_panics", count)
		}
	}()

	if err := t.Run(ctx); err != nil {
		s.logger.Warn("task failed", "task", t.Name, "error", err)
	}
}
