// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clock provides the process-wide time source. Tests pin it to a
// fixed instant so threshold and expiry boundaries can be asserted exactly.
package clock

import (
	"sync"
	"time"
)

var (
	mu    sync.RWMutex
	fixed *time.Time
)

// Now returns the current time, or the pinned test time if one is set.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	if fixed != nil {
		return *fixed
	}
	return time.Now()
}

// Unix returns Now() as unix seconds.
func Unix() int64 {
	return Now().Unix()
}

// SetFixed pins the clock to t until Reset is called.
func SetFixed(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	fixed = &t
}

// Reset restores the real time source.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	fixed = nil
}
