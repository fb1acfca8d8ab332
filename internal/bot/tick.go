package bot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TickManager runs named periodic callbacks, each on its own interval.
// A callback is never invoked concurrently with itself.
//
// Invariant: every callback is invoked at most once per its interval.
type TickManager struct {
	mu    sync.Mutex
	ticks map[string]tickEntry
	wg    sync.WaitGroup
}

type tickEntry struct {
	interval time.Duration
	fn       func(context.Context)
}

// NewTickManager returns an empty manager.
func NewTickManager() *TickManager {
	return &TickManager{ticks: make(map[string]tickEntry)}
}

// Register adds or replaces the callback for name. It must be called before Start.
//
// Precondition: interval must be > 0; fn must be non-nil.
func (m *TickManager) Register(name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		panic("bot.TickManager.Register: interval must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[name] = tickEntry{interval: interval, fn: fn}
}

// Names returns the registered tick names in order.
func (m *TickManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ticks))
	for name := range m.ticks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start launches one loop per registered tick. Loops stop when ctx is cancelled.
func (m *TickManager) Start(ctx context.Context) {
	m.mu.Lock()
	entries := make([]tickEntry, 0, len(m.ticks))
	for _, e := range m.ticks {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(e.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					e.fn(ctx)
				}
			}
		}()
	}
}

// Wait blocks until every loop started by Start has returned.
func (m *TickManager) Wait() {
	m.wg.Wait()
}
