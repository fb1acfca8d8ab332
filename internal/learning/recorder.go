package learning

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/mission"
)

// DefaultBuffer is the queue capacity used when none is configured.
const DefaultBuffer = 1024

// writeTimeout bounds a single backend write.
const writeTimeout = 5 * time.Second

type item struct {
	combat     *combat.SessionRecord
	navigation *NavigationRecord
	mission    *mission.Completion
}

// Stats counts queued work.
type Stats struct {
	Written       uint64 `json:"written"`
	Failed        uint64 `json:"failed"`
	Dropped       uint64 `json:"dropped"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
}

// Recorder queues learning notifications for a Store. Its Learn* methods never
// block: when the queue is full the notification is dropped and counted.
type Recorder struct {
	store  Store
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan item
	wg     sync.WaitGroup

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder starts the writer goroutine.
//
// Precondition: store and logger must be non-nil.
// Postcondition: Close must be called to flush the queue and close the store.
func NewRecorder(store Store, buffer int, logger *zap.Logger) *Recorder {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	r := &Recorder{store: store, logger: logger, ch: make(chan item, buffer)}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	return r
}

// LearnFromCombat queues a completed combat session.
func (r *Recorder) LearnFromCombat(rec combat.SessionRecord) {
	r.enqueue(item{combat: &rec}, "combat")
}

// LearnFromNavigation queues a navigation outcome.
func (r *Recorder) LearnFromNavigation(rec NavigationRecord) {
	r.enqueue(item{navigation: &rec}, "navigation")
}

// LearnFromMissionCompletion queues a finished mission.
func (r *Recorder) LearnFromMissionCompletion(c mission.Completion) {
	r.enqueue(item{mission: &c}, "mission")
}

func (r *Recorder) enqueue(it item, kind string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		r.logger.Warn("learning recorder closed, dropping", zap.String("kind", kind))
		return
	}
	select {
	case r.ch <- it:
	default:
		r.dropped.Add(1)
		r.logger.Warn("learning queue full, dropping", zap.String("kind", kind))
	}
}

func (r *Recorder) loop() {
	for it := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.write(ctx, it)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.logger.Error("learning write failed", zap.Error(err))
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) write(ctx context.Context, it item) error {
	switch {
	case it.combat != nil:
		return r.store.SaveCombat(ctx, *it.combat)
	case it.navigation != nil:
		return r.store.SaveNavigation(ctx, *it.navigation)
	case it.mission != nil:
		return r.store.SaveMission(ctx, *it.mission)
	}
	return nil
}

// TypeStats reads historical per-type results from the store.
func (r *Recorder) TypeStats(ctx context.Context) (map[string]combat.TypeStats, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return r.store.TypeStats(ctx)
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Written:       r.written.Load(),
		Failed:        r.failed.Load(),
		Dropped:       r.dropped.Load(),
		QueueDepth:    len(r.ch),
		QueueCapacity: cap(r.ch),
	}
}

// Close stops accepting notifications, drains the queue and closes the store.
//
// Postcondition: Returns ErrClosed if already closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("closing learning store: %w", err)
	}
	return nil
}
