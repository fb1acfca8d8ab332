package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/ring"
)

// Handler processes one event. Handlers must not block; long-running work is
// started in its own goroutine.
type Handler func(ctx context.Context, ev Event) error

// Middleware observes every event before its handler runs.
type Middleware func(ctx context.Context, ev Event) error

// Record is one entry of the recent-events history.
type Record struct {
	Seq  uint64    `json:"seq"`
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// ErrorRecord is one entry of the error history.
type ErrorRecord struct {
	Seq     uint64    `json:"seq"`
	Event   string    `json:"event"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Stats is a point-in-time copy of the dispatcher's counters and histories.
type Stats struct {
	Total              uint64            `json:"total"`
	PerEvent           map[string]uint64 `json:"per_event"`
	Unhandled          uint64            `json:"unhandled"`
	Errors             uint64            `json:"errors"`
	MiddlewareFailures uint64            `json:"middleware_failures"`
	SlowHandlers       uint64            `json:"slow_handlers"`
	Recent             []Record          `json:"recent"`
	ErrorHistory       []ErrorRecord     `json:"error_history"`
	Since              time.Time         `json:"since"`
}

// Options tunes a Dispatcher.
type Options struct {
	// SlowThreshold is the handler latency above which a performance_warning is emitted.
	SlowThreshold time.Duration
	RecentCap     int
	ErrorCap      int
	// LogEvents writes one debug line per dispatched event.
	LogEvents bool
}

// Dispatcher normalizes, records and routes events.
type Dispatcher struct {
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	mu          sync.Mutex
	handlers    map[string]Handler
	middlewares []Middleware
	seq         uint64
	perEvent    map[string]uint64
	unhandled   uint64
	errCount    uint64
	mwFailures  uint64
	slow        uint64
	recent      *ring.Ring[Record]
	errs        *ring.Ring[ErrorRecord]
	since       time.Time
}

// NewDispatcher creates a Dispatcher with no handlers.
//
// Precondition: clk and logger must be non-nil.
// Postcondition: Returns a Dispatcher whose histories are bounded by opts.RecentCap and opts.ErrorCap.
func NewDispatcher(opts Options, clk clock.Clock, logger *zap.Logger) *Dispatcher {
	if opts.RecentCap < 1 {
		opts.RecentCap = 100
	}
	if opts.ErrorCap < 1 {
		opts.ErrorCap = 50
	}
	return &Dispatcher{
		opts:     opts,
		clock:    clk,
		logger:   logger,
		handlers: make(map[string]Handler),
		perEvent: make(map[string]uint64),
		recent:   ring.New[Record](opts.RecentCap),
		errs:     ring.New[ErrorRecord](opts.ErrorCap),
		since:    clk.Now(),
	}
}

// RegisterHandler associates h with name, silently replacing any previous handler.
//
// Postcondition: Returns ErrNilHandler if h is nil and ErrEmptyName if name normalizes to "".
func (d *Dispatcher) RegisterHandler(name string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	name = NormalizeName(name)
	if name == "" {
		return ErrEmptyName
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[name]; ok {
		d.logger.Debug("replacing event handler", zap.String("event", name))
	}
	d.handlers[name] = h
	return nil
}

// AddMiddleware appends m to the chain run before every handler.
//
// Postcondition: Returns ErrNilHandler if m is nil.
func (d *Dispatcher) AddMiddleware(m Middleware) error {
	if m == nil {
		return ErrNilHandler
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, m)
	return nil
}

// HasHandler reports whether a handler is registered for name.
func (d *Dispatcher) HasHandler(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[NormalizeName(name)]
	return ok
}

// Dispatch routes one event. It never panics and never returns a handler's failure.
// Events are processed in call order on the calling goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) {
	name = NormalizeName(name)
	if name == "" {
		d.logger.Warn("dropping event without a name")
		return
	}
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}

	d.mu.Lock()
	d.seq++
	ev := Event{Seq: d.seq, Name: name, Args: normalized, At: d.clock.Now()}
	d.perEvent[name]++
	d.recent.Push(Record{Seq: ev.Seq, Name: name, At: ev.At})
	h, ok := d.handlers[name]
	if !ok {
		d.unhandled++
	}
	mws := make([]Middleware, len(d.middlewares))
	copy(mws, d.middlewares)
	d.mu.Unlock()

	if d.opts.LogEvents {
		d.logger.Debug("dispatch", zap.String("event", name), zap.Uint64("seq", ev.Seq), zap.Any("args", normalized))
	}

	for i, mw := range mws {
		if err := d.runMiddleware(ctx, mw, ev); err != nil {
			d.mu.Lock()
			d.mwFailures++
			d.mu.Unlock()
			d.logger.Warn("middleware failed",
				zap.String("event", name),
				zap.Int("index", i),
				zap.Error(err),
			)
		}
	}

	if !ok {
		return
	}

	start := d.clock.Now()
	err := d.runHandler(ctx, h, ev)
	elapsed := d.clock.Now().Sub(start)

	if err != nil {
		d.recordFailure(ctx, ev, err)
	}
	if d.opts.SlowThreshold > 0 && elapsed > d.opts.SlowThreshold {
		d.mu.Lock()
		d.slow++
		d.mu.Unlock()
		d.logger.Warn("slow event handler",
			zap.String("event", name),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", d.opts.SlowThreshold),
		)
		if !isInternal(name) {
			d.Dispatch(ctx, NamePerformanceWarning, map[string]any{
				"event":      name,
				"elapsed_ms": float64(elapsed.Milliseconds()),
			})
		}
	}
}

// Stats returns a copy of the counters and histories.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	per := make(map[string]uint64, len(d.perEvent))
	for k, v := range d.perEvent {
		per[k] = v
	}
	return Stats{
		Total:              d.seq,
		PerEvent:           per,
		Unhandled:          d.unhandled,
		Errors:             d.errCount,
		MiddlewareFailures: d.mwFailures,
		SlowHandlers:       d.slow,
		Recent:             d.recent.Items(),
		ErrorHistory:       d.errs.Items(),
		Since:              d.since,
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, ev Event, err error) {
	rec := ErrorRecord{Seq: ev.Seq, Event: ev.Name, Kind: KindOf(err), Message: err.Error(), At: d.clock.Now()}
	d.mu.Lock()
	d.errCount++
	d.errs.Push(rec)
	d.mu.Unlock()

	d.logger.Error("event handler failed",
		zap.String("event", ev.Name),
		zap.Uint64("seq", ev.Seq),
		zap.String("kind", string(rec.Kind)),
		zap.Error(err),
	)
	if isInternal(ev.Name) {
		return
	}
	d.Dispatch(ctx, NameError, map[string]any{
		"event":   ev.Name,
		"seq":     float64(ev.Seq),
		"kind":    string(rec.Kind),
		"message": rec.Message,
	})
}

func (d *Dispatcher) runHandler(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = WithKind(KindHandlerPanicked, fmt.Errorf("panic: %v", r))
		}
	}()
	return h(ctx, ev)
}

func (d *Dispatcher) runMiddleware(ctx context.Context, mw Middleware, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return mw(ctx, ev)
}

func isInternal(name string) bool {
	return name == NameError || name == NamePerformanceWarning
}
