package combat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/threat"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeMover struct {
	mu    sync.Mutex
	moves []world.Vec3
	err   error
}

func (m *fakeMover) MoveTo(_ context.Context, pos world.Vec3, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, pos)
	return m.err
}

func (m *fakeMover) Moves() []world.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]world.Vec3(nil), m.moves...)
}

// blockingMover holds every request until release is closed.
type blockingMover struct {
	release chan struct{}

	mu       sync.Mutex
	calls    int
	inFlight int
	peak     int
}

func newBlockingMover() *blockingMover {
	return &blockingMover{release: make(chan struct{})}
}

func (m *blockingMover) MoveTo(ctx context.Context, _ world.Vec3, _ time.Duration) error {
	m.mu.Lock()
	m.calls++
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()
	select {
	case <-m.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *blockingMover) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *blockingMover) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

type fakeAttacker struct {
	mu      sync.Mutex
	targets []string
}

func (a *fakeAttacker) Attack(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, id)
	return nil
}

func (a *fakeAttacker) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.targets)
}

type fakeLearner struct {
	mu      sync.Mutex
	records []SessionRecord
}

func (l *fakeLearner) LearnFromCombat(rec SessionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// scriptedSource returns its answers in order, then errors.
type scriptedSource struct {
	mu      sync.Mutex
	answers []Strategy
	calls   int
}

func (s *scriptedSource) Strategy(context.Context, StrategyRequest) (Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.answers) == 0 {
		return Strategy{}, errors.New("provider unavailable")
	}
	out := s.answers[0]
	s.answers = s.answers[1:]
	return out, nil
}

type harness struct {
	e        *Engagement
	store    *world.Store
	clk      *clock.Fake
	assessor *threat.Assessor
	mover    *fakeMover
	attacker *fakeAttacker
	learner  *fakeLearner
}

func testConfig() Config {
	return Config{
		MaxCombatRange:     20,
		AttackRange:        3.5,
		AttackCooldown:     600 * time.Millisecond,
		FleeHealth:         6,
		RetreatDistance:    16,
		RetreatMoveTimeout: 8 * time.Second,
		CriticalRetreatAt:  0.5,
		ReassessAfter:      10 * time.Second,
		ReassessEvery:      5 * time.Second,
		HistoryCap:         10,
	}
}

func newHarness(t *testing.T, source StrategySource, providerCooldown time.Duration) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := clock.NewFake(epoch)
	store := world.NewStore(clk, logger)
	table := threat.DefaultTable()
	h := &harness{
		store:    store,
		clk:      clk,
		assessor: threat.NewAssessor(table, threat.DefaultThresholds(), 20, store, clk, logger),
		mover:    &fakeMover{},
		attacker: &fakeAttacker{},
		learner:  &fakeLearner{},
	}
	h.e = NewEngagement(testConfig(), Deps{
		World:      store,
		Table:      table,
		Strategies: NewProvider(source, DefaultStrategyTable(), providerCooldown, time.Second, clk, logger),
		Mover:      h.mover,
		Attacker:   h.attacker,
		Learner:    h.learner,
		Clock:      clk,
		Logger:     logger,
	})
	h.e.spawn = func(f func()) { f() }
	return h
}

func (h *harness) spawn(id, typ string, x float64) {
	h.store.ApplyEntitySpawn(world.EntitySpawn{ID: id, Type: typ, Position: world.Vec3{X: x}})
}

func (h *harness) setHealth(v float64) {
	h.store.ApplyAttributeUpdate(world.AttributeUpdate{Health: &v})
}

func (h *harness) assess() {
	h.e.OnThreat(context.Background(), h.assessor.Assess())
}
