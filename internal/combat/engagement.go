// Package combat implements the engagement state machine: deciding when to
// fight, which target to fight, how to fight it, and when to break off.
//
//	IDLE → ENGAGING → IN_COMBAT → IDLE
//	ENGAGING/IN_COMBAT → RETREATING → IDLE
//
// Transitions are driven by threat snapshots and a fast combat tick. Strategy
// lookups and movement run outside the engagement lock and re-validate the
// session when they complete.
package combat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/ring"
	"github.com/cory-johannsen/dragonbot/internal/threat"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// repathInterval limits how often a movement request is issued during combat.
const repathInterval = 500 * time.Millisecond

// WorldReader is the subset of the world store the engagement reads.
type WorldReader interface {
	Vitals() world.Vitals
	Entity(id string) (world.Entity, bool)
}

// Mover issues navigation requests. MoveTo blocks until arrival, failure or timeout.
type Mover interface {
	MoveTo(ctx context.Context, pos world.Vec3, timeout time.Duration) error
}

// Attacker issues a single attack on an entity.
type Attacker interface {
	Attack(ctx context.Context, entityID string) error
}

// Learner receives completed sessions. It must not block.
type Learner interface {
	LearnFromCombat(rec SessionRecord)
}

// InventoryStatus summarizes equipment for risk scoring. Values are in [0,1].
type InventoryStatus interface {
	WeaponDurability() float64
	ArmorLevel() float64
	HealingItems() int
}

// Config tunes the engagement state machine.
type Config struct {
	MaxCombatRange     float64
	AttackRange        float64
	AttackCooldown     time.Duration
	FleeHealth         float64
	RetreatDistance    float64
	RetreatMoveTimeout time.Duration
	RetreatCooldowns   map[string]time.Duration
	// CriticalRetreatAt is the health ratio at or below which a CRITICAL threat forces a retreat.
	CriticalRetreatAt float64
	ReassessAfter     time.Duration
	ReassessEvery     time.Duration
	HistoryCap        int
	Weights           Weights
}

// Deps are the engagement's collaborators. Mover, Attacker, Learner, Inventory and
// Scripts are optional; a nil value means the capability is absent.
type Deps struct {
	World      WorldReader
	Table      *threat.Table
	Strategies *Provider
	Mover      Mover
	Attacker   Attacker
	Learner    Learner
	Inventory  InventoryStatus
	Scripts    TacticScript
	Clock      clock.Clock
	Logger     *zap.Logger
}

type retreatState struct {
	reason   string
	until    time.Time
	deadline time.Time
	seq      uint64
}

// Engagement is the combat state machine. It is safe for concurrent use.
type Engagement struct {
	cfg        Config
	world      WorldReader
	table      *threat.Table
	strategies *Provider
	mover      Mover
	attacker   Attacker
	learner    Learner
	inventory  InventoryStatus
	scripts    TacticScript
	clock      clock.Clock
	logger     *zap.Logger
	spawn      func(func())

	mu           sync.Mutex
	state        State
	session      *Session
	retreat      retreatState
	stats        Stats
	history      *ring.Ring[SessionRecord]
	lastSnapshot threat.Snapshot
	onEnded      []func(SessionRecord)
}

// NewEngagement creates an idle Engagement.
//
// Precondition: deps.World, deps.Table, deps.Strategies, deps.Clock and deps.Logger must be non-nil.
func NewEngagement(cfg Config, deps Deps) *Engagement {
	if cfg.HistoryCap < 1 {
		cfg.HistoryCap = 100
	}
	if cfg.RetreatCooldowns == nil {
		cfg.RetreatCooldowns = DefaultRetreatCooldowns()
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Engagement{
		cfg:        cfg,
		world:      deps.World,
		table:      deps.Table,
		strategies: deps.Strategies,
		mover:      deps.Mover,
		attacker:   deps.Attacker,
		learner:    deps.Learner,
		inventory:  deps.Inventory,
		scripts:    deps.Scripts,
		clock:      deps.Clock,
		logger:     deps.Logger,
		spawn:      func(f func()) { go f() },
		stats:      Stats{ByType: make(map[string]TypeStats)},
		history:    ring.New[SessionRecord](cfg.HistoryCap),
	}
}

// OnCombatEnded registers fn to receive every completed session.
func (e *Engagement) OnCombatEnded(fn func(SessionRecord)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = append(e.onEnded, fn)
}

// State returns the current state.
func (e *Engagement) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a copy of the aggregate counters.
func (e *Engagement) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.clone()
}

// SeedHistory merges per-type results from earlier runs into the win rates used
// by Recommend. Aggregate fight counters are not changed.
func (e *Engagement) SeedHistory(byType map[string]TypeStats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stats.ByType == nil {
		e.stats.ByType = make(map[string]TypeStats, len(byType))
	}
	for typ, ts := range byType {
		cur := e.stats.ByType[world.NormalizeType(typ)]
		cur.Fights += ts.Fights
		cur.Wins += ts.Wins
		e.stats.ByType[world.NormalizeType(typ)] = cur
	}
}

// History returns completed sessions, oldest first.
func (e *Engagement) History() []SessionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Items()
}

// CooldownRemaining reports how long re-engagement stays suppressed.
func (e *Engagement) CooldownRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(e.retreat.until.Sub(e.clock.Now()), 0)
}

// OnThreat consumes a threat snapshot. From IDLE with a non-NONE level and no
// active retreat cooldown it selects a target and starts fetching a strategy.
// During combat a CRITICAL level at low health forces a retreat.
func (e *Engagement) OnThreat(ctx context.Context, snap threat.Snapshot) {
	e.mu.Lock()
	e.lastSnapshot = snap
	now := e.clock.Now()
	var fx []func()

	switch e.state {
	case StateIdle:
		if snap.Level == threat.LevelNone || now.Before(e.retreat.until) {
			e.mu.Unlock()
			return
		}
		target, ok := e.selectTarget(snap)
		if !ok {
			e.mu.Unlock()
			return
		}
		sess := &Session{ID: uuid.NewString(), Target: target, StartTime: now}
		e.session = sess
		e.state = StateEngaging
		req := e.requestLocked(target, snap)
		e.mu.Unlock()

		e.logger.Info("engaging",
			zap.String("session", sess.ID),
			zap.String("target", target.ID),
			zap.String("type", target.Type),
			zap.Float64("distance", target.Distance),
			zap.Stringer("level", snap.Level),
		)
		e.spawn(func() {
			e.beginCombat(sess.ID, e.strategies.Resolve(ctx, req))
		})
		return

	case StateEngaging, StateInCombat:
		if snap.Level == threat.LevelCritical && e.world.Vitals().HealthRatio() <= e.cfg.CriticalRetreatAt {
			fx = e.retreatLocked(ctx, ReasonCritical, now)
		}
	}
	e.mu.Unlock()
	run(fx)
}

// Tick advances the state machine by one fast tick.
func (e *Engagement) Tick(ctx context.Context) {
	e.mu.Lock()
	now := e.clock.Now()
	var fx []func()
	switch e.state {
	case StateRetreating:
		if !now.Before(e.retreat.deadline) {
			e.state = StateIdle
			e.logger.Debug("retreat movement window elapsed", zap.String("reason", e.retreat.reason))
		}
	case StateEngaging:
		if e.world.Vitals().Health <= e.cfg.FleeHealth {
			fx = e.retreatLocked(ctx, ReasonLowHealth, now)
		}
	case StateInCombat:
		fx = e.combatTickLocked(ctx, now)
	}
	e.mu.Unlock()
	run(fx)
}

// OnEntityDeath ends the session with TARGET_DEFEATED if id is the current target.
func (e *Engagement) OnEntityDeath(id string) {
	e.mu.Lock()
	if e.session == nil || e.session.Target.ID != id || (e.state != StateInCombat && e.state != StateEngaging) {
		e.mu.Unlock()
		return
	}
	fx := e.endLocked(OutcomeTargetDefeated, e.clock.Now())
	e.mu.Unlock()
	run(fx)
}

// OnDamageTaken records damage and downgrades an aggressive posture one step.
func (e *Engagement) OnDamageTaken(amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	e.session.DamageTaken += amount
	if e.state != StateInCombat {
		return
	}
	prev := e.session.Strategy.Approach
	next := prev.Downgrade()
	if next != prev {
		e.session.Strategy.Approach = next
		e.logger.Info("downgrading approach after damage",
			zap.String("session", e.session.ID),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
			zap.Float64("damage", amount),
		)
	}
}

// EndCombat ends any active session with OutcomeAborted.
//
// Postcondition: State() is IDLE unless a retreat is in progress.
func (e *Engagement) EndCombat(reason string) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return
	}
	e.logger.Info("ending combat", zap.String("reason", reason))
	fx := e.endLocked(OutcomeAborted, e.clock.Now())
	e.mu.Unlock()
	run(fx)
}

// ForceRetreat breaks off any engagement and moves away from the nearest threat.
func (e *Engagement) ForceRetreat(ctx context.Context, reason string) {
	e.mu.Lock()
	fx := e.retreatLocked(ctx, reason, e.clock.Now())
	e.mu.Unlock()
	run(fx)
}

func (e *Engagement) beginCombat(sessionID string, s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEngaging || e.session == nil || e.session.ID != sessionID {
		e.logger.Debug("discarding strategy for stale session", zap.String("session", sessionID))
		return
	}
	e.session.Strategy = s
	e.session.LastReassess = e.clock.Now()
	e.state = StateInCombat
	e.logger.Info("in combat",
		zap.String("session", sessionID),
		zap.String("approach", string(s.Approach)),
		zap.Strings("tactics", s.Tactics),
		zap.String("source", s.Source),
	)
}

func (e *Engagement) reassess(ctx context.Context, sessionID string, req StrategyRequest) {
	s := e.strategies.Resolve(ctx, req)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInCombat || e.session == nil || e.session.ID != sessionID {
		return
	}
	e.session.reassessing = false
	if s.Approach == e.session.Strategy.Approach {
		return
	}
	e.logger.Info("strategy swapped on reassessment",
		zap.String("session", sessionID),
		zap.String("from", string(e.session.Strategy.Approach)),
		zap.String("to", string(s.Approach)),
	)
	e.session.Strategy = s
}

// combatTickLocked validates the target, then executes approach and tactics.
func (e *Engagement) combatTickLocked(ctx context.Context, now time.Time) []func() {
	s := e.session
	ent, ok := e.world.Entity(s.Target.ID)
	vitals := e.world.Vitals()
	if !ok {
		return e.endLocked(OutcomeTargetLost, now)
	}
	d := vitals.Position.DistanceTo(ent.Position)
	if d > e.cfg.MaxCombatRange {
		return e.endLocked(OutcomeTargetLost, now)
	}
	if vitals.Health <= e.cfg.FleeHealth {
		return e.retreatLocked(ctx, ReasonLowHealth, now)
	}
	s.Target.Distance = d
	s.Target.Position = ent.Position
	if ent.Type != "" {
		s.Target.Type = ent.Type
	}

	var fx []func()
	if !s.reassessing && now.Sub(s.StartTime) > e.cfg.ReassessAfter && now.Sub(s.LastReassess) >= e.cfg.ReassessEvery {
		s.reassessing = true
		s.LastReassess = now
		req := e.requestLocked(s.Target, e.lastSnapshot)
		id := s.ID
		fx = append(fx, func() { e.spawn(func() { e.reassess(ctx, id, req) }) })
	}

	p := e.planApproach(s, vitals, now)
	for _, name := range s.Strategy.Tactics {
		e.applyTactic(name, s, vitals, now, &p)
	}
	if p.retreat != "" {
		return append(fx, e.retreatLocked(ctx, p.retreat, now)...)
	}
	if p.attack && now.Sub(s.LastAttack) >= e.cfg.AttackCooldown && s.Target.Distance <= e.cfg.AttackRange {
		s.LastAttack = now
		s.Attacks++
		fx = append(fx, e.attackEffect(ctx, s.Target.ID))
	}
	if p.move != nil && !s.moving && now.Sub(s.LastMove) >= repathInterval {
		s.LastMove = now
		s.moving = true
		id := s.ID
		fx = append(fx, e.moveEffect(ctx, *p.move, e.cfg.RetreatMoveTimeout, func() { e.finishMove(id) }))
	}
	return fx
}

// finishMove clears the in-flight move of session id, if it is still current.
func (e *Engagement) finishMove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && e.session.ID == id {
		e.session.moving = false
	}
}

// endLocked closes the session and returns the notifications to run after unlocking.
func (e *Engagement) endLocked(outcome Outcome, now time.Time) []func() {
	s := e.session
	if s == nil {
		return nil
	}
	rec := SessionRecord{
		ID:             s.ID,
		TargetID:       s.Target.ID,
		TargetType:     s.Target.Type,
		Outcome:        outcome,
		Approach:       s.Strategy.Approach,
		StrategySource: s.Strategy.Source,
		StartTime:      s.StartTime,
		EndTime:        now,
		Duration:       now.Sub(s.StartTime),
		Attacks:        s.Attacks,
		DamageTaken:    s.DamageTaken,
	}
	e.stats.record(rec)
	e.history.Push(rec)
	e.session = nil
	e.state = StateIdle

	e.logger.Info("combat ended",
		zap.String("session", rec.ID),
		zap.String("outcome", string(outcome)),
		zap.String("target", rec.TargetID),
		zap.Duration("duration", rec.Duration),
		zap.Int("kill_streak", e.stats.KillStreak),
	)

	listeners := append([]func(SessionRecord){}, e.onEnded...)
	learner := e.learner
	return []func(){func() {
		if learner != nil {
			learner.LearnFromCombat(rec)
		}
		for _, fn := range listeners {
			fn(rec)
		}
	}}
}

func (e *Engagement) selectTarget(snap threat.Snapshot) (Target, bool) {
	if len(snap.Threats) == 0 {
		return Target{}, false
	}
	pick := snap.Threats[0]
	found := false
	for _, pt := range e.table.Priority {
		for _, t := range snap.Threats {
			if world.NormalizeType(t.Entity.Type) == pt {
				pick, found = t, true
				break
			}
		}
		if found {
			break
		}
	}
	return Target{
		ID:          pick.Entity.ID,
		Type:        pick.Entity.Type,
		Distance:    pick.Distance,
		Position:    pick.Entity.Position,
		ThreatScore: pick.Score,
	}, true
}

func (e *Engagement) requestLocked(t Target, snap threat.Snapshot) StrategyRequest {
	return StrategyRequest{
		TargetType:  t.Type,
		Distance:    t.Distance,
		HealthRatio: e.world.Vitals().HealthRatio(),
		Level:       snap.Level,
		Hostiles:    len(snap.Threats),
	}
}

func (e *Engagement) optimalRange(entityType string) float64 {
	if p, ok := e.table.Profile(entityType); ok && p.OptimalRange > 0 {
		return p.OptimalRange
	}
	return e.cfg.AttackRange * 0.75
}

func (e *Engagement) attackEffect(ctx context.Context, id string) func() {
	attacker := e.attacker
	return func() {
		if attacker == nil {
			return
		}
		if err := attacker.Attack(ctx, id); err != nil {
			e.logger.Warn("attack failed", zap.String("target", id), zap.Error(err))
		}
	}
}

// moveEffect returns an effect that issues a movement request in the background.
// done, if non-nil, runs when the request finishes regardless of outcome.
func (e *Engagement) moveEffect(ctx context.Context, pos world.Vec3, timeout time.Duration, done func()) func() {
	mover := e.mover
	return func() {
		if mover == nil {
			e.logger.Debug("no mover available, skipping movement")
			if done != nil {
				done()
			}
			return
		}
		e.spawn(func() {
			if err := mover.MoveTo(ctx, pos, timeout); err != nil {
				e.logger.Debug("movement failed", zap.Error(err))
			}
			if done != nil {
				done()
			}
		})
	}
}

func run(fx []func()) {
	for _, f := range fx {
		f()
	}
}
