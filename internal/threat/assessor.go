// Package threat turns the world snapshot into a scored, ordered list of nearby
// hostiles and a discretized threat level.
//
// Assessment reads only in-memory state and never blocks on I/O, so it is
// safe to run on a fixed tick.
package threat

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// minDistanceFactor keeps distant hostiles from scoring zero.
const minDistanceFactor = 0.1

// StateReader is the subset of the world store the assessor reads.
type StateReader interface {
	Vitals() world.Vitals
	Entities() []world.Entity
}

// Threat is one scored hostile.
type Threat struct {
	Entity   world.Entity `json:"entity"`
	Distance float64      `json:"distance"`
	Score    float64      `json:"score"`
}

// Snapshot is the result of one assessment.
type Snapshot struct {
	Threats  []Threat  `json:"threats"`
	Level    Level     `json:"level"`
	Previous Level     `json:"previous"`
	Changed  bool      `json:"changed"`
	At       time.Time `json:"at"`
}

// Highest returns the top-scoring threat.
func (s Snapshot) Highest() (Threat, bool) {
	if len(s.Threats) == 0 {
		return Threat{}, false
	}
	return s.Threats[0], true
}

// MaxScore returns the highest score present, or zero.
func (s Snapshot) MaxScore() float64 {
	if t, ok := s.Highest(); ok {
		return t.Score
	}
	return 0
}

// ChangeFunc is notified when the discretized level differs from the previous assessment.
type ChangeFunc func(prev, next Level, snap Snapshot)

// Assessor computes threat snapshots.
type Assessor struct {
	table      *Table
	thresholds Thresholds
	maxRange   float64
	state      StateReader
	clock      clock.Clock
	logger     *zap.Logger

	mu        sync.Mutex
	last      Snapshot
	listeners []ChangeFunc
}

// NewAssessor creates an Assessor.
//
// Precondition: table, state, clk and logger must be non-nil; maxRange should be positive.
func NewAssessor(table *Table, thresholds Thresholds, maxRange float64, state StateReader, clk clock.Clock, logger *zap.Logger) *Assessor {
	return &Assessor{
		table:      table,
		thresholds: thresholds,
		maxRange:   maxRange,
		state:      state,
		clock:      clk,
		logger:     logger,
	}
}

// OnLevelChange registers fn to be called after any assessment whose level changed.
func (a *Assessor) OnLevelChange(fn ChangeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Table returns the hostile table.
func (a *Assessor) Table() *Table { return a.table }

// MaxRange returns the assessment radius.
func (a *Assessor) MaxRange() float64 { return a.maxRange }

// Thresholds returns the level ladder.
func (a *Assessor) Thresholds() Thresholds { return a.thresholds }

// ClassifyHostility reports whether entityType is in the hostile table. Unknown types are not hostile.
func (a *Assessor) ClassifyHostility(entityType string) bool {
	_, ok := a.table.Profile(entityType)
	return ok
}

// ScoreEntity scores one entity of entityType at distance from a bot with the given health.
//
// Postcondition: Returns a finite, non-negative integer-valued score.
func (a *Assessor) ScoreEntity(entityType string, distance, health, maxHealth float64) float64 {
	return Score(a.table.BaseThreat(entityType), distance, a.maxRange, health, maxHealth)
}

// LevelFromScore maps a score onto the configured ladder.
func (a *Assessor) LevelFromScore(score float64) Level {
	return a.thresholds.LevelFromScore(score)
}

// Score computes round(base × DistanceFactor × HealthFactor), never negative.
func Score(base, distance, maxRange, health, maxHealth float64) float64 {
	s := math.Round(base * DistanceFactor(distance, maxRange) * HealthFactor(health, maxHealth))
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if math.IsInf(s, 1) {
		return math.MaxFloat64
	}
	return s
}

// DistanceFactor is max(0.1, 1 − distance/maxRange); closer is scarier.
func DistanceFactor(distance, maxRange float64) float64 {
	if maxRange <= 0 || math.IsNaN(distance) {
		return minDistanceFactor
	}
	return math.Max(minDistanceFactor, 1-math.Max(distance, 0)/maxRange)
}

// HealthFactor is 1 + (1 − health/maxHealth), with the ratio clamped to [0,1].
// A non-positive maxHealth is treated as no health left.
func HealthFactor(health, maxHealth float64) float64 {
	ratio := 0.0
	if maxHealth > 0 {
		ratio = math.Min(math.Max(health/maxHealth, 0), 1)
	}
	if math.IsNaN(ratio) {
		ratio = 0
	}
	return 1 + (1 - ratio)
}

// Assess scores every hostile within range and derives the threat level.
// Listeners registered with OnLevelChange run synchronously after the snapshot is stored.
//
// Postcondition: Threats are sorted by descending score, then ascending distance, then id.
func (a *Assessor) Assess() Snapshot {
	vitals := a.state.Vitals()
	var threats []Threat
	for _, e := range a.state.Entities() {
		if !a.ClassifyHostility(e.Type) {
			continue
		}
		d := vitals.Position.DistanceTo(e.Position)
		if d > a.maxRange {
			continue
		}
		threats = append(threats, Threat{
			Entity:   e,
			Distance: d,
			Score:    a.ScoreEntity(e.Type, d, vitals.Health, vitals.MaxHealth),
		})
	}
	sort.Slice(threats, func(i, j int) bool {
		if threats[i].Score != threats[j].Score {
			return threats[i].Score > threats[j].Score
		}
		if threats[i].Distance != threats[j].Distance {
			return threats[i].Distance < threats[j].Distance
		}
		return threats[i].Entity.ID < threats[j].Entity.ID
	})

	snap := Snapshot{Threats: threats, At: a.clock.Now()}
	if len(threats) > 0 {
		snap.Level = a.thresholds.LevelFromScore(threats[0].Score)
	}

	a.mu.Lock()
	snap.Previous = a.last.Level
	snap.Changed = snap.Level != a.last.Level
	a.last = snap
	var listeners []ChangeFunc
	if snap.Changed {
		listeners = append(listeners, a.listeners...)
	}
	a.mu.Unlock()

	if snap.Changed {
		a.logger.Info("threat level changed",
			zap.Stringer("from", snap.Previous),
			zap.Stringer("to", snap.Level),
			zap.Int("hostiles", len(threats)),
			zap.Float64("max_score", snap.MaxScore()),
		)
	}
	for _, fn := range listeners {
		fn(snap.Previous, snap.Level, snap)
	}
	return snap
}

// Last returns the most recent snapshot.
func (a *Assessor) Last() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
