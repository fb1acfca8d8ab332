package combat

import (
	"strings"
	"time"

	"github.com/cory-johannsen/dragonbot/internal/world"
)

// State is an engagement state.
type State int

const (
	StateIdle State = iota
	StateEngaging
	StateInCombat
	StateRetreating
)

func (s State) String() string {
	switch s {
	case StateEngaging:
		return "ENGAGING"
	case StateInCombat:
		return "IN_COMBAT"
	case StateRetreating:
		return "RETREATING"
	default:
		return "IDLE"
	}
}

// Approach is the posture a strategy prescribes.
type Approach string

const (
	ApproachAggressive Approach = "AGGRESSIVE"
	ApproachBalanced   Approach = "BALANCED"
	ApproachDefensive  Approach = "DEFENSIVE"
	ApproachRetreat    Approach = "RETREAT"
)

// ParseApproach accepts an approach name in any case.
func ParseApproach(s string) (Approach, bool) {
	switch a := Approach(strings.ToUpper(strings.TrimSpace(s))); a {
	case ApproachAggressive, ApproachBalanced, ApproachDefensive, ApproachRetreat:
		return a, true
	}
	return "", false
}

// Downgrade moves one step toward defensive. DEFENSIVE and RETREAT are unchanged.
func (a Approach) Downgrade() Approach {
	switch a {
	case ApproachAggressive:
		return ApproachBalanced
	case ApproachBalanced:
		return ApproachDefensive
	}
	return a
}

// Strategy sources.
const (
	SourceCache   = "cache"
	SourceAI      = "ai"
	SourceDefault = "default"
)

// Strategy is a small structured recommendation guiding one engagement.
type Strategy struct {
	Approach        Approach `json:"approach" yaml:"approach"`
	Tactics         []string `json:"tactics" yaml:"tactics"`
	Risk            string   `json:"risk" yaml:"risk"`
	ExpectedOutcome string   `json:"expected_outcome" yaml:"expected_outcome"`
	Source          string   `json:"source" yaml:"-"`
}

// Outcome is how a combat session ended.
type Outcome string

const (
	OutcomeTargetDefeated Outcome = "TARGET_DEFEATED"
	OutcomeTargetLost     Outcome = "TARGET_LOST"
	OutcomeRetreat        Outcome = "RETREAT"
	OutcomeAborted        Outcome = "ENDED"
)

// Retreat reasons, each keyed to its own cooldown.
const (
	ReasonLowHealth = "low_health"
	ReasonCritical  = "critical_threat"
	ReasonStrategic = "strategic"
	ReasonTactical  = "tactical"
)

// DefaultRetreatCooldowns returns the per-reason suppression windows.
func DefaultRetreatCooldowns() map[string]time.Duration {
	return map[string]time.Duration{
		ReasonLowHealth: 30 * time.Second,
		ReasonCritical:  60 * time.Second,
		ReasonStrategic: 20 * time.Second,
		ReasonTactical:  15 * time.Second,
	}
}

// Target is a weak reference to the engaged entity. Only ID is authoritative;
// the rest is cached from the last validation and never assumed live.
type Target struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Distance    float64    `json:"distance"`
	Position    world.Vec3 `json:"position"`
	ThreatScore float64    `json:"threat_score"`
}

// Session is the live state of one engagement.
type Session struct {
	ID           string
	Target       Target
	Strategy     Strategy
	StartTime    time.Time
	LastReassess time.Time
	LastAttack   time.Time
	LastMove     time.Time
	Attacks      int
	DamageTaken  float64

	reassessing bool
	moving      bool
	strafeLeft  bool
}

// SessionRecord is the completed-session entry kept in history and sent to the learner.
type SessionRecord struct {
	ID             string        `json:"id"`
	TargetID       string        `json:"target_id"`
	TargetType     string        `json:"target_type"`
	Outcome        Outcome       `json:"outcome"`
	Approach       Approach      `json:"approach"`
	StrategySource string        `json:"strategy_source"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	Attacks        int           `json:"attacks"`
	DamageTaken    float64       `json:"damage_taken"`
}

// TypeStats counts fights against one entity type.
type TypeStats struct {
	Fights int `json:"fights"`
	Wins   int `json:"wins"`
}

// Stats are aggregate counters that outlive individual sessions.
//
// Invariant: TotalFights == Wins + Losses + Escapes.
type Stats struct {
	TotalFights    int                  `json:"total_fights"`
	Wins           int                  `json:"wins"`
	Losses         int                  `json:"losses"`
	Escapes        int                  `json:"escapes"`
	KillStreak     int                  `json:"kill_streak"`
	BestKillStreak int                  `json:"best_kill_streak"`
	TotalDuration  time.Duration        `json:"total_duration"`
	ByType         map[string]TypeStats `json:"by_type"`
}

func (s *Stats) record(rec SessionRecord) {
	s.TotalFights++
	s.TotalDuration += rec.Duration
	ts := s.ByType[rec.TargetType]
	ts.Fights++
	switch rec.Outcome {
	case OutcomeTargetDefeated:
		s.Wins++
		s.KillStreak++
		s.BestKillStreak = max(s.BestKillStreak, s.KillStreak)
		ts.Wins++
	case OutcomeRetreat:
		s.Escapes++
	default:
		s.Losses++
		s.KillStreak = 0
	}
	if s.ByType == nil {
		s.ByType = make(map[string]TypeStats)
	}
	s.ByType[rec.TargetType] = ts
}

// WinRate returns the historical win rate against entityType and whether any fights were recorded.
func (s Stats) WinRate(entityType string) (float64, bool) {
	ts, ok := s.ByType[entityType]
	if !ok || ts.Fights == 0 {
		return 0, false
	}
	return float64(ts.Wins) / float64(ts.Fights), true
}

func (s Stats) clone() Stats {
	out := s
	out.ByType = make(map[string]TypeStats, len(s.ByType))
	for k, v := range s.ByType {
		out.ByType[k] = v
	}
	return out
}
