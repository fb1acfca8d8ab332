package combat

import (
	"errors"
	"fmt"
	"math"

	"github.com/cory-johannsen/dragonbot/internal/threat"
)

// ErrUnknownEntity is returned when a recommendation is requested for an untracked entity.
var ErrUnknownEntity = errors.New("combat: unknown entity")

// Weights are the coefficients of the engagement score.
type Weights struct {
	Success   float64
	Value     float64
	Risk      float64
	Threshold float64
}

// DefaultWeights returns 0.4 success, 0.3 value, 0.3 risk and a 0.5 threshold.
func DefaultWeights() Weights {
	return Weights{Success: 0.4, Value: 0.3, Risk: 0.3, Threshold: 0.5}
}

// Factors are the inputs of the engagement score.
type Factors struct {
	SuccessProbability float64 `json:"success_probability"`
	StrategicValue     float64 `json:"strategic_value"`
	RiskFactor         float64 `json:"risk_factor"`
	StateModifier      float64 `json:"state_modifier"`
}

// Score returns Success·p + Value·v − Risk·r + modifier.
func (w Weights) Score(f Factors) float64 {
	return w.Success*f.SuccessProbability + w.Value*f.StrategicValue - w.Risk*f.RiskFactor + f.StateModifier
}

// ShouldEngage reports the score and whether it is strictly above the threshold.
func (w Weights) ShouldEngage(f Factors) (float64, bool) {
	s := w.Score(f)
	return s, s > w.Threshold
}

// Recommendation is the advisory answer to "should the bot fight this entity".
type Recommendation struct {
	EntityID   string  `json:"entity_id"`
	EntityType string  `json:"entity_type"`
	Engage     bool    `json:"engage"`
	Score      float64 `json:"score"`
	Factors    Factors `json:"factors"`
	Reason     string  `json:"reason"`
}

// SuccessProbability blends historical win rate, equipment, health and range proximity into [0.1, 0.9].
func SuccessProbability(winRate, equipment, healthRatio, rangeProximity float64) float64 {
	return clamp(0.3*winRate+0.25*equipment+0.3*healthRatio+0.15*rangeProximity, 0.1, 0.9)
}

// RiskFactor blends health deficit, normalized threat, environment and resources into [0, 1].
func RiskFactor(healthRatio, normalizedThreat, environmental, resource float64) float64 {
	return clamp(0.35*(1-healthRatio)+0.3*normalizedThreat+0.2*environmental+0.15*resource, 0, 1)
}

// StrategicValue blends priority rank, loot and elimination value into [0, 1].
func StrategicValue(priority, loot, normalizedThreat float64) float64 {
	return clamp(0.4*priority+0.3*loot+0.3*normalizedThreat, 0, 1)
}

// Recommend scores engaging entityID without changing engagement state.
//
// Postcondition: Returns ErrUnknownEntity if the entity is not tracked.
func (e *Engagement) Recommend(entityID string) (Recommendation, error) {
	ent, ok := e.world.Entity(entityID)
	if !ok {
		return Recommendation{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	vitals := e.world.Vitals()
	health := vitals.HealthRatio()
	distance := vitals.Position.DistanceTo(ent.Position)
	optimal := e.optimalRange(ent.Type)

	e.mu.Lock()
	winRate, seen := e.stats.WinRate(ent.Type)
	snap := e.lastSnapshot
	now := e.clock.Now()
	cooling := now.Before(e.retreat.until)
	busyElsewhere := e.session != nil && e.session.Target.ID != entityID
	e.mu.Unlock()
	if !seen {
		winRate = 0.5
	}

	equipment, resource := 0.3, 0.7
	if e.inventory != nil {
		equipment = clamp((e.inventory.WeaponDurability()+e.inventory.ArmorLevel())/2, 0, 1)
		resource = 1 / (1 + float64(max(e.inventory.HealingItems(), 0)))
	}

	rangeProximity := clamp(1-math.Abs(distance-optimal)/e.cfg.MaxCombatRange, 0, 1)
	normThreat := clamp(threat.Score(e.table.BaseThreat(ent.Type), distance, e.cfg.MaxCombatRange, vitals.Health, vitals.MaxHealth)/100, 0, 1)

	others := 0
	for _, t := range snap.Threats {
		if t.Entity.ID != entityID {
			others++
		}
	}
	environmental := clamp(float64(others)/5, 0, 1)

	priority := 0.0
	if rank := e.table.PriorityRank(ent.Type); rank >= 0 {
		priority = 1 - float64(rank)/float64(len(e.table.Priority))
	}
	loot := 0.0
	if p, ok := e.table.Profile(ent.Type); ok {
		loot = p.LootValue
	}

	modifier := 0.0
	if cooling {
		modifier -= 0.3
	}
	if busyElsewhere {
		modifier -= 0.1
	}
	if vitals.Food < 6 {
		modifier -= 0.1
	}

	f := Factors{
		SuccessProbability: SuccessProbability(winRate, equipment, health, rangeProximity),
		StrategicValue:     StrategicValue(priority, loot, normThreat),
		RiskFactor:         RiskFactor(health, normThreat, environmental, resource),
		StateModifier:      modifier,
	}
	score, engage := e.cfg.Weights.ShouldEngage(f)
	verdict := "avoid"
	if engage {
		verdict = "engage"
	}
	return Recommendation{
		EntityID:   entityID,
		EntityType: ent.Type,
		Engage:     engage,
		Score:      score,
		Factors:    f,
		Reason:     fmt.Sprintf("%s: score %.2f vs threshold %.2f", verdict, score, e.cfg.Weights.Threshold),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
