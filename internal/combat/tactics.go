package combat

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/world"
)

const (
	strafeStep   = 2.0
	hitAndRunGap = 3.0
)

// TacticInput is what a scripted tactic sees.
type TacticInput struct {
	TargetType   string
	Distance     float64
	HealthRatio  float64
	AttackRange  float64
	OptimalRange float64
	SinceAttack  time.Duration
	// ToTarget is the horizontal unit vector from the bot toward the target.
	ToTarget world.Vec3
}

// TacticOutput is a scripted tactic's decision. Action is "move", "attack",
// "retreat" or "none"; for "move", Offset is relative to the bot.
type TacticOutput struct {
	Action string
	Offset world.Vec3
}

// TacticScript resolves tactics that are not built in.
type TacticScript interface {
	RunTactic(name string, in TacticInput) (TacticOutput, bool)
}

type plan struct {
	move    *world.Vec3
	attack  bool
	retreat string
}

func (p *plan) moveTo(v world.Vec3) { p.move = &v }

// planApproach turns the strategy's approach into movement and attack intent.
func (e *Engagement) planApproach(s *Session, vitals world.Vitals, now time.Time) plan {
	var p plan
	d := s.Target.Distance
	optimal := e.optimalRange(s.Target.Type)
	inRange := d <= e.cfg.AttackRange
	switch s.Strategy.Approach {
	case ApproachAggressive:
		if !inRange {
			p.moveTo(standoff(vitals.Position, s.Target.Position, optimal))
		}
		p.attack = inRange
	case ApproachDefensive:
		if d < optimal*0.6 {
			p.moveTo(standoff(vitals.Position, s.Target.Position, optimal))
		}
		p.attack = inRange
	case ApproachRetreat:
		p.retreat = ReasonStrategic
	default:
		if d > e.cfg.AttackRange*1.5 {
			p.moveTo(standoff(vitals.Position, s.Target.Position, e.cfg.AttackRange*0.8))
		}
		p.attack = inRange
	}
	return p
}

// applyTactic lets a named tactic adjust the plan. Unknown names go to the script hook.
func (e *Engagement) applyTactic(name string, s *Session, vitals world.Vitals, now time.Time, p *plan) {
	d := s.Target.Distance
	toTarget := s.Target.Position.Sub(vitals.Position).Horizontal().Normalize()
	switch name {
	case "direct_attack":
		p.attack = p.attack || d <= e.cfg.AttackRange
	case "close_distance":
		if d > e.cfg.AttackRange {
			p.moveTo(standoff(vitals.Position, s.Target.Position, e.cfg.AttackRange*0.8))
		}
	case "keep_distance":
		if optimal := e.optimalRange(s.Target.Type); d < optimal {
			p.moveTo(standoff(vitals.Position, s.Target.Position, optimal))
		}
	case "strafe":
		if d <= e.cfg.AttackRange*1.5 {
			side := world.Vec3{X: -toTarget.Z, Z: toTarget.X}
			if s.strafeLeft {
				side = side.Scale(-1)
			}
			s.strafeLeft = !s.strafeLeft
			p.moveTo(vitals.Position.Add(side.Scale(strafeStep)))
		}
	case "hit_and_run":
		if !s.LastAttack.IsZero() && now.Sub(s.LastAttack) < e.cfg.AttackCooldown {
			p.moveTo(vitals.Position.Sub(toTarget.Scale(hitAndRunGap)))
			p.attack = false
		}
	case "target_crystals":
		e.retargetLocked(s, "end_crystal")
	case "tactical_retreat":
		if vitals.HealthRatio() < 0.5 {
			p.retreat = ReasonTactical
		}
	default:
		e.applyScriptedTactic(name, s, vitals, now, toTarget, p)
	}
}

func (e *Engagement) applyScriptedTactic(name string, s *Session, vitals world.Vitals, now time.Time, toTarget world.Vec3, p *plan) {
	if e.scripts == nil {
		e.logger.Debug("unknown tactic", zap.String("tactic", name))
		return
	}
	in := TacticInput{
		TargetType:   s.Target.Type,
		Distance:     s.Target.Distance,
		HealthRatio:  vitals.HealthRatio(),
		AttackRange:  e.cfg.AttackRange,
		OptimalRange: e.optimalRange(s.Target.Type),
		ToTarget:     toTarget,
	}
	if !s.LastAttack.IsZero() {
		in.SinceAttack = now.Sub(s.LastAttack)
	}
	out, ok := e.scripts.RunTactic(name, in)
	if !ok {
		return
	}
	switch out.Action {
	case "move":
		p.moveTo(vitals.Position.Add(out.Offset))
	case "attack":
		p.attack = true
	case "retreat":
		p.retreat = ReasonTactical
	}
}

// retargetLocked switches the session to the nearest entity of entityType in the last snapshot.
func (e *Engagement) retargetLocked(s *Session, entityType string) {
	if world.NormalizeType(s.Target.Type) == entityType {
		return
	}
	var best *Target
	for _, t := range e.lastSnapshot.Threats {
		if world.NormalizeType(t.Entity.Type) != entityType {
			continue
		}
		if best == nil || t.Distance < best.Distance {
			best = &Target{ID: t.Entity.ID, Type: t.Entity.Type, Distance: t.Distance, Position: t.Entity.Position, ThreatScore: t.Score}
		}
	}
	if best == nil {
		return
	}
	e.logger.Info("retargeting", zap.String("session", s.ID), zap.String("from", s.Target.ID), zap.String("to", best.ID))
	s.Target = *best
}

// standoff returns the point at distance from target on the bot's side of it.
func standoff(bot, target world.Vec3, distance float64) world.Vec3 {
	dir := bot.Sub(target).Horizontal().Normalize()
	if dir == (world.Vec3{}) {
		dir = world.Vec3{X: 1}
	}
	return target.Add(dir.Scale(distance))
}
