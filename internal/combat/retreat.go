package combat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/world"
)

// RetreatPoint returns the position distance blocks from bot, horizontally opposite threat.
// When the two coincide the bot retreats along +X.
func RetreatPoint(bot, threat world.Vec3, distance float64) world.Vec3 {
	dir := bot.Sub(threat).Horizontal().Normalize()
	if dir == (world.Vec3{}) {
		dir = world.Vec3{X: 1}
	}
	return bot.Add(dir.Scale(distance))
}

// retreatLocked ends any session as an escape, starts the reason's cooldown and
// moves away from the threat. Cooldowns only ever extend.
func (e *Engagement) retreatLocked(ctx context.Context, reason string, now time.Time) []func() {
	origin, hasThreat := e.threatOriginLocked()
	var fx []func()
	if e.session != nil {
		fx = e.endLocked(OutcomeRetreat, now)
	}

	until := now.Add(e.cooldownFor(reason))
	if until.After(e.retreat.until) {
		e.retreat.until = until
	}
	e.retreat.reason = reason
	e.retreat.deadline = now.Add(e.cfg.RetreatMoveTimeout)
	e.retreat.seq++
	seq := e.retreat.seq

	e.logger.Info("retreating",
		zap.String("reason", reason),
		zap.Time("cooldown_until", e.retreat.until),
	)

	if !hasThreat {
		e.state = StateIdle
		return fx
	}
	e.state = StateRetreating
	dest := RetreatPoint(e.world.Vitals().Position, origin, e.cfg.RetreatDistance)
	return append(fx, e.moveEffect(ctx, dest, e.cfg.RetreatMoveTimeout, func() { e.finishRetreat(seq) }))
}

func (e *Engagement) finishRetreat(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRetreating && e.retreat.seq == seq {
		e.state = StateIdle
		e.logger.Debug("retreat complete", zap.String("reason", e.retreat.reason))
	}
}

func (e *Engagement) cooldownFor(reason string) time.Duration {
	if d, ok := e.cfg.RetreatCooldowns[reason]; ok {
		return d
	}
	if d, ok := DefaultRetreatCooldowns()[reason]; ok {
		return d
	}
	return DefaultRetreatCooldowns()[ReasonTactical]
}

func (e *Engagement) threatOriginLocked() (world.Vec3, bool) {
	if e.session != nil {
		if ent, ok := e.world.Entity(e.session.Target.ID); ok {
			return ent.Position, true
		}
		return e.session.Target.Position, true
	}
	if t, ok := e.lastSnapshot.Highest(); ok {
		return t.Entity.Position, true
	}
	return world.Vec3{}, false
}
