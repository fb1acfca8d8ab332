package bot

import (
	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// TacticScriptSet is the Lua script set holding tactic hooks.
const TacticScriptSet = "tactics"

// ScriptCaller runs a named hook in a script set.
type ScriptCaller interface {
	Call(set, hook string, in map[string]any) (map[string]any, bool)
}

// LuaTactics resolves tactic "x" by calling the Lua hook tactic_x. The hook
// receives the tactic input as a table and returns {action, dx, dy, dz}.
type LuaTactics struct {
	Scripts ScriptCaller
}

// RunTactic implements combat.TacticScript.
func (l LuaTactics) RunTactic(name string, in combat.TacticInput) (combat.TacticOutput, bool) {
	out, ok := l.Scripts.Call(TacticScriptSet, "tactic_"+name, map[string]any{
		"target_type":   in.TargetType,
		"distance":      in.Distance,
		"health_ratio":  in.HealthRatio,
		"attack_range":  in.AttackRange,
		"optimal_range": in.OptimalRange,
		"since_attack":  in.SinceAttack.Seconds(),
		"to_target":     map[string]any{"x": in.ToTarget.X, "y": in.ToTarget.Y, "z": in.ToTarget.Z},
	})
	if !ok {
		return combat.TacticOutput{}, false
	}
	action, _ := out["action"].(string)
	if action == "" {
		return combat.TacticOutput{}, false
	}
	res := combat.TacticOutput{Action: action}
	if dx, ok := event.AsFloat(out["dx"]); ok {
		res.Offset.X = dx
	}
	if dy, ok := event.AsFloat(out["dy"]); ok {
		res.Offset.Y = dy
	}
	if dz, ok := event.AsFloat(out["dz"]); ok {
		res.Offset.Z = dz
	}
	if !res.Offset.Finite() {
		res.Offset = world.Vec3{}
	}
	return res, true
}
