package mission

import "strings"

// Phase is a stage of the mission lifecycle.
type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhaseResearch    Phase = "research"
	PhasePreparation Phase = "preparation"
	PhaseNether      Phase = "nether"
	PhaseStronghold  Phase = "stronghold"
	PhaseEndFight    Phase = "end_fight"
	PhaseVictory     Phase = "victory"
)

var phaseOrder = []Phase{
	PhaseWaiting, PhaseResearch, PhasePreparation, PhaseNether, PhaseStronghold, PhaseEndFight, PhaseVictory,
}

// Phases returns every phase in intended order.
func Phases() []Phase {
	return append([]Phase(nil), phaseOrder...)
}

// ParsePhase accepts a phase name in any case; "end-fight" and "end fight" are accepted as end_fight.
func ParsePhase(s string) (Phase, bool) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	for _, p := range phaseOrder {
		if string(p) == n {
			return p, true
		}
	}
	return "", false
}

// Index returns the phase's position in the lifecycle, or -1 if unknown.
func (p Phase) Index() int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Task is the human-readable current task for the phase.
func (p Phase) Task() string {
	switch p {
	case PhaseResearch:
		return "researching a strategy"
	case PhasePreparation:
		return "gathering resources"
	case PhaseNether:
		return "exploring the nether"
	case PhaseStronghold:
		return "searching for the stronghold"
	case PhaseEndFight:
		return "fighting the ender dragon"
	case PhaseVictory:
		return "celebrating"
	}
	return "waiting for a player"
}
