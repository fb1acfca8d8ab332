package mission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
)

var victoryLines = []string{
	"The Ender Dragon is defeated!",
	"GG everyone, that was the whole game.",
	"Thanks for watching me play.",
}

// celebrate announces the victory with pauses between lines, records the
// completion and later invites a restart. A restart mid-sequence stops it.
func (m *Machine) celebrate(ctx context.Context, epoch uint64) {
	for i, line := range victoryLines {
		if i > 0 {
			if err := clock.Sleep(ctx, m.cfg.AnnounceDelay); err != nil {
				return
			}
		}
		if !m.current(epoch) {
			return
		}
		m.say(ctx, line)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	c := Completion{
		RunID:         m.runID,
		StartedAt:     m.startedAt,
		CompletedAt:   now,
		Duration:      now.Sub(m.startedAt),
		Goal:          m.research.CurrentGoal,
		Strategy:      m.research.StrategySummary,
		Items:         append([]string(nil), m.research.RequiredItems...),
		ResearchKind:  m.researchKind,
		CombatsWon:    m.combatsWon,
		CombatsFought: m.combatsFought,
	}
	m.logLocked("mission complete in %s after %d fights", c.Duration.Round(time.Second), c.CombatsFought)
	m.mu.Unlock()

	m.logger.Info("mission complete",
		zap.String("run", c.RunID),
		zap.Duration("duration", c.Duration),
		zap.Int("fights", c.CombatsFought),
		zap.String("research", string(c.ResearchKind)),
	)
	if m.learner != nil {
		m.learner.LearnFromMissionCompletion(c)
	}

	if err := clock.Sleep(ctx, m.cfg.RestartInviteDelay); err != nil {
		return
	}
	if m.current(epoch) {
		m.say(ctx, fmt.Sprintf("Want another run? Say %q.", "!mission reset"))
	}
}
