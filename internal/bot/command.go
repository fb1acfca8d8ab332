package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/mission"
)

// CommandPrefix marks chat lines addressed to the bot.
const CommandPrefix = "!"

// ParsedCommand is a chat command split into words.
type ParsedCommand struct {
	// Group is the first word without the prefix, lowercased ("mission", "combat").
	Group string
	// Verb is the second word, lowercased; empty when absent.
	Verb string
	Args []string
}

// ParseCommand splits a chat line into a command.
//
// Postcondition: Returns false when line does not start with CommandPrefix or names nothing.
func ParseCommand(line string) (ParsedCommand, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, CommandPrefix) {
		return ParsedCommand{}, false
	}
	words := strings.Fields(strings.TrimPrefix(line, CommandPrefix))
	if len(words) == 0 {
		return ParsedCommand{}, false
	}
	pc := ParsedCommand{Group: strings.ToLower(words[0])}
	if len(words) > 1 {
		pc.Verb = strings.ToLower(words[1])
		pc.Args = words[2:]
	}
	return pc, true
}

// runCommand executes a chat command from sender.
//
// Postcondition: Returns false when the command is not recognized.
func (b *Bot) runCommand(ctx context.Context, sender string, pc ParsedCommand) bool {
	switch pc.Group {
	case "mission":
		switch pc.Verb {
		case "start", "resume":
			b.Mission.Start(ctx, sender)
		case "pause":
			b.Mission.Pause()
			b.say(ctx, "Mission paused.")
		case "reset", "restart":
			b.Mission.Restart(ctx)
		case "status", "":
			b.say(ctx, missionSummary(b.Mission.Status()))
		default:
			return false
		}
	case "combat":
		switch pc.Verb {
		case "status", "":
			b.say(ctx, combatSummary(b.Combat.Status()))
		case "retreat":
			b.Combat.ForceRetreat(ctx, combat.ReasonTactical)
		default:
			return false
		}
	case "help":
		b.say(ctx, "Commands: !mission start|pause|reset|status, !combat status|retreat")
	default:
		return false
	}
	b.logger.Info("chat command",
		zap.String("sender", sender),
		zap.String("command", pc.Group),
		zap.String("verb", pc.Verb),
	)
	return true
}

func missionSummary(s mission.Status) string {
	state := "active"
	if !s.Active {
		state = "paused"
	}
	msg := fmt.Sprintf("Phase: %s (%s) | Task: %s", s.Phase, state, s.CurrentTask)
	if s.Goal != "" {
		msg += " | Goal: " + s.Goal
	}
	return msg
}

func combatSummary(s combat.Status) string {
	msg := fmt.Sprintf("Combat: %s | W/L/E %d/%d/%d | streak %d",
		s.State, s.Stats.Wins, s.Stats.Losses, s.Stats.Escapes, s.Stats.KillStreak)
	if s.Target != nil {
		msg += fmt.Sprintf(" | target %s at %.1f", s.Target.Type, s.Target.Distance)
	}
	if s.CooldownRemaining > 0 {
		msg += fmt.Sprintf(" | cooldown %s", s.CooldownRemaining.Round(100*time.Millisecond))
	}
	return msg
}
