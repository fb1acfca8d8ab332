package combat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseableStrategy is returned when generated text has no recognizable approach.
var ErrUnparseableStrategy = errors.New("combat: strategy text has no valid APPROACH line")

// TextGenerator produces free text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMSource asks a text generator for a strategy and parses the reply.
type LLMSource struct {
	gen TextGenerator
}

// NewLLMSource wraps gen as a StrategySource.
func NewLLMSource(gen TextGenerator) *LLMSource {
	return &LLMSource{gen: gen}
}

// Strategy implements StrategySource.
func (s *LLMSource) Strategy(ctx context.Context, req StrategyRequest) (Strategy, error) {
	text, err := s.gen.Generate(ctx, StrategyPrompt(req))
	if err != nil {
		return Strategy{}, fmt.Errorf("generating strategy: %w", err)
	}
	return ParseStrategy(text)
}

// StrategyPrompt renders the request as a prompt asking for a line-prefixed answer.
func StrategyPrompt(req StrategyRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are fighting a %s at %.1f blocks.\n", req.TargetType, req.Distance)
	fmt.Fprintf(&b, "Your health is %.0f%%. Threat level is %s with %d hostile(s) nearby.\n",
		req.HealthRatio*100, req.Level, req.Hostiles)
	b.WriteString("Answer with exactly these lines:\n")
	b.WriteString("APPROACH: one of AGGRESSIVE, DEFENSIVE, BALANCED, RETREAT\n")
	b.WriteString("TACTICS: comma separated from direct_attack, strafe, keep_distance, close_distance, hit_and_run, target_crystals, tactical_retreat\n")
	b.WriteString("RISK: low, medium or high\n")
	b.WriteString("OUTCOME: a few words\n")
	return b.String()
}

// ParseStrategy extracts a Strategy from line-prefixed text. Only APPROACH is required.
func ParseStrategy(text string) (Strategy, error) {
	var s Strategy
	found := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimLeft(strings.TrimSpace(raw), "-*• ")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "APPROACH":
			if a, ok := ParseApproach(value); ok {
				s.Approach = a
				found = true
			}
		case "TACTICS":
			for _, t := range strings.Split(value, ",") {
				t = strings.ToLower(strings.TrimSpace(t))
				t = strings.ReplaceAll(t, " ", "_")
				if t != "" {
					s.Tactics = append(s.Tactics, t)
				}
			}
		case "RISK":
			s.Risk = strings.ToLower(value)
		case "OUTCOME", "EXPECTED_OUTCOME":
			s.ExpectedOutcome = value
		}
	}
	if !found {
		return Strategy{}, ErrUnparseableStrategy
	}
	return s, nil
}
