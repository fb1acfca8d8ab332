package mission

import (
	"fmt"
	"strings"
)

// Research is what the bot learned about how to win.
type Research struct {
	KnowledgeText   string   `json:"knowledge_text"`
	StrategySummary string   `json:"strategy_summary"`
	RequiredItems   []string `json:"required_items"`
	CurrentGoal     string   `json:"current_goal"`
}

// ResultKind tags how a research result was obtained.
type ResultKind string

const (
	ResultParsed   ResultKind = "parsed"
	ResultFallback ResultKind = "fallback"
)

// ResearchResult is a tagged research outcome. Research is always populated.
type ResearchResult struct {
	Kind     ResultKind
	Research Research
	// Err is the failure that forced the fallback, if any.
	Err error
}

// FallbackResearch is the static strategy used when generation or parsing fails.
func FallbackResearch() Research {
	return Research{
		KnowledgeText:   "Gather wood and stone, craft iron gear, collect blaze rods in the nether, craft eyes of ender, find the stronghold and defeat the dragon.",
		StrategySummary: "Gear up with iron, get blaze rods and ender pearls, locate the stronghold, destroy the end crystals, then fight the dragon.",
		RequiredItems:   []string{"wood", "stone", "iron_ingot", "food", "blaze_rod", "ender_pearl", "bow", "arrow"},
		CurrentGoal:     "Gather basic resources",
	}
}

const knowledgePrompt = `Explain, step by step, how to defeat the Ender Dragon in survival mode starting with nothing. ` +
	`Cover resources, equipment, the nether, finding the stronghold and the final fight.`

func extractionPrompt(knowledge string) string {
	return fmt.Sprintf(`From the guide below, answer with exactly three lines:
ITEMS: comma separated list of required items
NEXT_GOAL: the first concrete goal
STRATEGY: a one sentence summary

Guide:
%s`, knowledge)
}

// ParseResearch extracts items, goal and summary from ITEMS:, NEXT_GOAL: and STRATEGY:
// lines. It reports false unless both ITEMS and NEXT_GOAL yield a value.
func ParseResearch(text string) (Research, bool) {
	var r Research
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimLeft(strings.TrimSpace(raw), "-*• ")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), " ", "_")) {
		case "ITEMS":
			r.RequiredItems = r.RequiredItems[:0]
			for _, item := range strings.Split(value, ",") {
				item = strings.ToLower(strings.TrimSpace(item))
				item = strings.ReplaceAll(item, " ", "_")
				if item != "" {
					r.RequiredItems = append(r.RequiredItems, item)
				}
			}
		case "NEXT_GOAL":
			r.CurrentGoal = value
		case "STRATEGY":
			r.StrategySummary = value
		}
	}
	if len(r.RequiredItems) == 0 || r.CurrentGoal == "" {
		return Research{}, false
	}
	if r.StrategySummary == "" {
		r.StrategySummary = FallbackResearch().StrategySummary
	}
	return r, true
}
