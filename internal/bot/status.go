package bot

import (
	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/llm"
	"github.com/cory-johannsen/dragonbot/internal/mission"
	"github.com/cory-johannsen/dragonbot/internal/threat"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// InventoryStatus is the scoring view of the inventory.
type InventoryStatus struct {
	WeaponDurability float64 `json:"weapon_durability"`
	ArmorLevel       float64 `json:"armor_level"`
	HealingItems     int     `json:"healing_items"`
	Items            []Item  `json:"items"`
}

// Snapshot is a point-in-time view of the whole bot.
type Snapshot struct {
	Username    string          `json:"username"`
	Connected   bool            `json:"connected"`
	Vitals      world.Vitals    `json:"vitals"`
	Players     []world.Player  `json:"players"`
	Entities    int             `json:"entities"`
	ThreatLevel string          `json:"threat_level"`
	Threats     []threat.Threat `json:"threats"`
	Combat      combat.Status   `json:"combat"`
	Mission     mission.Status  `json:"mission"`
	Inventory   InventoryStatus `json:"inventory"`
	Events      event.Stats     `json:"events"`
	Chat        []ChatMessage   `json:"chat"`

	// LLM holds the latest text-generator calls when the generator records them.
	LLM []llm.Interaction `json:"llm,omitempty"`
}

// statusInteractions is how many generator calls a Snapshot carries.
const statusInteractions = 10

// Status collects a Snapshot from every component.
func (b *Bot) Status() Snapshot {
	last := b.Threat.Last()
	snap := Snapshot{
		Username:    b.cfg.Bot.Username,
		Connected:   b.Connected(),
		Vitals:      b.World.Vitals(),
		Players:     b.World.Players(),
		Entities:    b.World.EntityCount(),
		ThreatLevel: last.Level.String(),
		Threats:     last.Threats,
		Combat:      b.Combat.Status(),
		Mission:     b.Mission.Status(),
		Inventory: InventoryStatus{
			WeaponDurability: b.Inventory.WeaponDurability(),
			ArmorLevel:       b.Inventory.ArmorLevel(),
			HealingItems:     b.Inventory.HealingItems(),
			Items:            b.Inventory.Items(),
		},
		Events: b.Events.Stats(),
		Chat:   b.ChatHistory(),
	}
	if b.llmLog != nil {
		snap.LLM = b.llmLog.Interactions(statusInteractions)
	}
	return snap
}

// Snapshot returns Status as an untyped value for JSON endpoints.
func (b *Bot) Snapshot() any { return b.Status() }

// Recommend scores engaging entityID without changing combat state.
func (b *Bot) Recommend(entityID string) (combat.Recommendation, error) {
	return b.Combat.Recommend(entityID)
}
