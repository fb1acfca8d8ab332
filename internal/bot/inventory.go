package bot

import (
	"math"
	"strings"
	"sync"

	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// Values reported before the first inventory_changed event.
const (
	fallbackWeapon = 0.3
	fallbackArmor  = 0.3
)

var weaponSuffixes = []string{"_sword", "_axe", "bow", "crossbow", "trident"}

var healingItems = map[string]bool{
	"golden_apple":           true,
	"enchanted_golden_apple": true,
	"cooked_beef":            true,
	"cooked_porkchop":        true,
	"cooked_chicken":         true,
	"cooked_mutton":          true,
	"baked_potato":           true,
	"bread":                  true,
	"potion_healing":         true,
	"potion_regeneration":    true,
}

// Item is one inventory stack.
type Item struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Durability float64 `json:"durability,omitempty"`
}

// Inventory tracks the last reported inventory and summarizes it for risk scoring.
type Inventory struct {
	mu    sync.RWMutex
	known bool
	items []Item
	armor float64
}

// Update replaces the inventory from an inventory_changed payload:
// {items: [{name, count, durability}], armor}. Durability and armor are in [0,1].
func (inv *Inventory) Update(args map[string]any) error {
	raw, ok := args["items"].([]any)
	if !ok {
		return world.ErrMalformedPayload
	}
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		it := Item{Name: world.NormalizeType(name), Count: 1, Durability: 1}
		if c, ok := event.AsFloat(m["count"]); ok {
			it.Count = int(c)
		}
		if d, ok := event.AsFloat(m["durability"]); ok {
			it.Durability = clamp01(d)
		}
		items = append(items, it)
	}
	armor, _ := event.AsFloat(args["armor"])

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.known = true
	inv.items = items
	inv.armor = clamp01(armor)
	return nil
}

// Items returns a copy of the current stacks.
func (inv *Inventory) Items() []Item {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return append([]Item(nil), inv.items...)
}

// WeaponDurability is the best durability among carried weapons, zero when unarmed.
func (inv *Inventory) WeaponDurability() float64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	if !inv.known {
		return fallbackWeapon
	}
	best := 0.0
	for _, it := range inv.items {
		if isWeapon(it.Name) && it.Count > 0 {
			best = max(best, it.Durability)
		}
	}
	return best
}

// ArmorLevel is the reported armor coverage.
func (inv *Inventory) ArmorLevel() float64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	if !inv.known {
		return fallbackArmor
	}
	return inv.armor
}

// HealingItems counts food and potions that restore health.
func (inv *Inventory) HealingItems() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	n := 0
	for _, it := range inv.items {
		if healingItems[it.Name] {
			n += max(it.Count, 0)
		}
	}
	return n
}

func isWeapon(name string) bool {
	for _, s := range weaponSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
