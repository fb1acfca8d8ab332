package threat

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/dragonbot/internal/world"
)

// Profile describes one hostile entity type.
type Profile struct {
	Type string `yaml:"type"`
	// Threat is the base threat before distance and health scaling.
	Threat float64 `yaml:"threat"`
	// LootValue estimates what defeating the entity is worth, in [0,1].
	LootValue float64 `yaml:"loot_value"`
	// OptimalRange is the distance at which the bot fights this type best.
	OptimalRange float64 `yaml:"optimal_range"`
}

// Table is the hostile-type classification and priority list.
//
// Invariant: Hostiles keys are normalized entity types.
type Table struct {
	DefaultThreat float64
	Priority      []string
	Hostiles      map[string]Profile
}

type yamlTable struct {
	DefaultThreat float64   `yaml:"default_threat"`
	Priority      []string  `yaml:"priority"`
	Hostiles      []Profile `yaml:"hostiles"`
}

type yamlTableFile struct {
	Table *yamlTable `yaml:"table"`
}

// Profile returns the profile for entityType, if the type is hostile.
func (t *Table) Profile(entityType string) (Profile, bool) {
	p, ok := t.Hostiles[world.NormalizeType(entityType)]
	return p, ok
}

// BaseThreat returns the type's base threat, or DefaultThreat for types without an explicit value.
func (t *Table) BaseThreat(entityType string) float64 {
	if p, ok := t.Profile(entityType); ok && p.Threat > 0 {
		return p.Threat
	}
	return t.DefaultThreat
}

// PriorityRank returns the index of entityType in the priority list, or -1.
func (t *Table) PriorityRank(entityType string) int {
	et := world.NormalizeType(entityType)
	for i, p := range t.Priority {
		if p == et {
			return i
		}
	}
	return -1
}

// Validate checks that every profile is named, non-negative and unique.
func (t *Table) Validate() error {
	if t.DefaultThreat < 0 {
		return errors.New("threat.Table: default_threat must not be negative")
	}
	for k, p := range t.Hostiles {
		if k == "" {
			return errors.New("threat.Table: hostile with empty type")
		}
		if p.Threat < 0 || p.LootValue < 0 || p.LootValue > 1 || p.OptimalRange < 0 {
			return fmt.Errorf("threat.Table: hostile %q has out-of-range values", k)
		}
	}
	for _, p := range t.Priority {
		if _, ok := t.Hostiles[p]; !ok {
			return fmt.Errorf("threat.Table: priority type %q is not hostile", p)
		}
	}
	return nil
}

// LoadTable reads a hostile table from a YAML file with a top-level "table" key.
//
// Postcondition: Returns a validated Table or a non-nil error.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("threat.LoadTable: reading %q: %w", path, err)
	}
	var f yamlTableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("threat.LoadTable: parsing %q: %w", path, err)
	}
	if f.Table == nil {
		return nil, fmt.Errorf("threat.LoadTable: %s missing top-level 'table' key", path)
	}
	t := &Table{
		DefaultThreat: f.Table.DefaultThreat,
		Hostiles:      make(map[string]Profile, len(f.Table.Hostiles)),
	}
	for _, p := range f.Table.Hostiles {
		p.Type = world.NormalizeType(p.Type)
		if _, dup := t.Hostiles[p.Type]; dup {
			return nil, fmt.Errorf("threat.LoadTable: duplicate hostile %q", p.Type)
		}
		t.Hostiles[p.Type] = p
	}
	for _, p := range f.Table.Priority {
		t.Priority = append(t.Priority, world.NormalizeType(p))
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// DefaultTable returns the built-in hostile table.
func DefaultTable() *Table {
	profiles := []Profile{
		{Type: "zombie", Threat: 30, LootValue: 0.2, OptimalRange: 2.5},
		{Type: "husk", Threat: 30, LootValue: 0.2, OptimalRange: 2.5},
		{Type: "drowned", Threat: 30, LootValue: 0.3, OptimalRange: 2.5},
		{Type: "zombie_villager", Threat: 30, LootValue: 0.2, OptimalRange: 2.5},
		{Type: "skeleton", Threat: 35, LootValue: 0.4, OptimalRange: 2.0},
		{Type: "stray", Threat: 35, LootValue: 0.4, OptimalRange: 2.0},
		{Type: "spider", Threat: 25, LootValue: 0.3, OptimalRange: 2.5},
		{Type: "cave_spider", Threat: 30, LootValue: 0.2, OptimalRange: 2.5},
		{Type: "creeper", Threat: 50, LootValue: 0.3, OptimalRange: 3.0},
		{Type: "enderman", Threat: 40, LootValue: 0.8, OptimalRange: 2.5},
		{Type: "witch", Threat: 35, LootValue: 0.5, OptimalRange: 2.0},
		{Type: "blaze", Threat: 45, LootValue: 0.9, OptimalRange: 2.0},
		{Type: "ghast", Threat: 40, LootValue: 0.5, OptimalRange: 8.0},
		{Type: "wither_skeleton", Threat: 50, LootValue: 0.6, OptimalRange: 2.5},
		{Type: "piglin_brute", Threat: 55, LootValue: 0.4, OptimalRange: 2.5},
		{Type: "hoglin", Threat: 40, LootValue: 0.4, OptimalRange: 2.5},
		{Type: "magma_cube", Threat: 20, LootValue: 0.3, OptimalRange: 2.5},
		{Type: "slime", Threat: 15, LootValue: 0.2, OptimalRange: 2.5},
		{Type: "phantom", Threat: 30, LootValue: 0.3, OptimalRange: 2.5},
		{Type: "silverfish", Threat: 10, LootValue: 0.0, OptimalRange: 2.0},
		{Type: "endermite", Threat: 10, LootValue: 0.0, OptimalRange: 2.0},
		{Type: "pillager", Threat: 35, LootValue: 0.3, OptimalRange: 2.5},
		{Type: "vindicator", Threat: 45, LootValue: 0.3, OptimalRange: 2.5},
		{Type: "shulker", Threat: 35, LootValue: 0.5, OptimalRange: 2.5},
		{Type: "end_crystal", Threat: 45, LootValue: 0.1, OptimalRange: 4.0},
		{Type: "ender_dragon", Threat: 100, LootValue: 1.0, OptimalRange: 4.0},
	}
	t := &Table{
		DefaultThreat: 20,
		Priority:      []string{"end_crystal", "ender_dragon", "creeper", "blaze", "skeleton", "witch", "wither_skeleton"},
		Hostiles:      make(map[string]Profile, len(profiles)),
	}
	for _, p := range profiles {
		t.Hostiles[p.Type] = p
	}
	return t
}
