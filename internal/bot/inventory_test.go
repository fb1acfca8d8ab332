package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

func TestInventory_FallbackBeforeFirstUpdate(t *testing.T) {
	var inv Inventory
	assert.Equal(t, fallbackWeapon, inv.WeaponDurability())
	assert.Equal(t, fallbackArmor, inv.ArmorLevel())
	assert.Zero(t, inv.HealingItems())
}

func TestInventory_Update(t *testing.T) {
	var inv Inventory
	require.NoError(t, inv.Update(map[string]any{
		"items": []any{
			map[string]any{"name": "stone_sword", "count": 1.0, "durability": 0.4},
			map[string]any{"name": "diamond_sword", "count": 1.0, "durability": 0.9},
			map[string]any{"name": "cooked_beef", "count": 3.0},
			map[string]any{"name": "golden_apple", "count": 2.0},
			map[string]any{"count": 9.0},
			"junk",
		},
		"armor": 7.0,
	}))
	assert.InDelta(t, 0.9, inv.WeaponDurability(), 1e-9)
	assert.Equal(t, 1.0, inv.ArmorLevel(), "armor is clamped")
	assert.Equal(t, 5, inv.HealingItems())
	assert.Len(t, inv.Items(), 4)
}

func TestInventory_UnarmedAfterUpdate(t *testing.T) {
	var inv Inventory
	require.NoError(t, inv.Update(map[string]any{"items": []any{}}))
	assert.Zero(t, inv.WeaponDurability())
	assert.ErrorIs(t, inv.Update(map[string]any{}), world.ErrMalformedPayload)
}

type fakeScripts struct {
	gotHook string
	gotIn   map[string]any
	out     map[string]any
	ok      bool
}

func (f *fakeScripts) Call(set, hook string, in map[string]any) (map[string]any, bool) {
	f.gotHook = set + "/" + hook
	f.gotIn = in
	return f.out, f.ok
}

func TestLuaTactics_RunTactic(t *testing.T) {
	fs := &fakeScripts{out: map[string]any{"action": "move", "dx": 1.5, "dz": -2.0}, ok: true}
	out, ok := LuaTactics{Scripts: fs}.RunTactic("circle", combat.TacticInput{
		TargetType:  "spider",
		Distance:    4,
		SinceAttack: 1500 * time.Millisecond,
	})
	require.True(t, ok)
	assert.Equal(t, "tactics/tactic_circle", fs.gotHook)
	assert.Equal(t, 1.5, fs.gotIn["since_attack"])
	assert.Equal(t, "move", out.Action)
	assert.Equal(t, world.Vec3{X: 1.5, Z: -2}, out.Offset)
}

func TestLuaTactics_MissingHookOrAction(t *testing.T) {
	_, ok := LuaTactics{Scripts: &fakeScripts{}}.RunTactic("x", combat.TacticInput{})
	assert.False(t, ok)
	_, ok = LuaTactics{Scripts: &fakeScripts{out: map[string]any{"dx": 1.0}, ok: true}}.RunTactic("x", combat.TacticInput{})
	assert.False(t, ok)
}
