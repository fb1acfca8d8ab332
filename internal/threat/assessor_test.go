package threat_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/threat"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

func newAssessor(t *testing.T) (*threat.Assessor, *world.Store) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	store := world.NewStore(clk, zaptest.NewLogger(t))
	a := threat.NewAssessor(threat.DefaultTable(), threat.DefaultThresholds(), 20, store, clk, zaptest.NewLogger(t))
	return a, store
}

func spawn(s *world.Store, id, typ string, x float64) {
	s.ApplyEntitySpawn(world.EntitySpawn{ID: id, Type: typ, Position: world.Vec3{X: x}})
}

func TestClassifyHostility(t *testing.T) {
	a, _ := newAssessor(t)
	assert.True(t, a.ClassifyHostility("minecraft:zombie"))
	assert.True(t, a.ClassifyHostility("Creeper"))
	assert.False(t, a.ClassifyHostility("cow"))
	assert.False(t, a.ClassifyHostility(""))
}

func TestScoreEntity_ZombieAtFiveBlocks(t *testing.T) {
	a, store := newAssessor(t)
	spawn(store, "z1", "minecraft:zombie", 5)

	assert.Equal(t, 23.0, a.ScoreEntity("minecraft:zombie", 5, 20, 20))

	snap := a.Assess()
	require.Len(t, snap.Threats, 1)
	assert.Equal(t, 23.0, snap.Threats[0].Score)
	assert.Equal(t, threat.LevelLow, snap.Level)
	assert.True(t, snap.Changed)
}

func TestScoreEntity_UnknownTypeUsesDefault(t *testing.T) {
	a, _ := newAssessor(t)
	assert.Equal(t, 20.0, a.ScoreEntity("unknown_beast", 0, 20, 20))
}

func TestLevelFromScore_InclusiveLowerBounds(t *testing.T) {
	th := threat.DefaultThresholds()
	cases := map[float64]threat.Level{
		-5: threat.LevelNone, 19.999: threat.LevelNone, 20: threat.LevelLow,
		39.9: threat.LevelLow, 40: threat.LevelMedium, 60: threat.LevelHigh,
		79.999: threat.LevelHigh, 80: threat.LevelCritical, 1e9: threat.LevelCritical,
	}
	for score, want := range cases {
		assert.Equal(t, want, th.LevelFromScore(score), "score %v", score)
	}
	assert.Equal(t, threat.LevelNone, th.LevelFromScore(math.NaN()))
}

func TestAssess_SortsAndFiltersByRange(t *testing.T) {
	a, store := newAssessor(t)
	spawn(store, "far", "creeper", 25)
	spawn(store, "z", "zombie", 3)
	spawn(store, "c", "creeper", 10)
	spawn(store, "cow", "cow", 1)

	snap := a.Assess()
	require.Len(t, snap.Threats, 2)
	assert.Equal(t, "z", snap.Threats[0].Entity.ID)
	assert.Equal(t, "c", snap.Threats[1].Entity.ID)
	assert.GreaterOrEqual(t, snap.Threats[0].Score, snap.Threats[1].Score)
}

func TestAssess_NotifiesOnlyOnLevelChange(t *testing.T) {
	a, store := newAssessor(t)
	var changes [][2]threat.Level
	a.OnLevelChange(func(prev, next threat.Level, _ threat.Snapshot) {
		changes = append(changes, [2]threat.Level{prev, next})
	})

	a.Assess()
	spawn(store, "z", "zombie", 5)
	a.Assess()
	a.Assess()
	store.ApplyEntityRemove("z")
	a.Assess()

	assert.Equal(t, [][2]threat.Level{
		{threat.LevelNone, threat.LevelLow},
		{threat.LevelLow, threat.LevelNone},
	}, changes)
}

func TestAssess_HurtBotPerceivesMoreDanger(t *testing.T) {
	a, store := newAssessor(t)
	spawn(store, "z", "zombie", 5)
	healthy := a.Assess().MaxScore()
	h := 4.0
	store.ApplyAttributeUpdate(world.AttributeUpdate{Health: &h})
	hurt := a.Assess().MaxScore()
	assert.Greater(t, hurt, healthy)
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
table:
  default_threat: 15
  priority: [creeper]
  hostiles:
    - type: minecraft:creeper
      threat: 50
      loot_value: 0.3
      optimal_range: 3
    - type: zombie
      threat: 30
`), 0644))

	table, err := threat.LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 15.0, table.DefaultThreat)
	assert.Equal(t, 50.0, table.BaseThreat("creeper"))
	assert.Equal(t, 0, table.PriorityRank("minecraft:creeper"))
	assert.Equal(t, -1, table.PriorityRank("zombie"))
}

func TestLoadTable_Errors(t *testing.T) {
	dir := t.TempDir()
	missingKey := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(missingKey, []byte("hostiles: []\n"), 0644))
	_, err := threat.LoadTable(missingKey)
	assert.Error(t, err)

	badPriority := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(badPriority, []byte("table:\n  priority: [cow]\n  hostiles: []\n"), 0644))
	_, err = threat.LoadTable(badPriority)
	assert.Error(t, err)

	_, err = threat.LoadTable(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultTable_Valid(t *testing.T) {
	assert.NoError(t, threat.DefaultTable().Validate())
}

func TestProperty_ScoreFiniteAndNonNegative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := rapid.Float64Range(0, 200).Draw(rt, "base")
		distance := rapid.Float64Range(0, 100).Draw(rt, "distance")
		maxRange := rapid.Float64Range(0, 64).Draw(rt, "maxRange")
		health := rapid.Float64Range(-10, 40).Draw(rt, "health")
		maxHealth := rapid.Float64Range(0, 40).Draw(rt, "maxHealth")
		s := threat.Score(base, distance, maxRange, health, maxHealth)
		assert.False(rt, math.IsNaN(s) || math.IsInf(s, 0))
		assert.GreaterOrEqual(rt, s, 0.0)
		assert.Equal(rt, math.Round(s), s)
	})
}

func TestProperty_ZeroDistanceIsSafe(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRange := rapid.Float64Range(0, 64).Draw(rt, "maxRange")
		s := threat.Score(30, 0, maxRange, 20, 20)
		assert.False(rt, math.IsNaN(s) || math.IsInf(s, 0))
		assert.GreaterOrEqual(rt, s, 0.0)
	})
}

func TestProperty_HealthFactorNonIncreasing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxHealth := rapid.Float64Range(1, 40).Draw(rt, "maxHealth")
		r1 := rapid.Float64Range(0, 1).Draw(rt, "r1")
		r2 := rapid.Float64Range(r1, 1).Draw(rt, "r2")
		assert.GreaterOrEqual(rt, threat.HealthFactor(r1*maxHealth, maxHealth), threat.HealthFactor(r2*maxHealth, maxHealth))
	})
}

func TestProperty_LevelFromScoreIsTotal(t *testing.T) {
	th := threat.DefaultThresholds()
	rapid.Check(t, func(rt *rapid.T) {
		score := rapid.Float64().Draw(rt, "score")
		l := th.LevelFromScore(score)
		assert.GreaterOrEqual(rt, int(l), int(threat.LevelNone))
		assert.LessOrEqual(rt, int(l), int(threat.LevelCritical))
	})
}
