package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/config"
	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/llm"
	"github.com/cory-johannsen/dragonbot/internal/mission"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

const researchReply = "ITEMS: wood, stone, iron_ingot\nNEXT_GOAL: Craft iron tools\nSTRATEGY: Mine first, then hunt."

type recordingChat struct {
	mu    sync.Mutex
	lines []string
}

func (c *recordingChat) SendChat(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
	return nil
}

func (c *recordingChat) contains(sub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

type testBot struct {
	*Bot
	chat *recordingChat
	clk  *clock.Fake
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadFromViper(config.Defaults())
	require.NoError(t, err)
	cfg.Mission.AnnounceDelay = 0
	cfg.Mission.RestartDelay = 0
	cfg.Mission.RestartInviteDelay = 0
	cfg.Bot.ChatHistoryCap = 3
	return cfg
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := testConfig(t)
	chat := &recordingChat{}
	b, err := New(cfg, Deps{
		Events:    event.NewDispatcher(event.Options{}, clk, logger),
		World:     world.NewStore(clk, logger),
		Chat:      chat,
		Generator: llm.NewLogged(llm.Static{Text: researchReply}, 10, clk, logger),
		Clock:     clk,
		Logger:    logger,
	})
	require.NoError(t, err)
	return &testBot{Bot: b, chat: chat, clk: clk}
}

func (tb *testBot) dispatch(name string, args map[string]any) {
	tb.Events.Dispatch(context.Background(), name, args)
}

func TestBot_PlayerJoinStartsMission(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("player_joined", map[string]any{"id": "p1", "name": "alice"})

	assert.Equal(t, 1, tb.World.PlayerCount())
	assert.Eventually(t, func() bool {
		return tb.Mission.Status().Phase == mission.PhasePreparation
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return tb.chat.contains("Hi alice!") }, 2*time.Second, 10*time.Millisecond)
	st := tb.Mission.Status()
	assert.Equal(t, "Craft iron tools", st.Goal)
	assert.Equal(t, "alice", st.StartedBy)
	assert.NotEmpty(t, tb.Status().LLM, "research calls are recorded")
}

func TestBot_OwnJoinDoesNotStartMission(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("player_joined", map[string]any{"id": "bot", "name": tb.cfg.Bot.Username})

	assert.False(t, tb.Mission.Status().Started)
	assert.Empty(t, roster{store: tb.World, self: tb.cfg.Bot.Username}.PlayerNames())
}

func TestBot_MalformedPayloadIsDroppedWithoutError(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("player_joined", map[string]any{"uuid": "x"})
	tb.dispatch("entity_spawned", map[string]any{"id": "e1", "type": "zombie"})
	tb.dispatch("attributes_update", map[string]any{"mana": 3.0})

	assert.Equal(t, 0, tb.World.PlayerCount())
	assert.Equal(t, 0, tb.World.EntityCount())
	assert.Zero(t, tb.Events.Stats().Errors)
}

func TestBot_ChatCommands(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("chat", map[string]any{"username": "alice", "message": "!mission pause"})
	assert.False(t, tb.Mission.Status().Active)
	assert.True(t, tb.chat.contains("Mission paused."))

	tb.dispatch("chat", map[string]any{"username": "alice", "message": "!mission status"})
	assert.True(t, tb.chat.contains("Phase: waiting (paused)"))

	tb.dispatch("chat", map[string]any{"username": "alice", "message": "!combat status"})
	assert.True(t, tb.chat.contains("Combat: IDLE"))
}

func TestBot_OwnChatIsNotACommand(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("chat", map[string]any{"username": tb.cfg.Bot.Username, "message": "!mission pause"})
	assert.True(t, tb.Mission.Status().Active)
}

func TestBot_ChatHistoryIsCapped(t *testing.T) {
	tb := newTestBot(t)

	for _, m := range []string{"one", "two", "three", "four"} {
		tb.dispatch("chat", map[string]any{"username": "alice", "message": m})
	}
	hist := tb.ChatHistory()
	require.Len(t, hist, 3)
	assert.Equal(t, "two", hist[0].Message)
	assert.Equal(t, "four", hist[2].Message)
}

func TestBot_ThreatTickEngagesNearbyZombie(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("position_update", map[string]any{"x": 0.0, "y": 64.0, "z": 0.0})
	tb.dispatch("entity_spawned", map[string]any{
		"id": "z1", "type": "minecraft:zombie",
		"position": map[string]any{"x": 5.0, "y": 64.0, "z": 0.0},
	})
	tb.threatTick(context.Background())

	assert.Equal(t, "LOW", tb.Threat.Last().Level.String())
	assert.Eventually(t, func() bool {
		return tb.Combat.State() == combat.StateInCombat
	}, 2*time.Second, 10*time.Millisecond)

	tb.dispatch("entity_removed", map[string]any{"id": "z1", "reason": "killed"})
	assert.Equal(t, combat.StateIdle, tb.Combat.State())
	assert.Equal(t, 1, tb.Combat.Stats().Wins)
}

func TestBot_DamageDowngradesAndHealthIsTracked(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("attributes_update", map[string]any{"health": 12.0, "food": 18.0})
	v := tb.World.Vitals()
	assert.Equal(t, 12.0, v.Health)
	assert.Equal(t, 18.0, v.Food)
}

func TestBot_InventoryFeedsStatus(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("inventory_changed", map[string]any{
		"items": []any{
			map[string]any{"name": "minecraft:iron_sword", "count": 1.0, "durability": 0.8},
			map[string]any{"name": "bread", "count": 4.0},
		},
		"armor": 0.5,
	})
	st := tb.Status()
	assert.InDelta(t, 0.8, st.Inventory.WeaponDurability, 1e-9)
	assert.InDelta(t, 0.5, st.Inventory.ArmorLevel, 1e-9)
	assert.Equal(t, 4, st.Inventory.HealingItems)
}

func TestBot_ConnectionLifecycle(t *testing.T) {
	tb := newTestBot(t)

	tb.dispatch("connected", nil)
	assert.True(t, tb.Status().Connected)
	tb.dispatch("disconnected", map[string]any{"reason": "eof"})
	assert.False(t, tb.Connected())
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	tb := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNew_SeedsHistory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	clk := clock.NewFake(time.Now())
	b, err := New(testConfig(t), Deps{
		Events:  event.NewDispatcher(event.Options{}, clk, logger),
		World:   world.NewStore(clk, logger),
		History: map[string]combat.TypeStats{"zombie": {Fights: 4, Wins: 3}},
		Clock:   clk,
		Logger:  logger,
	})
	require.NoError(t, err)
	rate, ok := b.Combat.Stats().WinRate("zombie")
	require.True(t, ok)
	assert.InDelta(t, 0.75, rate, 1e-9)
}
