package mission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dragonbot/internal/clock"
)

func TestMachine_StartsInWaiting(t *testing.T) {
	h := newHarness(t)
	st := h.m.Status()
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.True(t, st.Active)
	assert.False(t, st.Started)
	assert.Empty(t, st.Progress)
}

func TestMachine_FirstJoinRunsResearchIntoPreparation(t *testing.T) {
	h := newHarness(t, "long guide text", goodExtraction)

	assert.True(t, h.m.OnPlayerJoined(context.Background(), "alice"))

	st := h.m.Status()
	assert.Equal(t, PhasePreparation, st.Phase)
	assert.Equal(t, ResultParsed, st.ResearchKind)
	assert.Equal(t, "Mine some iron", st.Goal)
	assert.Equal(t, "alice", st.StartedBy)
	assert.NotEmpty(t, st.RunID)
	require.Len(t, h.gatherer.calls, 1)
	assert.Equal(t, []string{"iron_ingot", "blaze_rod"}, h.gatherer.calls[0])
	assert.Contains(t, h.gen.prompts[1], "long guide text")
	assert.Equal(t, []string{
		"Hi alice! I'm going to defeat the Ender Dragon. Researching a plan first.",
		"Goal: Mine some iron",
	}, h.chat.all())
}

func TestMachine_JoinStartsAtMostOnce(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.m.OnPlayerJoined(context.Background(), "alice"))
	assert.False(t, h.m.OnPlayerJoined(context.Background(), "bob"))
	assert.Equal(t, "alice", h.m.Status().StartedBy)
}

func TestMachine_GeneratorFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.m.OnPlayerJoined(context.Background(), "alice")

	st := h.m.Status()
	assert.Equal(t, PhasePreparation, st.Phase)
	assert.Equal(t, ResultFallback, st.ResearchKind)
	assert.Equal(t, FallbackResearch().CurrentGoal, st.Goal)
	assert.Contains(t, h.chat.all(), "Research hit a snag, using basics.")
	assert.Len(t, h.gen.prompts, 1, "no retry after failure")
}

func TestMachine_UnparseableExtractionKeepsKnowledge(t *testing.T) {
	h := newHarness(t, "guide", "I have no idea")
	h.m.OnPlayerJoined(context.Background(), "alice")

	h.m.mu.Lock()
	research := h.m.research
	h.m.mu.Unlock()
	assert.Equal(t, "guide", research.KnowledgeText)
	assert.Equal(t, FallbackResearch().RequiredItems, research.RequiredItems)
}

func TestMachine_NilGeneratorFallsBack(t *testing.T) {
	h := newHarness(t)
	h.m.gen = nil
	res := h.m.ConductResearch(context.Background())
	assert.Equal(t, ResultFallback, res.Kind)
	assert.ErrorIs(t, res.Err, ErrNoGenerator)
}

func TestMachine_AdvancePhaseInvokesActionsDefensively(t *testing.T) {
	h := newHarness(t)
	nether := &fakeNether{}
	h.m.actions.Nether = nether
	h.m.actions.End = panickyEnd{}
	h.m.OnPlayerJoined(context.Background(), "alice")

	require.NoError(t, h.m.AdvancePhase(context.Background(), PhaseNether))
	assert.Equal(t, 1, nether.calls)
	assert.Equal(t, PhaseNether, h.m.Status().Phase, "action failure does not change the phase")

	require.NoError(t, h.m.AdvancePhase(context.Background(), PhaseStronghold), "absent action is skipped")
	require.NoError(t, h.m.AdvancePhase(context.Background(), PhaseEndFight), "panicking action is contained")
	assert.Equal(t, PhaseEndFight, h.m.Status().Phase)
	assert.Contains(t, h.m.SystemPrompt(), "end_fight")
	assert.Equal(t, h.m.SystemPrompt(), h.prompts.last)
}

func TestMachine_AdvancePhaseRejectsInvalidPhases(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.AdvancePhase(context.Background(), PhaseNether), ErrNotStarted)
	h.m.OnPlayerJoined(context.Background(), "alice")
	assert.ErrorIs(t, h.m.AdvancePhase(context.Background(), PhaseWaiting), ErrUnknownPhase)
	assert.ErrorIs(t, h.m.AdvancePhase(context.Background(), Phase("moon")), ErrUnknownPhase)
}

func TestMachine_PauseDefersPhaseChangeUntilResume(t *testing.T) {
	h := newHarness(t)
	h.m.OnPlayerJoined(context.Background(), "alice")
	h.m.Pause()

	err := h.m.AdvancePhase(context.Background(), PhaseNether)
	assert.ErrorIs(t, err, ErrMissionPaused)
	st := h.m.Status()
	assert.Equal(t, PhasePreparation, st.Phase)
	assert.Equal(t, PhaseNether, st.Pending)

	h.m.Resume(context.Background())
	assert.Equal(t, PhaseNether, h.m.Status().Phase)
}

func TestMachine_PausedMissionIgnoresJoins(t *testing.T) {
	h := newHarness(t)
	h.m.Pause()
	assert.False(t, h.m.OnPlayerJoined(context.Background(), "alice"))
	h.m.Start(context.Background(), "operator")
	assert.Equal(t, "operator", h.m.Status().StartedBy)
}

func TestMachine_DragonKillCelebratesAndRecordsCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.m.OnPlayerJoined(ctx, "alice")
	require.NoError(t, h.m.AdvancePhase(ctx, PhaseStronghold))
	h.m.OnDragonSighted(ctx)
	assert.Equal(t, PhaseEndFight, h.m.Status().Phase)

	h.m.OnCombatEnded(ctx, "end_crystal", true)
	h.m.OnCombatEnded(ctx, "ender_dragon", true)

	assert.Equal(t, PhaseVictory, h.m.Status().Phase)
	chats := h.chat.all()
	for _, line := range victoryLines {
		assert.Contains(t, chats, line)
	}
	assert.Contains(t, chats[len(chats)-1], "!mission reset")
	require.Len(t, h.learner.completions, 1)
	c := h.learner.completions[0]
	assert.Equal(t, 2, c.CombatsWon)
	assert.Equal(t, 2, c.CombatsFought)
	assert.Equal(t, h.m.Status().RunID, c.RunID)
}

func TestMachine_RestartRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.OnPlayerJoined(ctx, "alice")
	firstChats := h.chat.all()
	firstEntry := h.m.Progress()[0]
	firstRun := h.m.Status().RunID

	h.m.Restart(ctx)
	st := h.m.Status()
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.False(t, st.Started)
	assert.Empty(t, st.Goal)
	assert.Empty(t, st.Progress)

	h.chat.lines = nil
	assert.True(t, h.m.OnPlayerJoined(ctx, "alice"))
	assert.Equal(t, firstChats, h.chat.all())
	again := h.m.Progress()[0]
	assert.Equal(t, firstEntry.Phase, again.Phase)
	assert.Equal(t, firstEntry.Message, again.Message)
	assert.NotEqual(t, firstRun, h.m.Status().RunID)
}

func TestMachine_RestartRetriggersWhenPlayersOnline(t *testing.T) {
	h := newHarness(t)
	h.m.roster = fakeRoster{"carol"}
	h.m.OnPlayerJoined(context.Background(), "alice")
	h.m.Restart(context.Background())

	st := h.m.Status()
	assert.True(t, st.Started)
	assert.Equal(t, "carol", st.StartedBy)
	assert.Equal(t, PhasePreparation, st.Phase)
}

func TestMachine_ResearchFromPreviousRunIsDiscarded(t *testing.T) {
	h := newHarness(t, "guide", goodExtraction)
	var pending []func()
	h.m.spawn = func(f func()) { pending = append(pending, f) }

	h.m.OnPlayerJoined(context.Background(), "alice")
	require.Len(t, pending, 1)
	h.m.Restart(context.Background())
	pending[0]()

	st := h.m.Status()
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.Empty(t, st.Goal)
	assert.Empty(t, h.gatherer.calls)
}

func TestMachine_ProgressLogCap(t *testing.T) {
	h := newHarness(t)
	h.m = NewMachine(Config{ProgressLogCap: 3}, Deps{Clock: h.clock, Logger: h.m.logger})
	h.m.spawn = func(f func()) { f() }
	h.m.OnPlayerJoined(context.Background(), "alice")
	for range 5 {
		h.m.OnCombatEnded(context.Background(), "zombie", false)
	}
	st := h.m.Status()
	assert.Equal(t, 3, st.ProgressTotal)
	assert.Equal(t, "fight with zombie lost", st.Progress[2].Message)
}

func TestProperty_ResearchAlwaysReachesPreparation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		replies := rapid.SliceOfN(rapid.String(), 0, 2).Draw(rt, "replies")
		h := newHarness(t, replies...)
		h.m.OnPlayerJoined(context.Background(), "p")
		st := h.m.Status()
		assert.Equal(rt, PhasePreparation, st.Phase)
		assert.NotEmpty(rt, st.Goal)
		assert.NotEmpty(rt, st.Items)
	})
}

type blockingChat struct {
	release chan struct{}
	fakeChat
}

func (c *blockingChat) SendChat(ctx context.Context, text string) error {
	<-c.release
	return c.fakeChat.SendChat(ctx, text)
}

func TestMachine_AnnouncementsDoNotBlockCaller(t *testing.T) {
	chat := &blockingChat{release: make(chan struct{})}
	m := NewMachine(Config{}, Deps{
		Chat:   chat,
		Clock:  clock.NewFake(epoch),
		Logger: zaptest.NewLogger(t),
	})

	joined := make(chan bool, 1)
	go func() { joined <- m.OnPlayerJoined(context.Background(), "alice") }()
	select {
	case ok := <-joined:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("player join waited on the chat transport")
	}

	close(chat.release)
	assert.Eventually(t, func() bool { return len(chat.all()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"Hi alice! I'm going to defeat the Ender Dragon. Researching a plan first.",
		"Research hit a snag, using basics.",
		"Goal: " + FallbackResearch().CurrentGoal,
	}, chat.all())
}
