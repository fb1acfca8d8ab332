// Package bot assembles the dragon bot from its parts: the event dispatcher,
// world store, threat assessor, engagement and mission state machines. It
// routes inbound events to them, runs their periodic ticks and answers chat
// commands.
package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/config"
	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/llm"
	"github.com/cory-johannsen/dragonbot/internal/mission"
	"github.com/cory-johannsen/dragonbot/internal/ring"
	"github.com/cory-johannsen/dragonbot/internal/threat"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// Tick names.
const (
	TickThreat = "threat"
	TickCombat = "combat"
)

// Learner receives fight and mission outcomes. It must not block.
type Learner interface {
	combat.Learner
	mission.Learner
}

// Deps are the bot's collaborators. Events, World, Clock and Logger are
// required; everything else is optional and nil means absent.
type Deps struct {
	Events *event.Dispatcher
	World  *world.Store

	Chat     mission.Chat
	Mover    combat.Mover
	Attacker combat.Attacker
	Actions  mission.Actions

	Generator llm.Generator
	Prompts   mission.PromptSink
	Learner   Learner
	Scripts   ScriptCaller

	ThreatTable   *threat.Table
	StrategyTable *combat.StrategyTable
	// History seeds per-type win rates from earlier runs.
	History map[string]combat.TypeStats

	Clock  clock.Clock
	Logger *zap.Logger
}

// interactionLog is implemented by generators that keep a call history.
type interactionLog interface {
	Interactions(n int) []llm.Interaction
}

// ChatMessage is one inbound chat line.
type ChatMessage struct {
	At       time.Time `json:"at"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
}

// Bot is the assembled bot. Its exported components may be read directly.
type Bot struct {
	Events    *event.Dispatcher
	World     *world.Store
	Threat    *threat.Assessor
	Combat    *combat.Engagement
	Mission   *mission.Machine
	Inventory *Inventory

	cfg    config.Config
	chat   mission.Chat
	llmLog interactionLog
	ticks  *TickManager
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	runCtx    context.Context
	connected bool
	history   *ring.Ring[ChatMessage]
}

// New builds a bot and registers its event handlers on deps.Events.
//
// Precondition: deps.Events, deps.World, deps.Clock and deps.Logger must be non-nil.
// Postcondition: Returns a Bot whose ticks are not yet running, or the handler registration error.
func New(cfg config.Config, deps Deps) (*Bot, error) {
	table := deps.ThreatTable
	if table == nil {
		table = threat.DefaultTable()
		if cfg.Threat.DefaultThreat > 0 {
			table.DefaultThreat = cfg.Threat.DefaultThreat
		}
	}
	strategies := deps.StrategyTable
	if strategies == nil {
		strategies = combat.DefaultStrategyTable()
	}
	logger := deps.Logger

	b := &Bot{
		Events:    deps.Events,
		World:     deps.World,
		Inventory: &Inventory{},
		cfg:       cfg,
		chat:      deps.Chat,
		ticks:     NewTickManager(),
		clock:     deps.Clock,
		logger:    logger,
		runCtx:    context.Background(),
		history:   ring.New[ChatMessage](max(cfg.Bot.ChatHistoryCap, 1)),
	}
	if l, ok := deps.Generator.(interactionLog); ok {
		b.llmLog = l
	}

	b.Threat = threat.NewAssessor(table, threat.Thresholds{
		Low:      cfg.Threat.Low,
		Medium:   cfg.Threat.Medium,
		High:     cfg.Threat.High,
		Critical: cfg.Threat.Critical,
	}, cfg.Threat.MaxCombatRange, deps.World, deps.Clock, logger.Named("threat"))

	var source combat.StrategySource
	if deps.Generator != nil {
		source = combat.NewLLMSource(deps.Generator)
	}
	var scripts combat.TacticScript
	if deps.Scripts != nil {
		scripts = LuaTactics{Scripts: deps.Scripts}
	}
	var combatLearner combat.Learner
	var missionLearner mission.Learner
	if deps.Learner != nil {
		combatLearner = deps.Learner
		missionLearner = deps.Learner
	}

	b.Combat = combat.NewEngagement(combat.Config{
		MaxCombatRange:     cfg.Threat.MaxCombatRange,
		AttackRange:        cfg.Combat.AttackRange,
		AttackCooldown:     cfg.Combat.AttackCooldown,
		FleeHealth:         cfg.Combat.FleeHealth,
		RetreatDistance:    cfg.Combat.RetreatDistance,
		RetreatMoveTimeout: cfg.Combat.RetreatMoveTimeout,
		RetreatCooldowns:   cfg.Combat.RetreatCooldowns,
		CriticalRetreatAt:  cfg.Combat.CriticalRetreatAt,
		ReassessAfter:      cfg.Combat.ReassessAfter,
		ReassessEvery:      cfg.Combat.ReassessEvery,
		HistoryCap:         cfg.Combat.HistoryCap,
		Weights: combat.Weights{
			Success:   cfg.Combat.SuccessWeight,
			Value:     cfg.Combat.ValueWeight,
			Risk:      cfg.Combat.RiskWeight,
			Threshold: cfg.Combat.EngageThreshold,
		},
	}, combat.Deps{
		World:      deps.World,
		Table:      table,
		Strategies: combat.NewProvider(source, strategies, cfg.Combat.StrategyCooldown, cfg.Combat.StrategyTimeout, deps.Clock, logger.Named("strategy")),
		Mover:      deps.Mover,
		Attacker:   deps.Attacker,
		Learner:    combatLearner,
		Inventory:  b.Inventory,
		Scripts:    scripts,
		Clock:      deps.Clock,
		Logger:     logger.Named("combat"),
	})
	if len(deps.History) > 0 {
		b.Combat.SeedHistory(deps.History)
	}

	var gen mission.Generator
	if deps.Generator != nil {
		gen = deps.Generator
	}
	b.Mission = mission.NewMachine(mission.Config{
		AnnounceDelay:      cfg.Mission.AnnounceDelay,
		RestartInviteDelay: cfg.Mission.RestartInviteDelay,
		RestartDelay:       cfg.Mission.RestartDelay,
		ProgressLogCap:     cfg.Mission.ProgressLogCap,
	}, mission.Deps{
		Chat:      deps.Chat,
		Generator: gen,
		Prompts:   deps.Prompts,
		Roster:    roster{store: deps.World, self: cfg.Bot.Username},
		Actions:   deps.Actions,
		Learner:   missionLearner,
		Clock:     deps.Clock,
		Logger:    logger.Named("mission"),
	})

	b.Combat.OnCombatEnded(func(rec combat.SessionRecord) {
		b.Mission.OnCombatEnded(b.lifetime(), rec.TargetType, rec.Outcome == combat.OutcomeTargetDefeated)
	})

	b.ticks.Register(TickThreat, positive(cfg.Threat.Interval, time.Second), b.threatTick)
	b.ticks.Register(TickCombat, positive(cfg.Combat.TickInterval, 100*time.Millisecond), b.combatTick)

	if err := b.registerHandlers(); err != nil {
		return nil, err
	}
	return b, nil
}

// Run starts the threat and combat ticks and blocks until ctx is cancelled.
//
// Postcondition: All tick loops have stopped when Run returns.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	b.ticks.Start(ctx)
	b.logger.Info("bot running", zap.Strings("ticks", b.ticks.Names()))
	<-ctx.Done()
	b.ticks.Wait()
	b.Combat.EndCombat("shutdown")
	return nil
}

// ChatHistory returns the retained inbound chat, oldest first.
func (b *Bot) ChatHistory() []ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Items()
}

// Connected reports whether the gateway connection is up.
func (b *Bot) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bot) threatTick(ctx context.Context) {
	b.Combat.OnThreat(ctx, b.Threat.Assess())
}

func (b *Bot) combatTick(ctx context.Context) {
	b.Combat.Tick(ctx)
}

// lifetime is the context background work started by listeners runs under.
func (b *Bot) lifetime() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCtx
}

func (b *Bot) say(ctx context.Context, text string) {
	if b.chat == nil {
		b.logger.Info("no chat sender, dropping message", zap.String("text", text))
		return
	}
	if err := b.chat.SendChat(ctx, text); err != nil {
		b.logger.Warn("sending chat", zap.Error(event.WithKind(event.KindTransient, err)))
	}
}

func positive(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// roster adapts the world store to mission.Roster.
type roster struct {
	store *world.Store
	self  string
}

// PlayerNames lists online players other than the bot, ordered by id.
func (r roster) PlayerNames() []string {
	players := r.store.Players()
	out := make([]string, 0, len(players))
	for _, p := range players {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		if name == r.self {
			continue
		}
		out = append(out, name)
	}
	return out
}
