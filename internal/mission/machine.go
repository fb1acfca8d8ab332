// Package mission drives the scripted mission lifecycle:
//
//	waiting → research → preparation → nether → stronghold → end_fight → victory
//
// plus an out-of-band restart back to waiting from any phase. Collaborator calls
// (text generation, chat, gameplay actions) run outside the mission lock and are
// discarded if a restart happened while they were in flight.
package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/ring"
)

var (
	// ErrUnknownPhase is returned when advancing to a phase that does not exist or to waiting.
	ErrUnknownPhase = errors.New("mission: unknown phase")
	// ErrMissionPaused is returned when a phase change is requested while paused.
	// The change is remembered and applied on resume.
	ErrMissionPaused = errors.New("mission: paused")
	// ErrNotStarted is returned when advancing a mission that has not started.
	ErrNotStarted = errors.New("mission: not started")
	// ErrNoGenerator marks research that fell back because no text generator is configured.
	ErrNoGenerator = errors.New("mission: no text generator")
	// ErrUnparseableResearch marks research whose extraction reply had no ITEMS or NEXT_GOAL.
	ErrUnparseableResearch = errors.New("mission: research reply could not be parsed")

	errSuperseded = errors.New("mission: run superseded by restart")
)

// Chat sends an outbound chat message.
type Chat interface {
	SendChat(ctx context.Context, text string) error
}

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// PromptSink receives the contextual system prompt whenever the phase changes.
type PromptSink interface {
	SetSystemPrompt(prompt string)
}

// Roster lists the players currently online.
type Roster interface {
	PlayerNames() []string
}

// ResourceGatherer starts collecting the researched items.
type ResourceGatherer interface {
	BeginResourceGathering(ctx context.Context, items []string) error
}

// NetherExpedition starts the nether phase.
type NetherExpedition interface {
	StartNetherExpedition(ctx context.Context) error
}

// StrongholdSearcher starts looking for the stronghold.
type StrongholdSearcher interface {
	SearchForStronghold(ctx context.Context) error
}

// EndEntrant travels through the end portal.
type EndEntrant interface {
	EnterTheEnd(ctx context.Context) error
}

// Learner receives completed missions. It must not block.
type Learner interface {
	LearnFromMissionCompletion(c Completion)
}

// Actions are the optional gameplay actions invoked on phase entry. A nil field
// is skipped with a log line.
type Actions struct {
	Gatherer   ResourceGatherer
	Nether     NetherExpedition
	Stronghold StrongholdSearcher
	End        EndEntrant
}

// Completion summarizes a finished mission.
type Completion struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	Duration      time.Duration `json:"duration"`
	Goal          string        `json:"goal"`
	Strategy      string        `json:"strategy"`
	Items         []string      `json:"items"`
	ResearchKind  ResultKind    `json:"research_kind"`
	CombatsWon    int           `json:"combats_won"`
	CombatsFought int           `json:"combats_fought"`
}

// Entry is one progress log line.
type Entry struct {
	At      time.Time `json:"at"`
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
}

// Config tunes mission pacing.
type Config struct {
	AnnounceDelay      time.Duration
	RestartInviteDelay time.Duration
	RestartDelay       time.Duration
	// ProgressLogCap bounds the progress log. Zero keeps every entry.
	ProgressLogCap int
}

// Deps are the mission's collaborators. Everything except Clock and Logger is optional.
type Deps struct {
	Chat      Chat
	Generator Generator
	Prompts   PromptSink
	Roster    Roster
	Actions   Actions
	Learner   Learner
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Machine is the mission phase state machine. It is safe for concurrent use.
type Machine struct {
	cfg     Config
	chat    Chat
	gen     Generator
	prompts PromptSink
	roster  Roster
	actions Actions
	learner Learner
	clock   clock.Clock
	logger  *zap.Logger
	spawn   func(func())

	mu            sync.Mutex
	epoch         uint64
	phase         Phase
	active        bool
	started       bool
	pending       Phase
	currentTask   string
	research      Research
	researchKind  ResultKind
	progress      *ring.Ring[Entry]
	runID         string
	startedBy     string
	startedAt     time.Time
	systemPrompt  string
	dragonSighted bool
	combatsWon    int
	combatsFought int

	chatMu  sync.Mutex
	outbox  []announcement
	sending bool
}

type announcement struct {
	ctx  context.Context
	text string
}

// NewMachine creates an active mission in the waiting phase.
//
// Precondition: deps.Clock and deps.Logger must be non-nil.
func NewMachine(cfg Config, deps Deps) *Machine {
	m := &Machine{
		cfg:      cfg,
		chat:     deps.Chat,
		gen:      deps.Generator,
		prompts:  deps.Prompts,
		roster:   deps.Roster,
		actions:  deps.Actions,
		learner:  deps.Learner,
		clock:    deps.Clock,
		logger:   deps.Logger,
		spawn:    func(f func()) { go f() },
		progress: ring.New[Entry](cfg.ProgressLogCap),
	}
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	return m
}

func (m *Machine) resetLocked() {
	m.phase = PhaseWaiting
	m.active = true
	m.started = false
	m.pending = ""
	m.currentTask = PhaseWaiting.Task()
	m.research = Research{}
	m.researchKind = ""
	m.progress.Reset()
	m.runID = ""
	m.startedBy = ""
	m.startedAt = time.Time{}
	m.dragonSighted = false
	m.combatsWon = 0
	m.combatsFought = 0
	m.refreshPromptLocked()
}

// OnPlayerJoined starts the mission on the first join of a mission lifetime.
//
// Postcondition: Returns true if this join started the mission.
func (m *Machine) OnPlayerJoined(ctx context.Context, name string) bool {
	return m.tryStart(ctx, name)
}

// Start starts the mission on operator request, or resumes it if paused.
func (m *Machine) Start(ctx context.Context, by string) {
	m.mu.Lock()
	paused := !m.active
	m.mu.Unlock()
	if paused {
		m.Resume(ctx)
	}
	m.tryStart(ctx, by)
}

func (m *Machine) tryStart(ctx context.Context, name string) bool {
	m.mu.Lock()
	if m.started || !m.active {
		m.mu.Unlock()
		return false
	}
	m.started = true
	m.runID = uuid.NewString()
	m.startedBy = name
	m.startedAt = m.clock.Now()
	m.phase = PhaseResearch
	m.currentTask = PhaseResearch.Task()
	m.logLocked("mission started by %s", name)
	m.refreshPromptLocked()
	epoch := m.epoch
	runID := m.runID
	m.mu.Unlock()

	m.logger.Info("mission started", zap.String("run", runID), zap.String("player", name))
	m.say(ctx, fmt.Sprintf("Hi %s! I'm going to defeat the Ender Dragon. Researching a plan first.", name))
	m.spawn(func() { m.conductResearch(ctx, epoch) })
	return true
}

// ConductResearch asks the generator for a strategy, parses it and advances to
// preparation. Any failure degrades to FallbackResearch; it never retries.
func (m *Machine) ConductResearch(ctx context.Context) ResearchResult {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	return m.conductResearch(ctx, epoch)
}

func (m *Machine) conductResearch(ctx context.Context, epoch uint64) ResearchResult {
	res := m.runResearch(ctx)
	if res.Kind == ResultFallback {
		m.logger.Warn("research failed, using fallback strategy", zap.Error(res.Err))
		m.say(ctx, "Research hit a snag, using basics.")
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.logger.Debug("discarding research from a previous run")
		return res
	}
	m.research = res.Research
	m.researchKind = res.Kind
	m.logLocked("research complete (%s): %s", res.Kind, res.Research.CurrentGoal)
	m.refreshPromptLocked()
	m.mu.Unlock()

	if err := m.advance(ctx, PhasePreparation, epoch); err != nil && !errors.Is(err, errSuperseded) {
		m.logger.Info("preparation deferred", zap.Error(err))
	}
	return res
}

func (m *Machine) runResearch(ctx context.Context) ResearchResult {
	fallback := func(err error, knowledge string) ResearchResult {
		r := FallbackResearch()
		if knowledge != "" {
			r.KnowledgeText = knowledge
		}
		return ResearchResult{Kind: ResultFallback, Research: r, Err: err}
	}
	if m.gen == nil {
		return fallback(ErrNoGenerator, "")
	}
	knowledge, err := m.generate(ctx, knowledgePrompt)
	if err != nil {
		return fallback(fmt.Errorf("generating knowledge: %w", err), "")
	}
	text, err := m.generate(ctx, extractionPrompt(knowledge))
	if err != nil {
		return fallback(fmt.Errorf("extracting plan: %w", err), knowledge)
	}
	r, ok := ParseResearch(text)
	if !ok {
		return fallback(ErrUnparseableResearch, knowledge)
	}
	r.KnowledgeText = knowledge
	return ResearchResult{Kind: ResultParsed, Research: r}
}

func (m *Machine) generate(ctx context.Context, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panicked: %v", r)
		}
	}()
	return m.gen.Generate(ctx, prompt)
}

// AdvancePhase moves the mission to p and invokes the phase's entry action.
//
// Precondition: p must be a phase after waiting; use Restart to return to waiting.
// Postcondition: Returns ErrMissionPaused if paused; the change is applied on Resume.
func (m *Machine) AdvancePhase(ctx context.Context, p Phase) error {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	return m.advance(ctx, p, epoch)
}

func (m *Machine) advance(ctx context.Context, p Phase, epoch uint64) error {
	if p.Index() <= 0 {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, p)
	}
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return errSuperseded
	}
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if !m.active {
		m.pending = p
		m.logLocked("phase %s deferred while paused", p)
		m.mu.Unlock()
		return ErrMissionPaused
	}
	if m.phase == p {
		m.mu.Unlock()
		return nil
	}
	from := m.phase
	m.phase = p
	m.pending = ""
	m.currentTask = p.Task()
	m.logLocked("phase %s -> %s", from, p)
	m.refreshPromptLocked()
	research := m.research
	m.mu.Unlock()

	m.logger.Info("mission phase changed", zap.String("from", string(from)), zap.String("phase", string(p)))
	m.enter(ctx, p, epoch, research)
	return nil
}

func (m *Machine) enter(ctx context.Context, p Phase, epoch uint64, r Research) {
	switch p {
	case PhasePreparation:
		m.say(ctx, "Goal: "+r.CurrentGoal)
		g := m.actions.Gatherer
		m.invoke(ctx, "begin_resource_gathering", g != nil, func(ctx context.Context) error {
			return g.BeginResourceGathering(ctx, r.RequiredItems)
		})
	case PhaseNether:
		m.say(ctx, "Heading into the nether for blaze rods.")
		n := m.actions.Nether
		m.invoke(ctx, "start_nether_expedition", n != nil, func(ctx context.Context) error {
			return n.StartNetherExpedition(ctx)
		})
	case PhaseStronghold:
		m.say(ctx, "Searching for the stronghold.")
		s := m.actions.Stronghold
		m.invoke(ctx, "search_for_stronghold", s != nil, func(ctx context.Context) error {
			return s.SearchForStronghold(ctx)
		})
	case PhaseEndFight:
		m.say(ctx, "Entering the End. Wish me luck!")
		e := m.actions.End
		m.invoke(ctx, "enter_the_end", e != nil, func(ctx context.Context) error {
			return e.EnterTheEnd(ctx)
		})
	case PhaseVictory:
		m.spawn(func() { m.celebrate(ctx, epoch) })
	}
}

// invoke runs an optional gameplay action in the background. Absent actions are
// skipped and failures are logged; neither changes the phase.
func (m *Machine) invoke(ctx context.Context, name string, present bool, fn func(context.Context) error) {
	if !present {
		m.logger.Info("mission action unavailable, skipping", zap.String("action", name))
		return
	}
	m.spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("mission action panicked", zap.String("action", name), zap.Any("panic", r))
			}
		}()
		if err := fn(ctx); err != nil {
			m.logger.Warn("mission action failed", zap.String("action", name), zap.Error(err))
		}
	})
}

// Restart resets all mission and research state and, after the restart delay,
// starts again if a player is online. In-flight work from the previous run is discarded.
func (m *Machine) Restart(ctx context.Context) {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.resetLocked()
	m.mu.Unlock()

	m.logger.Info("mission reset")
	m.say(ctx, "Mission reset.")
	m.spawn(func() {
		if err := clock.Sleep(ctx, m.cfg.RestartDelay); err != nil {
			return
		}
		if !m.current(epoch) || m.roster == nil {
			return
		}
		if names := m.roster.PlayerNames(); len(names) > 0 {
			m.tryStart(ctx, names[0])
		}
	})
}

// Pause suppresses research triggers and phase actions. State is retained.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.active = false
	m.logLocked("mission paused")
	m.logger.Info("mission paused", zap.String("phase", string(m.phase)))
}

// Resume reactivates the mission and applies any phase change deferred while paused.
func (m *Machine) Resume(ctx context.Context) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	pending := m.pending
	epoch := m.epoch
	m.logLocked("mission resumed")
	m.mu.Unlock()

	m.logger.Info("mission resumed", zap.String("pending", string(pending)))
	if pending != "" {
		if err := m.advance(ctx, pending, epoch); err != nil {
			m.logger.Warn("applying deferred phase", zap.Error(err))
		}
	}
}

// OnDragonSighted records the first sighting of the dragon in a run and moves a
// mission that is still searching the stronghold into the end fight.
func (m *Machine) OnDragonSighted(ctx context.Context) {
	m.mu.Lock()
	if !m.started || m.dragonSighted {
		m.mu.Unlock()
		return
	}
	m.dragonSighted = true
	m.logLocked("dragon sighted")
	phase, epoch := m.phase, m.epoch
	m.mu.Unlock()

	m.say(ctx, "I can see the Ender Dragon!")
	if phase == PhaseStronghold {
		if err := m.advance(ctx, PhaseEndFight, epoch); err != nil {
			m.logger.Info("end fight not entered", zap.Error(err))
		}
	}
}

// OnCombatEnded records a finished fight. Defeating the dragon completes the mission.
func (m *Machine) OnCombatEnded(ctx context.Context, targetType string, defeated bool) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.combatsFought++
	result := "lost"
	if defeated {
		m.combatsWon++
		result = "won"
	}
	m.logLocked("fight with %s %s", targetType, result)
	phase, epoch := m.phase, m.epoch
	m.mu.Unlock()

	if defeated && targetType == "ender_dragon" && phase != PhaseVictory {
		if err := m.advance(ctx, PhaseVictory, epoch); err != nil {
			m.logger.Info("victory not entered", zap.Error(err))
		}
	}
}

// SystemPrompt returns the contextual prompt for the current phase.
func (m *Machine) SystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemPrompt
}

// Progress returns the progress log, oldest first.
func (m *Machine) Progress() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress.Items()
}

func (m *Machine) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch
}

func (m *Machine) logLocked(format string, args ...any) {
	m.progress.Push(Entry{At: m.clock.Now(), Phase: m.phase, Message: fmt.Sprintf(format, args...)})
}

func (m *Machine) refreshPromptLocked() {
	m.systemPrompt = buildSystemPrompt(m.phase, m.currentTask, m.research)
	if m.prompts != nil {
		m.prompts.SetSystemPrompt(m.systemPrompt)
	}
}

// say queues an announcement. A single background sender delivers the queue
// in order, so callers never wait on the chat transport.
func (m *Machine) say(ctx context.Context, text string) {
	if m.chat == nil {
		m.logger.Debug("no chat, dropping announcement", zap.String("text", text))
		return
	}
	m.chatMu.Lock()
	m.outbox = append(m.outbox, announcement{ctx: ctx, text: text})
	if m.sending {
		m.chatMu.Unlock()
		return
	}
	m.sending = true
	m.chatMu.Unlock()
	m.spawn(m.drainOutbox)
}

func (m *Machine) drainOutbox() {
	for {
		m.chatMu.Lock()
		if len(m.outbox) == 0 {
			m.sending = false
			m.chatMu.Unlock()
			return
		}
		a := m.outbox[0]
		m.outbox = m.outbox[1:]
		m.chatMu.Unlock()

		if err := m.chat.SendChat(a.ctx, a.text); err != nil {
			m.logger.Warn("sending chat", zap.String("text", a.text), zap.Error(err))
		}
	}
}

func buildSystemPrompt(p Phase, task string, r Research) string {
	prompt := fmt.Sprintf("You are a Minecraft player bot whose mission is to defeat the Ender Dragon. "+
		"Current phase: %s. Current task: %s.", p, task)
	if r.CurrentGoal != "" {
		prompt += " Current goal: " + r.CurrentGoal + "."
	}
	if r.StrategySummary != "" {
		prompt += " Strategy: " + r.StrategySummary
	}
	return prompt
}
