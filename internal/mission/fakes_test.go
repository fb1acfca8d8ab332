package mission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dragonbot/internal/clock"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var errGenerator = errors.New("generator down")

type fakeChat struct {
	mu    sync.Mutex
	lines []string
}

func (c *fakeChat) SendChat(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
	return nil
}

func (c *fakeChat) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// fakeGen answers with replies in order, then fails.
type fakeGen struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (g *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.replies) == 0 {
		return "", errGenerator
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

type fakeGatherer struct {
	calls [][]string
}

func (g *fakeGatherer) BeginResourceGathering(_ context.Context, items []string) error {
	g.calls = append(g.calls, items)
	return nil
}

type fakeNether struct{ calls int }

func (n *fakeNether) StartNetherExpedition(context.Context) error {
	n.calls++
	return errors.New("lava everywhere")
}

type panickyEnd struct{}

func (panickyEnd) EnterTheEnd(context.Context) error { panic("no portal") }

type fakeRoster []string

func (r fakeRoster) PlayerNames() []string { return r }

type fakeLearner struct {
	completions []Completion
}

func (l *fakeLearner) LearnFromMissionCompletion(c Completion) {
	l.completions = append(l.completions, c)
}

type promptRecorder struct {
	last string
}

func (p *promptRecorder) SetSystemPrompt(s string) { p.last = s }

const goodExtraction = "ITEMS: iron ingot, blaze rod\nNEXT_GOAL: Mine some iron\nSTRATEGY: Gear up then rush the nether"

type harness struct {
	m        *Machine
	clock    *clock.Fake
	chat     *fakeChat
	gen      *fakeGen
	gatherer *fakeGatherer
	learner  *fakeLearner
	prompts  *promptRecorder
}

// newHarness builds a machine whose background work runs synchronously.
func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewFake(epoch),
		chat:     &fakeChat{},
		gen:      &fakeGen{replies: replies},
		gatherer: &fakeGatherer{},
		learner:  &fakeLearner{},
		prompts:  &promptRecorder{},
	}
	h.m = NewMachine(Config{}, Deps{
		Chat:      h.chat,
		Generator: h.gen,
		Prompts:   h.prompts,
		Actions:   Actions{Gatherer: h.gatherer},
		Learner:   h.learner,
		Clock:     h.clock,
		Logger:    zaptest.NewLogger(t),
	})
	h.m.spawn = func(f func()) { f() }
	return h
}
