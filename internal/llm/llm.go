// Package llm provides text generation for strategy and research prompts.
package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/ring"
)

// ErrUnavailable is returned by generators that have no provider behind them.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Generator produces free text for a prompt. Every call may fail.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Static always answers with Text.
type Static struct {
	Text string
}

// Generate returns s.Text.
func (s Static) Generate(context.Context, string) (string, error) { return s.Text, nil }

// Failing always fails with Err, or ErrUnavailable when Err is nil.
type Failing struct {
	Err error
}

// Generate returns the configured error.
func (f Failing) Generate(context.Context, string) (string, error) {
	if f.Err == nil {
		return "", ErrUnavailable
	}
	return "", f.Err
}

// Interaction is one recorded prompt and its outcome.
type Interaction struct {
	At       time.Time     `json:"at"`
	Prompt   string        `json:"prompt"`
	Response string        `json:"response,omitempty"`
	Err      string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Logged records every call of an inner Generator into a capped interaction log.
type Logged struct {
	inner  Generator
	clock  clock.Clock
	logger *zap.Logger

	mu  sync.Mutex
	log *ring.Ring[Interaction]
}

// NewLogged wraps inner, keeping at most capacity interactions.
//
// Precondition: inner, clk and logger must be non-nil; capacity must be positive.
func NewLogged(inner Generator, capacity int, clk clock.Clock, logger *zap.Logger) *Logged {
	return &Logged{inner: inner, clock: clk, logger: logger, log: ring.New[Interaction](capacity)}
}

// Generate calls the inner generator and records the interaction.
func (l *Logged) Generate(ctx context.Context, prompt string) (string, error) {
	start := l.clock.Now()
	text, err := l.inner.Generate(ctx, prompt)
	rec := Interaction{At: start, Prompt: prompt, Response: text, Elapsed: l.clock.Now().Sub(start)}
	if err != nil {
		rec.Err = err.Error()
		l.logger.Warn("generation failed", zap.Duration("elapsed", rec.Elapsed), zap.Error(err))
	} else {
		l.logger.Debug("generation complete", zap.Duration("elapsed", rec.Elapsed), zap.Int("chars", len(text)))
	}
	l.mu.Lock()
	l.log.Push(rec)
	l.mu.Unlock()
	return text, err
}

// Interactions returns up to n of the newest interactions, oldest first.
func (l *Logged) Interactions(n int) []Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.log.Last(n)
}
