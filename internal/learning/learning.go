// Package learning persists what the bot learns from fights, navigation and
// completed missions. Notifications are queued and written by a single
// background writer so callers never block on storage.
package learning

import (
	"context"
	"errors"
	"time"

	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/mission"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// ErrClosed is returned by operations on a closed Recorder.
var ErrClosed = errors.New("learning: recorder closed")

// NavigationRecord is the outcome of one movement request.
type NavigationRecord struct {
	RequestID string        `json:"request_id"`
	From      world.Vec3    `json:"from"`
	To        world.Vec3    `json:"to"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// Store is a learning backend.
type Store interface {
	SaveCombat(ctx context.Context, rec combat.SessionRecord) error
	SaveNavigation(ctx context.Context, rec NavigationRecord) error
	SaveMission(ctx context.Context, c mission.Completion) error
	// TypeStats returns per-entity-type fight results recorded so far.
	TypeStats(ctx context.Context) (map[string]combat.TypeStats, error)
	Close() error
}

// NopStore discards everything.
type NopStore struct{}

func (NopStore) SaveCombat(context.Context, combat.SessionRecord) error  { return nil }
func (NopStore) SaveNavigation(context.Context, NavigationRecord) error { return nil }
func (NopStore) SaveMission(context.Context, mission.Completion) error  { return nil }
func (NopStore) Close() error                                           { return nil }

func (NopStore) TypeStats(context.Context) (map[string]combat.TypeStats, error) {
	return map[string]combat.TypeStats{}, nil
}
