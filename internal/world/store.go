// Package world holds the bot's canonical view of observable world facts.
//
// The Store is mutated only by event handlers and read by the threat and
// combat ticks. Every update is idempotent with respect to repeated payloads
// and never fails: input that cannot be applied is dropped with a warning.
package world

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
)

// DefaultMaxHealth is the bot's maximum health until the server reports otherwise.
const DefaultMaxHealth = 20.0

// Player is a connected player.
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	UUID     string    `json:"uuid,omitempty"`
	Position *Vec3     `json:"position,omitempty"`
	JoinTime time.Time `json:"join_time"`
}

// Entity is the last-known snapshot of a tracked entity.
type Entity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	Position  Vec3      `json:"position"`
	Health    *float64  `json:"health,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Vitals are the bot's own attributes.
type Vitals struct {
	Position   Vec3    `json:"position"`
	Health     float64 `json:"health"`
	MaxHealth  float64 `json:"max_health"`
	Food       float64 `json:"food"`
	Experience float64 `json:"experience"`
}

// HealthRatio returns Health/MaxHealth clamped to [0,1]; zero when MaxHealth is not positive.
func (v Vitals) HealthRatio() float64 {
	if v.MaxHealth <= 0 {
		return 0
	}
	r := v.Health / v.MaxHealth
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// Store is the canonical world snapshot. It is safe for concurrent use.
type Store struct {
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	vitals   Vitals
	players  map[string]Player
	entities map[string]Entity
}

// NewStore returns a Store at full default health with no players or entities.
//
// Precondition: clk and logger must be non-nil.
func NewStore(clk clock.Clock, logger *zap.Logger) *Store {
	return &Store{
		clock:    clk,
		logger:   logger,
		vitals:   Vitals{Health: DefaultMaxHealth, MaxHealth: DefaultMaxHealth, Food: 20},
		players:  make(map[string]Player),
		entities: make(map[string]Entity),
	}
}

// ApplyPositionUpdate records the bot's new position.
func (s *Store) ApplyPositionUpdate(pos Vec3) {
	if !pos.Finite() {
		s.logger.Warn("dropping non-finite position update")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vitals.Position = pos
}

// ApplyAttributeUpdate applies every present attribute, last writer wins.
//
// Postcondition: Returns the vitals before and after the update.
func (s *Store) ApplyAttributeUpdate(u AttributeUpdate) (before, after Vitals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before = s.vitals
	if u.MaxHealth != nil && *u.MaxHealth > 0 {
		s.vitals.MaxHealth = *u.MaxHealth
	}
	if u.Health != nil {
		s.vitals.Health = max(*u.Health, 0)
	}
	if u.Food != nil {
		s.vitals.Food = *u.Food
	}
	if u.Experience != nil {
		s.vitals.Experience = *u.Experience
	}
	return before, s.vitals
}

// ApplyPlayerJoin adds or refreshes a player. A repeated join keeps the original join time.
//
// Postcondition: Returns true if the player was not already present.
func (s *Store) ApplyPlayerJoin(p PlayerJoin) bool {
	if p.ID == "" {
		s.logger.Warn("dropping player join without id")
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.players[p.ID]
	joined := s.clock.Now()
	if ok {
		joined = existing.JoinTime
	}
	s.players[p.ID] = Player{ID: p.ID, Name: p.Name, UUID: p.UUID, Position: p.Position, JoinTime: joined}
	return !ok
}

// ApplyPlayerLeave removes a player; unknown ids are ignored.
//
// Postcondition: Returns true if a player was removed.
func (s *Store) ApplyPlayerLeave(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return false
	}
	delete(s.players, id)
	return true
}

// ApplyEntitySpawn creates or replaces an entity snapshot. It also serves entity movement.
//
// Postcondition: Returns true if the entity was not already tracked.
func (s *Store) ApplyEntitySpawn(e EntitySpawn) bool {
	if e.ID == "" || !e.Position.Finite() {
		s.logger.Warn("dropping malformed entity snapshot", zap.String("id", e.ID))
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entities[e.ID]
	next := Entity{ID: e.ID, Type: NormalizeType(e.Type), Name: e.Name, Position: e.Position, Health: e.Health, UpdatedAt: s.clock.Now()}
	if ok {
		if next.Type == "" {
			next.Type = existing.Type
		}
		if next.Name == "" {
			next.Name = existing.Name
		}
		if next.Health == nil {
			next.Health = existing.Health
		}
	}
	s.entities[e.ID] = next
	return !ok
}

// ApplyEntityRemove stops tracking an entity.
//
// Postcondition: Returns the removed snapshot and true, or false if it was unknown.
func (s *Store) ApplyEntityRemove(id string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if ok {
		delete(s.entities, id)
	}
	return e, ok
}

// Vitals returns the bot's own attributes.
func (s *Store) Vitals() Vitals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vitals
}

// Position returns the bot's position.
func (s *Store) Position() Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vitals.Position
}

// Player returns the player with the given id.
func (s *Store) Player(id string) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	return p, ok
}

// Players returns all connected players ordered by id.
func (s *Store) Players() []Player {
	s.mu.RLock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PlayerCount returns the number of connected players.
func (s *Store) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Entity returns the tracked entity with the given id.
func (s *Store) Entity(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// Entities returns every tracked entity ordered by id.
func (s *Store) Entities() []Entity {
	s.mu.RLock()
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EntityCount returns the number of tracked entities.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// NormalizeType lower-cases an entity type and strips the "minecraft:" namespace.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.TrimPrefix(t, "minecraft:")
}
