package world

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cory-johannsen/dragonbot/internal/event"
)

// ErrMalformedPayload is returned when an inbound event lacks a required field.
var ErrMalformedPayload = errors.New("world: malformed payload")

// PlayerJoin is the payload of a player_joined event.
type PlayerJoin struct {
	ID       string
	Name     string
	UUID     string
	Position *Vec3
}

// EntitySpawn is the payload of an entity_spawned or entity_moved event.
type EntitySpawn struct {
	ID       string
	Type     string
	Name     string
	Position Vec3
	Health   *float64
}

// AttributeUpdate is a partial update of the bot's vitals. Nil fields are left unchanged.
type AttributeUpdate struct {
	Health     *float64
	MaxHealth  *float64
	Food       *float64
	Experience *float64
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// idArg accepts ids sent as strings or numbers.
func idArg(args map[string]any, key string) string {
	if s := stringArg(args, key); s != "" {
		return s
	}
	if f, ok := event.AsFloat(args[key]); ok {
		return fmt.Sprintf("%.0f", f)
	}
	return ""
}

func floatPtr(args map[string]any, key string) *float64 {
	f, ok := event.AsFloat(args[key])
	if !ok {
		return nil
	}
	return &f
}

// DecodeVec3 reads {x, y, z} either from args itself or from args[key] when key is non-empty.
func DecodeVec3(args map[string]any, key string) (Vec3, error) {
	src := args
	if key != "" {
		nested, ok := args[key].(map[string]any)
		if !ok {
			return Vec3{}, malformed("missing %s", key)
		}
		src = nested
	}
	x, okX := event.AsFloat(src["x"])
	y, okY := event.AsFloat(src["y"])
	z, okZ := event.AsFloat(src["z"])
	if !okX || !okY || !okZ {
		return Vec3{}, malformed("position requires numeric x, y and z")
	}
	v := Vec3{X: x, Y: y, Z: z}
	if !v.Finite() {
		return Vec3{}, malformed("position is not finite")
	}
	return v, nil
}

// DecodePlayerJoin parses a player_joined payload. The id falls back to the player name.
func DecodePlayerJoin(args map[string]any) (PlayerJoin, error) {
	p := PlayerJoin{
		ID:   idArg(args, "id"),
		Name: stringArg(args, "name"),
		UUID: stringArg(args, "uuid"),
	}
	if p.ID == "" {
		p.ID = p.Name
	}
	if p.ID == "" {
		return PlayerJoin{}, malformed("player_joined requires id or name")
	}
	if pos, err := DecodeVec3(args, "position"); err == nil {
		p.Position = &pos
	}
	return p, nil
}

// DecodeEntitySpawn parses an entity_spawned or entity_moved payload.
func DecodeEntitySpawn(args map[string]any) (EntitySpawn, error) {
	e := EntitySpawn{
		ID:     idArg(args, "id"),
		Type:   stringArg(args, "type"),
		Name:   stringArg(args, "name"),
		Health: floatPtr(args, "health"),
	}
	if e.ID == "" {
		return EntitySpawn{}, malformed("entity requires id")
	}
	pos, err := DecodeVec3(args, "position")
	if err != nil {
		return EntitySpawn{}, err
	}
	e.Position = pos
	return e, nil
}

// DecodeAttributeUpdate parses an attributes_update payload; at least one field must be present.
func DecodeAttributeUpdate(args map[string]any) (AttributeUpdate, error) {
	u := AttributeUpdate{
		Health:     floatPtr(args, "health"),
		MaxHealth:  floatPtr(args, "max_health"),
		Food:       floatPtr(args, "food"),
		Experience: floatPtr(args, "experience"),
	}
	if u.Health == nil && u.MaxHealth == nil && u.Food == nil && u.Experience == nil {
		return AttributeUpdate{}, malformed("attributes_update carries no known attribute")
	}
	return u, nil
}

// DecodeID parses the id of a player_left or entity_removed payload.
func DecodeID(args map[string]any) (string, error) {
	id := idArg(args, "id")
	if id == "" {
		id = stringArg(args, "name")
	}
	if id == "" {
		return "", malformed("payload requires id")
	}
	return id, nil
}
