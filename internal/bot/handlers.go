package bot

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

const dragonType = "ender_dragon"

// entity_removed reasons that mean the entity died rather than despawned.
var deathReasons = map[string]bool{"death": true, "died": true, "killed": true}

func (b *Bot) registerHandlers() error {
	handlers := map[string]event.Handler{
		"connected":         b.onConnected,
		"disconnected":      b.onDisconnected,
		"player_joined":     b.onPlayerJoined,
		"player_left":       b.onPlayerLeft,
		"entity_spawned":    b.onEntitySeen,
		"entity_moved":      b.onEntitySeen,
		"entity_removed":    b.onEntityRemoved,
		"position_update":   b.onPosition,
		"attributes_update": b.onAttributes,
		"chat":              b.onChat,
		"entity_hurt":       b.onEntityHurt,
		"combat_ended":      b.onCombatEnded,
		"dragon_sighted":    b.onDragonSighted,
		"navigation_result": b.onNavigationResult,
		"inventory_changed": b.onInventory,
		event.NameError:     b.onError,
	}
	for name, h := range handlers {
		if err := b.Events.RegisterHandler(name, h); err != nil {
			return err
		}
	}
	return nil
}

// malformed logs a payload that could not be applied. The event is dropped.
func (b *Bot) malformed(ev event.Event, err error) error {
	b.logger.Warn("dropping malformed event",
		zap.String("event", ev.Name),
		zap.Uint64("seq", ev.Seq),
		zap.String("kind", string(event.KindDataIntegrity)),
		zap.Error(err),
	)
	return nil
}

func (b *Bot) onConnected(_ context.Context, ev event.Event) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.logger.Info("gateway connected", zap.Uint64("seq", ev.Seq))
	return nil
}

func (b *Bot) onDisconnected(_ context.Context, ev event.Event) error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	reason, _ := ev.String("reason")
	b.logger.Warn("gateway disconnected", zap.String("reason", reason))
	b.Combat.EndCombat("disconnected")
	return nil
}

func (b *Bot) onPlayerJoined(ctx context.Context, ev event.Event) error {
	p, err := world.DecodePlayerJoin(ev.Args)
	if err != nil {
		return b.malformed(ev, err)
	}
	if !b.World.ApplyPlayerJoin(p) {
		return nil
	}
	name := p.Name
	if name == "" {
		name = p.ID
	}
	if name == b.cfg.Bot.Username {
		return nil
	}
	b.logger.Info("player joined", zap.String("player", name), zap.Int("online", b.World.PlayerCount()))
	b.Mission.OnPlayerJoined(ctx, name)
	return nil
}

func (b *Bot) onPlayerLeft(_ context.Context, ev event.Event) error {
	id, err := world.DecodeID(ev.Args)
	if err != nil {
		return b.malformed(ev, err)
	}
	if b.World.ApplyPlayerLeave(id) {
		b.logger.Info("player left", zap.String("player", id), zap.Int("online", b.World.PlayerCount()))
	}
	return nil
}

func (b *Bot) onEntitySeen(ctx context.Context, ev event.Event) error {
	e, err := world.DecodeEntitySpawn(ev.Args)
	if err != nil {
		return b.malformed(ev, err)
	}
	b.World.ApplyEntitySpawn(e)
	if world.NormalizeType(e.Type) == dragonType {
		b.Mission.OnDragonSighted(ctx)
	}
	return nil
}

func (b *Bot) onEntityRemoved(_ context.Context, ev event.Event) error {
	id, err := world.DecodeID(ev.Args)
	if err != nil {
		return b.malformed(ev, err)
	}
	reason, _ := ev.String("reason")
	if deathReasons[strings.ToLower(reason)] {
		b.Combat.OnEntityDeath(id)
	}
	b.World.ApplyEntityRemove(id)
	return nil
}

func (b *Bot) onPosition(_ context.Context, ev event.Event) error {
	pos, err := world.DecodeVec3(ev.Args, "")
	if err != nil {
		if pos, err = world.DecodeVec3(ev.Args, "position"); err != nil {
			return b.malformed(ev, err)
		}
	}
	b.World.ApplyPositionUpdate(pos)
	return nil
}

func (b *Bot) onAttributes(_ context.Context, ev event.Event) error {
	u, err := world.DecodeAttributeUpdate(ev.Args)
	if err != nil {
		return b.malformed(ev, err)
	}
	before, after := b.World.ApplyAttributeUpdate(u)
	if lost := before.Health - after.Health; lost > 0 {
		b.Combat.OnDamageTaken(lost)
	}
	return nil
}

func (b *Bot) onChat(ctx context.Context, ev event.Event) error {
	user, _ := ev.String("username")
	msg, ok := ev.String("message")
	if !ok {
		return b.malformed(ev, world.ErrMalformedPayload)
	}
	b.mu.Lock()
	b.history.Push(ChatMessage{At: ev.At, Username: user, Message: msg})
	b.mu.Unlock()

	if user == b.cfg.Bot.Username {
		return nil
	}
	if pc, ok := ParseCommand(msg); ok && !b.runCommand(ctx, user, pc) {
		b.logger.Debug("unknown chat command", zap.String("sender", user), zap.String("message", msg))
	}
	return nil
}

func (b *Bot) onEntityHurt(_ context.Context, ev event.Event) error {
	id, err := world.DecodeID(ev.Args)
	if err != nil {
		return b.malformed(ev, err)
	}
	health, ok := ev.Float("health")
	if !ok {
		return nil
	}
	if e, tracked := b.World.Entity(id); tracked {
		b.World.ApplyEntitySpawn(world.EntitySpawn{ID: id, Type: e.Type, Name: e.Name, Position: e.Position, Health: &health})
	}
	if health <= 0 {
		b.Combat.OnEntityDeath(id)
	}
	return nil
}

func (b *Bot) onCombatEnded(_ context.Context, ev event.Event) error {
	reason, _ := ev.String("reason")
	if reason == "" {
		reason = "gateway"
	}
	b.Combat.EndCombat(reason)
	return nil
}

func (b *Bot) onDragonSighted(ctx context.Context, _ event.Event) error {
	b.Mission.OnDragonSighted(ctx)
	return nil
}

func (b *Bot) onNavigationResult(_ context.Context, ev event.Event) error {
	id, _ := ev.String("request_id")
	b.logger.Debug("navigation result", zap.String("request_id", id), zap.Any("success", ev.Args["success"]))
	return nil
}

func (b *Bot) onInventory(_ context.Context, ev event.Event) error {
	if err := b.Inventory.Update(ev.Args); err != nil {
		return b.malformed(ev, err)
	}
	return nil
}

// onError handles both dispatcher-emitted failures, which are already
// recorded, and errors reported by the gateway.
func (b *Bot) onError(_ context.Context, ev event.Event) error {
	msg, _ := ev.String("message")
	if kind, internal := ev.String("kind"); internal {
		b.logger.Debug("handler failure observed", zap.String("kind", kind), zap.String("message", msg))
		return nil
	}
	b.logger.Warn("gateway reported error", zap.String("message", msg))
	return nil
}
