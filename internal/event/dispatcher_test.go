package event_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/event"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newDispatcher(t *testing.T, opts event.Options) (*event.Dispatcher, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return event.NewDispatcher(opts, clk, zaptest.NewLogger(t)), clk
}

func TestRegisterHandler_RejectsNil(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	assert.ErrorIs(t, d.RegisterHandler("chat", nil), event.ErrNilHandler)
	assert.ErrorIs(t, d.AddMiddleware(nil), event.ErrNilHandler)
	assert.ErrorIs(t, d.RegisterHandler("  ", func(context.Context, event.Event) error { return nil }), event.ErrEmptyName)
}

func TestRegisterHandler_ReplacesSilently(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	var calls []string
	require.NoError(t, d.RegisterHandler("chat", func(context.Context, event.Event) error {
		calls = append(calls, "first")
		return nil
	}))
	require.NoError(t, d.RegisterHandler("chat", func(context.Context, event.Event) error {
		calls = append(calls, "second")
		return nil
	}))
	d.Dispatch(context.Background(), "chat", nil)
	assert.Equal(t, []string{"second"}, calls)
}

func TestDispatch_NormalizesNameAndCopiesArgs(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	var got event.Event
	require.NoError(t, d.RegisterHandler("player_joined", func(_ context.Context, ev event.Event) error {
		got = ev
		ev.Args["mutated"] = true
		return nil
	}))
	args := map[string]any{"name": "Steve"}
	d.Dispatch(context.Background(), " Player-Joined ", args)

	assert.Equal(t, "player_joined", got.Name)
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, epoch, got.At)
	name, ok := got.String("name")
	assert.True(t, ok)
	assert.Equal(t, "Steve", name)
	assert.NotContains(t, args, "mutated")
}

func TestDispatch_MiddlewareOrderAndIsolation(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	var order []string
	require.NoError(t, d.AddMiddleware(func(context.Context, event.Event) error {
		order = append(order, "mw1")
		return errors.New("boom")
	}))
	require.NoError(t, d.AddMiddleware(func(context.Context, event.Event) error {
		order = append(order, "mw2")
		panic("middleware panic")
	}))
	require.NoError(t, d.AddMiddleware(func(context.Context, event.Event) error {
		order = append(order, "mw3")
		return nil
	}))
	require.NoError(t, d.RegisterHandler("chat", func(context.Context, event.Event) error {
		order = append(order, "handler")
		return nil
	}))

	d.Dispatch(context.Background(), "chat", nil)

	assert.Equal(t, []string{"mw1", "mw2", "mw3", "handler"}, order)
	assert.Equal(t, uint64(2), d.Stats().MiddlewareFailures)
}

func TestDispatch_HandlerErrorBecomesErrorEvent(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	var surfaced event.Event
	require.NoError(t, d.RegisterHandler(event.NameError, func(_ context.Context, ev event.Event) error {
		surfaced = ev
		return nil
	}))
	require.NoError(t, d.RegisterHandler("entity_spawned", func(context.Context, event.Event) error {
		return event.WithKind(event.KindDataIntegrity, errors.New("missing id"))
	}))

	d.Dispatch(context.Background(), "entity_spawned", nil)

	assert.Equal(t, event.NameError, surfaced.Name)
	src, _ := surfaced.String("event")
	kind, _ := surfaced.String("kind")
	assert.Equal(t, "entity_spawned", src)
	assert.Equal(t, string(event.KindDataIntegrity), kind)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Errors)
	require.Len(t, stats.ErrorHistory, 1)
	assert.Equal(t, "entity_spawned", stats.ErrorHistory[0].Event)
}

func TestDispatch_PanicIsContained(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	require.NoError(t, d.RegisterHandler("chat", func(context.Context, event.Event) error {
		panic("nil map")
	}))
	assert.NotPanics(t, func() { d.Dispatch(context.Background(), "chat", nil) })

	stats := d.Stats()
	require.Len(t, stats.ErrorHistory, 1)
	assert.Equal(t, event.KindHandlerPanicked, stats.ErrorHistory[0].Kind)
	assert.Contains(t, stats.ErrorHistory[0].Message, "nil map")
	assert.Equal(t, uint64(1), stats.PerEvent[event.NameError])
}

func TestDispatch_FailingErrorHandlerDoesNotRecurse(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	require.NoError(t, d.RegisterHandler(event.NameError, func(context.Context, event.Event) error {
		return errors.New("error handler broken")
	}))
	require.NoError(t, d.RegisterHandler("chat", func(context.Context, event.Event) error {
		return errors.New("chat broken")
	}))

	d.Dispatch(context.Background(), "chat", nil)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Errors)
	assert.Equal(t, uint64(1), stats.PerEvent[event.NameError])
}

func TestDispatch_SlowHandlerEmitsPerformanceWarning(t *testing.T) {
	d, clk := newDispatcher(t, event.Options{SlowThreshold: 100 * time.Millisecond})
	var warned event.Event
	require.NoError(t, d.RegisterHandler(event.NamePerformanceWarning, func(_ context.Context, ev event.Event) error {
		warned = ev
		return nil
	}))
	require.NoError(t, d.RegisterHandler("position_update", func(context.Context, event.Event) error {
		clk.Advance(250 * time.Millisecond)
		return nil
	}))

	d.Dispatch(context.Background(), "position_update", nil)

	src, _ := warned.String("event")
	assert.Equal(t, "position_update", src)
	elapsed, _ := warned.Float("elapsed_ms")
	assert.Equal(t, 250.0, elapsed)
	assert.Equal(t, uint64(1), d.Stats().SlowHandlers)
}

func TestDispatch_UnhandledIsCounted(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	d.Dispatch(context.Background(), "weather", nil)
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(1), stats.Unhandled)
	assert.False(t, d.HasHandler("weather"))
}

func TestDispatch_EmptyNameDropped(t *testing.T) {
	d, _ := newDispatcher(t, event.Options{})
	d.Dispatch(context.Background(), "", nil)
	assert.Zero(t, d.Stats().Total)
}

func TestEvent_FloatAcceptsNumericTypes(t *testing.T) {
	ev := event.Event{Args: map[string]any{"a": 3, "b": int64(4), "c": 1.5, "d": "x"}}
	for key, want := range map[string]float64{"a": 3, "b": 4, "c": 1.5} {
		got, ok := ev.Float(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := ev.Float("d")
	assert.False(t, ok)
}

func TestProperty_CountersMatchDispatches(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := event.NewDispatcher(event.Options{RecentCap: 8, ErrorCap: 4}, clock.NewFake(epoch), zaptest.NewLogger(t))
		names := rapid.SliceOf(rapid.SampledFrom([]string{"chat", "tick", "spawn"})).Draw(rt, "names")
		failing := rapid.Bool().Draw(rt, "failing")
		_ = d.RegisterHandler("chat", func(context.Context, event.Event) error {
			if failing {
				return fmt.Errorf("fail")
			}
			return nil
		})
		want := map[string]uint64{}
		chats := 0
		for _, n := range names {
			d.Dispatch(context.Background(), n, nil)
			want[n]++
			if n == "chat" {
				chats++
			}
		}
		stats := d.Stats()
		for n, c := range want {
			assert.Equal(rt, c, stats.PerEvent[n])
		}
		assert.LessOrEqual(rt, len(stats.Recent), 8)
		assert.LessOrEqual(rt, len(stats.ErrorHistory), 4)
		if failing {
			assert.Equal(rt, uint64(chats), stats.Errors)
			assert.Equal(rt, uint64(chats), stats.PerEvent[event.NameError])
		} else {
			assert.Zero(rt, stats.Errors)
		}
	})
}
