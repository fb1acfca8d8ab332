package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/event"
)

func TestWriter_RotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 59, 0, 0, time.UTC))
	w := NewWriter(dir, clk)

	require.NoError(t, w.Write(Entry{Seq: 1, Name: "connected", At: clk.Now()}))
	require.NoError(t, w.Write(Entry{Seq: 2, Name: "chat", Args: map[string]any{"text": "hi"}, At: clk.Now()}))
	clk.Advance(2 * time.Minute)
	require.NoError(t, w.Write(Entry{Seq: 3, Name: "disconnected", At: clk.Now()}))
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(3), w.Written())

	first, err := ReadFile(w.PathForHour("2024-06-01-12"))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "chat", first[1].Name)
	assert.Equal(t, "hi", first[1].Args["text"])

	second, err := ReadFile(w.PathForHour("2024-06-01-13"))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, uint64(3), second[0].Seq)
}

func TestWriter_AppendsAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	for i := uint64(1); i <= 2; i++ {
		w := NewWriter(dir, clk)
		require.NoError(t, w.Write(Entry{Seq: i, Name: "tick"}))
		require.NoError(t, w.Close())
	}
	got, err := ReadFile(NewWriter(dir, clk).PathForHour("2024-06-01-12"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Seq)
}

func TestWriter_MiddlewareJournalsDispatchedEvents(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	w := NewWriter(dir, clk)
	d := event.NewDispatcher(event.Options{}, clk, zaptest.NewLogger(t))
	require.NoError(t, d.AddMiddleware(w.Middleware()))

	d.Dispatch(context.Background(), "player_joined", map[string]any{"name": "alice"})
	d.Dispatch(context.Background(), "player_left", map[string]any{"name": "alice"})
	require.NoError(t, w.Close())

	got, err := ReadFile(w.PathForHour("2024-06-01-12"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "player_joined", got[0].Name)
	assert.Equal(t, "alice", got[0].Args["name"])
	assert.Less(t, got[0].Seq, got[1].Seq)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(t.TempDir() + "/nope.jsonl.zst")
	assert.Error(t, err)
}
