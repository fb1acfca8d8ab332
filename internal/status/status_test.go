package status

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/dragonbot/internal/combat"
)

type fakeSource struct {
	connected bool
}

func (f fakeSource) Snapshot() any {
	return map[string]any{"phase": "research", "connected": f.connected}
}

func (f fakeSource) Connected() bool { return f.connected }

func (f fakeSource) Recommend(id string) (combat.Recommendation, error) {
	if id != "z1" {
		return combat.Recommendation{}, fmt.Errorf("%w: %s", combat.ErrUnknownEntity, id)
	}
	return combat.Recommendation{EntityID: id, EntityType: "zombie", Engage: true, Score: 0.61}, nil
}

var fixed = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, ctx *app.RequestContext) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	for _, tt := range []struct {
		connected bool
		code      int
		state     string
	}{
		{true, consts.StatusOK, "ok"},
		{false, consts.StatusServiceUnavailable, "disconnected"},
	} {
		h := Handler{Source: fakeSource{connected: tt.connected}, Clock: func() time.Time { return fixed }}
		ctx := &app.RequestContext{}
		h.healthz(context.Background(), ctx)
		assert.Equal(t, tt.code, ctx.Response.StatusCode())
		assert.Equal(t, tt.state, decode(t, ctx)["status"])
	}
}

func TestStatus(t *testing.T) {
	h := Handler{Source: fakeSource{connected: true}}
	ctx := &app.RequestContext{}
	h.status(context.Background(), ctx)
	assert.Equal(t, consts.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "research", decode(t, ctx)["phase"])
}

func TestRecommend(t *testing.T) {
	h := Handler{Source: fakeSource{}}

	ctx := &app.RequestContext{}
	ctx.Params = param.Params{{Key: "entity", Value: "z1"}}
	h.recommend(context.Background(), ctx)
	assert.Equal(t, consts.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, true, decode(t, ctx)["engage"])

	ctx = &app.RequestContext{}
	ctx.Params = param.Params{{Key: "entity", Value: "ghost"}}
	h.recommend(context.Background(), ctx)
	assert.Equal(t, consts.StatusNotFound, ctx.Response.StatusCode())
	assert.Contains(t, decode(t, ctx)["error"], "ghost")
}
