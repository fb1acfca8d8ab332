// Package status serves read-only HTTP endpoints describing the running bot.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/combat"
)

// Source is what the endpoints read.
type Source interface {
	// Snapshot returns a JSON-serializable view of the bot.
	Snapshot() any
	// Connected reports whether the gateway connection is up.
	Connected() bool
	// Recommend scores engaging an entity.
	Recommend(entityID string) (combat.Recommendation, error)
}

// Handler implements the routes.
type Handler struct {
	Source Source
	Clock  func() time.Time
}

type errorBody struct {
	Error string `json:"error"`
}

// RegisterRoutes mounts the endpoints on s.
func (h Handler) RegisterRoutes(s *server.Hertz) {
	s.GET("/healthz", h.healthz)
	s.GET("/status", h.status)
	s.GET("/combat/recommend/:entity", h.recommend)
}

func (h Handler) healthz(_ context.Context, ctx *app.RequestContext) {
	code := consts.StatusOK
	state := "ok"
	if !h.Source.Connected() {
		code = consts.StatusServiceUnavailable
		state = "disconnected"
	}
	ctx.JSON(code, map[string]any{"status": state, "time": h.now()})
}

func (h Handler) status(_ context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, h.Source.Snapshot())
}

func (h Handler) recommend(_ context.Context, ctx *app.RequestContext) {
	rec, err := h.Source.Recommend(ctx.Param("entity"))
	if err != nil {
		code := consts.StatusInternalServerError
		if errors.Is(err, combat.ErrUnknownEntity) {
			code = consts.StatusNotFound
		}
		ctx.JSON(code, errorBody{Error: err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, rec)
}

func (h Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now().UTC()
	}
	return h.Clock()
}

// Server hosts the status endpoints.
type Server struct {
	h      *server.Hertz
	logger *zap.Logger
}

// NewServer builds a server listening on addr.
//
// Precondition: src and logger must be non-nil.
func NewServer(addr string, src Source, logger *zap.Logger) *Server {
	h := server.New(server.WithHostPorts(addr), server.WithDisablePrintRoute(true))
	Handler{Source: src}.RegisterRoutes(h)
	return &Server{h: h, logger: logger}
}

// Start serves until Stop.
func (s *Server) Start() error {
	s.logger.Info("status endpoints listening")
	return s.h.Run()
}

// Stop shuts the server down, waiting up to five seconds for in-flight requests.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.h.Shutdown(ctx); err != nil {
		s.logger.Warn("status server shutdown", zap.Error(err))
	}
}
