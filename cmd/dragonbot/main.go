// Package main provides the dragon bot binary: it connects to the game
// gateway and runs the mission until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/bot"
	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/config"
	"github.com/cory-johannsen/dragonbot/internal/control"
	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/journal"
	"github.com/cory-johannsen/dragonbot/internal/learning"
	"github.com/cory-johannsen/dragonbot/internal/llm"
	"github.com/cory-johannsen/dragonbot/internal/mission"
	"github.com/cory-johannsen/dragonbot/internal/observability"
	"github.com/cory-johannsen/dragonbot/internal/scripting"
	"github.com/cory-johannsen/dragonbot/internal/server"
	"github.com/cory-johannsen/dragonbot/internal/status"
	"github.com/cory-johannsen/dragonbot/internal/storage/postgres"
	"github.com/cory-johannsen/dragonbot/internal/threat"
	"github.com/cory-johannsen/dragonbot/internal/transport"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// reconnectDelay is the pause between gateway connection attempts.
const reconnectDelay = 5 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, _, err := observability.NewLogger(cfg.Logging, cfg.Bot.Username)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	clk := clock.Real{}
	dispatcher := event.NewDispatcher(event.Options{
		SlowThreshold: cfg.Bot.SlowHandlerThreshold,
		RecentCap:     cfg.Bot.RecentEventsCap,
		ErrorCap:      cfg.Bot.ErrorHistoryCap,
		LogEvents:     cfg.Bot.LogEvents,
	}, clk, observability.Component(logger, "events"))

	if cfg.Journal.Enabled {
		w := journal.NewWriter(cfg.Journal.Dir, clk)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("closing journal", zap.Error(err))
			}
		}()
		if err := dispatcher.AddMiddleware(w.Middleware()); err != nil {
			logger.Fatal("installing journal", zap.Error(err))
		}
		logger.Info("event journal enabled", zap.String("dir", cfg.Journal.Dir))
	}

	store := world.NewStore(clk, observability.Component(logger, "world"))

	gen, prompts, err := newGenerator(cfg.LLM, clk, logger)
	if err != nil {
		logger.Fatal("configuring text generator", zap.Error(err))
	}

	backend, closeBackend, err := openLearning(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening learning backend", zap.Error(err))
	}
	defer closeBackend()
	var recorder *learning.Recorder
	var history map[string]combat.TypeStats
	if backend != nil {
		recorder = learning.NewRecorder(backend, cfg.Learning.Buffer, observability.Component(logger, "learning"))
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("closing learning recorder", zap.Error(err))
			}
		}()
		if history, err = recorder.TypeStats(ctx); err != nil {
			logger.Warn("loading fight history", zap.Error(err))
		}
	}

	threatTable := threat.DefaultTable()
	if cfg.Threat.TablePath != "" {
		if threatTable, err = threat.LoadTable(cfg.Threat.TablePath); err != nil {
			logger.Fatal("loading hostile table", zap.Error(err))
		}
	}
	strategyTable := combat.DefaultStrategyTable()
	if cfg.Combat.StrategiesPath != "" {
		if strategyTable, err = combat.LoadStrategyTable(cfg.Combat.StrategiesPath); err != nil {
			logger.Fatal("loading strategy table", zap.Error(err))
		}
	}

	var scripts bot.ScriptCaller
	if cfg.Combat.TacticScriptsDir != "" {
		mgr := scripting.NewManager(cfg.Combat.TacticInstructionCap, observability.Component(logger, "lua"))
		defer mgr.Close()
		if err := mgr.Load(bot.TacticScriptSet, cfg.Combat.TacticScriptsDir); err != nil {
			logger.Fatal("loading tactic scripts", zap.Error(err))
		}
		scripts = mgr
	}

	tdeps := transport.Deps{
		Dispatcher: dispatcher,
		Position:   store,
		Clock:      clk,
		Logger:     observability.Component(logger, "transport"),
	}
	if recorder != nil {
		tdeps.Learner = recorder
	}
	client, err := transport.NewClient(transport.Config{
		URL:              cfg.Bot.ServerURL,
		Username:         cfg.Bot.Username,
		HandshakeTimeout: cfg.Bot.HandshakeTimeout,
	}, tdeps)
	if err != nil {
		logger.Fatal("creating gateway client", zap.Error(err))
	}

	bdeps := bot.Deps{
		Events:        dispatcher,
		World:         store,
		Chat:          client,
		Mover:         client,
		Attacker:      client,
		Generator:     gen,
		Prompts:       prompts,
		Scripts:       scripts,
		ThreatTable:   threatTable,
		StrategyTable: strategyTable,
		History:       history,
		Clock:         clk,
		Logger:        logger,
	}
	if recorder != nil {
		bdeps.Learner = recorder
	}
	if cfg.Bot.RemoteTasks {
		tasks := client.Tasks()
		bdeps.Actions = mission.Actions{Gatherer: tasks, Nether: tasks, Stronghold: tasks, End: tasks}
	}
	b, err := bot.New(cfg, bdeps)
	if err != nil {
		logger.Fatal("assembling bot", zap.Error(err))
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("gateway", &server.FuncService{
		StartFn: func(ctx context.Context) error { return runGateway(ctx, client, logger) },
		StopFn:  func() { _ = client.Close() },
	})
	lifecycle.Add("bot", &server.FuncService{StartFn: b.Run})

	if cfg.Control.Enabled {
		srv := control.NewServer(cfg.Control.Addr(), cfg.Control.TokenHash,
			control.NewService(b.Mission, b.Snapshot, observability.Component(logger, "control")),
			observability.Component(logger, "control"))
		lifecycle.Add("control", &server.FuncService{
			StartFn: func(context.Context) error { return srv.Start() },
			StopFn:  srv.Stop,
		})
	}
	if cfg.Status.Enabled {
		srv := status.NewServer(cfg.Status.Addr(), b, observability.Component(logger, "status"))
		lifecycle.Add("status", &server.FuncService{
			StartFn: func(context.Context) error { return srv.Start() },
			StopFn:  srv.Stop,
		})
	}

	logger.Info("dragon bot initialized",
		zap.String("gateway", cfg.Bot.ServerURL),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("learning", cfg.Learning.Backend),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("bot stopped with error", zap.Error(err))
	}
}

// runGateway keeps the gateway connection up until ctx is cancelled.
func runGateway(ctx context.Context, client *transport.Client, logger *zap.Logger) error {
	for {
		err := client.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("gateway connection lost, reconnecting",
			zap.Error(event.WithKind(event.KindTransient, err)),
			zap.Duration("delay", reconnectDelay),
		)
		if err := clock.Sleep(ctx, reconnectDelay); err != nil {
			return nil
		}
	}
}

// newGenerator builds the configured text generator. Provider "none" yields nil values.
func newGenerator(cfg config.LLMConfig, clk clock.Clock, logger *zap.Logger) (llm.Generator, mission.PromptSink, error) {
	switch cfg.Provider {
	case "none", "":
		logger.Info("no text generator configured; strategies and research use static fallbacks")
		return nil, nil, nil
	case "anthropic":
		a, err := llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}, observability.Component(logger, "llm"))
		if err != nil {
			return nil, nil, err
		}
		return llm.NewLogged(a, cfg.InteractionLogCap, clk, observability.Component(logger, "llm")), a, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// openLearning opens the configured learning backend. Backend "none" yields a
// nil store. The returned cleanup releases resources the store's own Close
// leaves open.
func openLearning(ctx context.Context, cfg config.Config, logger *zap.Logger) (learning.Store, func(), error) {
	switch cfg.Learning.Backend {
	case "none", "":
		return nil, func() {}, nil
	case "sqlite":
		s, err := learning.OpenSQLite(cfg.Learning.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("learning backend: sqlite", zap.String("path", cfg.Learning.SQLitePath))
		return s, func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Database, observability.Component(logger, "postgres"))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("learning backend: postgres", zap.String("host", cfg.Database.Host), zap.Any("pool", pool.Stats()))
		return postgres.NewLearningRepository(pool.DB()), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown learning backend %q", cfg.Learning.Backend)
	}
}
