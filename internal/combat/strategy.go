package combat

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/threat"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// defaultKey is the strategy table entry used for types without their own row.
const defaultKey = "default"

// StrategyRequest describes the situation a strategy is wanted for.
type StrategyRequest struct {
	TargetType  string
	Distance    float64
	HealthRatio float64
	Level       threat.Level
	Hostiles    int
}

// Fingerprint buckets the request into target type × health quarter × distance band.
func (r StrategyRequest) Fingerprint() string {
	hb := int(math.Floor(r.HealthRatio * 4))
	hb = min(max(hb, 0), 3)
	band := "far"
	switch {
	case r.Distance < 4:
		band = "close"
	case r.Distance < 10:
		band = "mid"
	}
	return fmt.Sprintf("%s|h%d|%s", world.NormalizeType(r.TargetType), hb, band)
}

// StrategySource produces a strategy from an external provider. It may fail.
type StrategySource interface {
	Strategy(ctx context.Context, req StrategyRequest) (Strategy, error)
}

// StrategyTable is the static fallback keyed by entity type.
type StrategyTable struct {
	byType map[string]Strategy
}

type yamlStrategy struct {
	Type            string   `yaml:"type"`
	Approach        string   `yaml:"approach"`
	Tactics         []string `yaml:"tactics"`
	Risk            string   `yaml:"risk"`
	ExpectedOutcome string   `yaml:"expected_outcome"`
}

type yamlStrategyFile struct {
	Strategies []yamlStrategy `yaml:"strategies"`
}

// For returns the strategy for entityType, falling back to the default row.
func (t *StrategyTable) For(entityType string) Strategy {
	s, ok := t.byType[world.NormalizeType(entityType)]
	if !ok {
		s = t.byType[defaultKey]
	}
	s.Tactics = append([]string(nil), s.Tactics...)
	s.Source = SourceDefault
	return s
}

// LoadStrategyTable reads a YAML file with a top-level "strategies" list.
//
// Postcondition: The returned table always has a default row.
func LoadStrategyTable(path string) (*StrategyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("combat.LoadStrategyTable: reading %q: %w", path, err)
	}
	var f yamlStrategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("combat.LoadStrategyTable: parsing %q: %w", path, err)
	}
	if len(f.Strategies) == 0 {
		return nil, fmt.Errorf("combat.LoadStrategyTable: %s has no strategies", path)
	}
	t := &StrategyTable{byType: make(map[string]Strategy, len(f.Strategies)+1)}
	for _, ys := range f.Strategies {
		key := world.NormalizeType(ys.Type)
		if key == "" {
			return nil, fmt.Errorf("combat.LoadStrategyTable: %s: strategy with empty type", path)
		}
		a, ok := ParseApproach(ys.Approach)
		if !ok {
			return nil, fmt.Errorf("combat.LoadStrategyTable: %s: %q has unknown approach %q", path, key, ys.Approach)
		}
		if _, dup := t.byType[key]; dup {
			return nil, fmt.Errorf("combat.LoadStrategyTable: %s: duplicate strategy %q", path, key)
		}
		t.byType[key] = Strategy{Approach: a, Tactics: ys.Tactics, Risk: ys.Risk, ExpectedOutcome: ys.ExpectedOutcome}
	}
	if _, ok := t.byType[defaultKey]; !ok {
		t.byType[defaultKey] = DefaultStrategyTable().byType[defaultKey]
	}
	return t, nil
}

// DefaultStrategyTable returns the built-in fallback strategies.
func DefaultStrategyTable() *StrategyTable {
	return &StrategyTable{byType: map[string]Strategy{
		defaultKey:        {Approach: ApproachBalanced, Tactics: []string{"direct_attack"}, Risk: "medium", ExpectedOutcome: "win"},
		"zombie":          {Approach: ApproachAggressive, Tactics: []string{"direct_attack"}, Risk: "low", ExpectedOutcome: "win"},
		"husk":            {Approach: ApproachAggressive, Tactics: []string{"direct_attack"}, Risk: "low", ExpectedOutcome: "win"},
		"skeleton":        {Approach: ApproachAggressive, Tactics: []string{"close_distance", "strafe"}, Risk: "medium", ExpectedOutcome: "win"},
		"spider":          {Approach: ApproachBalanced, Tactics: []string{"strafe"}, Risk: "low", ExpectedOutcome: "win"},
		"creeper":         {Approach: ApproachBalanced, Tactics: []string{"hit_and_run"}, Risk: "high", ExpectedOutcome: "win before it detonates"},
		"enderman":        {Approach: ApproachDefensive, Tactics: []string{"keep_distance"}, Risk: "high", ExpectedOutcome: "avoid unless needed"},
		"witch":           {Approach: ApproachAggressive, Tactics: []string{"close_distance"}, Risk: "medium", ExpectedOutcome: "win"},
		"blaze":           {Approach: ApproachBalanced, Tactics: []string{"strafe", "close_distance"}, Risk: "high", ExpectedOutcome: "win with blaze rods"},
		"wither_skeleton": {Approach: ApproachDefensive, Tactics: []string{"hit_and_run"}, Risk: "high", ExpectedOutcome: "win"},
		"end_crystal":     {Approach: ApproachAggressive, Tactics: []string{"direct_attack"}, Risk: "medium", ExpectedOutcome: "crystal destroyed"},
		"ender_dragon":    {Approach: ApproachDefensive, Tactics: []string{"target_crystals", "strafe", "tactical_retreat"}, Risk: "high", ExpectedOutcome: "dragon defeated"},
	}}
}

type cacheEntry struct {
	strategy Strategy
	at       time.Time
}

// ProviderStats counts how strategies were obtained.
type ProviderStats struct {
	CacheHits   uint64 `json:"cache_hits"`
	SourceCalls uint64 `json:"source_calls"`
	Failures    uint64 `json:"failures"`
	Fallbacks   uint64 `json:"fallbacks"`
	Cached      int    `json:"cached"`
}

// Provider resolves strategies from cache, an external source, or the static table.
// External calls are throttled by a cooldown, and every failure degrades to the table.
type Provider struct {
	source   StrategySource
	table    *StrategyTable
	cooldown time.Duration
	timeout  time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	cache    map[string]cacheEntry
	lastCall time.Time
	stats    ProviderStats
}

// NewProvider creates a Provider. source may be nil, in which case only the table is used.
//
// Precondition: table, clk and logger must be non-nil.
func NewProvider(source StrategySource, table *StrategyTable, cooldown, timeout time.Duration, clk clock.Clock, logger *zap.Logger) *Provider {
	return &Provider{
		source:   source,
		table:    table,
		cooldown: cooldown,
		timeout:  timeout,
		clock:    clk,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

// Resolve returns a strategy for req. It never fails and calls the external source at
// most once per cooldown window.
func (p *Provider) Resolve(ctx context.Context, req StrategyRequest) Strategy {
	key := req.Fingerprint()
	now := p.clock.Now()

	p.mu.Lock()
	entry, cached := p.cache[key]
	if cached && now.Sub(entry.at) < p.cooldown {
		p.stats.CacheHits++
		p.mu.Unlock()
		return withSource(entry.strategy, SourceCache)
	}
	allowed := p.source != nil && (p.lastCall.IsZero() || now.Sub(p.lastCall) >= p.cooldown)
	if allowed {
		p.lastCall = now
		p.stats.SourceCalls++
	}
	p.mu.Unlock()

	if allowed {
		callCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		s, err := p.source.Strategy(callCtx, req)
		if err == nil {
			p.mu.Lock()
			p.cache[key] = cacheEntry{strategy: s, at: p.clock.Now()}
			p.mu.Unlock()
			p.logger.Debug("strategy from source", zap.String("fingerprint", key), zap.String("approach", string(s.Approach)))
			return withSource(s, SourceAI)
		}
		p.mu.Lock()
		p.stats.Failures++
		p.mu.Unlock()
		p.logger.Warn("strategy source failed, using fallback", zap.String("fingerprint", key), zap.Error(err))
	}

	if cached {
		p.mu.Lock()
		p.stats.CacheHits++
		p.mu.Unlock()
		return withSource(entry.strategy, SourceCache)
	}
	p.mu.Lock()
	p.stats.Fallbacks++
	p.mu.Unlock()
	return p.table.For(req.TargetType)
}

// Stats returns the provider counters.
func (p *Provider) Stats() ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Cached = len(p.cache)
	return s
}

func withSource(s Strategy, source string) Strategy {
	s.Tactics = append([]string(nil), s.Tactics...)
	s.Source = source
	return s
}
