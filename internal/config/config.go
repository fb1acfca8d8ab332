// Package config provides Viper-based configuration loading for the dragon bot.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BotConfig holds identity, transport and dispatcher settings.
type BotConfig struct {
	// Username is the in-game name the bot connects as.
	Username string `mapstructure:"username"`
	// ServerURL is the websocket URL of the game gateway.
	ServerURL string `mapstructure:"server_url"`
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// SlowHandlerThreshold is the handler latency above which a performance_warning is emitted.
	SlowHandlerThreshold time.Duration `mapstructure:"slow_handler_threshold"`
	// RecentEventsCap bounds the dispatcher's recent-events ring.
	RecentEventsCap int `mapstructure:"recent_events_cap"`
	// ErrorHistoryCap bounds the dispatcher's error ring.
	ErrorHistoryCap int `mapstructure:"error_history_cap"`
	// ChatHistoryCap bounds the inbound chat history.
	ChatHistoryCap int `mapstructure:"chat_history_cap"`
	// LogEvents writes one debug line per dispatched event when true.
	LogEvents bool `mapstructure:"log_events"`
	// RemoteTasks forwards mission phase actions to the gateway as task requests.
	RemoteTasks bool `mapstructure:"remote_tasks"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// ThreatConfig holds threat assessment settings.
type ThreatConfig struct {
	MaxCombatRange float64       `mapstructure:"max_combat_range"`
	Interval       time.Duration `mapstructure:"interval"`
	DefaultThreat  float64       `mapstructure:"default_threat"`
	Low            float64       `mapstructure:"low"`
	Medium         float64       `mapstructure:"medium"`
	High           float64       `mapstructure:"high"`
	Critical       float64       `mapstructure:"critical"`
	// TablePath optionally points at a YAML hostile table; empty uses the built-in table.
	TablePath string `mapstructure:"table_path"`
}

// CombatConfig holds engagement state machine settings. RetreatCooldowns maps a
// retreat reason to the window during which re-engagement is suppressed.
type CombatConfig struct {
	TickInterval         time.Duration            `mapstructure:"tick_interval"`
	AttackRange          float64                  `mapstructure:"attack_range"`
	AttackCooldown       time.Duration            `mapstructure:"attack_cooldown"`
	FleeHealth           float64                  `mapstructure:"flee_health"`
	RetreatDistance      float64                  `mapstructure:"retreat_distance"`
	RetreatMoveTimeout   time.Duration            `mapstructure:"retreat_move_timeout"`
	RetreatCooldowns     map[string]time.Duration `mapstructure:"retreat_cooldowns"`
	CriticalRetreatAt    float64                  `mapstructure:"critical_retreat_health_ratio"`
	StrategyCooldown     time.Duration            `mapstructure:"strategy_cooldown"`
	StrategyTimeout      time.Duration            `mapstructure:"strategy_timeout"`
	ReassessAfter        time.Duration            `mapstructure:"reassess_after"`
	ReassessEvery        time.Duration            `mapstructure:"reassess_every"`
	HistoryCap           int                      `mapstructure:"history_cap"`
	SuccessWeight        float64                  `mapstructure:"success_weight"`
	ValueWeight          float64                  `mapstructure:"value_weight"`
	RiskWeight           float64                  `mapstructure:"risk_weight"`
	EngageThreshold      float64                  `mapstructure:"engage_threshold"`
	StrategiesPath       string                   `mapstructure:"strategies_path"`
	TacticScriptsDir     string                   `mapstructure:"tactic_scripts_dir"`
	TacticInstructionCap int                      `mapstructure:"tactic_instruction_cap"`
}

// MissionConfig holds mission phase state machine settings.
type MissionConfig struct {
	AnnounceDelay      time.Duration `mapstructure:"announce_delay"`
	RestartInviteDelay time.Duration `mapstructure:"restart_invite_delay"`
	RestartDelay       time.Duration `mapstructure:"restart_delay"`
	// ProgressLogCap bounds the progress log; zero keeps every entry.
	ProgressLogCap int `mapstructure:"progress_log_cap"`
}

// LLMConfig holds strategy-text provider settings.
type LLMConfig struct {
	// Provider is "anthropic" or "none".
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	MaxTokens         int64         `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	InteractionLogCap int           `mapstructure:"interaction_log_cap"`
}

// LearningConfig selects where learning notifications are persisted.
type LearningConfig struct {
	// Backend is "none", "sqlite" or "postgres".
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Buffer     int    `mapstructure:"buffer"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// JournalConfig controls the compressed event journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ControlConfig holds the gRPC mission-control listener settings.
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// TokenHash is a bcrypt hash of the operator token; empty disables authentication.
	TokenHash string `mapstructure:"token_hash"`
}

// Addr returns the "host:port" listen address.
func (c ControlConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StatusConfig holds the HTTP status listener settings.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (s StatusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Threat   ThreatConfig   `mapstructure:"threat"`
	Combat   CombatConfig   `mapstructure:"combat"`
	Mission  MissionConfig  `mapstructure:"mission"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Learning LearningConfig `mapstructure:"learning"`
	Database DatabaseConfig `mapstructure:"database"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Control  ControlConfig  `mapstructure:"control"`
	Status   StatusConfig   `mapstructure:"status"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateBot(c.Bot),
		validateLogging(c.Logging),
		validateThreat(c.Threat),
		validateCombat(c.Combat),
		validateMission(c.Mission),
		validateLLM(c.LLM),
		validateLearning(c.Learning, c.Database),
		validatePort("control.port", c.Control.Enabled, c.Control.Port),
		validatePort("status.port", c.Status.Enabled, c.Status.Port),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		errs = append(errs, "journal.dir must not be empty when the journal is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBot(b BotConfig) error {
	var errs []string
	if b.Username == "" {
		errs = append(errs, "bot.username must not be empty")
	}
	if !strings.HasPrefix(b.ServerURL, "ws://") && !strings.HasPrefix(b.ServerURL, "wss://") {
		errs = append(errs, fmt.Sprintf("bot.server_url must be a ws:// or wss:// URL, got %q", b.ServerURL))
	}
	if b.SlowHandlerThreshold <= 0 {
		errs = append(errs, "bot.slow_handler_threshold must be positive")
	}
	if b.RecentEventsCap < 1 || b.ErrorHistoryCap < 1 || b.ChatHistoryCap < 1 {
		errs = append(errs, "bot history capacities must be >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateThreat(t ThreatConfig) error {
	var errs []string
	if t.MaxCombatRange <= 0 {
		errs = append(errs, fmt.Sprintf("threat.max_combat_range must be positive, got %v", t.MaxCombatRange))
	}
	if t.Interval <= 0 {
		errs = append(errs, "threat.interval must be positive")
	}
	if t.DefaultThreat < 0 {
		errs = append(errs, "threat.default_threat must not be negative")
	}
	if !(t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		errs = append(errs, "threat thresholds must be strictly ascending (low < medium < high < critical)")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCombat(c CombatConfig) error {
	var errs []string
	if c.TickInterval <= 0 {
		errs = append(errs, "combat.tick_interval must be positive")
	}
	if c.AttackRange <= 0 {
		errs = append(errs, "combat.attack_range must be positive")
	}
	if c.AttackCooldown < 0 || c.StrategyCooldown < 0 {
		errs = append(errs, "combat cooldowns must not be negative")
	}
	if c.FleeHealth < 0 {
		errs = append(errs, "combat.flee_health must not be negative")
	}
	if c.RetreatDistance <= 0 {
		errs = append(errs, "combat.retreat_distance must be positive")
	}
	for reason, d := range c.RetreatCooldowns {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("combat.retreat_cooldowns.%s must not be negative", reason))
		}
	}
	if c.ReassessEvery <= 0 {
		errs = append(errs, "combat.reassess_every must be positive")
	}
	if c.HistoryCap < 1 {
		errs = append(errs, fmt.Sprintf("combat.history_cap must be >= 1, got %d", c.HistoryCap))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMission(m MissionConfig) error {
	if m.AnnounceDelay < 0 || m.RestartInviteDelay < 0 || m.RestartDelay < 0 {
		return errors.New("mission delays must not be negative")
	}
	if m.ProgressLogCap < 0 {
		return fmt.Errorf("mission.progress_log_cap must be >= 0, got %d", m.ProgressLogCap)
	}
	return nil
}

func validateLLM(l LLMConfig) error {
	switch l.Provider {
	case "none":
		return nil
	case "anthropic":
		var errs []string
		if l.Model == "" {
			errs = append(errs, "llm.model must not be empty")
		}
		if l.MaxTokens < 1 {
			errs = append(errs, "llm.max_tokens must be >= 1")
		}
		if l.Timeout <= 0 {
			errs = append(errs, "llm.timeout must be positive")
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	default:
		return fmt.Errorf("llm.provider must be one of [anthropic, none], got %q", l.Provider)
	}
}

func validateLearning(l LearningConfig, d DatabaseConfig) error {
	switch l.Backend {
	case "none":
		return nil
	case "sqlite":
		if l.SQLitePath == "" {
			return errors.New("learning.sqlite_path must not be empty for the sqlite backend")
		}
		return nil
	case "postgres":
		return validateDatabase(d)
	default:
		return fmt.Errorf("learning.backend must be one of [none, sqlite, postgres], got %q", l.Backend)
	}
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(key string, enabled bool, port int) error {
	if !enabled {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// DRAGONBOT_LLM_API_KEY overrides llm.api_key, and so on.
	v.SetEnvPrefix("DRAGONBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance populated only with default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.username", "DragonBot")
	v.SetDefault("bot.server_url", "ws://127.0.0.1:8080/bot")
	v.SetDefault("bot.handshake_timeout", "10s")
	v.SetDefault("bot.slow_handler_threshold", "100ms")
	v.SetDefault("bot.recent_events_cap", 100)
	v.SetDefault("bot.error_history_cap", 50)
	v.SetDefault("bot.chat_history_cap", 50)
	v.SetDefault("bot.log_events", false)
	v.SetDefault("bot.remote_tasks", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("threat.max_combat_range", 20.0)
	v.SetDefault("threat.interval", "1s")
	v.SetDefault("threat.default_threat", 20.0)
	v.SetDefault("threat.low", 20.0)
	v.SetDefault("threat.medium", 40.0)
	v.SetDefault("threat.high", 60.0)
	v.SetDefault("threat.critical", 80.0)

	v.SetDefault("combat.tick_interval", "100ms")
	v.SetDefault("combat.attack_range", 3.5)
	v.SetDefault("combat.attack_cooldown", "600ms")
	v.SetDefault("combat.flee_health", 6.0)
	v.SetDefault("combat.retreat_distance", 16.0)
	v.SetDefault("combat.retreat_move_timeout", "8s")
	v.SetDefault("combat.retreat_cooldowns", map[string]string{
		"low_health":      "30s",
		"critical_threat": "60s",
		"strategic":       "20s",
		"tactical":        "15s",
	})
	v.SetDefault("combat.strategy_cooldown", "30s")
	v.SetDefault("combat.strategy_timeout", "20s")
	v.SetDefault("combat.reassess_after", "10s")
	v.SetDefault("combat.reassess_every", "5s")
	v.SetDefault("combat.history_cap", 100)
	v.SetDefault("combat.critical_retreat_health_ratio", 0.5)
	v.SetDefault("combat.success_weight", 0.4)
	v.SetDefault("combat.value_weight", 0.3)
	v.SetDefault("combat.risk_weight", 0.3)
	v.SetDefault("combat.engage_threshold", 0.5)
	v.SetDefault("combat.tactic_instruction_cap", 100000)

	v.SetDefault("mission.announce_delay", "2s")
	v.SetDefault("mission.restart_invite_delay", "10s")
	v.SetDefault("mission.restart_delay", "3s")
	v.SetDefault("mission.progress_log_cap", 0)

	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.interaction_log_cap", 500)

	v.SetDefault("learning.backend", "none")
	v.SetDefault("learning.sqlite_path", "data/learning.db")
	v.SetDefault("learning.buffer", 256)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dragonbot")
	v.SetDefault("database.password", "dragonbot")
	v.SetDefault("database.name", "dragonbot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.dir", "data/journal")

	v.SetDefault("control.enabled", false)
	v.SetDefault("control.host", "127.0.0.1")
	v.SetDefault("control.port", 50061)

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.host", "127.0.0.1")
	v.SetDefault("status.port", 8081)
}
