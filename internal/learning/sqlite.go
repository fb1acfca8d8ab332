package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/mission"
)

// SQLiteStore persists learning records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and ensures the schema.
//
// Precondition: path must be non-empty; its directory is created if missing.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("learning.OpenSQLite: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("learning.OpenSQLite: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("learning.OpenSQLite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS combat_sessions (
			session_id TEXT PRIMARY KEY,
			target_id TEXT NOT NULL,
			target_type TEXT NOT NULL,
			outcome TEXT NOT NULL,
			approach TEXT NOT NULL,
			strategy_source TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			attacks INTEGER NOT NULL,
			damage_taken REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_combat_sessions_type ON combat_sessions(target_type);`,
		`CREATE TABLE IF NOT EXISTS navigation (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			from_x REAL NOT NULL, from_y REAL NOT NULL, from_z REAL NOT NULL,
			to_x REAL NOT NULL, to_y REAL NOT NULL, to_z REAL NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			duration_ms INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS missions (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			goal TEXT NOT NULL,
			strategy TEXT NOT NULL,
			items_json TEXT NOT NULL,
			research_kind TEXT NOT NULL,
			combats_won INTEGER NOT NULL,
			combats_fought INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// SaveCombat upserts a combat session.
func (s *SQLiteStore) SaveCombat(ctx context.Context, rec combat.SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO combat_sessions
		 (session_id, target_id, target_type, outcome, approach, strategy_source, started_at, ended_at, duration_ms, attacks, damage_taken)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TargetID, rec.TargetType, string(rec.Outcome), string(rec.Approach), rec.StrategySource,
		ts(rec.StartTime), ts(rec.EndTime), rec.Duration.Milliseconds(), rec.Attacks, rec.DamageTaken,
	)
	if err != nil {
		return fmt.Errorf("saving combat %s: %w", rec.ID, err)
	}
	return nil
}

// SaveNavigation appends a navigation outcome.
func (s *SQLiteStore) SaveNavigation(ctx context.Context, rec NavigationRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO navigation
		 (request_id, from_x, from_y, from_z, to_x, to_y, to_z, success, error, duration_ms, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.From.X, rec.From.Y, rec.From.Z, rec.To.X, rec.To.Y, rec.To.Z,
		success, rec.Error, rec.Duration.Milliseconds(), ts(rec.At),
	)
	if err != nil {
		return fmt.Errorf("saving navigation %s: %w", rec.RequestID, err)
	}
	return nil
}

// SaveMission upserts a completed mission.
func (s *SQLiteStore) SaveMission(ctx context.Context, c mission.Completion) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("encoding mission items: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO missions
		 (run_id, started_at, completed_at, duration_ms, goal, strategy, items_json, research_kind, combats_won, combats_fought)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, ts(c.StartedAt), ts(c.CompletedAt), c.Duration.Milliseconds(), c.Goal, c.Strategy,
		string(items), string(c.ResearchKind), c.CombatsWon, c.CombatsFought,
	)
	if err != nil {
		return fmt.Errorf("saving mission %s: %w", c.RunID, err)
	}
	return nil
}

// TypeStats aggregates fights and wins per target type.
func (s *SQLiteStore) TypeStats(ctx context.Context) (map[string]combat.TypeStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_type, COUNT(*), SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END)
		 FROM combat_sessions GROUP BY target_type`, string(combat.OutcomeTargetDefeated))
	if err != nil {
		return nil, fmt.Errorf("querying type stats: %w", err)
	}
	defer rows.Close()
	out := make(map[string]combat.TypeStats)
	for rows.Next() {
		var typ string
		var st combat.TypeStats
		if err := rows.Scan(&typ, &st.Fights, &st.Wins); err != nil {
			return nil, fmt.Errorf("scanning type stats: %w", err)
		}
		out[typ] = st
	}
	return out, rows.Err()
}

// Counts returns the number of stored combat, navigation and mission rows.
func (s *SQLiteStore) Counts(ctx context.Context) (combats, navigations, missions int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM combat_sessions), (SELECT COUNT(*) FROM navigation), (SELECT COUNT(*) FROM missions)`,
	).Scan(&combats, &navigations, &missions)
	return
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
