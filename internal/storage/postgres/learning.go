package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/dragonbot/internal/combat"
	"github.com/cory-johannsen/dragonbot/internal/learning"
	"github.com/cory-johannsen/dragonbot/internal/mission"
)

// LearningRepository persists learning records. It implements learning.Store.
type LearningRepository struct {
	db *pgxpool.Pool
}

// NewLearningRepository creates a LearningRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewLearningRepository(db *pgxpool.Pool) *LearningRepository {
	return &LearningRepository{db: db}
}

// SaveCombat upserts a completed combat session.
//
// Precondition: rec.ID must be a UUID.
func (r *LearningRepository) SaveCombat(ctx context.Context, rec combat.SessionRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO combat_sessions
		   (session_id, target_id, target_type, outcome, approach, strategy_source,
		    started_at, ended_at, duration_ms, attacks, damage_taken)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO UPDATE SET
		   outcome = EXCLUDED.outcome, ended_at = EXCLUDED.ended_at,
		   duration_ms = EXCLUDED.duration_ms, attacks = EXCLUDED.attacks,
		   damage_taken = EXCLUDED.damage_taken`,
		rec.ID, rec.TargetID, rec.TargetType, string(rec.Outcome), string(rec.Approach), rec.StrategySource,
		rec.StartTime, rec.EndTime, rec.Duration.Milliseconds(), rec.Attacks, rec.DamageTaken,
	)
	if err != nil {
		return fmt.Errorf("inserting combat session %s: %w", rec.ID, err)
	}
	return nil
}

// SaveNavigation appends a navigation outcome.
func (r *LearningRepository) SaveNavigation(ctx context.Context, rec learning.NavigationRecord) error {
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO navigation_records
		   (request_id, from_x, from_y, from_z, to_x, to_y, to_z, success, error, duration_ms, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.RequestID, rec.From.X, rec.From.Y, rec.From.Z, rec.To.X, rec.To.Y, rec.To.Z,
		rec.Success, errText, rec.Duration.Milliseconds(), rec.At,
	)
	if err != nil {
		return fmt.Errorf("inserting navigation record %s: %w", rec.RequestID, err)
	}
	return nil
}

// SaveMission upserts a completed mission.
//
// Precondition: c.RunID must be a UUID.
func (r *LearningRepository) SaveMission(ctx context.Context, c mission.Completion) error {
	items := c.Items
	if items == nil {
		items = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO mission_completions
		   (run_id, started_at, completed_at, duration_ms, goal, strategy, items,
		    research_kind, combats_won, combats_fought)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id) DO NOTHING`,
		c.RunID, c.StartedAt, c.CompletedAt, c.Duration.Milliseconds(), c.Goal, c.Strategy, items,
		string(c.ResearchKind), c.CombatsWon, c.CombatsFought,
	)
	if err != nil {
		return fmt.Errorf("inserting mission completion %s: %w", c.RunID, err)
	}
	return nil
}

// TypeStats aggregates fights and wins per target type.
func (r *LearningRepository) TypeStats(ctx context.Context) (map[string]combat.TypeStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT target_type, COUNT(*), COUNT(*) FILTER (WHERE outcome = $1)
		 FROM combat_sessions GROUP BY target_type`,
		string(combat.OutcomeTargetDefeated),
	)
	if err != nil {
		return nil, fmt.Errorf("querying type stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]combat.TypeStats)
	for rows.Next() {
		var typ string
		var fights, wins int64
		if err := rows.Scan(&typ, &fights, &wins); err != nil {
			return nil, fmt.Errorf("scanning type stats: %w", err)
		}
		out[typ] = combat.TypeStats{Fights: int(fights), Wins: int(wins)}
	}
	return out, rows.Err()
}

// Close is a no-op; the pool is owned and closed by its creator.
func (r *LearningRepository) Close() error { return nil }

var _ learning.Store = (*LearningRepository)(nil)
