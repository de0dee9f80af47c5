package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

type StatsRepo struct {
	pool *pgxpool.Pool
}

func NewStatsRepo(pool *pgxpool.Pool) *StatsRepo {
	return &StatsRepo{pool: pool}
}

// GetModerator returns zeroed counters for a moderator without decisions.
func (r *StatsRepo) GetModerator(ctx context.Context, moderatorID int64) (model.ModeratorStats, error) {
	if r.pool == nil {
		return model.ModeratorStats{}, fmt.Errorf("postgres pool is nil")
	}

	stats, err := scanModeratorStats(r.pool.QueryRow(ctx, `
SELECT moderator_id, approved, rejected, reviewed, warnings_issued, avg_latency_ms, updated_at
FROM moderator_stats
WHERE moderator_id = $1
`, moderatorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ModeratorStats{ModeratorID: moderatorID}, nil
		}
		return model.ModeratorStats{}, fmt.Errorf("get moderator stats: %w", err)
	}
	return stats, nil
}

func (r *StatsRepo) Leaderboard(ctx context.Context, limit int) ([]model.ModeratorStats, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := r.pool.Query(ctx, `
SELECT moderator_id, approved, rejected, reviewed, warnings_issued, avg_latency_ms, updated_at
FROM moderator_stats
ORDER BY reviewed DESC, moderator_id ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query moderator leaderboard: %w", err)
	}
	defer rows.Close()

	result := make([]model.ModeratorStats, 0, limit)
	for rows.Next() {
		stats, err := scanModeratorStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan moderator stats: %w", err)
		}
		result = append(result, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderator stats: %w", err)
	}
	return result, nil
}

// Daily aggregates audit actions in [from, to).
func (r *StatsRepo) Daily(ctx context.Context, from, to time.Time) (model.DailyAnalytics, error) {
	if r.pool == nil {
		return model.DailyAnalytics{}, fmt.Errorf("postgres pool is nil")
	}
	if !to.After(from) {
		return model.DailyAnalytics{}, fmt.Errorf("invalid analytics range")
	}

	out := model.DailyAnalytics{Day: from}
	err := r.pool.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE action = $3),
	COUNT(*) FILTER (WHERE action = $4),
	COUNT(*) FILTER (WHERE action = $5),
	COUNT(*) FILTER (WHERE action = $6),
	COUNT(*) FILTER (WHERE action = $7),
	COUNT(*) FILTER (WHERE action = $8),
	COUNT(DISTINCT actor_id) FILTER (WHERE action = $3)
FROM audit_log
WHERE created_at >= $1
  AND created_at < $2
`,
		from,
		to,
		string(enums.AuditActionMessageSubmitted),
		string(enums.AuditActionMessageApproved),
		string(enums.AuditActionMessageRejected),
		string(enums.AuditActionMessageExpired),
		string(enums.AuditActionPunishmentImposed),
		string(enums.AuditActionPunishmentExpired),
	).Scan(
		&out.Submitted,
		&out.Approved,
		&out.Rejected,
		&out.Expired,
		&out.PunishmentsImposed,
		&out.PunishmentsExpired,
		&out.ActiveSubmitters,
	)
	if err != nil {
		return model.DailyAnalytics{}, fmt.Errorf("query daily analytics: %w", err)
	}
	return out, nil
}

func (r *StatsRepo) DecisionTotals(ctx context.Context) (approved int64, rejected int64, err error) {
	if r.pool == nil {
		return 0, 0, fmt.Errorf("postgres pool is nil")
	}
	if err := r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(approved), 0), COALESCE(SUM(rejected), 0)
FROM moderator_stats
`).Scan(&approved, &rejected); err != nil {
		return 0, 0, fmt.Errorf("sum moderator decisions: %w", err)
	}
	return approved, rejected, nil
}

func recordDecision(ctx context.Context, q dbtx, moderatorID int64, approved bool, latency time.Duration, now time.Time) error {
	approvedDelta, rejectedDelta := 0, 1
	if approved {
		approvedDelta, rejectedDelta = 1, 0
	}
	if latency < 0 {
		latency = 0
	}

	if _, err := q.Exec(ctx, `
INSERT INTO moderator_stats (moderator_id, approved, rejected, reviewed, avg_latency_ms, updated_at)
VALUES ($1, $2, $3, 1, $4, $5)
ON CONFLICT (moderator_id) DO UPDATE SET
	approved = moderator_stats.approved + EXCLUDED.approved,
	rejected = moderator_stats.rejected + EXCLUDED.rejected,
	reviewed = moderator_stats.reviewed + 1,
	avg_latency_ms = moderator_stats.avg_latency_ms
		+ (EXCLUDED.avg_latency_ms - moderator_stats.avg_latency_ms) / (moderator_stats.reviewed + 1),
	updated_at = EXCLUDED.updated_at
`, moderatorID, approvedDelta, rejectedDelta, float64(latency.Milliseconds()), now); err != nil {
		return fmt.Errorf("record moderator decision: %w", err)
	}
	return nil
}

func recordWarningIssued(ctx context.Context, q dbtx, moderatorID int64, now time.Time) error {
	if _, err := q.Exec(ctx, `
INSERT INTO moderator_stats (moderator_id, warnings_issued, updated_at)
VALUES ($1, 1, $2)
ON CONFLICT (moderator_id) DO UPDATE SET
	warnings_issued = moderator_stats.warnings_issued + 1,
	updated_at = EXCLUDED.updated_at
`, moderatorID, now); err != nil {
		return fmt.Errorf("record moderator warning: %w", err)
	}
	return nil
}

func scanModeratorStats(row pgx.Row) (model.ModeratorStats, error) {
	var (
		stats     model.ModeratorStats
		latencyMS float64
	)
	if err := row.Scan(
		&stats.ModeratorID,
		&stats.Approved,
		&stats.Rejected,
		&stats.Reviewed,
		&stats.WarningsIssued,
		&latencyMS,
		&stats.UpdatedAt,
	); err != nil {
		return model.ModeratorStats{}, err
	}
	stats.AvgLatency = time.Duration(latencyMS * float64(time.Millisecond))
	return stats, nil
}
