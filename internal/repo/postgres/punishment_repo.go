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

var ErrPunishmentNotFound = errors.New("punishment not found")

const (
	punishmentColumns  = `id, subject_id, kind, reason, moderator_id, duration_seconds, created_at, expires_at`
	supersedeMaxRounds = 3
)

type PunishmentRepo struct {
	pool *pgxpool.Pool
}

// ImposeAudit builds the audit entries for a replacement. previous is nil
// when nothing was active.
type ImposeAudit func(created model.Punishment, previous *model.Punishment) []model.AuditEntry

type WarningInput struct {
	Warning   model.Punishment
	Threshold int
	// Escalate is called inside the transaction once the counter reaches the
	// threshold. prior is the duration of the subject's last ban, zero if none.
	Escalate func(prior time.Duration) model.Punishment
	Audit    func(WarningResult) []model.AuditEntry
}

type WarningResult struct {
	Warning    model.Punishment
	Count      int
	Escalated  *model.Punishment
	Superseded *model.Punishment
}

type RevokeResult struct {
	Removed         []model.Punishment
	WarningsCleared int
}

func NewPunishmentRepo(pool *pgxpool.Pool) *PunishmentRepo {
	return &PunishmentRepo{pool: pool}
}

// Supersede replaces the active punishment of the same subject and kind.
// Concurrent writers collide on the partial unique index; the loser retries
// and removes the winner's row, so the last writer stays active.
func (r *PunishmentRepo) Supersede(ctx context.Context, p model.Punishment, audit ImposeAudit) (model.Punishment, *model.Punishment, error) {
	if r.pool == nil {
		return model.Punishment{}, nil, fmt.Errorf("postgres pool is nil")
	}
	if p.SubjectID == 0 || p.Kind.Stacks() {
		return model.Punishment{}, nil, fmt.Errorf("invalid supersede payload")
	}

	var (
		created  model.Punishment
		previous *model.Punishment
		err      error
	)
	for round := 0; round < supersedeMaxRounds; round++ {
		err = WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
			var txErr error
			created, previous, txErr = supersede(ctx, tx, p)
			if txErr != nil {
				return txErr
			}
			return insertAudits(ctx, tx, audit(created, previous))
		})
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return model.Punishment{}, nil, err
	}
	return created, previous, nil
}

// AddWarning bumps the subject's warning counter and, once it reaches the
// threshold, replaces any ban with an escalated one and resets the counter.
// The counter row lock serialises concurrent warnings for one subject.
func (r *PunishmentRepo) AddWarning(ctx context.Context, in WarningInput) (WarningResult, error) {
	if r.pool == nil {
		return WarningResult{}, fmt.Errorf("postgres pool is nil")
	}
	if in.Warning.SubjectID == 0 || in.Warning.Kind != enums.PunishmentKindWarning {
		return WarningResult{}, fmt.Errorf("invalid warning payload")
	}

	var result WarningResult
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		result = WarningResult{Warning: in.Warning}

		var lastBanSeconds int64
		if err := tx.QueryRow(ctx, `
INSERT INTO sanction_counters (subject_id, warnings, updated_at)
VALUES ($1, 1, $2)
ON CONFLICT (subject_id) DO UPDATE SET
	warnings = sanction_counters.warnings + 1,
	updated_at = EXCLUDED.updated_at
RETURNING warnings, last_ban_seconds
`, in.Warning.SubjectID, in.Warning.CreatedAt).Scan(&result.Count, &lastBanSeconds); err != nil {
			return fmt.Errorf("increment warning counter: %w", err)
		}

		if in.Warning.Duration > 0 {
			created, err := insertPunishment(ctx, tx, in.Warning)
			if err != nil {
				return err
			}
			result.Warning = created
		}

		if err := recordWarningIssued(ctx, tx, in.Warning.ModeratorID, in.Warning.CreatedAt); err != nil {
			return err
		}

		if in.Threshold > 0 && result.Count >= in.Threshold && in.Escalate != nil {
			ban := in.Escalate(time.Duration(lastBanSeconds) * time.Second)
			created, previous, err := supersede(ctx, tx, ban)
			if err != nil {
				return err
			}
			result.Escalated = &created
			result.Superseded = previous
		}

		if in.Audit != nil {
			return insertAudits(ctx, tx, in.Audit(result))
		}
		return nil
	})
	if err != nil {
		return WarningResult{}, err
	}
	return result, nil
}

// Revoke removes every active row of the kind. Revoking warnings also clears
// the escalation counter.
func (r *PunishmentRepo) Revoke(ctx context.Context, subjectID int64, kind enums.PunishmentKind, audit func(RevokeResult) []model.AuditEntry) (RevokeResult, error) {
	if r.pool == nil {
		return RevokeResult{}, fmt.Errorf("postgres pool is nil")
	}
	if subjectID == 0 || !kind.Valid() {
		return RevokeResult{}, fmt.Errorf("invalid revoke payload")
	}

	var result RevokeResult
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		result = RevokeResult{}

		rows, err := tx.Query(ctx, `
DELETE FROM punishments
WHERE subject_id = $1
  AND kind = $2
RETURNING `+punishmentColumns, subjectID, string(kind))
		if err != nil {
			return fmt.Errorf("delete punishments: %w", err)
		}
		result.Removed, err = collectPunishments(rows)
		if err != nil {
			return err
		}

		if kind == enums.PunishmentKindWarning {
			err := tx.QueryRow(ctx, `
WITH old AS (
	SELECT warnings FROM sanction_counters WHERE subject_id = $1 FOR UPDATE
)
UPDATE sanction_counters sc
SET warnings = 0, updated_at = NOW()
FROM old
WHERE sc.subject_id = $1
RETURNING old.warnings
`, subjectID).Scan(&result.WarningsCleared)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("reset warning counter: %w", err)
			}
		}

		if len(result.Removed) == 0 && result.WarningsCleared == 0 {
			return nil
		}
		return insertAudits(ctx, tx, audit(result))
	})
	if err != nil {
		return RevokeResult{}, err
	}
	return result, nil
}

// ExpireDue deletes at most limit punishments whose expiry passed and writes
// one audit entry for each in the same transaction.
func (r *PunishmentRepo) ExpireDue(ctx context.Context, now time.Time, limit int, audit func(model.Punishment) model.AuditEntry) ([]model.Punishment, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	var expired []model.Punishment
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
WITH due AS (
	SELECT id
	FROM punishments
	WHERE expires_at <= $1
	ORDER BY expires_at ASC, id ASC
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
DELETE FROM punishments p
USING due
WHERE p.id = due.id
RETURNING `+prefixed("p.", punishmentColumns), now, limit)
		if err != nil {
			return fmt.Errorf("expire punishments: %w", err)
		}
		expired, err = collectPunishments(rows)
		if err != nil {
			return err
		}

		entries := make([]model.AuditEntry, 0, len(expired))
		for _, p := range expired {
			entries = append(entries, audit(p))
		}
		return insertAudits(ctx, tx, entries)
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// GetActive returns the longest-running live punishment of the kind.
func (r *PunishmentRepo) GetActive(ctx context.Context, subjectID int64, kind enums.PunishmentKind, now time.Time) (model.Punishment, error) {
	if r.pool == nil {
		return model.Punishment{}, fmt.Errorf("postgres pool is nil")
	}

	p, err := scanPunishment(r.pool.QueryRow(ctx, `
SELECT `+punishmentColumns+`
FROM punishments
WHERE subject_id = $1
  AND kind = $2
  AND expires_at > $3
ORDER BY expires_at DESC
LIMIT 1
`, subjectID, string(kind), now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Punishment{}, ErrPunishmentNotFound
		}
		return model.Punishment{}, fmt.Errorf("get active punishment: %w", err)
	}
	return p, nil
}

func (r *PunishmentRepo) ListActiveBySubject(ctx context.Context, subjectID int64, now time.Time) ([]model.Punishment, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+punishmentColumns+`
FROM punishments
WHERE subject_id = $1
  AND expires_at > $2
ORDER BY created_at DESC
`, subjectID, now)
	if err != nil {
		return nil, fmt.Errorf("list subject punishments: %w", err)
	}
	return collectPunishments(rows)
}

// ListActive pages through live punishments ordered by id, starting after
// afterID.
func (r *PunishmentRepo) ListActive(ctx context.Context, now time.Time, afterID int64, limit int) ([]model.Punishment, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+punishmentColumns+`
FROM punishments
WHERE expires_at > $1
  AND id > $2
ORDER BY id ASC
LIMIT $3
`, now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active punishments: %w", err)
	}
	return collectPunishments(rows)
}

func (r *PunishmentRepo) CountActiveByKind(ctx context.Context, now time.Time) (map[enums.PunishmentKind]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT kind, COUNT(*)
FROM punishments
WHERE expires_at > $1
GROUP BY kind
`, now)
	if err != nil {
		return nil, fmt.Errorf("count active punishments: %w", err)
	}
	defer rows.Close()

	result := make(map[enums.PunishmentKind]int64, 3)
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan punishment count: %w", err)
		}
		result[enums.PunishmentKind(kind)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate punishment counts: %w", err)
	}
	return result, nil
}

func (r *PunishmentRepo) WarningCount(ctx context.Context, subjectID int64) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int
	err := r.pool.QueryRow(ctx, `SELECT warnings FROM sanction_counters WHERE subject_id = $1`, subjectID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get warning count: %w", err)
	}
	return count, nil
}

func supersede(ctx context.Context, q dbtx, p model.Punishment) (model.Punishment, *model.Punishment, error) {
	var previous *model.Punishment
	old, err := scanPunishment(q.QueryRow(ctx, `
DELETE FROM punishments
WHERE subject_id = $1
  AND kind = $2
RETURNING `+punishmentColumns, p.SubjectID, string(p.Kind)))
	switch {
	case err == nil:
		previous = &old
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return model.Punishment{}, nil, fmt.Errorf("remove superseded punishment: %w", err)
	}

	created, err := insertPunishment(ctx, q, p)
	if err != nil {
		return model.Punishment{}, nil, err
	}

	if p.Kind == enums.PunishmentKindBan {
		if _, err := q.Exec(ctx, `
INSERT INTO sanction_counters (subject_id, warnings, last_ban_seconds, updated_at)
VALUES ($1, 0, $2, $3)
ON CONFLICT (subject_id) DO UPDATE SET
	warnings = 0,
	last_ban_seconds = EXCLUDED.last_ban_seconds,
	updated_at = EXCLUDED.updated_at
`, p.SubjectID, int64(p.Duration/time.Second), p.CreatedAt); err != nil {
			return model.Punishment{}, nil, fmt.Errorf("record ban duration: %w", err)
		}
	}

	return created, previous, nil
}

func insertPunishment(ctx context.Context, q dbtx, p model.Punishment) (model.Punishment, error) {
	created, err := scanPunishment(q.QueryRow(ctx, `
INSERT INTO punishments (subject_id, kind, reason, moderator_id, duration_seconds, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+punishmentColumns,
		p.SubjectID,
		string(p.Kind),
		p.Reason,
		p.ModeratorID,
		int64(p.Duration/time.Second),
		p.CreatedAt,
		p.ExpiresAt,
	))
	if err != nil {
		return model.Punishment{}, fmt.Errorf("insert punishment: %w", err)
	}
	return created, nil
}

func collectPunishments(rows pgx.Rows) ([]model.Punishment, error) {
	defer rows.Close()

	result := make([]model.Punishment, 0, 8)
	for rows.Next() {
		p, err := scanPunishment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan punishment: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate punishments: %w", err)
	}
	return result, nil
}

func scanPunishment(row pgx.Row) (model.Punishment, error) {
	var (
		p       model.Punishment
		kind    string
		seconds int64
	)
	if err := row.Scan(&p.ID, &p.SubjectID, &kind, &p.Reason, &p.ModeratorID, &seconds, &p.CreatedAt, &p.ExpiresAt); err != nil {
		return model.Punishment{}, err
	}
	p.Kind = enums.PunishmentKind(kind)
	p.Duration = time.Duration(seconds) * time.Second
	return p, nil
}
