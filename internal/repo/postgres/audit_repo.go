package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

const insertAuditSQL = `
INSERT INTO audit_log (actor_id, subject_id, action, details, created_at)
VALUES ($1, $2, $3, $4, $5)
`

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// ListBySubject returns audit entries about one user, newest first.
func (r *AuditRepo) ListBySubject(ctx context.Context, subjectID int64, since time.Time, limit int) ([]model.AuditEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if subjectID == 0 {
		return nil, fmt.Errorf("invalid subject id")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, actor_id, subject_id, action, details, created_at
FROM audit_log
WHERE subject_id = $1
  AND created_at >= $2
ORDER BY created_at DESC, id DESC
LIMIT $3
`, subjectID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit by subject: %w", err)
	}
	defer rows.Close()

	result := make([]model.AuditEntry, 0, limit)
	for rows.Next() {
		var (
			entry   model.AuditEntry
			action  string
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.SubjectID, &action, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		entry.Action = enums.AuditAction(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return result, nil
}

// PunishmentHistory counts imposed punishments per kind for one subject.
func (r *AuditRepo) PunishmentHistory(ctx context.Context, subjectID int64) (map[enums.PunishmentKind]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT COALESCE(details->>'kind', ''), COUNT(*)
FROM audit_log
WHERE subject_id = $1
  AND action = $2
GROUP BY 1
`, subjectID, string(enums.AuditActionPunishmentImposed))
	if err != nil {
		return nil, fmt.Errorf("query punishment history: %w", err)
	}
	defer rows.Close()

	result := make(map[enums.PunishmentKind]int64)
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan punishment history: %w", err)
		}
		if parsed, ok := enums.ParsePunishmentKind(kind); ok {
			result[parsed] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate punishment history: %w", err)
	}

	return result, nil
}

func insertAudit(ctx context.Context, q dbtx, entry model.AuditEntry) error {
	args, err := auditArgs(entry)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, insertAuditSQL, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// insertAudits writes several entries in one round trip.
func insertAudits(ctx context.Context, q dbtx, entries []model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) == 1 {
		return insertAudit(ctx, q, entries[0])
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		args, err := auditArgs(entry)
		if err != nil {
			return err
		}
		batch.Queue(insertAuditSQL, args...)
	}

	results := q.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert audit batch: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close audit batch: %w", err)
	}
	return nil
}

func auditArgs(entry model.AuditEntry) ([]any, error) {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{entry.ActorID, entry.SubjectID, string(entry.Action), payload, createdAt}, nil
}

func withDetail(entry model.AuditEntry, key string, value any) model.AuditEntry {
	details := make(map[string]any, len(entry.Details)+1)
	for k, v := range entry.Details {
		details[k] = v
	}
	details[key] = value
	entry.Details = details
	return entry
}
