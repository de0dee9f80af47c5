package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

var (
	ErrItemNotFound       = errors.New("moderation item not found")
	ErrItemAlreadyDecided = errors.New("moderation item already decided")
	ErrItemExpired        = errors.New("moderation item expired")
)

const itemColumns = `id, submitter_id, submitter_level, content, status, approved, moderator_id, created_at, expires_at, decided_at`

type ModerationRepo struct {
	pool *pgxpool.Pool
}

type DecisionClaim struct {
	ItemID      int64
	ModeratorID int64
	Approved    bool
	DecidedAt   time.Time
}

func NewModerationRepo(pool *pgxpool.Pool) *ModerationRepo {
	return &ModerationRepo{pool: pool}
}

// Create stores a pending item together with its submitter row and the
// submission audit entry. The id comes from the table sequence. userCreated
// reports whether the submitter was seen for the first time.
func (r *ModerationRepo) Create(ctx context.Context, item model.ModerationItem, displayName string, audit model.AuditEntry) (created model.ModerationItem, userCreated bool, err error) {
	if r.pool == nil {
		return model.ModerationItem{}, false, fmt.Errorf("postgres pool is nil")
	}
	if item.SubmitterID == 0 || item.Content == nil {
		return model.ModerationItem{}, false, fmt.Errorf("invalid moderation item payload")
	}

	content, err := model.EncodeContent(item.Content)
	if err != nil {
		return model.ModerationItem{}, false, err
	}

	err = WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		if _, userCreated, err = ensureUser(ctx, tx, item.SubmitterID, displayName, item.CreatedAt); err != nil {
			return err
		}

		created, err = scanItem(tx.QueryRow(ctx, `
INSERT INTO moderation_items (
	submitter_id,
	submitter_level,
	content_kind,
	content,
	status,
	created_at,
	expires_at
) VALUES ($1, $2, $3, $4, 'PENDING', $5, $6)
RETURNING `+itemColumns,
			item.SubmitterID,
			int16(item.SubmitterLevel),
			string(item.Content.Kind()),
			content,
			item.CreatedAt,
			item.ExpiresAt,
		))
		if err != nil {
			return fmt.Errorf("insert moderation item: %w", err)
		}

		return insertAudit(ctx, tx, withDetail(audit, "item_id", created.ID))
	})
	if err != nil {
		return model.ModerationItem{}, false, err
	}

	return created, userCreated, nil
}

func (r *ModerationRepo) Get(ctx context.Context, id int64) (model.ModerationItem, error) {
	if r.pool == nil {
		return model.ModerationItem{}, fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 {
		return model.ModerationItem{}, fmt.Errorf("invalid item id")
	}

	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM moderation_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ModerationItem{}, ErrItemNotFound
		}
		return model.ModerationItem{}, fmt.Errorf("get moderation item: %w", err)
	}
	return item, nil
}

// ClaimDecision moves a pending, unexpired item to DECIDED. The conditional
// update is the single-winner claim; stats and audit are written in the same
// transaction so a losing caller never touches them.
func (r *ModerationRepo) ClaimDecision(ctx context.Context, claim DecisionClaim, audit model.AuditEntry) (model.ModerationItem, error) {
	if r.pool == nil {
		return model.ModerationItem{}, fmt.Errorf("postgres pool is nil")
	}
	if claim.ItemID <= 0 || claim.ModeratorID == 0 {
		return model.ModerationItem{}, fmt.Errorf("invalid decision claim")
	}

	var decided model.ModerationItem
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		decided, err = scanItem(tx.QueryRow(ctx, `
UPDATE moderation_items
SET
	status = 'DECIDED',
	approved = $2,
	moderator_id = $3,
	decided_at = $4
WHERE id = $1
  AND status = 'PENDING'
  AND expires_at > $4
RETURNING `+itemColumns,
			claim.ItemID,
			claim.Approved,
			claim.ModeratorID,
			claim.DecidedAt,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.explainLostClaim(ctx, tx, claim)
			}
			return fmt.Errorf("claim moderation item: %w", err)
		}

		latency := claim.DecidedAt.Sub(decided.CreatedAt)
		if err := recordDecision(ctx, tx, claim.ModeratorID, claim.Approved, latency, claim.DecidedAt); err != nil {
			return err
		}

		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return model.ModerationItem{}, err
	}

	return decided, nil
}

func (r *ModerationRepo) explainLostClaim(ctx context.Context, tx pgx.Tx, claim DecisionClaim) error {
	var (
		status    string
		expiresAt time.Time
	)
	err := tx.QueryRow(ctx, `
SELECT status, expires_at
FROM moderation_items
WHERE id = $1
`, claim.ItemID).Scan(&status, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("probe moderation item: %w", err)
	}

	switch enums.ItemStatus(status) {
	case enums.ItemStatusDecided:
		return ErrItemAlreadyDecided
	case enums.ItemStatusArchived:
		return ErrItemExpired
	default:
		if !expiresAt.After(claim.DecidedAt) {
			return ErrItemExpired
		}
		// Pending and unexpired yet the update matched nothing: a concurrent
		// claim holds the row. Report it as lost rather than guessing.
		return ErrItemAlreadyDecided
	}
}

// ArchiveExpired moves at most limit pending items whose TTL elapsed to
// ARCHIVED and records one audit entry per item.
func (r *ModerationRepo) ArchiveExpired(ctx context.Context, now time.Time, limit int, audit func(model.ModerationItem) model.AuditEntry) ([]model.ModerationItem, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	var archived []model.ModerationItem
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
WITH due AS (
	SELECT id
	FROM moderation_items
	WHERE status = 'PENDING'
	  AND expires_at <= $1
	ORDER BY expires_at ASC, id ASC
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE moderation_items mi
SET status = 'ARCHIVED'
FROM due
WHERE mi.id = due.id
  AND mi.status = 'PENDING'
RETURNING `+prefixed("mi.", itemColumns), now, limit)
		if err != nil {
			return fmt.Errorf("archive expired items: %w", err)
		}

		archived, err = collectItems(rows)
		if err != nil {
			return err
		}

		entries := make([]model.AuditEntry, 0, len(archived))
		for _, item := range archived {
			entries = append(entries, audit(item))
		}
		return insertAudits(ctx, tx, entries)
	})
	if err != nil {
		return nil, err
	}

	return archived, nil
}

func (r *ModerationRepo) CountPending(ctx context.Context, now time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int64
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM moderation_items
WHERE status = 'PENDING'
  AND expires_at > $1
`, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending moderation items: %w", err)
	}

	return count, nil
}

func collectItems(rows pgx.Rows) ([]model.ModerationItem, error) {
	defer rows.Close()

	items := make([]model.ModerationItem, 0, 16)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan moderation item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (model.ModerationItem, error) {
	var (
		item    model.ModerationItem
		level   int16
		status  string
		content []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.SubmitterID,
		&level,
		&content,
		&status,
		&item.Approved,
		&item.ModeratorID,
		&item.CreatedAt,
		&item.ExpiresAt,
		&item.DecidedAt,
	); err != nil {
		return model.ModerationItem{}, err
	}

	decoded, err := model.DecodeContent(content)
	if err != nil {
		return model.ModerationItem{}, err
	}

	item.SubmitterLevel = enums.Level(level)
	item.Status = enums.ItemStatus(status)
	item.Content = decoded
	return item, nil
}

func prefixed(prefix, columns string) string {
	return prefix + strings.ReplaceAll(columns, ", ", ", "+prefix)
}
