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

var ErrUserNotFound = errors.New("user not found")

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Get(ctx context.Context, id int64) (model.User, error) {
	if r.pool == nil {
		return model.User{}, fmt.Errorf("postgres pool is nil")
	}
	if id == 0 {
		return model.User{}, fmt.Errorf("invalid user id")
	}

	user, err := scanUser(r.pool.QueryRow(ctx, `
SELECT id, level, COALESCE(display_name, ''), created_at, updated_at
FROM users
WHERE id = $1
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// Ensure creates the user with Guest level on first sight. An existing row
// only gets its display name refreshed.
func (r *UserRepo) Ensure(ctx context.Context, id int64, displayName string, now time.Time) (model.User, bool, error) {
	if r.pool == nil {
		return model.User{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		user    model.User
		created bool
	)
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		user, created, err = ensureUser(ctx, tx, id, displayName, now)
		return err
	})
	if err != nil {
		return model.User{}, false, err
	}
	return user, created, nil
}

func (r *UserRepo) SetLevel(ctx context.Context, id int64, level enums.Level, now time.Time, audit model.AuditEntry) (model.User, error) {
	if r.pool == nil {
		return model.User{}, fmt.Errorf("postgres pool is nil")
	}
	if id == 0 || !level.Valid() {
		return model.User{}, fmt.Errorf("invalid set level payload")
	}

	var user model.User
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		user, err = scanUser(tx.QueryRow(ctx, `
INSERT INTO users (id, level, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO UPDATE SET
	level = EXCLUDED.level,
	updated_at = EXCLUDED.updated_at
RETURNING id, level, COALESCE(display_name, ''), created_at, updated_at
`, id, int16(level), now))
		if err != nil {
			return fmt.Errorf("set user level: %w", err)
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (r *UserRepo) ListIDsByMinLevel(ctx context.Context, min enums.Level) ([]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id
FROM users
WHERE level >= $1
ORDER BY id
`, int16(min))
	if err != nil {
		return nil, fmt.Errorf("list users by level: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 16)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

func (r *UserRepo) Counts(ctx context.Context) (total int64, moderators int64, err error) {
	if r.pool == nil {
		return 0, 0, fmt.Errorf("postgres pool is nil")
	}
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE level >= $1)
FROM users
`, int16(enums.LevelModerator)).Scan(&total, &moderators); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return total, moderators, nil
}

func ensureUser(ctx context.Context, q dbtx, id int64, displayName string, now time.Time) (model.User, bool, error) {
	if id == 0 {
		return model.User{}, false, fmt.Errorf("invalid user id")
	}

	var (
		user    model.User
		level   int16
		created bool
	)
	err := q.QueryRow(ctx, `
INSERT INTO users (id, level, display_name, created_at, updated_at)
VALUES ($1, 0, NULLIF($2, ''), $3, $3)
ON CONFLICT (id) DO UPDATE SET
	display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
	updated_at = CASE
		WHEN NULLIF(EXCLUDED.display_name, '') IS DISTINCT FROM users.display_name THEN EXCLUDED.updated_at
		ELSE users.updated_at
	END
RETURNING id, level, COALESCE(display_name, ''), created_at, updated_at, (xmax = 0)
`, id, displayName, now).Scan(&user.ID, &level, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt, &created)
	if err != nil {
		return model.User{}, false, fmt.Errorf("ensure user: %w", err)
	}
	user.Level = enums.Level(level)

	if created {
		subjectID := id
		if err := insertAudit(ctx, q, model.AuditEntry{
			ActorID:   id,
			SubjectID: &subjectID,
			Action:    enums.AuditActionUserCreated,
			Details:   map[string]any{"display_name": displayName},
			CreatedAt: now,
		}); err != nil {
			return model.User{}, false, err
		}
	}

	return user, created, nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var (
		user  model.User
		level int16
	)
	if err := row.Scan(&user.ID, &level, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return model.User{}, err
	}
	user.Level = enums.Level(level)
	return user, nil
}
