package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
)

// PunishmentCacheRepo stores the expiry instant of active punishments under
// punish:{subject}:{kind}. Absence says nothing; callers fall back to the store.
type PunishmentCacheRepo struct {
	client *goredis.Client
	prefix string
}

type PunishmentCacheEntry struct {
	SubjectID int64
	Kind      enums.PunishmentKind
	ExpiresAt time.Time
	TTL       time.Duration
}

func NewPunishmentCacheRepo(client *goredis.Client, prefix string) *PunishmentCacheRepo {
	return &PunishmentCacheRepo{client: client, prefix: prefix}
}

func (r *PunishmentCacheRepo) Get(ctx context.Context, subjectID int64, kind enums.PunishmentKind) (time.Time, bool, error) {
	if r.client == nil {
		return time.Time{}, false, fmt.Errorf("redis client is nil")
	}

	raw, err := r.client.Get(ctx, r.key(subjectID, kind)).Result()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get cached punishment: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cached punishment expiry: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (r *PunishmentCacheRepo) Put(ctx context.Context, entry PunishmentCacheEntry) error {
	return r.PutMany(ctx, []PunishmentCacheEntry{entry})
}

// PutMany writes entries in one pipeline. Entries with a non-positive TTL are
// skipped.
func (r *PunishmentCacheRepo) PutMany(ctx context.Context, entries []PunishmentCacheEntry) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	pipe := r.client.Pipeline()
	queued := 0
	for _, entry := range entries {
		if entry.TTL <= 0 || entry.SubjectID == 0 {
			continue
		}
		pipe.Set(ctx, r.key(entry.SubjectID, entry.Kind), strconv.FormatInt(entry.ExpiresAt.UnixMilli(), 10), entry.TTL)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache punishments: %w", err)
	}
	return nil
}

func (r *PunishmentCacheRepo) Delete(ctx context.Context, subjectID int64, kind enums.PunishmentKind) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.key(subjectID, kind)).Err(); err != nil {
		return fmt.Errorf("delete cached punishment: %w", err)
	}
	return nil
}

func (r *PunishmentCacheRepo) key(subjectID int64, kind enums.PunishmentKind) string {
	return r.prefix + "punish:" + strconv.FormatInt(subjectID, 10) + ":" + string(kind)
}
