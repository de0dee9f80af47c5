package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ClaimRepo keeps short-lived markers for moderation items that already have
// a decision. Postgres stays authoritative; a marker only saves a round trip.
type ClaimRepo struct {
	client *goredis.Client
	prefix string
}

func NewClaimRepo(client *goredis.Client, prefix string) *ClaimRepo {
	return &ClaimRepo{client: client, prefix: prefix}
}

// MarkDecided reports whether this call set the marker.
func (r *ClaimRepo) MarkDecided(ctx context.Context, itemID, moderatorID int64, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if itemID <= 0 || ttl <= 0 {
		return false, fmt.Errorf("invalid decided mark payload")
	}

	ok, err := r.client.SetNX(ctx, r.key(itemID), strconv.FormatInt(moderatorID, 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set decided mark: %w", err)
	}
	return ok, nil
}

func (r *ClaimRepo) IsDecided(ctx context.Context, itemID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	n, err := r.client.Exists(ctx, r.key(itemID)).Result()
	if err != nil {
		return false, fmt.Errorf("check decided mark: %w", err)
	}
	return n > 0, nil
}

func (r *ClaimRepo) key(itemID int64) string {
	return r.prefix + "mod:decided:" + strconv.FormatInt(itemID, 10)
}
