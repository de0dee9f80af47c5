package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes admissions older than the cutoff and admits the
// member only while the window holds fewer than limit entries.
//
// KEYS[1] window key
// ARGV[1] now (ms)  ARGV[2] cutoff (ms)  ARGV[3] limit  ARGV[4] member  ARGV[5] ttl (ms)
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	redis.call('PEXPIRE', key, ARGV[5])
	return {1, count + 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local score = 0
if oldest[2] then
	score = tonumber(oldest[2])
end
return {0, count, score}
`)

type RateRepo struct {
	client *goredis.Client
}

// WindowResult describes the window after an admission attempt. Oldest is
// only set when the attempt was refused.
type WindowResult struct {
	Admitted bool
	Count    int64
	Oldest   time.Time
}

func NewRateRepo(client *goredis.Client) *RateRepo {
	return &RateRepo{client: client}
}

// Admit atomically checks the window and records member when below limit.
func (r *RateRepo) Admit(ctx context.Context, key, member string, now time.Time, window time.Duration, limit int) (WindowResult, error) {
	if r.client == nil {
		return WindowResult{}, fmt.Errorf("redis client is nil")
	}
	if key == "" || member == "" || window <= 0 || limit <= 0 {
		return WindowResult{}, fmt.Errorf("invalid rate window payload")
	}

	nowMS := now.UnixMilli()
	raw, err := slidingWindowScript.Run(ctx, r.client, []string{key},
		strconv.FormatInt(nowMS, 10),
		strconv.FormatInt(nowMS-window.Milliseconds(), 10),
		strconv.Itoa(limit),
		member,
		strconv.FormatInt(window.Milliseconds(), 10),
	).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("run sliding window script: %w", err)
	}
	if len(raw) != 3 {
		return WindowResult{}, fmt.Errorf("unexpected sliding window reply: %v", raw)
	}

	result := WindowResult{
		Admitted: raw[0] == 1,
		Count:    raw[1],
	}
	if !result.Admitted && raw[2] > 0 {
		result.Oldest = time.UnixMilli(raw[2]).UTC()
	}
	return result, nil
}

// Release removes a previously admitted member.
func (r *RateRepo) Release(ctx context.Context, key, member string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("release rate slot: %w", err)
	}
	return nil
}

// WindowState reports the live admissions and the oldest of them without
// recording anything.
func (r *RateRepo) WindowState(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	if r.client == nil {
		return 0, time.Time{}, fmt.Errorf("redis client is nil")
	}
	if key == "" || window <= 0 {
		return 0, time.Time{}, fmt.Errorf("invalid rate window payload")
	}

	from := "(" + strconv.FormatInt(now.UnixMilli()-window.Milliseconds(), 10)
	pipe := r.client.Pipeline()
	countCmd := pipe.ZCount(ctx, key, from, "+inf")
	oldestCmd := pipe.ZRangeByScoreWithScores(ctx, key, &goredis.ZRangeBy{
		Min:   from,
		Max:   "+inf",
		Count: 1,
	})
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return 0, time.Time{}, fmt.Errorf("read rate window state: %w", err)
	}

	count := countCmd.Val()
	oldest := oldestCmd.Val()
	if count == 0 || len(oldest) == 0 {
		return count, time.Time{}, nil
	}
	return count, time.UnixMilli(int64(oldest[0].Score)).UTC(), nil
}
