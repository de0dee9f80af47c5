package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	redrepo "github.com/ivankudzin/anonmod/internal/repo/redis"
)

type WindowStore interface {
	Admit(ctx context.Context, key, member string, now time.Time, window time.Duration, limit int) (redrepo.WindowResult, error)
	Release(ctx context.Context, key, member string) error
	WindowState(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error)
}

type Config struct {
	MaxSubmissions int
	Period         time.Duration
	KeyPrefix      string
}

// Limiter admits at most MaxSubmissions per rolling Period for one submitter.
type Limiter struct {
	store WindowStore
	cfg   Config
	now   func() time.Time
}

// Reservation is an admitted slot. Cancel it when the guarded write fails.
type Reservation struct {
	SubmitterID int64
	Allowed     bool
	Remaining   int
	RetryAfter  time.Duration

	key   string
	token string
}

type Snapshot struct {
	Used       int
	Limit      int
	Period     time.Duration
	RetryAfter time.Duration
}

func NewLimiter(store WindowStore, cfg Config) *Limiter {
	if cfg.MaxSubmissions <= 0 {
		cfg.MaxSubmissions = 5
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Hour
	}

	return &Limiter{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *Limiter) Allow(ctx context.Context, submitterID int64) (bool, error) {
	res, err := l.Reserve(ctx, submitterID)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Reserve checks and records one admission atomically. A refused reservation
// is returned with Allowed=false and RetryAfter set, not as an error.
func (l *Limiter) Reserve(ctx context.Context, submitterID int64) (Reservation, error) {
	if submitterID == 0 {
		return Reservation{}, fmt.Errorf("%w: invalid submitter id", apperr.ErrValidation)
	}
	if l.store == nil {
		return Reservation{}, fmt.Errorf("rate limiter store is nil: %w", apperr.ErrCacheUnavailable)
	}

	now := l.now()
	key := l.key(submitterID)
	token := uuid.NewString()

	result, err := l.store.Admit(ctx, key, token, now, l.cfg.Period, l.cfg.MaxSubmissions)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve submission slot: %w: %w", apperr.ErrCacheUnavailable, err)
	}

	res := Reservation{
		SubmitterID: submitterID,
		Allowed:     result.Admitted,
		key:         key,
	}
	if result.Admitted {
		res.token = token
		res.Remaining = l.cfg.MaxSubmissions - int(result.Count)
		return res, nil
	}

	res.RetryAfter = l.retryAfter(result.Oldest, now)
	return res, nil
}

// Cancel gives back an admitted slot. Refused reservations are a no-op.
func (l *Limiter) Cancel(ctx context.Context, res Reservation) error {
	if !res.Allowed || res.token == "" {
		return nil
	}
	if l.store == nil {
		return fmt.Errorf("rate limiter store is nil: %w", apperr.ErrCacheUnavailable)
	}
	if err := l.store.Release(ctx, res.key, res.token); err != nil {
		return fmt.Errorf("cancel submission slot: %w: %w", apperr.ErrCacheUnavailable, err)
	}
	return nil
}

// RetryAfter reports how long until the submitter may submit again; zero
// when a slot is free now.
func (l *Limiter) RetryAfter(ctx context.Context, submitterID int64) (time.Duration, error) {
	snapshot, err := l.Status(ctx, submitterID)
	if err != nil {
		return 0, err
	}
	return snapshot.RetryAfter, nil
}

func (l *Limiter) Status(ctx context.Context, submitterID int64) (Snapshot, error) {
	if submitterID == 0 {
		return Snapshot{}, fmt.Errorf("%w: invalid submitter id", apperr.ErrValidation)
	}
	if l.store == nil {
		return Snapshot{}, fmt.Errorf("rate limiter store is nil: %w", apperr.ErrCacheUnavailable)
	}

	now := l.now()
	count, oldest, err := l.store.WindowState(ctx, l.key(submitterID), now, l.cfg.Period)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read submission window: %w: %w", apperr.ErrCacheUnavailable, err)
	}

	snapshot := Snapshot{
		Used:   int(count),
		Limit:  l.cfg.MaxSubmissions,
		Period: l.cfg.Period,
	}
	if snapshot.Used >= snapshot.Limit {
		snapshot.RetryAfter = l.retryAfter(oldest, now)
	}
	return snapshot, nil
}

func (l *Limiter) retryAfter(oldest, now time.Time) time.Duration {
	if oldest.IsZero() {
		return l.cfg.Period
	}
	wait := oldest.Add(l.cfg.Period).Sub(now)
	if wait <= 0 {
		return time.Millisecond
	}
	return wait
}

func (l *Limiter) key(submitterID int64) string {
	return l.cfg.KeyPrefix + "rate:submit:" + strconv.FormatInt(submitterID, 10)
}

// CeilSeconds rounds a wait up to whole seconds for user-facing replies.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}
