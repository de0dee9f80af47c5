package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

const dayLayout = "2006-01-02"

type Store interface {
	GetModerator(ctx context.Context, moderatorID int64) (model.ModeratorStats, error)
	Leaderboard(ctx context.Context, limit int) ([]model.ModeratorStats, error)
	Daily(ctx context.Context, from, to time.Time) (model.DailyAnalytics, error)
	DecisionTotals(ctx context.Context) (int64, int64, error)
}

type UserCounter interface {
	Counts(ctx context.Context) (int64, int64, error)
}

type PendingCounter interface {
	PendingCount(ctx context.Context) (int64, error)
}

type PunishmentCounter interface {
	CountActive(ctx context.Context) (map[enums.PunishmentKind]int64, error)
}

type AuditReader interface {
	ListBySubject(ctx context.Context, subjectID int64, since time.Time, limit int) ([]model.AuditEntry, error)
}

type Config struct {
	Timezone         string
	LeaderboardLimit int
	OpTimeout        time.Duration
}

type Dependencies struct {
	Store       Store
	Users       UserCounter
	Pending     PendingCounter
	Punishments PunishmentCounter
	Audit       AuditReader
}

// Service serves read-side aggregates. Counters are written by the engines
// inside their own transactions.
type Service struct {
	store       Store
	users       UserCounter
	pending     PendingCounter
	punishments PunishmentCounter
	audit       AuditReader
	cfg         Config
	loc         *time.Location
	now         func() time.Time
}

func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.LeaderboardLimit <= 0 {
		cfg.LeaderboardLimit = 10
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load stats timezone: %w", err)
	}

	return &Service{
		store:       deps.Store,
		users:       deps.Users,
		pending:     deps.Pending,
		punishments: deps.Punishments,
		audit:       deps.Audit,
		cfg:         cfg,
		loc:         loc,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) ModeratorStats(ctx context.Context, moderatorID int64) (model.ModeratorStats, error) {
	if moderatorID == 0 {
		return model.ModeratorStats{}, fmt.Errorf("%w: invalid moderator id", apperr.ErrValidation)
	}
	if s.store == nil {
		return model.ModeratorStats{}, fmt.Errorf("stats service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	stats, err := s.store.GetModerator(ctx, moderatorID)
	if err != nil {
		return model.ModeratorStats{}, fmt.Errorf("moderator stats: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return stats, nil
}

// Leaderboard returns the top moderators by reviewed items. A non-positive
// limit uses the configured default.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.ModeratorStats, error) {
	if s.store == nil {
		return nil, fmt.Errorf("stats service dependencies are not configured")
	}
	if limit <= 0 {
		limit = s.cfg.LeaderboardLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	board, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return board, nil
}

// DailyAnalytics aggregates one calendar day in the configured timezone. An
// empty day means today.
func (s *Service) DailyAnalytics(ctx context.Context, day string) (model.DailyAnalytics, error) {
	if s.store == nil {
		return model.DailyAnalytics{}, fmt.Errorf("stats service dependencies are not configured")
	}

	from, err := s.dayStart(day)
	if err != nil {
		return model.DailyAnalytics{}, err
	}
	to := from.AddDate(0, 0, 1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	out, err := s.store.Daily(ctx, from.UTC(), to.UTC())
	if err != nil {
		return model.DailyAnalytics{}, fmt.Errorf("daily analytics: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	out.Day = from
	return out, nil
}

func (s *Service) SystemStats(ctx context.Context) (model.SystemStats, error) {
	if s.store == nil || s.users == nil || s.pending == nil || s.punishments == nil {
		return model.SystemStats{}, fmt.Errorf("stats service dependencies are not configured")
	}

	var out model.SystemStats
	var err error

	if out.TotalUsers, out.Moderators, err = s.users.Counts(ctx); err != nil {
		return model.SystemStats{}, err
	}
	if out.PendingItems, err = s.pending.PendingCount(ctx); err != nil {
		return model.SystemStats{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	out.TotalApproved, out.TotalRejected, err = s.store.DecisionTotals(opCtx)
	cancel()
	if err != nil {
		return model.SystemStats{}, fmt.Errorf("decision totals: %w: %w", apperr.ErrStoreUnavailable, err)
	}

	active, err := s.punishments.CountActive(ctx)
	if err != nil {
		return model.SystemStats{}, err
	}
	out.ActivePunishments = make(map[string]int64, len(active))
	for kind, count := range active {
		out.ActivePunishments[string(kind)] = count
	}
	return out, nil
}

// AuditTrail lists what happened to a user over the last window, newest
// first. A non-positive window means the last 30 days.
func (s *Service) AuditTrail(ctx context.Context, subjectID int64, window time.Duration, limit int) ([]model.AuditEntry, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("stats service dependencies are not configured")
	}
	if subjectID == 0 {
		return nil, fmt.Errorf("%w: invalid subject id", apperr.ErrValidation)
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	entries, err := s.audit.ListBySubject(ctx, subjectID, s.now().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return entries, nil
}

func (s *Service) dayStart(day string) (time.Time, error) {
	if day == "" {
		local := s.now().In(s.loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc), nil
	}
	parsed, err := time.ParseInLocation(dayLayout, day, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", apperr.ErrValidation)
	}
	return parsed, nil
}
