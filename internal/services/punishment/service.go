package punishment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	"github.com/ivankudzin/anonmod/internal/metrics"
	pgrepo "github.com/ivankudzin/anonmod/internal/repo/postgres"
	redrepo "github.com/ivankudzin/anonmod/internal/repo/redis"
	auditsvc "github.com/ivankudzin/anonmod/internal/services/audit"
)

type Store interface {
	Supersede(ctx context.Context, p model.Punishment, audit pgrepo.ImposeAudit) (model.Punishment, *model.Punishment, error)
	AddWarning(ctx context.Context, in pgrepo.WarningInput) (pgrepo.WarningResult, error)
	Revoke(ctx context.Context, subjectID int64, kind enums.PunishmentKind, audit func(pgrepo.RevokeResult) []model.AuditEntry) (pgrepo.RevokeResult, error)
	ExpireDue(ctx context.Context, now time.Time, limit int, audit func(model.Punishment) model.AuditEntry) ([]model.Punishment, error)
	GetActive(ctx context.Context, subjectID int64, kind enums.PunishmentKind, now time.Time) (model.Punishment, error)
	ListActiveBySubject(ctx context.Context, subjectID int64, now time.Time) ([]model.Punishment, error)
	ListActive(ctx context.Context, now time.Time, afterID int64, limit int) ([]model.Punishment, error)
	CountActiveByKind(ctx context.Context, now time.Time) (map[enums.PunishmentKind]int64, error)
	WarningCount(ctx context.Context, subjectID int64) (int, error)
}

type Cache interface {
	Get(ctx context.Context, subjectID int64, kind enums.PunishmentKind) (time.Time, bool, error)
	PutMany(ctx context.Context, entries []redrepo.PunishmentCacheEntry) error
	Delete(ctx context.Context, subjectID int64, kind enums.PunishmentKind) error
}

type HistoryStore interface {
	PunishmentHistory(ctx context.Context, subjectID int64) (map[enums.PunishmentKind]int64, error)
}

type LevelResolver interface {
	Level(ctx context.Context, userID int64) (enums.Level, error)
}

type Notifier interface {
	NotifyPunishment(ctx context.Context, event model.PunishmentEvent) error
}

type EventSink interface {
	Dispatch(ctx context.Context, event enums.WebhookEvent, data any)
}

type Config struct {
	DefaultMute      time.Duration
	DefaultBan       time.Duration
	MaxBan           time.Duration
	WarningThreshold int
	CacheTTL         time.Duration
	ReconcileBatch   int
	OpTimeout        time.Duration
	Policy           EscalationPolicy
}

type Dependencies struct {
	Store    Store
	Cache    Cache
	History  HistoryStore
	Levels   LevelResolver
	Notifier Notifier
	Events   EventSink
	Logger   *zap.Logger
}

type ImposeInput struct {
	SubjectID   int64
	Kind        enums.PunishmentKind
	Reason      string
	Duration    time.Duration
	ModeratorID int64
}

type ImposeResult struct {
	Punishment model.Punishment
	Superseded *model.Punishment
	// Warnings is the subject's counter after a warning, zero otherwise.
	Warnings  int
	Escalated *model.Punishment
}

type RevokeInput struct {
	SubjectID   int64
	Kind        enums.PunishmentKind
	ModeratorID int64
}

// Service is the punishment lifecycle engine. Postgres is authoritative; the
// Redis cache only short-circuits IsActive.
type Service struct {
	store    Store
	cache    Cache
	history  HistoryStore
	levels   LevelResolver
	notifier Notifier
	events   EventSink
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMute <= 0 {
		cfg.DefaultMute = time.Hour
	}
	if cfg.DefaultBan <= 0 {
		cfg.DefaultBan = 24 * time.Hour
	}
	if cfg.MaxBan <= 0 {
		cfg.MaxBan = 365 * 24 * time.Hour
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 100
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if cfg.Policy == nil {
		cfg.Policy = MultiplicativeEscalation(2, cfg.MaxBan)
	}

	return &Service{
		store:    deps.Store,
		cache:    deps.Cache,
		history:  deps.History,
		levels:   deps.Levels,
		notifier: deps.Notifier,
		events:   deps.Events,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Impose applies a sanction. Mute and Ban replace the active one of the same
// kind; warnings accumulate and escalate to a ban at the threshold.
func (s *Service) Impose(ctx context.Context, in ImposeInput) (ImposeResult, error) {
	if s.store == nil || s.levels == nil {
		return ImposeResult{}, fmt.Errorf("punishment service dependencies are not configured")
	}
	if in.SubjectID == 0 || in.ModeratorID == 0 || !in.Kind.Valid() {
		return ImposeResult{}, fmt.Errorf("%w: invalid punishment request", apperr.ErrValidation)
	}
	if in.Duration < 0 {
		return ImposeResult{}, fmt.Errorf("%w: negative duration", apperr.ErrValidation)
	}
	if err := s.authorize(ctx, in.ModeratorID, in.SubjectID, in.Kind); err != nil {
		return ImposeResult{}, err
	}

	duration := in.Duration
	switch {
	case duration == 0 && in.Kind == enums.PunishmentKindMute:
		duration = s.cfg.DefaultMute
	case duration == 0 && in.Kind == enums.PunishmentKindBan:
		duration = s.cfg.DefaultBan
	}
	if in.Kind == enums.PunishmentKindBan && duration > s.cfg.MaxBan {
		duration = s.cfg.MaxBan
	}

	now := s.now()
	p := model.Punishment{
		SubjectID:   in.SubjectID,
		Kind:        in.Kind,
		Reason:      in.Reason,
		ModeratorID: in.ModeratorID,
		Duration:    duration,
		CreatedAt:   now,
		ExpiresAt:   now.Add(duration),
	}

	if in.Kind == enums.PunishmentKindWarning {
		return s.warn(ctx, p)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	created, previous, err := s.store.Supersede(opCtx, p, supersedeAudit)
	cancel()
	if err != nil {
		return ImposeResult{}, fmt.Errorf("impose %s: %w: %w", in.Kind, apperr.ErrStoreUnavailable, err)
	}

	s.cachePut(ctx, created)
	s.announce(ctx, model.PunishmentImposed, created)
	if previous != nil {
		metrics.Punishments.WithLabelValues(string(previous.Kind), "superseded").Inc()
	}

	return ImposeResult{Punishment: created, Superseded: previous}, nil
}

func (s *Service) warn(ctx context.Context, warning model.Punishment) (ImposeResult, error) {
	escalate := func(prior time.Duration) model.Punishment {
		if prior <= 0 {
			prior = s.cfg.DefaultBan
		}
		duration := s.cfg.Policy(prior)
		if duration > s.cfg.MaxBan {
			duration = s.cfg.MaxBan
		}
		if duration <= 0 {
			duration = s.cfg.DefaultBan
		}
		return model.Punishment{
			SubjectID:   warning.SubjectID,
			Kind:        enums.PunishmentKindBan,
			Reason:      fmt.Sprintf("escalated after %d warnings", s.cfg.WarningThreshold),
			ModeratorID: warning.ModeratorID,
			Duration:    duration,
			CreatedAt:   warning.CreatedAt,
			ExpiresAt:   warning.CreatedAt.Add(duration),
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	res, err := s.store.AddWarning(opCtx, pgrepo.WarningInput{
		Warning:   warning,
		Threshold: s.cfg.WarningThreshold,
		Escalate:  escalate,
		Audit:     warningAudit,
	})
	cancel()
	if err != nil {
		return ImposeResult{}, fmt.Errorf("impose warning: %w: %w", apperr.ErrStoreUnavailable, err)
	}

	if res.Warning.ID > 0 {
		s.cacheDelete(ctx, warning.SubjectID, enums.PunishmentKindWarning)
	}
	s.announce(ctx, model.PunishmentImposed, res.Warning)

	result := ImposeResult{
		Punishment: res.Warning,
		Warnings:   res.Count,
		Superseded: res.Superseded,
	}
	if res.Escalated != nil {
		s.cachePut(ctx, *res.Escalated)
		s.announce(ctx, model.PunishmentEscalated, *res.Escalated)
		result.Escalated = res.Escalated
		s.logger.Info("warnings escalated to ban",
			zap.Int64("subject_id", warning.SubjectID),
			zap.Int("warnings", res.Count),
			zap.Duration("duration", res.Escalated.Duration),
		)
	}
	return result, nil
}

// Revoke lifts the active punishment of the kind. It reports whether anything
// was removed and is safe to repeat.
func (s *Service) Revoke(ctx context.Context, in RevokeInput) (bool, error) {
	if s.store == nil || s.levels == nil {
		return false, fmt.Errorf("punishment service dependencies are not configured")
	}
	if in.SubjectID == 0 || in.ModeratorID == 0 || !in.Kind.Valid() {
		return false, fmt.Errorf("%w: invalid revoke request", apperr.ErrValidation)
	}
	if err := s.authorize(ctx, in.ModeratorID, in.SubjectID, in.Kind); err != nil {
		return false, err
	}

	now := s.now()
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	res, err := s.store.Revoke(opCtx, in.SubjectID, in.Kind, func(r pgrepo.RevokeResult) []model.AuditEntry {
		return []model.AuditEntry{auditsvc.Revoked(in.SubjectID, in.ModeratorID, in.Kind, len(r.Removed), r.WarningsCleared, now)}
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w: %w", in.Kind, apperr.ErrStoreUnavailable, err)
	}

	s.cacheDelete(ctx, in.SubjectID, in.Kind)

	removed := len(res.Removed) > 0 || res.WarningsCleared > 0
	if !removed {
		return false, nil
	}

	lifted := model.Punishment{SubjectID: in.SubjectID, Kind: in.Kind, ModeratorID: in.ModeratorID, ExpiresAt: now}
	if len(res.Removed) > 0 {
		lifted = res.Removed[0]
	}
	metrics.Punishments.WithLabelValues(string(in.Kind), "revoked").Inc()
	s.notify(ctx, model.PunishmentEvent{Kind: model.PunishmentRevoked, Punishment: lifted})
	return true, nil
}

// Reconcile removes every punishment whose expiry passed, in batches, and
// returns how many it reaped. A second run right after finds nothing.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, fmt.Errorf("punishment service dependencies are not configured")
	}

	total := 0
	for {
		now := s.now()
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		expired, err := s.store.ExpireDue(opCtx, now, s.cfg.ReconcileBatch, func(p model.Punishment) model.AuditEntry {
			return auditsvc.PunishmentExpired(p, now)
		})
		cancel()
		if err != nil {
			return total, fmt.Errorf("reconcile punishments: %w: %w", apperr.ErrStoreUnavailable, err)
		}

		for _, p := range expired {
			s.cacheDelete(ctx, p.SubjectID, p.Kind)
			metrics.Punishments.WithLabelValues(string(p.Kind), "expired").Inc()
			s.notify(ctx, model.PunishmentEvent{Kind: model.PunishmentExpired, Punishment: p})
			if s.events != nil {
				s.events.Dispatch(ctx, enums.WebhookPunishmentExpired, p)
			}
		}

		total += len(expired)
		if len(expired) < s.cfg.ReconcileBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// IsActive answers from the cache when it can. An expired cache entry counts
// as inactive even if reconcile has not run yet.
func (s *Service) IsActive(ctx context.Context, subjectID int64, kind enums.PunishmentKind) (bool, error) {
	if subjectID == 0 || !kind.Valid() {
		return false, fmt.Errorf("%w: invalid punishment lookup", apperr.ErrValidation)
	}
	if s.store == nil {
		return false, fmt.Errorf("punishment service dependencies are not configured")
	}

	now := s.now()
	if s.cache != nil {
		expiresAt, ok, err := s.cache.Get(ctx, subjectID, kind)
		switch {
		case err != nil:
			s.logger.Warn("punishment cache read failed", zap.Int64("subject_id", subjectID), zap.Error(err))
		case ok && expiresAt.After(now):
			metrics.CacheLookups.WithLabelValues("punishments", "remote", "hit").Inc()
			return true, nil
		case ok:
			metrics.CacheLookups.WithLabelValues("punishments", "remote", "stale").Inc()
			s.cacheDelete(ctx, subjectID, kind)
			return false, nil
		default:
			metrics.CacheLookups.WithLabelValues("punishments", "remote", "miss").Inc()
		}
	}

	p, err := s.activeOf(ctx, subjectID, kind, now)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.cachePut(ctx, p)
	return true, nil
}

// ActiveOf returns the live punishment of the kind or ErrNotFound.
func (s *Service) ActiveOf(ctx context.Context, subjectID int64, kind enums.PunishmentKind) (model.Punishment, error) {
	if subjectID == 0 || !kind.Valid() {
		return model.Punishment{}, fmt.Errorf("%w: invalid punishment lookup", apperr.ErrValidation)
	}
	if s.store == nil {
		return model.Punishment{}, fmt.Errorf("punishment service dependencies are not configured")
	}
	return s.activeOf(ctx, subjectID, kind, s.now())
}

func (s *Service) Active(ctx context.Context, subjectID int64) ([]model.Punishment, error) {
	if subjectID == 0 {
		return nil, fmt.Errorf("%w: invalid subject id", apperr.ErrValidation)
	}
	if s.store == nil {
		return nil, fmt.Errorf("punishment service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	items, err := s.store.ListActiveBySubject(ctx, subjectID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list subject punishments: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return items, nil
}

func (s *Service) ListActive(ctx context.Context, afterID int64, limit int) ([]model.Punishment, error) {
	if s.store == nil {
		return nil, fmt.Errorf("punishment service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	items, err := s.store.ListActive(ctx, s.now(), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active punishments: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return items, nil
}

func (s *Service) CountActive(ctx context.Context) (map[enums.PunishmentKind]int64, error) {
	if s.store == nil {
		return nil, fmt.Errorf("punishment service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	counts, err := s.store.CountActiveByKind(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("count active punishments: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return counts, nil
}

func (s *Service) Warnings(ctx context.Context, subjectID int64) (int, error) {
	if s.store == nil {
		return 0, fmt.Errorf("punishment service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	count, err := s.store.WarningCount(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("warning count: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return count, nil
}

// History counts every punishment ever imposed on the subject, per kind.
func (s *Service) History(ctx context.Context, subjectID int64) (map[enums.PunishmentKind]int64, error) {
	if subjectID == 0 {
		return nil, fmt.Errorf("%w: invalid subject id", apperr.ErrValidation)
	}
	if s.history == nil {
		return nil, fmt.Errorf("punishment history store is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	counts, err := s.history.PunishmentHistory(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("punishment history: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return counts, nil
}

// Warm loads every active punishment into the cache. Stacked warnings are
// cached with the latest expiry of the subject.
func (s *Service) Warm(ctx context.Context) (int, error) {
	if s.store == nil || s.cache == nil {
		return 0, nil
	}

	const page = 500
	var (
		afterID  int64
		total    int
		warnings = make(map[int64]model.Punishment)
	)
	now := s.now()
	for {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		items, err := s.store.ListActive(opCtx, now, afterID, page)
		cancel()
		if err != nil {
			return total, fmt.Errorf("warm punishment cache: %w: %w", apperr.ErrStoreUnavailable, err)
		}

		entries := make([]redrepo.PunishmentCacheEntry, 0, len(items))
		for _, p := range items {
			afterID = p.ID
			if p.Kind == enums.PunishmentKindWarning {
				if cur, ok := warnings[p.SubjectID]; !ok || p.ExpiresAt.After(cur.ExpiresAt) {
					warnings[p.SubjectID] = p
				}
				continue
			}
			entries = append(entries, s.cacheEntry(p, now))
		}
		if err := s.cache.PutMany(ctx, entries); err != nil {
			return total, fmt.Errorf("warm punishment cache: %w: %w", apperr.ErrCacheUnavailable, err)
		}
		total += len(entries)

		if len(items) < page {
			break
		}
	}

	entries := make([]redrepo.PunishmentCacheEntry, 0, len(warnings))
	for _, p := range warnings {
		entries = append(entries, s.cacheEntry(p, now))
	}
	if err := s.cache.PutMany(ctx, entries); err != nil {
		return total, fmt.Errorf("warm punishment cache: %w: %w", apperr.ErrCacheUnavailable, err)
	}
	return total + len(entries), nil
}

// authorize applies the capability rules shared by impose and revoke.
func (s *Service) authorize(ctx context.Context, moderatorID, subjectID int64, kind enums.PunishmentKind) error {
	if moderatorID == subjectID {
		return fmt.Errorf("moderator %d cannot sanction themselves: %w", moderatorID, apperr.ErrForbidden)
	}

	required := enums.LevelSeniorModerator
	if kind == enums.PunishmentKindWarning {
		required = enums.LevelModerator
	}

	modLevel, err := s.levels.Level(ctx, moderatorID)
	if err != nil {
		return err
	}
	if !modLevel.AtLeast(required) {
		return fmt.Errorf("%s needs %s, moderator is %s: %w", kind, required, modLevel, apperr.ErrForbidden)
	}

	subjectLevel, err := s.levels.Level(ctx, subjectID)
	if err != nil {
		return err
	}
	if subjectLevel >= modLevel {
		return fmt.Errorf("subject %d outranks moderator %d: %w", subjectID, moderatorID, apperr.ErrForbidden)
	}
	return nil
}

func (s *Service) activeOf(ctx context.Context, subjectID int64, kind enums.PunishmentKind, now time.Time) (model.Punishment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	p, err := s.store.GetActive(ctx, subjectID, kind, now)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPunishmentNotFound) {
			return model.Punishment{}, fmt.Errorf("active %s for %d: %w", kind, subjectID, apperr.ErrNotFound)
		}
		return model.Punishment{}, fmt.Errorf("get active punishment: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return p, nil
}

func (s *Service) cacheEntry(p model.Punishment, now time.Time) redrepo.PunishmentCacheEntry {
	return redrepo.PunishmentCacheEntry{
		SubjectID: p.SubjectID,
		Kind:      p.Kind,
		ExpiresAt: p.ExpiresAt,
		TTL:       min(p.Remaining(now), s.cfg.CacheTTL),
	}
}

func (s *Service) cachePut(ctx context.Context, p model.Punishment) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PutMany(ctx, []redrepo.PunishmentCacheEntry{s.cacheEntry(p, s.now())}); err != nil {
		s.logger.Warn("punishment cache write failed", zap.Int64("subject_id", p.SubjectID), zap.String("kind", string(p.Kind)), zap.Error(err))
	}
}

func (s *Service) cacheDelete(ctx context.Context, subjectID int64, kind enums.PunishmentKind) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, subjectID, kind); err != nil {
		s.logger.Warn("punishment cache delete failed", zap.Int64("subject_id", subjectID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *Service) announce(ctx context.Context, kind model.PunishmentEventKind, p model.Punishment) {
	metrics.Punishments.WithLabelValues(string(p.Kind), "imposed").Inc()
	s.notify(ctx, model.PunishmentEvent{Kind: kind, Punishment: p})
	if s.events != nil {
		s.events.Dispatch(ctx, enums.WebhookPunishmentCreated, p)
	}
}

func (s *Service) notify(ctx context.Context, event model.PunishmentEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPunishment(ctx, event); err != nil {
		s.logger.Warn("punishment notification failed",
			zap.Int64("subject_id", event.Punishment.SubjectID),
			zap.String("event", string(event.Kind)),
			zap.Error(err),
		)
	}
}

func supersedeAudit(created model.Punishment, previous *model.Punishment) []model.AuditEntry {
	entries := make([]model.AuditEntry, 0, 2)
	if previous != nil {
		entries = append(entries, auditsvc.Superseded(*previous, created))
	}
	return append(entries, auditsvc.Imposed(created))
}

func warningAudit(res pgrepo.WarningResult) []model.AuditEntry {
	warning := auditsvc.Imposed(res.Warning)
	warning.Details["warnings"] = res.Count

	entries := []model.AuditEntry{warning}
	if res.Escalated != nil {
		entries = append(entries, supersedeAudit(*res.Escalated, res.Superseded)...)
		entries = append(entries, auditsvc.Escalated(*res.Escalated, res.Count))
	}
	return entries
}
