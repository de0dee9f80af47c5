package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/cache"
	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	pgrepo "github.com/ivankudzin/anonmod/internal/repo/postgres"
	auditsvc "github.com/ivankudzin/anonmod/internal/services/audit"
)

type UserStore interface {
	Get(ctx context.Context, id int64) (model.User, error)
	Ensure(ctx context.Context, id int64, displayName string, now time.Time) (model.User, bool, error)
	SetLevel(ctx context.Context, id int64, level enums.Level, now time.Time, audit model.AuditEntry) (model.User, error)
	ListIDsByMinLevel(ctx context.Context, min enums.Level) ([]int64, error)
	Counts(ctx context.Context) (int64, int64, error)
}

type EventSink interface {
	Dispatch(ctx context.Context, event enums.WebhookEvent, data any)
}

type Config struct {
	OwnerID   int64
	OpTimeout time.Duration
}

type Dependencies struct {
	Users  UserStore
	Cache  *cache.Tiered[model.User]
	Events EventSink
	Logger *zap.Logger
}

// Service owns user levels and capability checks.
type Service struct {
	users  UserStore
	cache  *cache.Tiered[model.User]
	events EventSink
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	return &Service{
		users:  deps.Users,
		cache:  deps.Cache,
		events: deps.Events,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) OwnerID() int64 {
	return s.cfg.OwnerID
}

// Level returns Guest for unknown users. The configured owner is always Owner.
func (s *Service) Level(ctx context.Context, userID int64) (enums.Level, error) {
	if userID == 0 {
		return enums.LevelGuest, fmt.Errorf("%w: invalid user id", apperr.ErrValidation)
	}
	if s.cfg.OwnerID != 0 && userID == s.cfg.OwnerID {
		return enums.LevelOwner, nil
	}

	user, err := s.User(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return enums.LevelGuest, nil
		}
		return enums.LevelGuest, err
	}
	return user.Level, nil
}

func (s *Service) User(ctx context.Context, userID int64) (model.User, error) {
	if s.users == nil {
		return model.User{}, fmt.Errorf("access service dependencies are not configured")
	}

	load := func(ctx context.Context) (model.User, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		defer cancel()

		user, err := s.users.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, pgrepo.ErrUserNotFound) {
				return model.User{}, fmt.Errorf("get user %d: %w", userID, apperr.ErrNotFound)
			}
			return model.User{}, fmt.Errorf("get user %d: %w: %w", userID, apperr.ErrStoreUnavailable, err)
		}
		return user, nil
	}

	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Get(ctx, userKey(userID), load)
}

// Require returns ErrForbidden unless the user holds at least required.
func (s *Service) Require(ctx context.Context, userID int64, required enums.Level) (enums.Level, error) {
	level, err := s.Level(ctx, userID)
	if err != nil {
		return level, err
	}
	if !level.AtLeast(required) {
		return level, fmt.Errorf("user %d is %s, needs %s: %w", userID, level, required, apperr.ErrForbidden)
	}
	return level, nil
}

// EnsureUser records a user on first sight with Guest level.
func (s *Service) EnsureUser(ctx context.Context, userID int64, displayName string) (model.User, error) {
	if userID == 0 {
		return model.User{}, fmt.Errorf("%w: invalid user id", apperr.ErrValidation)
	}
	if s.users == nil {
		return model.User{}, fmt.Errorf("access service dependencies are not configured")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	user, created, err := s.users.Ensure(opCtx, userID, displayName, s.now())
	if err != nil {
		return model.User{}, fmt.Errorf("ensure user: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	if created {
		s.UserCreated(ctx, user)
	} else {
		s.invalidate(ctx, userID)
	}
	return user, nil
}

// UserCreated announces a user row that another transaction created.
func (s *Service) UserCreated(ctx context.Context, user model.User) {
	if s.events != nil {
		s.events.Dispatch(ctx, enums.WebhookUserCreated, user)
	}
}

// SetLevel changes a user's level. Only an owner may do it, and the
// configured owner's own level is fixed.
func (s *Service) SetLevel(ctx context.Context, actorID, userID int64, level enums.Level) (model.User, error) {
	if userID == 0 || !level.Valid() {
		return model.User{}, fmt.Errorf("%w: invalid level change", apperr.ErrValidation)
	}
	if s.users == nil {
		return model.User{}, fmt.Errorf("access service dependencies are not configured")
	}
	if _, err := s.Require(ctx, actorID, enums.LevelOwner); err != nil {
		return model.User{}, err
	}
	if s.cfg.OwnerID != 0 && userID == s.cfg.OwnerID {
		return model.User{}, fmt.Errorf("owner level is fixed: %w", apperr.ErrForbidden)
	}

	previous, err := s.Level(ctx, userID)
	if err != nil {
		return model.User{}, err
	}

	return s.setLevel(ctx, actorID, userID, previous, level)
}

// SeedOwner promotes the configured owner at startup.
func (s *Service) SeedOwner(ctx context.Context) error {
	if s.cfg.OwnerID == 0 {
		return nil
	}
	if s.users == nil {
		return fmt.Errorf("access service dependencies are not configured")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	user, err := s.users.Get(opCtx, s.cfg.OwnerID)
	cancel()
	switch {
	case err == nil && user.Level == enums.LevelOwner:
		return nil
	case err != nil && !errors.Is(err, pgrepo.ErrUserNotFound):
		return fmt.Errorf("load owner: %w: %w", apperr.ErrStoreUnavailable, err)
	}

	_, err = s.setLevel(ctx, auditsvc.SystemActor, s.cfg.OwnerID, user.Level, enums.LevelOwner)
	if err != nil {
		return err
	}
	s.logger.Info("owner seeded", zap.Int64("owner_id", s.cfg.OwnerID))
	return nil
}

// ModeratorIDs lists everyone who receives items for review.
func (s *Service) ModeratorIDs(ctx context.Context) ([]int64, error) {
	if s.users == nil {
		return nil, fmt.Errorf("access service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	ids, err := s.users.ListIDsByMinLevel(ctx, enums.LevelModerator)
	if err != nil {
		return nil, fmt.Errorf("list moderators: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	if s.cfg.OwnerID != 0 && !slices.Contains(ids, s.cfg.OwnerID) {
		ids = append(ids, s.cfg.OwnerID)
	}
	return ids, nil
}

func (s *Service) Counts(ctx context.Context) (total int64, moderators int64, err error) {
	if s.users == nil {
		return 0, 0, fmt.Errorf("access service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	total, moderators, err = s.users.Counts(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count users: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return total, moderators, nil
}

func (s *Service) setLevel(ctx context.Context, actorID, userID int64, from, to enums.Level) (model.User, error) {
	now := s.now()

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	user, err := s.users.SetLevel(opCtx, userID, to, now, auditsvc.LevelChanged(actorID, userID, from, to, now))
	if err != nil {
		return model.User{}, fmt.Errorf("set level: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	s.invalidate(ctx, userID)

	s.logger.Info("user level changed",
		zap.Int64("actor_id", actorID),
		zap.Int64("user_id", userID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return user, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userKey(userID)); err != nil {
		s.logger.Warn("user cache invalidate failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func userKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}
