package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/cache"
	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	"github.com/ivankudzin/anonmod/internal/metrics"
	pgrepo "github.com/ivankudzin/anonmod/internal/repo/postgres"
	auditsvc "github.com/ivankudzin/anonmod/internal/services/audit"
	"github.com/ivankudzin/anonmod/internal/services/punishment"
	"github.com/ivankudzin/anonmod/internal/services/ratelimit"
)

type Store interface {
	Create(ctx context.Context, item model.ModerationItem, displayName string, audit model.AuditEntry) (model.ModerationItem, bool, error)
	Get(ctx context.Context, id int64) (model.ModerationItem, error)
	ClaimDecision(ctx context.Context, claim pgrepo.DecisionClaim, audit model.AuditEntry) (model.ModerationItem, error)
	ArchiveExpired(ctx context.Context, now time.Time, limit int, audit func(model.ModerationItem) model.AuditEntry) ([]model.ModerationItem, error)
	CountPending(ctx context.Context, now time.Time) (int64, error)
}

// DecisionMarks is the shared "already decided" fast path. It never replaces
// the store claim.
type DecisionMarks interface {
	MarkDecided(ctx context.Context, itemID, moderatorID int64, ttl time.Duration) (bool, error)
	IsDecided(ctx context.Context, itemID int64) (bool, error)
}

type SubmissionLimiter interface {
	Reserve(ctx context.Context, submitterID int64) (ratelimit.Reservation, error)
	Cancel(ctx context.Context, res ratelimit.Reservation) error
}

type Access interface {
	Require(ctx context.Context, userID int64, required enums.Level) (enums.Level, error)
	ModeratorIDs(ctx context.Context) ([]int64, error)
	UserCreated(ctx context.Context, user model.User)
}

type Sanctions interface {
	IsActive(ctx context.Context, subjectID int64, kind enums.PunishmentKind) (bool, error)
	Impose(ctx context.Context, in punishment.ImposeInput) (punishment.ImposeResult, error)
}

// Transport relays items and outcomes to people. Every call is best-effort.
type Transport interface {
	DeliverToModerators(ctx context.Context, item model.ModerationItem, moderatorIDs []int64) []model.DeliveryAttempt
	NotifySubmitter(ctx context.Context, submitterID int64, outcome model.Outcome) error
	Publish(ctx context.Context, content model.Content) error
}

type EventSink interface {
	Dispatch(ctx context.Context, event enums.WebhookEvent, data any)
}

type Config struct {
	ItemTTL       time.Duration
	MaxTextLength int
	SweepBatch    int
	OpTimeout     time.Duration
}

type Dependencies struct {
	Store     Store
	Items     *cache.Tiered[model.ModerationItem]
	Marks     DecisionMarks
	Limiter   SubmissionLimiter
	Access    Access
	Sanctions Sanctions
	Transport Transport
	Events    EventSink
	Logger    *zap.Logger
}

type SubmitInput struct {
	SubmitterID    int64
	SubmitterLevel enums.Level
	DisplayName    string
	Content        model.Content
}

// SanctionRequest asks Decide to punish the submitter of a rejected item.
type SanctionRequest struct {
	Kind     enums.PunishmentKind
	Reason   string
	Duration time.Duration
}

type DecideInput struct {
	ItemID      int64
	ModeratorID int64
	Approve     bool
	ReasonCode  string
	Sanction    *SanctionRequest
}

// Service is the moderation queue engine. Postgres owns item state; the
// tiered cache and the decided marks are derived copies.
type Service struct {
	store     Store
	items     *cache.Tiered[model.ModerationItem]
	marks     DecisionMarks
	limiter   SubmissionLimiter
	access    Access
	sanctions Sanctions
	transport Transport
	events    EventSink
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ItemTTL <= 0 {
		cfg.ItemTTL = 24 * time.Hour
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	return &Service{
		store:     deps.Store,
		items:     deps.Items,
		marks:     deps.Marks,
		limiter:   deps.Limiter,
		access:    deps.Access,
		sanctions: deps.Sanctions,
		transport: deps.Transport,
		events:    deps.Events,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ItemCacheTTL keeps cached items no longer than their own expiry and never
// longer than ceiling. Archived items are not cached.
func ItemCacheTTL(now func() time.Time, ceiling time.Duration) func(model.ModerationItem) time.Duration {
	return func(item model.ModerationItem) time.Duration {
		if item.Status == enums.ItemStatusArchived {
			return 0
		}
		remaining := item.ExpiresAt.Sub(now())
		if ceiling > 0 && remaining > ceiling {
			return ceiling
		}
		return remaining
	}
}

// Submit queues content for review and fans it out to moderators.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (int64, error) {
	if s.store == nil || s.limiter == nil {
		return 0, fmt.Errorf("moderation service dependencies are not configured")
	}
	if in.SubmitterID == 0 || !in.SubmitterLevel.Valid() {
		return 0, fmt.Errorf("%w: invalid submitter", apperr.ErrValidation)
	}
	if err := model.ValidateContent(in.Content, s.cfg.MaxTextLength); err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return 0, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	if err := s.checkSanctions(ctx, in.SubmitterID); err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			metrics.Submissions.WithLabelValues("sanctioned").Inc()
		}
		return 0, err
	}

	res, err := s.limiter.Reserve(ctx, in.SubmitterID)
	if err != nil {
		metrics.Submissions.WithLabelValues("error").Inc()
		return 0, err
	}
	if !res.Allowed {
		metrics.Submissions.WithLabelValues("rate_limited").Inc()
		return 0, apperr.RateLimited(res.RetryAfter)
	}

	now := s.now()
	item := model.ModerationItem{
		SubmitterID:    in.SubmitterID,
		SubmitterLevel: in.SubmitterLevel,
		Content:        in.Content,
		Status:         enums.ItemStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.ItemTTL),
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	created, userCreated, err := s.store.Create(opCtx, item, in.DisplayName, auditsvc.Submitted(item))
	cancel()
	if err != nil {
		if cancelErr := s.limiter.Cancel(ctx, res); cancelErr != nil {
			s.logger.Warn("release submission slot failed", zap.Int64("submitter_id", in.SubmitterID), zap.Error(cancelErr))
		}
		metrics.Submissions.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("create moderation item: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	metrics.Submissions.WithLabelValues("accepted").Inc()

	if s.items != nil {
		if err := s.items.Put(ctx, itemKey(created.ID), created); err != nil {
			s.logger.Warn("item cache fill failed", zap.Int64("item_id", created.ID), zap.Error(err))
		}
	}

	if userCreated && s.access != nil {
		s.access.UserCreated(ctx, model.User{
			ID:          in.SubmitterID,
			Level:       enums.LevelGuest,
			DisplayName: in.DisplayName,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	s.fanOut(ctx, created)
	if s.events != nil {
		s.events.Dispatch(ctx, enums.WebhookMessageReceived, created)
	}

	s.logger.Info("item submitted",
		zap.Int64("item_id", created.ID),
		zap.Int64("submitter_id", created.SubmitterID),
		zap.String("content_kind", string(created.Content.Kind())),
	)
	return created.ID, nil
}

// Decide claims a pending item for one moderator. Losers get
// ErrAlreadyDecided and cause no side effects.
func (s *Service) Decide(ctx context.Context, in DecideInput) (model.Outcome, error) {
	if s.store == nil {
		return model.Outcome{}, fmt.Errorf("moderation service dependencies are not configured")
	}
	if in.ItemID <= 0 || in.ModeratorID == 0 {
		return model.Outcome{}, fmt.Errorf("%w: invalid decision", apperr.ErrValidation)
	}
	if in.Sanction != nil && (in.Approve || !in.Sanction.Kind.Valid()) {
		return model.Outcome{}, fmt.Errorf("%w: sanction needs a rejection and a known kind", apperr.ErrValidation)
	}
	if s.access != nil {
		if _, err := s.access.Require(ctx, in.ModeratorID, enums.LevelModerator); err != nil {
			return model.Outcome{}, err
		}
	}

	if s.marks != nil {
		decided, err := s.marks.IsDecided(ctx, in.ItemID)
		if err != nil {
			s.logger.Debug("decided mark read failed", zap.Int64("item_id", in.ItemID), zap.Error(err))
		}
		if decided {
			metrics.Decisions.WithLabelValues("conflict").Inc()
			return model.Outcome{}, fmt.Errorf("item %d: %w", in.ItemID, apperr.ErrAlreadyDecided)
		}
	}

	item, err := s.Get(ctx, in.ItemID)
	if err != nil {
		return model.Outcome{}, err
	}
	if item.SubmitterID == in.ModeratorID {
		return model.Outcome{}, fmt.Errorf("moderator %d cannot decide own item: %w", in.ModeratorID, apperr.ErrForbidden)
	}
	if item.Status != enums.ItemStatusPending {
		metrics.Decisions.WithLabelValues("conflict").Inc()
		return model.Outcome{}, fmt.Errorf("item %d: %w", in.ItemID, apperr.ErrAlreadyDecided)
	}

	var reasonCode, reasonText string
	if !in.Approve {
		reasonCode, reasonText = RejectReasonText(in.ReasonCode)
	}

	now := s.now()
	entry := auditsvc.Decided(item.ID, item.SubmitterID, in.ModeratorID, in.Approve, now)
	if reasonCode != "" {
		entry.Details["reason"] = reasonCode
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	decided, err := s.store.ClaimDecision(opCtx, pgrepo.DecisionClaim{
		ItemID:      item.ID,
		ModeratorID: in.ModeratorID,
		Approved:    in.Approve,
		DecidedAt:   now,
	}, entry)
	cancel()
	if err != nil {
		// The claim may have committed before a timeout; drop cached copies
		// either way so the next read goes to the store.
		s.invalidate(ctx, item.ID)
		switch {
		case errors.Is(err, pgrepo.ErrItemAlreadyDecided):
			metrics.Decisions.WithLabelValues("conflict").Inc()
			return model.Outcome{}, fmt.Errorf("item %d: %w", item.ID, apperr.ErrAlreadyDecided)
		case errors.Is(err, pgrepo.ErrItemNotFound), errors.Is(err, pgrepo.ErrItemExpired):
			return model.Outcome{}, fmt.Errorf("item %d: %w", item.ID, apperr.ErrNotFound)
		default:
			metrics.Decisions.WithLabelValues("error").Inc()
			return model.Outcome{}, fmt.Errorf("claim item %d: %w: %w", item.ID, apperr.ErrStoreUnavailable, err)
		}
	}

	s.invalidate(ctx, decided.ID)
	if s.marks != nil {
		if _, err := s.marks.MarkDecided(ctx, decided.ID, in.ModeratorID, decided.ExpiresAt.Sub(now)); err != nil {
			s.logger.Warn("decided mark write failed", zap.Int64("item_id", decided.ID), zap.Error(err))
		}
	}

	outcome := model.Outcome{
		ItemID:      decided.ID,
		Kind:        model.OutcomeRejected,
		ModeratorID: in.ModeratorID,
		Reason:      reasonText,
	}
	if in.Approve {
		outcome.Kind = model.OutcomePublished
	}
	metrics.Decisions.WithLabelValues(string(outcome.Kind)).Inc()
	metrics.DecisionLatency.Observe(now.Sub(decided.CreatedAt).Seconds())

	s.logger.Info("item decided",
		zap.Int64("item_id", decided.ID),
		zap.Int64("moderator_id", in.ModeratorID),
		zap.String("outcome", string(outcome.Kind)),
	)

	if in.Sanction != nil && s.sanctions != nil {
		result, err := s.sanctions.Impose(ctx, punishment.ImposeInput{
			SubjectID:   decided.SubmitterID,
			Kind:        in.Sanction.Kind,
			Reason:      in.Sanction.Reason,
			Duration:    in.Sanction.Duration,
			ModeratorID: in.ModeratorID,
		})
		if err != nil {
			s.logger.Warn("sanction after rejection failed",
				zap.Int64("item_id", decided.ID),
				zap.Int64("subject_id", decided.SubmitterID),
				zap.Error(err),
			)
			outcome.SanctionErr = err
		} else {
			sanction := result.Punishment
			if result.Escalated != nil {
				sanction = *result.Escalated
			}
			outcome.Sanction = &sanction
		}
	}

	s.relay(ctx, decided, outcome)
	if s.events != nil {
		s.events.Dispatch(ctx, enums.WebhookMessageModerated, outcome)
	}
	return outcome, nil
}

// ExpireSweep archives pending items whose TTL elapsed. It is the only way
// an item leaves PENDING without a decision.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, fmt.Errorf("moderation service dependencies are not configured")
	}

	total := 0
	for {
		now := s.now()
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		archived, err := s.store.ArchiveExpired(opCtx, now, s.cfg.SweepBatch, func(item model.ModerationItem) model.AuditEntry {
			return auditsvc.Expired(item, now)
		})
		cancel()
		if err != nil {
			return total, fmt.Errorf("archive expired items: %w: %w", apperr.ErrStoreUnavailable, err)
		}

		for _, item := range archived {
			s.invalidate(ctx, item.ID)
			s.notifySubmitter(ctx, item.SubmitterID, model.Outcome{ItemID: item.ID, Kind: model.OutcomeExpired})
		}

		total += len(archived)
		if len(archived) < s.cfg.SweepBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// Get reads through the cache tiers. Expired and archived items are
// NotFound even when a stale copy is cached.
func (s *Service) Get(ctx context.Context, id int64) (model.ModerationItem, error) {
	if s.store == nil {
		return model.ModerationItem{}, fmt.Errorf("moderation service dependencies are not configured")
	}
	if id <= 0 {
		return model.ModerationItem{}, fmt.Errorf("%w: invalid item id", apperr.ErrValidation)
	}

	load := func(ctx context.Context) (model.ModerationItem, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		defer cancel()

		item, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, pgrepo.ErrItemNotFound) {
				return model.ModerationItem{}, fmt.Errorf("item %d: %w", id, apperr.ErrNotFound)
			}
			return model.ModerationItem{}, fmt.Errorf("get item %d: %w: %w", id, apperr.ErrStoreUnavailable, err)
		}
		return item, nil
	}

	var (
		item model.ModerationItem
		err  error
	)
	if s.items != nil {
		item, err = s.items.Get(ctx, itemKey(id), load)
	} else {
		item, err = load(ctx)
	}
	if err != nil {
		return model.ModerationItem{}, err
	}

	if item.Status == enums.ItemStatusArchived || item.ExpiredAt(s.now()) {
		s.invalidate(ctx, id)
		return model.ModerationItem{}, fmt.Errorf("item %d expired: %w", id, apperr.ErrNotFound)
	}
	return item, nil
}

func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, fmt.Errorf("moderation service dependencies are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	count, err := s.store.CountPending(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("count pending items: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	metrics.PendingItems.Set(float64(count))
	return count, nil
}

func (s *Service) checkSanctions(ctx context.Context, submitterID int64) error {
	if s.sanctions == nil {
		return nil
	}
	for _, kind := range []enums.PunishmentKind{enums.PunishmentKindBan, enums.PunishmentKindMute} {
		active, err := s.sanctions.IsActive(ctx, submitterID, kind)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("submitter %d has an active %s: %w", submitterID, kind, apperr.ErrForbidden)
		}
	}
	return nil
}

func (s *Service) fanOut(ctx context.Context, item model.ModerationItem) {
	if s.transport == nil || s.access == nil {
		return
	}

	ids, err := s.access.ModeratorIDs(ctx)
	if err != nil {
		s.logger.Warn("list moderators for delivery failed", zap.Int64("item_id", item.ID), zap.Error(err))
		return
	}

	recipients := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != item.SubmitterID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		s.logger.Warn("no moderators to deliver to", zap.Int64("item_id", item.ID))
		return
	}

	for _, attempt := range s.transport.DeliverToModerators(ctx, item, recipients) {
		if attempt.Err != nil {
			metrics.Deliveries.WithLabelValues("moderator", "error").Inc()
			s.logger.Warn("deliver item to moderator failed",
				zap.Int64("item_id", item.ID),
				zap.Int64("moderator_id", attempt.ModeratorID),
				zap.Error(attempt.Err),
			)
			continue
		}
		metrics.Deliveries.WithLabelValues("moderator", "ok").Inc()
	}
}

func (s *Service) relay(ctx context.Context, item model.ModerationItem, outcome model.Outcome) {
	if s.transport == nil {
		return
	}
	if outcome.Kind == model.OutcomePublished {
		if err := s.transport.Publish(ctx, item.Content); err != nil {
			metrics.Deliveries.WithLabelValues("publish", "error").Inc()
			s.logger.Warn("publish item failed", zap.Int64("item_id", item.ID), zap.Error(err))
		} else {
			metrics.Deliveries.WithLabelValues("publish", "ok").Inc()
		}
	}
	s.notifySubmitter(ctx, item.SubmitterID, outcome)
}

func (s *Service) notifySubmitter(ctx context.Context, submitterID int64, outcome model.Outcome) {
	if s.transport == nil {
		return
	}
	if err := s.transport.NotifySubmitter(ctx, submitterID, outcome); err != nil {
		metrics.Deliveries.WithLabelValues("submitter", "error").Inc()
		s.logger.Warn("notify submitter failed",
			zap.Int64("item_id", outcome.ItemID),
			zap.Int64("submitter_id", submitterID),
			zap.Error(err),
		)
		return
	}
	metrics.Deliveries.WithLabelValues("submitter", "ok").Inc()
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.items == nil {
		return
	}
	if err := s.items.Invalidate(ctx, itemKey(id)); err != nil {
		s.logger.Warn("item cache invalidate failed", zap.Int64("item_id", id), zap.Error(err))
	}
}

func itemKey(id int64) string {
	return "item:" + strconv.FormatInt(id, 10)
}
