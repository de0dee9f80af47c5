package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/domain/model"
	"github.com/ivankudzin/anonmod/internal/metrics"
)

const objectStoreScheme = "s3:"

type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendContent(ctx context.Context, chatID int64, content model.Content, file tgbotapi.RequestFileData, header string, markup *tgbotapi.InlineKeyboardMarkup) error
}

// URLResolver turns an object store ref into a URL Telegram can fetch.
type URLResolver func(ctx context.Context, ref string) (string, error)

type TransportConfig struct {
	ChannelID    int64
	LogChannelID int64
	Location     *time.Location
}

// Transport relays moderation traffic through the bot. Private chat ids equal
// user ids, so moderators and submitters are addressed directly. Only log and
// subject sends are counted here; the moderation engine counts the rest.
type Transport struct {
	sender  Sender
	resolve URLResolver
	cfg     TransportConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewTransport(sender Sender, resolve URLResolver, cfg TransportConfig, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Transport{
		sender:  sender,
		resolve: resolve,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (t *Transport) DeliverToModerators(ctx context.Context, item model.ModerationItem, moderatorIDs []int64) []model.DeliveryAttempt {
	attempts := make([]model.DeliveryAttempt, 0, len(moderatorIDs))
	if len(moderatorIDs) == 0 {
		return attempts
	}

	file, err := t.fileData(ctx, item.Content)
	if err != nil {
		for _, id := range moderatorIDs {
			attempts = append(attempts, model.DeliveryAttempt{ModeratorID: id, Err: err})
		}
		return attempts
	}

	header := ModerationHeader(item)
	markup := ModerationKeyboard(item.ID)
	for _, id := range moderatorIDs {
		err := t.sender.SendContent(ctx, id, item.Content, file, header, &markup)
		attempts = append(attempts, model.DeliveryAttempt{ModeratorID: id, Err: err})
	}
	return attempts
}

func (t *Transport) NotifySubmitter(ctx context.Context, submitterID int64, outcome model.Outcome) error {
	text := OutcomeText(outcome)
	if text == "" {
		return fmt.Errorf("unknown outcome %q", outcome.Kind)
	}

	err := t.sender.SendText(ctx, submitterID, text)
	t.writeLog(ctx, ModerationLogText(outcome, t.now(), t.cfg.Location))
	if err != nil {
		return fmt.Errorf("notify submitter %d: %w", submitterID, err)
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, content model.Content) error {
	if t.cfg.ChannelID == 0 {
		return errors.New("publish channel is not configured")
	}
	file, err := t.fileData(ctx, content)
	if err != nil {
		return err
	}
	if err := t.sender.SendContent(ctx, t.cfg.ChannelID, content, file, "", nil); err != nil {
		return fmt.Errorf("publish content: %w", err)
	}
	return nil
}

func (t *Transport) NotifyPunishment(ctx context.Context, event model.PunishmentEvent) error {
	err := t.sender.SendText(ctx, event.Punishment.SubjectID, PunishmentText(event, t.cfg.Location))
	observe("subject", err)
	t.writeLog(ctx, PunishmentLogText(event, t.now(), t.cfg.Location))
	if err != nil {
		return fmt.Errorf("notify subject %d: %w", event.Punishment.SubjectID, err)
	}
	return nil
}

func (t *Transport) writeLog(ctx context.Context, text string) {
	if t.cfg.LogChannelID == 0 {
		return
	}
	err := t.sender.SendText(ctx, t.cfg.LogChannelID, text)
	observe("log", err)
	if err != nil {
		t.logger.Warn("write moderation log failed", zap.Error(err))
	}
}

func (t *Transport) fileData(ctx context.Context, content model.Content) (tgbotapi.RequestFileData, error) {
	ref := model.FileRef(content)
	if ref == "" {
		return nil, nil
	}
	if !strings.HasPrefix(ref, objectStoreScheme) {
		return tgbotapi.FileID(ref), nil
	}
	if t.resolve == nil {
		return nil, fmt.Errorf("cannot resolve %q: object store is not configured", ref)
	}
	url, err := t.resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return tgbotapi.FileURL(url), nil
}

func observe(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Deliveries.WithLabelValues(channel, result).Inc()
}
