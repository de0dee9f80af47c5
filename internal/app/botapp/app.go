package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivankudzin/anonmod/internal/app/engine"
	"github.com/ivankudzin/anonmod/internal/config"
	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	tginfra "github.com/ivankudzin/anonmod/internal/infra/telegram"
	modsvc "github.com/ivankudzin/anonmod/internal/services/moderation"
	punishsvc "github.com/ivankudzin/anonmod/internal/services/punishment"
)

type chat interface {
	SendText(ctx context.Context, chatID int64, text string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	ClearKeyboard(ctx context.Context, chatID int64, messageID int) error
}

type accessService interface {
	Level(ctx context.Context, userID int64) (enums.Level, error)
	EnsureUser(ctx context.Context, userID int64, displayName string) (model.User, error)
	SetLevel(ctx context.Context, actorID, userID int64, level enums.Level) (model.User, error)
}

type moderationService interface {
	Submit(ctx context.Context, in modsvc.SubmitInput) (int64, error)
	Decide(ctx context.Context, in modsvc.DecideInput) (model.Outcome, error)
}

type punishmentService interface {
	Impose(ctx context.Context, in punishsvc.ImposeInput) (punishsvc.ImposeResult, error)
	Revoke(ctx context.Context, in punishsvc.RevokeInput) (bool, error)
}

type statsService interface {
	ModeratorStats(ctx context.Context, moderatorID int64) (model.ModeratorStats, error)
	Leaderboard(ctx context.Context, limit int) ([]model.ModeratorStats, error)
	SystemStats(ctx context.Context) (model.SystemStats, error)
}

type App struct {
	cfg    config.Config
	logger *zap.Logger
	engine *engine.Engine
	bot    *tginfra.Bot

	chat        chat
	access      accessService
	moderation  moderationService
	punishments punishmentService
	stats       statsService
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	app := &App{
		cfg:         cfg,
		logger:      logger,
		engine:      eng,
		bot:         eng.Bot,
		access:      eng.Access,
		moderation:  eng.Moderation,
		punishments: eng.Punishments,
		stats:       eng.Stats,
	}
	if eng.Bot != nil {
		app.chat = eng.Bot
	} else {
		logger.Warn("BOT_TOKEN is empty, telegram listener disabled")
	}
	return app, nil
}

// Run bootstraps the engine and then runs the listener, the webhook
// dispatcher and both sweeps until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.engine.Bootstrap(ctx); err != nil {
		return err
	}
	a.logger.Info("bot app started")

	g, ctx := errgroup.WithContext(ctx)
	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Listen(ctx, tginfra.Handlers{
				OnCommand:  a.handleCommand,
				OnContent:  a.handleContent,
				OnCallback: a.handleCallback,
			})
		})
	}
	g.Go(func() error {
		return a.engine.Webhooks.Run(ctx)
	})
	for _, task := range a.engine.Sweeps() {
		g.Go(func() error {
			return task.Run(ctx)
		})
	}

	err := g.Wait()
	a.logger.Info("bot app stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() {
	a.engine.Close()
}

func (a *App) handleContent(ctx context.Context, update tginfra.ContentUpdate) error {
	level, err := a.access.Level(ctx, update.UserID)
	if err != nil {
		return a.reply(ctx, update.ChatID, err)
	}

	itemID, err := a.moderation.Submit(ctx, modsvc.SubmitInput{
		SubmitterID:    update.UserID,
		SubmitterLevel: level,
		DisplayName:    update.DisplayName,
		Content:        update.Content,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			return a.chat.SendText(ctx, update.ChatID, blockedText)
		}
		return a.reply(ctx, update.ChatID, err)
	}
	return a.chat.SendText(ctx, update.ChatID, fmt.Sprintf(submittedText, itemID))
}

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	command := strings.ToLower(strings.TrimSpace(update.Command))
	switch command {
	case "start":
		if _, err := a.access.EnsureUser(ctx, update.UserID, update.DisplayName); err != nil {
			return a.reply(ctx, update.ChatID, err)
		}
		return a.chat.SendText(ctx, update.ChatID, helpText)
	case "help":
		level, err := a.access.Level(ctx, update.UserID)
		if err != nil {
			return a.reply(ctx, update.ChatID, err)
		}
		if level.AtLeast(enums.LevelModerator) {
			return a.chat.SendText(ctx, update.ChatID, helpText+"\n\n"+moderatorHelpText)
		}
		return a.chat.SendText(ctx, update.ChatID, helpText)
	case "stats":
		return a.handleStats(ctx, update)
	case "top":
		return a.handleTop(ctx, update)
	case "warn":
		return a.handleImpose(ctx, update, enums.PunishmentKindWarning)
	case "mute":
		return a.handleImpose(ctx, update, enums.PunishmentKindMute)
	case "ban":
		return a.handleImpose(ctx, update, enums.PunishmentKindBan)
	case "unmute":
		return a.handleRevoke(ctx, update, enums.PunishmentKindMute)
	case "unban":
		return a.handleRevoke(ctx, update, enums.PunishmentKindBan)
	case "setlevel":
		return a.handleSetLevel(ctx, update)
	default:
		return a.chat.SendText(ctx, update.ChatID, unknownText)
	}
}

func (a *App) handleStats(ctx context.Context, update tginfra.CommandUpdate) error {
	level, err := a.requireLevel(ctx, update.ChatID, update.UserID, enums.LevelModerator)
	if err != nil {
		return err
	}
	if level < enums.LevelModerator {
		return nil
	}

	stats, err := a.stats.ModeratorStats(ctx, update.UserID)
	if err != nil {
		return a.reply(ctx, update.ChatID, err)
	}
	text := moderatorStatsText(stats)

	if level.AtLeast(enums.LevelSeniorModerator) {
		system, err := a.stats.SystemStats(ctx)
		if err != nil {
			a.logger.Warn("system stats failed", zap.Error(err))
		} else {
			text += "\n\n" + systemStatsText(system)
		}
	}
	return a.chat.SendText(ctx, update.ChatID, text)
}

func (a *App) handleTop(ctx context.Context, update tginfra.CommandUpdate) error {
	level, err := a.requireLevel(ctx, update.ChatID, update.UserID, enums.LevelModerator)
	if err != nil || level < enums.LevelModerator {
		return err
	}

	rows, err := a.stats.Leaderboard(ctx, 0)
	if err != nil {
		return a.reply(ctx, update.ChatID, err)
	}
	return a.chat.SendText(ctx, update.ChatID, leaderboardText(rows))
}

func (a *App) handleImpose(ctx context.Context, update tginfra.CommandUpdate, kind enums.PunishmentKind) error {
	args, err := parsePunishArgs(update.Args, kind != enums.PunishmentKindWarning)
	if err != nil {
		if kind == enums.PunishmentKindWarning {
			return a.chat.SendText(ctx, update.ChatID, usageWarnText)
		}
		return a.chat.SendText(ctx, update.ChatID, fmt.Sprintf(usagePunishText, strings.ToLower(string(kind))))
	}

	res, err := a.punishments.Impose(ctx, punishsvc.ImposeInput{
		SubjectID:   args.SubjectID,
		Kind:        kind,
		Reason:      args.Reason,
		Duration:    args.Duration,
		ModeratorID: update.UserID,
	})
	if err != nil {
		return a.reply(ctx, update.ChatID, err)
	}

	text := imposedText(args.SubjectID, res.Punishment, res.Warnings)
	if res.Escalated != nil {
		text += "\n" + imposedText(args.SubjectID, *res.Escalated, 0)
	}
	return a.chat.SendText(ctx, update.ChatID, text)
}

func (a *App) handleRevoke(ctx context.Context, update tginfra.CommandUpdate, kind enums.PunishmentKind) error {
	command := strings.ToLower(strings.TrimSpace(update.Command))
	args, err := parsePunishArgs(update.Args, false)
	if err != nil || args.Reason != "" {
		return a.chat.SendText(ctx, update.ChatID, fmt.Sprintf(usageRevokeText, command))
	}

	revoked, err := a.punishments.Revoke(ctx, punishsvc.RevokeInput{
		SubjectID:   args.SubjectID,
		Kind:        kind,
		ModeratorID: update.UserID,
	})
	if err != nil {
		return a.reply(ctx, update.ChatID, err)
	}
	if !revoked {
		return a.chat.SendText(ctx, update.ChatID, nothingToRevoke)
	}
	return a.chat.SendText(ctx, update.ChatID, revokedText)
}

func (a *App) handleSetLevel(ctx context.Context, update tginfra.CommandUpdate) error {
	userID, level, err := parseSetLevelArgs(update.Args)
	if err != nil {
		return a.chat.SendText(ctx, update.ChatID, usageSetLevel)
	}

	user, err := a.access.SetLevel(ctx, update.UserID, userID, level)
	if err != nil {
		return a.reply(ctx, update.ChatID, err)
	}
	return a.chat.SendText(ctx, update.ChatID, fmt.Sprintf(levelChangedText, user.ID, user.Level))
}

func (a *App) handleCallback(ctx context.Context, update tginfra.CallbackUpdate) error {
	action, itemID, err := tginfra.ParseCallbackData(update.Data)
	if err != nil {
		return a.chat.AnswerCallback(ctx, update.CallbackID, "Неизвестное действие")
	}

	in := modsvc.DecideInput{
		ItemID:      itemID,
		ModeratorID: update.UserID,
		Approve:     action == tginfra.ActionApprove,
		ReasonCode:  modsvc.RejectReasonOther,
	}
	if action == tginfra.ActionWarn {
		in.Sanction = &modsvc.SanctionRequest{Kind: enums.PunishmentKindWarning}
	}

	outcome, err := a.moderation.Decide(ctx, in)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyDecided) {
			a.clearKeyboard(ctx, update)
		}
		return a.chat.AnswerCallback(ctx, update.CallbackID, errorReply(err))
	}

	a.clearKeyboard(ctx, update)
	answer := "Опубликовано"
	if outcome.Kind == model.OutcomeRejected {
		answer = "Отклонено"
		if outcome.Sanction != nil {
			answer += ", предупреждение выдано"
		} else if outcome.SanctionErr != nil {
			answer += ", предупреждение не выдано"
			a.logger.Warn("sanction after rejection failed",
				zap.Int64("item_id", itemID),
				zap.Error(outcome.SanctionErr),
			)
		}
	}
	return a.chat.AnswerCallback(ctx, update.CallbackID, answer)
}

func (a *App) clearKeyboard(ctx context.Context, update tginfra.CallbackUpdate) {
	if update.ChatID == 0 || update.MessageID == 0 {
		return
	}
	if err := a.chat.ClearKeyboard(ctx, update.ChatID, update.MessageID); err != nil {
		a.logger.Debug("clear keyboard failed", zap.Int64("chat_id", update.ChatID), zap.Error(err))
	}
}

// requireLevel answers with forbiddenText when the user is below required.
// The returned level is below required in that case and err is nil.
func (a *App) requireLevel(ctx context.Context, chatID, userID int64, required enums.Level) (enums.Level, error) {
	level, err := a.access.Level(ctx, userID)
	if err != nil {
		return level, a.reply(ctx, chatID, err)
	}
	if !level.AtLeast(required) {
		return level, a.chat.SendText(ctx, chatID, forbiddenText)
	}
	return level, nil
}

func (a *App) reply(ctx context.Context, chatID int64, err error) error {
	if apperr.IsInfrastructure(err) {
		a.logger.Warn("bot request failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return a.chat.SendText(ctx, chatID, errorReply(err))
}
