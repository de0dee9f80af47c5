package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ivankudzin/anonmod/internal/domain/model"
)

type Bot struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *zap.Logger
}

type CommandUpdate struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Command     string
	Args        string
}

// ContentUpdate is a private message that can be submitted for moderation.
type ContentUpdate struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Content     model.Content
}

type CallbackUpdate struct {
	CallbackID  string
	ChatID      int64
	MessageID   int
	UserID      int64
	DisplayName string
	Data        string
}

type Handlers struct {
	OnCommand  func(context.Context, CommandUpdate) error
	OnContent  func(context.Context, ContentUpdate) error
	OnCallback func(context.Context, CallbackUpdate) error
}

type Config struct {
	Token          string
	SendRatePerSec float64
	SendBurst      int
}

func NewBot(cfg Config, client *http.Client, logger *zap.Logger) (*Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendRatePerSec <= 0 {
		cfg.SendRatePerSec = 25
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 5
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &Bot{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendBurst),
		logger:  logger,
	}, nil
}

// Listen dispatches updates until ctx is done. Handler errors are logged and
// never stop the loop.
func (b *Bot) Listen(ctx context.Context, handlers Handlers) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := b.route(ctx, update, handlers); err != nil {
				b.logger.Warn("telegram update handler failed", zap.Int("update_id", update.UpdateID), zap.Error(err))
			}
		}
	}
}

func (b *Bot) route(ctx context.Context, update tgbotapi.Update, handlers Handlers) error {
	if msg := update.Message; msg != nil && msg.From != nil {
		// Channel and group traffic is ignored; submissions come in private.
		if msg.Chat == nil || !msg.Chat.IsPrivate() {
			return nil
		}

		if msg.IsCommand() {
			if handlers.OnCommand == nil {
				return nil
			}
			return handlers.OnCommand(ctx, CommandUpdate{
				ChatID:      msg.Chat.ID,
				UserID:      msg.From.ID,
				DisplayName: displayName(msg.From),
				Command:     msg.Command(),
				Args:        strings.TrimSpace(msg.CommandArguments()),
			})
		}

		content, ok := ContentFromMessage(msg)
		if !ok || handlers.OnContent == nil {
			return nil
		}
		return handlers.OnContent(ctx, ContentUpdate{
			ChatID:      msg.Chat.ID,
			UserID:      msg.From.ID,
			DisplayName: displayName(msg.From),
			Content:     content,
		})
	}

	if cb := update.CallbackQuery; cb != nil && cb.From != nil && handlers.OnCallback != nil {
		upd := CallbackUpdate{
			CallbackID:  cb.ID,
			UserID:      cb.From.ID,
			DisplayName: displayName(cb.From),
			Data:        cb.Data,
		}
		if cb.Message != nil && cb.Message.Chat != nil {
			upd.ChatID = cb.Message.Chat.ID
			upd.MessageID = cb.Message.MessageID
		}
		return handlers.OnCallback(ctx, upd)
	}

	return nil
}

// ContentFromMessage maps an incoming message to a content variant. The
// largest photo size is kept.
func ContentFromMessage(msg *tgbotapi.Message) (model.Content, bool) {
	switch {
	case msg == nil:
		return nil, false
	case len(msg.Photo) > 0:
		return model.PhotoContent{FileRef: msg.Photo[len(msg.Photo)-1].FileID, Caption: msg.Caption}, true
	case msg.Video != nil:
		return model.VideoContent{FileRef: msg.Video.FileID, Caption: msg.Caption}, true
	case msg.VideoNote != nil:
		return model.VideoContent{FileRef: msg.VideoNote.FileID, Round: true}, true
	case msg.Voice != nil:
		return model.AudioContent{FileRef: msg.Voice.FileID, Caption: msg.Caption, Voice: true}, true
	case msg.Audio != nil:
		return model.AudioContent{FileRef: msg.Audio.FileID, Caption: msg.Caption}, true
	case msg.Sticker != nil:
		return model.StickerContent{FileRef: msg.Sticker.FileID, Emoji: msg.Sticker.Emoji}, true
	case msg.Document != nil:
		return model.DocumentContent{FileRef: msg.Document.FileID, Caption: msg.Caption, FileName: msg.Document.FileName}, true
	case strings.TrimSpace(msg.Text) != "":
		return model.TextContent{Text: msg.Text}, true
	default:
		return nil, false
	}
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return fmt.Errorf("chat id is required")
	}
	return b.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendContent sends content with an optional header and keyboard. Kinds
// without captions get the header and keyboard as a follow-up text.
func (b *Bot) SendContent(ctx context.Context, chatID int64, content model.Content, file tgbotapi.RequestFileData, header string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if chatID == 0 {
		return fmt.Errorf("chat id is required")
	}

	caption := joinNonEmpty(header, model.Caption(content))
	var msg tgbotapi.Chattable
	switch v := content.(type) {
	case model.TextContent:
		m := tgbotapi.NewMessage(chatID, caption)
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		return b.send(ctx, m)
	case model.PhotoContent:
		m := tgbotapi.NewPhoto(chatID, file)
		m.Caption = caption
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		msg = m
	case model.VideoContent:
		if v.Round {
			if err := b.send(ctx, tgbotapi.NewVideoNote(chatID, 0, file)); err != nil {
				return err
			}
			return b.sendFollowUp(ctx, chatID, header, markup)
		}
		m := tgbotapi.NewVideo(chatID, file)
		m.Caption = caption
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		msg = m
	case model.AudioContent:
		if v.Voice {
			m := tgbotapi.NewVoice(chatID, file)
			m.Caption = caption
			if markup != nil {
				m.ReplyMarkup = *markup
			}
			msg = m
			break
		}
		m := tgbotapi.NewAudio(chatID, file)
		m.Caption = caption
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		msg = m
	case model.StickerContent:
		if err := b.send(ctx, tgbotapi.NewSticker(chatID, file)); err != nil {
			return err
		}
		return b.sendFollowUp(ctx, chatID, header, markup)
	case model.DocumentContent:
		m := tgbotapi.NewDocument(chatID, file)
		m.Caption = caption
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		msg = m
	default:
		return fmt.Errorf("unsupported content %T", content)
	}
	return b.send(ctx, msg)
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}
	return b.request(ctx, tgbotapi.NewCallback(callbackID, text))
}

// ClearKeyboard removes the inline keyboard of a handled moderation message.
func (b *Bot) ClearKeyboard(ctx context.Context, chatID int64, messageID int) error {
	if chatID == 0 || messageID == 0 {
		return nil
	}
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	return b.request(ctx, tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, empty))
}

func (b *Bot) sendFollowUp(ctx context.Context, chatID int64, header string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if header == "" && markup == nil {
		return nil
	}
	m := tgbotapi.NewMessage(chatID, header)
	if markup != nil {
		m.ReplyMarkup = *markup
	}
	return b.send(ctx, m)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	if _, err := b.api.Request(c); err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	return nil
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
