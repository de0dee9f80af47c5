package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

const (
	logPreviewLimit = 500
	timeLayout      = "2006-01-02 15:04:05"
)

func punishmentTitle(kind enums.PunishmentKind) string {
	switch kind {
	case enums.PunishmentKindMute:
		return "заглушка"
	case enums.PunishmentKindWarning:
		return "предупреждение"
	case enums.PunishmentKindBan:
		return "блокировка"
	default:
		return strings.ToLower(string(kind))
	}
}

func contentTitle(content model.Content) string {
	switch v := content.(type) {
	case model.TextContent:
		return "📝 Текст"
	case model.PhotoContent:
		return "📷 Фото"
	case model.VideoContent:
		if v.Round {
			return "⭕ Видеосообщение"
		}
		return "🎬 Видео"
	case model.AudioContent:
		if v.Voice {
			return "🎤 Голосовое сообщение"
		}
		return "🎵 Аудио"
	case model.StickerContent:
		if v.Emoji != "" {
			return "🏷 Стикер " + v.Emoji
		}
		return "🏷 Стикер"
	case model.DocumentContent:
		if v.FileName != "" {
			return "📎 Документ " + v.FileName
		}
		return "📎 Документ"
	default:
		return "Сообщение"
	}
}

// ModerationHeader is the text moderators see above an item. The submitter
// stays anonymous.
func ModerationHeader(item model.ModerationItem) string {
	return fmt.Sprintf("📬 Новое сообщение #%d на модерацию\n%s", item.ID, contentTitle(item.Content))
}

func OutcomeText(outcome model.Outcome) string {
	switch outcome.Kind {
	case model.OutcomePublished:
		return "✅ Ваше сообщение прошло модерацию и опубликовано в канале!"
	case model.OutcomeRejected:
		text := "❌ Ваше сообщение не прошло модерацию и было отклонено."
		if reason := strings.TrimSpace(outcome.Reason); reason != "" {
			text += "\nПричина: " + reason
		}
		return text
	case model.OutcomeExpired:
		return "⌛ Ваше сообщение не было рассмотрено вовремя и снято с модерации."
	default:
		return ""
	}
}

func ModerationLogText(outcome model.Outcome, now time.Time, loc *time.Location) string {
	emoji, status := "❌", "отклонено"
	switch outcome.Kind {
	case model.OutcomePublished:
		emoji, status = "✅", "одобрено"
	case model.OutcomeExpired:
		emoji, status = "⌛", "истекло"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ Новый лог %s\n\n", emoji)
	if outcome.ModeratorID != 0 {
		fmt.Fprintf(&b, "👩‍💻 Модератор: %d\n", outcome.ModeratorID)
	}
	fmt.Fprintf(&b, "📩 Сообщение: #%d\n", outcome.ItemID)
	fmt.Fprintf(&b, "📊 Статус: %s\n", status)
	if outcome.Reason != "" {
		fmt.Fprintf(&b, "Причина: %s\n", truncate(outcome.Reason, logPreviewLimit))
	}
	if outcome.Sanction != nil {
		fmt.Fprintf(&b, "⚖️ Наказание: %s\n", punishmentTitle(outcome.Sanction.Kind))
	}
	fmt.Fprintf(&b, "⏰ %s", now.In(loc).Format(timeLayout))
	return b.String()
}

func PunishmentText(event model.PunishmentEvent, loc *time.Location) string {
	p := event.Punishment
	title := punishmentTitle(p.Kind)

	var b strings.Builder
	switch event.Kind {
	case model.PunishmentImposed, model.PunishmentEscalated:
		fmt.Fprintf(&b, "⚖️ Вам выдано наказание: %s", title)
		if p.Reason != "" {
			fmt.Fprintf(&b, "\nПричина: %s", p.Reason)
		}
		fmt.Fprintf(&b, "\nДействует до: %s", p.ExpiresAt.In(loc).Format(timeLayout))
	case model.PunishmentRevoked:
		fmt.Fprintf(&b, "🔓 Наказание снято: %s", title)
	case model.PunishmentExpired:
		fmt.Fprintf(&b, "⌛ Срок наказания истёк: %s", title)
	}
	return b.String()
}

func PunishmentLogText(event model.PunishmentEvent, now time.Time, loc *time.Location) string {
	p := event.Punishment

	var b strings.Builder
	switch event.Kind {
	case model.PunishmentImposed:
		b.WriteString("⚖️ 🎯 Наказание выдано\n\n")
	case model.PunishmentEscalated:
		b.WriteString("⚖️ 📈 Наказание усилено\n\n")
	case model.PunishmentRevoked:
		b.WriteString("⚖️ 🔓 Наказание снято\n\n")
	case model.PunishmentExpired:
		b.WriteString("⚖️ ⌛ Наказание истекло\n\n")
	}
	if p.ModeratorID != 0 {
		fmt.Fprintf(&b, "ID наказавшего: %d\n", p.ModeratorID)
	}
	fmt.Fprintf(&b, "ID наказанного: %d\n", p.SubjectID)
	fmt.Fprintf(&b, "Вид нарушения: %s\n", punishmentTitle(p.Kind))
	if p.Reason != "" {
		fmt.Fprintf(&b, "Причина нарушения: %s\n", truncate(p.Reason, logPreviewLimit))
	}
	fmt.Fprintf(&b, "⏰ %s", now.In(loc).Format(timeLayout))
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
