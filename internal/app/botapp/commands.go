package botapp

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

const (
	helpText = "Отправьте сообщение, фото, видео, голосовое, стикер или файл. После проверки модератором оно будет опубликовано в канале анонимно."

	moderatorHelpText = "Команды модератора:\n" +
		"/stats - ваша статистика\n" +
		"/top - рейтинг модераторов\n" +
		"/warn <id> [причина]\n" +
		"/mute <id> [срок] [причина]\n" +
		"/ban <id> [срок] [причина]\n" +
		"/unmute <id>\n" +
		"/unban <id>\n" +
		"/setlevel <id> <уровень>\n" +
		"Срок: 30m, 12h, 7d."

	submittedText    = "Сообщение #%d отправлено на модерацию."
	forbiddenText    = "Недостаточно прав."
	unavailableText  = "Сервис временно недоступен, попробуйте позже."
	alreadyDoneText  = "Уже обработано."
	unknownText      = "Неизвестная команда. /help"
	rateLimitedText  = "Слишком много сообщений. Попробуйте через %d сек."
	blockedText      = "Вы не можете отправлять сообщения, пока действует ограничение."
	notFoundText     = "Не найдено."
	usagePunishText  = "Формат: /%s <id> [срок] [причина]"
	usageWarnText    = "Формат: /warn <id> [причина]"
	usageRevokeText  = "Формат: /%s <id>"
	usageSetLevel    = "Формат: /setlevel <id> <0-3|guest|moderator|senior_moderator|owner>"
	revokedText      = "Снято."
	nothingToRevoke  = "Активного ограничения нет."
	levelChangedText = "Пользователь %d теперь %s."
)

// punishArgs is the parsed form of "<id> [duration] [reason]".
type punishArgs struct {
	SubjectID int64
	Duration  time.Duration
	Reason    string
}

// parsePunishArgs splits command arguments. The second token is taken as a
// duration only when withDuration is set and it parses as one.
func parsePunishArgs(raw string, withDuration bool) (punishArgs, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return punishArgs{}, fmt.Errorf("subject id is required: %w", apperr.ErrValidation)
	}

	subjectID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || subjectID <= 0 {
		return punishArgs{}, fmt.Errorf("invalid subject id %q: %w", fields[0], apperr.ErrValidation)
	}

	out := punishArgs{SubjectID: subjectID}
	rest := fields[1:]
	if withDuration && len(rest) > 0 {
		if d, err := parseDuration(rest[0]); err == nil {
			out.Duration = d
			rest = rest[1:]
		}
	}
	out.Reason = strings.Join(rest, " ")
	return out, nil
}

// parseDuration accepts Go durations plus a day suffix ("7d", "1d12h").
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var days time.Duration
	if idx := strings.Index(raw, "d"); idx >= 0 {
		n, err := strconv.Atoi(raw[:idx])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		days = time.Duration(n) * 24 * time.Hour
		raw = raw[idx+1:]
		if raw == "" {
			if days <= 0 {
				return 0, fmt.Errorf("duration must be positive")
			}
			return days, nil
		}
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d+days <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d + days, nil
}

func parseSetLevelArgs(raw string) (int64, enums.Level, error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected <id> <level>: %w", apperr.ErrValidation)
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, fmt.Errorf("invalid user id %q: %w", fields[0], apperr.ErrValidation)
	}
	level, err := enums.ParseLevel(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return userID, level, nil
}

// errorReply maps an engine error to the text shown in chat. Internal
// details never reach the user.
func errorReply(err error) string {
	if retry, ok := apperr.RetryAfter(err); ok {
		return fmt.Sprintf(rateLimitedText, int64(math.Ceil(retry.Seconds())))
	}
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return "Некорректный запрос."
	case errors.Is(err, apperr.ErrAlreadyDecided):
		return alreadyDoneText
	case errors.Is(err, apperr.ErrNotFound):
		return notFoundText
	case errors.Is(err, apperr.ErrForbidden):
		return forbiddenText
	default:
		return unavailableText
	}
}

func moderatorStatsText(stats model.ModeratorStats) string {
	return fmt.Sprintf(
		"📊 Ваша статистика\nПроверено: %d\nОдобрено: %d\nОтклонено: %d\nПредупреждений: %d\nСреднее время решения: %s",
		stats.Reviewed,
		stats.Approved,
		stats.Rejected,
		stats.WarningsIssued,
		stats.AvgLatency.Round(time.Second),
	)
}

func systemStatsText(stats model.SystemStats) string {
	return fmt.Sprintf(
		"🛠 Система\nПользователей: %d\nМодераторов: %d\nВ очереди: %d\nОдобрено всего: %d\nОтклонено всего: %d\nЗаглушек: %d\nБлокировок: %d",
		stats.TotalUsers,
		stats.Moderators,
		stats.PendingItems,
		stats.TotalApproved,
		stats.TotalRejected,
		stats.ActivePunishments[string(enums.PunishmentKindMute)],
		stats.ActivePunishments[string(enums.PunishmentKindBan)],
	)
}

func leaderboardText(rows []model.ModeratorStats) string {
	if len(rows) == 0 {
		return "Рейтинг пока пуст."
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, "🏆 Рейтинг модераторов")
	for i, row := range rows {
		lines = append(lines, fmt.Sprintf("%d. %d - %d (✅ %d / ❌ %d)", i+1, row.ModeratorID, row.Reviewed, row.Approved, row.Rejected))
	}
	return strings.Join(lines, "\n")
}

func imposedText(subjectID int64, p model.Punishment, warnings int) string {
	if p.Kind == enums.PunishmentKindWarning {
		return fmt.Sprintf("Пользователь %d предупрежден (%d).", subjectID, warnings)
	}
	return fmt.Sprintf("Пользователь %d: %s до %s UTC.", subjectID, strings.ToLower(string(p.Kind)), p.ExpiresAt.UTC().Format("2006-01-02 15:04"))
}
