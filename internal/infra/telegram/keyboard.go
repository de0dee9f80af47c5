package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	// ActionWarn rejects the item and warns its submitter.
	ActionWarn = "warn"

	callbackPrefix = "mod"
)

type InlineButton struct {
	Text string
	Data string
}

func BuildInlineKeyboard(rows [][]InlineButton) tgbotapi.InlineKeyboardMarkup {
	keyboardRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.Data))
		}
		keyboardRows = append(keyboardRows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboardRows...)
}

func ModerationKeyboard(itemID int64) tgbotapi.InlineKeyboardMarkup {
	return BuildInlineKeyboard([][]InlineButton{
		{
			{Text: "✅ Одобрить", Data: CallbackData(ActionApprove, itemID)},
			{Text: "❌ Отклонить", Data: CallbackData(ActionReject, itemID)},
		},
		{
			{Text: "⚠️ Отклонить и предупредить", Data: CallbackData(ActionWarn, itemID)},
		},
	})
}

func CallbackData(action string, itemID int64) string {
	return fmt.Sprintf("%s:%s:%d", callbackPrefix, action, itemID)
}

// ParseCallbackData reads "mod:<action>:<item id>".
func ParseCallbackData(data string) (string, int64, error) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", 0, fmt.Errorf("unknown callback data %q", data)
	}

	switch parts[1] {
	case ActionApprove, ActionReject, ActionWarn:
	default:
		return "", 0, fmt.Errorf("unknown callback action %q", parts[1])
	}

	itemID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || itemID <= 0 {
		return "", 0, fmt.Errorf("invalid item id in callback %q", data)
	}
	return parts[1], itemID, nil
}
