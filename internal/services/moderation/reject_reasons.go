package moderation

import (
	"sort"
	"strings"
)

const RejectReasonOther = "OTHER"

type RejectReasonItem struct {
	ReasonCode string
	Label      string
	ReasonText string
}

type rejectReasonTemplate struct {
	Label      string
	ReasonText string
}

// Labels are shown on the moderator keyboard, texts go to the submitter.
var rejectReasonTemplates = map[string]rejectReasonTemplate{
	"SPAM": {
		Label:      "Спам",
		ReasonText: "Сообщение похоже на спам.",
	},
	"ADS_LINKS": {
		Label:      "Реклама/ссылки",
		ReasonText: "Реклама и внешние ссылки в канале запрещены.",
	},
	"ABUSE": {
		Label:      "Оскорбления",
		ReasonText: "Сообщение содержит оскорбления или травлю.",
	},
	"PERSONAL_DATA": {
		Label:      "Личные данные",
		ReasonText: "Сообщение раскрывает чужие личные данные.",
	},
	"PROHIBITED": {
		Label:      "Запрещенный контент",
		ReasonText: "Сообщение содержит запрещенный контент.",
	},
	"DUPLICATE": {
		Label:      "Повтор",
		ReasonText: "Такое сообщение уже публиковалось.",
	},
	RejectReasonOther: {
		Label:      "Другое",
		ReasonText: "Сообщение не прошло модерацию.",
	},
}

func ListRejectReasons() []RejectReasonItem {
	codes := make([]string, 0, len(rejectReasonTemplates))
	for code := range rejectReasonTemplates {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	items := make([]RejectReasonItem, 0, len(codes))
	for _, code := range codes {
		template := rejectReasonTemplates[code]
		items = append(items, RejectReasonItem{
			ReasonCode: code,
			Label:      strings.TrimSpace(template.Label),
			ReasonText: strings.TrimSpace(template.ReasonText),
		})
	}
	return items
}

// RejectReasonText resolves a code to the submitter-facing text. Unknown and
// empty codes fall back to OTHER.
func RejectReasonText(code string) (normalized string, text string) {
	normalized = strings.ToUpper(strings.TrimSpace(code))
	template, ok := rejectReasonTemplates[normalized]
	if !ok {
		normalized = RejectReasonOther
		template = rejectReasonTemplates[RejectReasonOther]
	}
	return normalized, template.ReasonText
}
