package enums

import "strings"

type WebhookEvent string

const (
	WebhookMessageReceived   WebhookEvent = "message.received"
	WebhookMessageModerated  WebhookEvent = "message.moderated"
	WebhookPunishmentCreated WebhookEvent = "punishment.created"
	WebhookPunishmentExpired WebhookEvent = "punishment.expired"
	WebhookUserCreated       WebhookEvent = "user.created"
)

func (e WebhookEvent) Valid() bool {
	switch e {
	case WebhookMessageReceived, WebhookMessageModerated, WebhookPunishmentCreated, WebhookPunishmentExpired, WebhookUserCreated:
		return true
	default:
		return false
	}
}

func ParseWebhookEvent(raw string) (WebhookEvent, bool) {
	event := WebhookEvent(strings.ToLower(strings.TrimSpace(raw)))
	return event, event.Valid()
}
