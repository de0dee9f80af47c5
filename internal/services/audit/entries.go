package audit

import (
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

// SystemActor is recorded for transitions made by sweeps.
const SystemActor int64 = 0

func Submitted(item model.ModerationItem) model.AuditEntry {
	return entry(item.SubmitterID, item.SubmitterID, enums.AuditActionMessageSubmitted, item.CreatedAt, map[string]any{
		"content_kind": string(item.Content.Kind()),
	})
}

func Decided(itemID, submitterID, moderatorID int64, approved bool, at time.Time) model.AuditEntry {
	action := enums.AuditActionMessageRejected
	if approved {
		action = enums.AuditActionMessageApproved
	}
	return entry(moderatorID, submitterID, action, at, map[string]any{
		"item_id": itemID,
	})
}

func Expired(item model.ModerationItem, at time.Time) model.AuditEntry {
	return entry(SystemActor, item.SubmitterID, enums.AuditActionMessageExpired, at, map[string]any{
		"item_id":    item.ID,
		"expired_at": item.ExpiresAt,
	})
}

func Imposed(p model.Punishment) model.AuditEntry {
	return entry(p.ModeratorID, p.SubjectID, enums.AuditActionPunishmentImposed, p.CreatedAt, punishmentDetails(p))
}

// Superseded records that previous was replaced by next.
func Superseded(previous, next model.Punishment) model.AuditEntry {
	details := punishmentDetails(previous)
	details["superseded_by_moderator"] = next.ModeratorID
	return entry(next.ModeratorID, previous.SubjectID, enums.AuditActionPunishmentSuperseded, next.CreatedAt, details)
}

func Escalated(ban model.Punishment, warnings int) model.AuditEntry {
	details := punishmentDetails(ban)
	details["warnings"] = warnings
	return entry(ban.ModeratorID, ban.SubjectID, enums.AuditActionPunishmentEscalated, ban.CreatedAt, details)
}

func Revoked(subjectID, moderatorID int64, kind enums.PunishmentKind, removed, warningsCleared int, at time.Time) model.AuditEntry {
	return entry(moderatorID, subjectID, enums.AuditActionPunishmentRevoked, at, map[string]any{
		"kind":             string(kind),
		"removed":          removed,
		"warnings_cleared": warningsCleared,
	})
}

func PunishmentExpired(p model.Punishment, at time.Time) model.AuditEntry {
	return entry(SystemActor, p.SubjectID, enums.AuditActionPunishmentExpired, at, punishmentDetails(p))
}

func LevelChanged(actorID, subjectID int64, from, to enums.Level, at time.Time) model.AuditEntry {
	return entry(actorID, subjectID, enums.AuditActionLevelChanged, at, map[string]any{
		"from": int(from),
		"to":   int(to),
	})
}

func punishmentDetails(p model.Punishment) map[string]any {
	return map[string]any{
		"kind":             string(p.Kind),
		"punishment_id":    p.ID,
		"reason":           p.Reason,
		"duration_seconds": int64(p.Duration / time.Second),
		"expires_at":       p.ExpiresAt,
	}
}

func entry(actorID, subjectID int64, action enums.AuditAction, at time.Time, details map[string]any) model.AuditEntry {
	subject := subjectID
	return model.AuditEntry{
		ActorID:   actorID,
		SubjectID: &subject,
		Action:    action,
		Details:   details,
		CreatedAt: at,
	}
}
