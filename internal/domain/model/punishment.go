package model

import (
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
)

type Punishment struct {
	ID          int64                `json:"id"`
	SubjectID   int64                `json:"subject_id"`
	Kind        enums.PunishmentKind `json:"kind"`
	Reason      string               `json:"reason"`
	ModeratorID int64                `json:"moderator_id"`
	Duration    time.Duration        `json:"duration"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

// ActiveAt reports whether the punishment still applies at now.
func (p Punishment) ActiveAt(now time.Time) bool {
	return p.ExpiresAt.After(now)
}

func (p Punishment) Remaining(now time.Time) time.Duration {
	if !p.ActiveAt(now) {
		return 0
	}
	return p.ExpiresAt.Sub(now)
}

type PunishmentEventKind string

const (
	PunishmentImposed   PunishmentEventKind = "IMPOSED"
	PunishmentEscalated PunishmentEventKind = "ESCALATED"
	PunishmentRevoked   PunishmentEventKind = "REVOKED"
	PunishmentExpired   PunishmentEventKind = "EXPIRED"
)

// PunishmentEvent is what the transport tells a subject about a sanction.
type PunishmentEvent struct {
	Kind       PunishmentEventKind `json:"kind"`
	Punishment Punishment          `json:"punishment"`
}
