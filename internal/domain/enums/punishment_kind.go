package enums

import "strings"

type PunishmentKind string

const (
	PunishmentKindMute    PunishmentKind = "MUTE"
	PunishmentKindWarning PunishmentKind = "WARNING"
	PunishmentKindBan     PunishmentKind = "BAN"
)

func (k PunishmentKind) Valid() bool {
	switch k {
	case PunishmentKindMute, PunishmentKindWarning, PunishmentKindBan:
		return true
	default:
		return false
	}
}

// Stacks reports whether several active rows of the kind may coexist.
func (k PunishmentKind) Stacks() bool {
	return k == PunishmentKindWarning
}

func ParsePunishmentKind(raw string) (PunishmentKind, bool) {
	kind := PunishmentKind(strings.ToUpper(strings.TrimSpace(raw)))
	return kind, kind.Valid()
}
