package enums

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the ordered privilege rank of a user.
type Level int

const (
	LevelGuest Level = iota
	LevelModerator
	LevelSeniorModerator
	LevelOwner
)

func (l Level) Valid() bool {
	return l >= LevelGuest && l <= LevelOwner
}

func (l Level) AtLeast(min Level) bool {
	return l >= min
}

func (l Level) String() string {
	switch l {
	case LevelGuest:
		return "guest"
	case LevelModerator:
		return "moderator"
	case LevelSeniorModerator:
		return "senior_moderator"
	case LevelOwner:
		return "owner"
	default:
		return "level_" + strconv.Itoa(int(l))
	}
}

// ParseLevel accepts either the numeric rank or the lowercase name.
func ParseLevel(raw string) (Level, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(value); err == nil {
		level := Level(n)
		if !level.Valid() {
			return 0, fmt.Errorf("level out of range: %d", n)
		}
		return level, nil
	}

	for l := LevelGuest; l <= LevelOwner; l++ {
		if l.String() == value {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", raw)
}
