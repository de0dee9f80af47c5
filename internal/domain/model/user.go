package model

import (
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
)

type User struct {
	ID          int64       `json:"id"`
	Level       enums.Level `json:"level"`
	DisplayName string      `json:"display_name,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
