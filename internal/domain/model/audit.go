package model

import (
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
)

type AuditEntry struct {
	ID        int64             `json:"id"`
	ActorID   int64             `json:"actor_id"`
	SubjectID *int64            `json:"subject_id,omitempty"`
	Action    enums.AuditAction `json:"action"`
	Details   map[string]any    `json:"details"`
	CreatedAt time.Time         `json:"created_at"`
}
