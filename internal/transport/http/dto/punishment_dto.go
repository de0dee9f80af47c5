package dto

import "time"

type ImposeRequest struct {
	SubjectID   int64  `json:"subject_id"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	DurationSec int64  `json:"duration_sec"`
}

type PunishmentResponse struct {
	ID          int64     `json:"id"`
	SubjectID   int64     `json:"subject_id"`
	Kind        string    `json:"kind"`
	Reason      string    `json:"reason,omitempty"`
	ModeratorID int64     `json:"moderator_id"`
	DurationSec int64     `json:"duration_sec"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ImposeResponse struct {
	Punishment PunishmentResponse  `json:"punishment"`
	Superseded *PunishmentResponse `json:"superseded,omitempty"`
	Warnings   int                 `json:"warnings,omitempty"`
	Escalated  *PunishmentResponse `json:"escalated,omitempty"`
}

type RevokeResponse struct {
	Revoked bool `json:"revoked"`
}

type ActiveStatusResponse struct {
	SubjectID  int64               `json:"subject_id"`
	Kind       string              `json:"kind"`
	Active     bool                `json:"active"`
	Punishment *PunishmentResponse `json:"punishment,omitempty"`
}

type PunishmentListResponse struct {
	Items  []PunishmentResponse `json:"items"`
	NextID int64                `json:"next_id,omitempty"`
}

type PunishmentHistoryResponse struct {
	SubjectID int64            `json:"subject_id"`
	Counts    map[string]int64 `json:"counts"`
}
