package dto

import "time"

type UserResponse struct {
	ID          int64     `json:"id"`
	Level       int       `json:"level"`
	LevelName   string    `json:"level_name"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SetLevelRequest struct {
	Level string `json:"level"`
}

type ModeratorStatsResponse struct {
	ModeratorID    int64     `json:"moderator_id"`
	Approved       int64     `json:"approved"`
	Rejected       int64     `json:"rejected"`
	Reviewed       int64     `json:"reviewed"`
	WarningsIssued int64     `json:"warnings_issued"`
	AvgLatencySec  float64   `json:"avg_latency_sec"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type LeaderboardResponse struct {
	Items []ModeratorStatsResponse `json:"items"`
}

type AuditEntryResponse struct {
	ID        int64          `json:"id"`
	ActorID   int64          `json:"actor_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type AuditTrailResponse struct {
	UserID int64                `json:"user_id"`
	Items  []AuditEntryResponse `json:"items"`
}

type RateLimitStatusResponse struct {
	SubmitterID   int64 `json:"submitter_id"`
	Used          int   `json:"used"`
	Limit         int   `json:"limit"`
	PeriodSec     int64 `json:"period_sec"`
	RetryAfterSec int64 `json:"retry_after_sec"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}
