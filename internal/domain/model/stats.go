package model

import "time"

type ModeratorStats struct {
	ModeratorID    int64         `json:"moderator_id"`
	Approved       int64         `json:"approved"`
	Rejected       int64         `json:"rejected"`
	Reviewed       int64         `json:"reviewed"`
	WarningsIssued int64         `json:"warnings_issued"`
	AvgLatency     time.Duration `json:"avg_latency"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type DailyAnalytics struct {
	Day                time.Time `json:"day"`
	Submitted          int64     `json:"submitted"`
	Approved           int64     `json:"approved"`
	Rejected           int64     `json:"rejected"`
	Expired            int64     `json:"expired"`
	PunishmentsImposed int64     `json:"punishments_imposed"`
	PunishmentsExpired int64     `json:"punishments_expired"`
	ActiveSubmitters   int64     `json:"active_submitters"`
}

type SystemStats struct {
	TotalUsers        int64            `json:"total_users"`
	Moderators        int64            `json:"moderators"`
	PendingItems      int64            `json:"pending_items"`
	TotalApproved     int64            `json:"total_approved"`
	TotalRejected     int64            `json:"total_rejected"`
	ActivePunishments map[string]int64 `json:"active_punishments"`
}
