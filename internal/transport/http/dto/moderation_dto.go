package dto

import (
	"encoding/json"
	"time"
)

type SubmitItemRequest struct {
	SubmitterID int64           `json:"submitter_id"`
	DisplayName string          `json:"display_name"`
	Content     json.RawMessage `json:"content"`
}

type SubmitItemResponse struct {
	ItemID int64 `json:"item_id"`
}

type ContentView struct {
	Kind         string     `json:"kind"`
	Caption      string     `json:"caption,omitempty"`
	FileRef      string     `json:"file_ref,omitempty"`
	URL          string     `json:"url,omitempty"`
	URLExpiresAt *time.Time `json:"url_expires_at,omitempty"`
}

type ItemResponse struct {
	ID             int64       `json:"id"`
	SubmitterID    int64       `json:"submitter_id"`
	SubmitterLevel string      `json:"submitter_level"`
	Status         string      `json:"status"`
	Content        ContentView `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

type SanctionRequest struct {
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	DurationSec int64  `json:"duration_sec"`
}

type DecisionRequest struct {
	Approve    bool             `json:"approve"`
	ReasonCode string           `json:"reason_code"`
	Sanction   *SanctionRequest `json:"sanction,omitempty"`
}

type DecisionResponse struct {
	ItemID      int64               `json:"item_id"`
	Outcome     string              `json:"outcome"`
	Reason      string              `json:"reason,omitempty"`
	Sanction    *PunishmentResponse `json:"sanction,omitempty"`
	SanctionErr string              `json:"sanction_error,omitempty"`
}

type PendingCountResponse struct {
	Pending int64 `json:"pending"`
}

type RejectReasonItem struct {
	ReasonCode string `json:"reason_code"`
	Label      string `json:"label"`
	ReasonText string `json:"reason_text"`
}

type RejectReasonsResponse struct {
	Items []RejectReasonItem `json:"items"`
}
