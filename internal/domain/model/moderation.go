package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
)

type ModerationItem struct {
	ID             int64
	SubmitterID    int64
	SubmitterLevel enums.Level
	Content        Content
	Status         enums.ItemStatus
	Approved       *bool
	ModeratorID    *int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	DecidedAt      *time.Time
}

// ExpiredAt reports whether the item TTL has elapsed at now. Decided items
// keep their expiry so stale cache copies are rejected the same way.
func (i ModerationItem) ExpiredAt(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

type OutcomeKind string

const (
	OutcomePublished OutcomeKind = "PUBLISHED"
	OutcomeRejected  OutcomeKind = "REJECTED"
	OutcomeExpired   OutcomeKind = "EXPIRED"
)

type Outcome struct {
	ItemID      int64       `json:"item_id"`
	Kind        OutcomeKind `json:"kind"`
	ModeratorID int64       `json:"moderator_id,omitempty"`
	// Reason is the text shown to the submitter on rejection.
	Reason   string      `json:"reason,omitempty"`
	Sanction *Punishment `json:"sanction,omitempty"`
	// SanctionErr is set when the requested sanction could not be imposed.
	// The decision itself still stands.
	SanctionErr error `json:"-"`
}

// DeliveryAttempt is the result of handing an item to one moderator.
type DeliveryAttempt struct {
	ModeratorID int64
	Err         error
}

type moderationItemJSON struct {
	ID             int64            `json:"id"`
	SubmitterID    int64            `json:"submitter_id"`
	SubmitterLevel enums.Level      `json:"submitter_level"`
	Content        json.RawMessage  `json:"content"`
	Status         enums.ItemStatus `json:"status"`
	Approved       *bool            `json:"approved,omitempty"`
	ModeratorID    *int64           `json:"moderator_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
}

func (i ModerationItem) MarshalJSON() ([]byte, error) {
	content, err := EncodeContent(i.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(moderationItemJSON{
		ID:             i.ID,
		SubmitterID:    i.SubmitterID,
		SubmitterLevel: i.SubmitterLevel,
		Content:        content,
		Status:         i.Status,
		Approved:       i.Approved,
		ModeratorID:    i.ModeratorID,
		CreatedAt:      i.CreatedAt,
		ExpiresAt:      i.ExpiresAt,
		DecidedAt:      i.DecidedAt,
	})
}

func (i *ModerationItem) UnmarshalJSON(data []byte) error {
	var raw moderationItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content, err := DecodeContent(raw.Content)
	if err != nil {
		return fmt.Errorf("decode moderation item content: %w", err)
	}

	*i = ModerationItem{
		ID:             raw.ID,
		SubmitterID:    raw.SubmitterID,
		SubmitterLevel: raw.SubmitterLevel,
		Content:        content,
		Status:         raw.Status,
		Approved:       raw.Approved,
		ModeratorID:    raw.ModeratorID,
		CreatedAt:      raw.CreatedAt,
		ExpiresAt:      raw.ExpiresAt,
		DecidedAt:      raw.DecidedAt,
	}
	return nil
}
