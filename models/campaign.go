package models

import "time"

// Campaign status values
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// Campaign runs a sequence against a set of enrolled contacts and keeps
// denormalized engagement counters.
type Campaign struct {
	ID string `gorm:"primaryKey" json:"id"`

	Name       string `gorm:"not null" json:"name"`
	SequenceID string `gorm:"index" json:"sequence_id"`

	Status string `gorm:"default:'draft'" json:"status"` // draft, active, paused, completed

	// Statistics (denormalized for performance). Counters only ever grow:
	// sent counts every dispatched email, opened/replied count at most one
	// increment per enrollment.
	TotalContacts int `gorm:"default:0" json:"total_contacts"`
	SentEmails    int `gorm:"default:0" json:"sent_emails"`
	OpenedEmails  int `gorm:"default:0" json:"opened_emails"`
	RepliedEmails int `gorm:"default:0" json:"replied_emails"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CampaignWithSequence is the campaign list/detail response shape.
type CampaignWithSequence struct {
	Campaign
	Sequence *Sequence `json:"sequence,omitempty"`
}

// CampaignStats summarizes a campaign's engagement rates.
type CampaignStats struct {
	TotalContacts int     `json:"total_contacts"`
	SentEmails    int     `json:"sent_emails"`
	OpenedEmails  int     `json:"opened_emails"`
	RepliedEmails int     `json:"replied_emails"`
	OpenRate      float64 `json:"open_rate"`
	ReplyRate     float64 `json:"reply_rate"`
}
