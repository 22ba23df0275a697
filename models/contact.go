package models

import "time"

// Contact status values
const (
	ContactStatusNew          = "new"
	ContactStatusContacted    = "contacted"
	ContactStatusReplied      = "replied"
	ContactStatusUnsubscribed = "unsubscribed"
)

// Contact represents a single outreach recipient
type Contact struct {
	ID string `gorm:"primaryKey" json:"id"`

	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `gorm:"not null" json:"last_name"`
	Email     string `gorm:"not null;uniqueIndex" json:"email"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`

	Status string `gorm:"default:'new'" json:"status"` // new, contacted, replied, unsubscribed

	Tags         []string          `gorm:"type:jsonb;serializer:json" json:"tags"`
	CustomFields map[string]string `gorm:"type:jsonb;serializer:json" json:"custom_fields"`

	LastContactedAt *time.Time `json:"last_contacted_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IsUnsubscribed reports whether the contact has opted out of all outreach.
func (c *Contact) IsUnsubscribed() bool {
	return c.Status == ContactStatusUnsubscribed
}

// ContactWithEngagement decorates a contact with cross-campaign usage counts
// for list views.
type ContactWithEngagement struct {
	Contact
	CampaignCount int    `json:"campaign_count"`
	LastCampaign  string `json:"last_campaign,omitempty"`
}
