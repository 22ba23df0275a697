package models

import "time"

// Enrollment status values
const (
	EnrollmentStatusPending      = "pending"
	EnrollmentStatusSent         = "sent"
	EnrollmentStatusOpened       = "opened"
	EnrollmentStatusReplied      = "replied"
	EnrollmentStatusPaused       = "paused"
	EnrollmentStatusUnsubscribed = "unsubscribed"
	EnrollmentStatusCompleted    = "completed"
)

// Enrollment tracks one contact's progress through one campaign's sequence.
// It is the only state-machine entity in the system: every mutation goes
// through the engine's transition functions.
type Enrollment struct {
	ID string `gorm:"primaryKey" json:"id"`

	CampaignID string `gorm:"not null;index" json:"campaign_id"`
	ContactID  string `gorm:"not null;index" json:"contact_id"`

	CurrentStep int    `gorm:"default:0" json:"current_step"`
	Status      string `gorm:"default:'pending';index" json:"status"` // pending, sent, opened, replied, paused, unsubscribed, completed

	LastEmailSentAt *time.Time `json:"last_email_sent_at"`
	NextEmailAt     *time.Time `gorm:"index" json:"next_email_at"`

	// Retry bookkeeping: attempts reset on a successful send; once the cap
	// is hit the enrollment is force-paused instead of retrying forever.
	SendAttempts int    `gorm:"default:0" json:"send_attempts"`
	LastError    string `json:"last_error,omitempty"`

	// Pause bookkeeping: ResumeStatus remembers the pre-pause status so a
	// resume restores it, PausedAt lets NextEmailAt shift by the paused
	// duration instead of firing a burst of overdue sends.
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	ResumeStatus string     `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// IsTerminal reports whether no further transition may leave this status.
func (e *Enrollment) IsTerminal() bool {
	return e.Status == EnrollmentStatusCompleted || e.Status == EnrollmentStatusUnsubscribed
}

// Dispatchable reports whether the enrollment may still receive sequence
// emails. Replied enrollments keep their status but get no further sends.
func (e *Enrollment) Dispatchable() bool {
	switch e.Status {
	case EnrollmentStatusPending, EnrollmentStatusSent, EnrollmentStatusOpened:
		return true
	}
	return false
}
