package models

import "time"

// SequenceStep ties one stage of a sequence to a template and the number of
// days to wait before it is due.
type SequenceStep struct {
	TemplateID string `json:"template_id" validate:"required"`
	WaitDays   int    `json:"wait_days" validate:"min=0"`
}

// Sequence represents an ordered multi-step outreach flow
type Sequence struct {
	ID string `gorm:"primaryKey" json:"id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// Steps are validated at write time, never stored as opaque JSON blobs.
	Steps []SequenceStep `gorm:"type:jsonb;serializer:json" json:"steps"`

	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepAt returns the step at index i, or nil when the index is out of range
// (sequences can be shortened after enrollments were created).
func (s *Sequence) StepAt(i int) *SequenceStep {
	if i < 0 || i >= len(s.Steps) {
		return nil
	}
	return &s.Steps[i]
}
