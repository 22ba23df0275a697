package models

import "time"

// Template represents an email template with {{placeholder}} variables in
// its subject and body.
type Template struct {
	ID string `gorm:"primaryKey" json:"id"`

	Name        string `gorm:"not null" json:"name"`
	Subject     string `gorm:"not null" json:"subject"`
	Body        string `gorm:"type:text;not null" json:"body"`
	Description string `json:"description"`

	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
