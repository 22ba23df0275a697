package store

import (
	"context"
	"errors"
	"time"

	"outreachly/models"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a contact email is already taken.
	ErrDuplicateEmail = errors.New("email already exists")
)

// Store is the persistence collaborator for the outreach engine. All entity
// mutation funnels through it; the engine additionally requires Transact so
// a dispatch commit (enrollment advance + campaign counter) is atomic.
type Store interface {
	// Contacts
	CreateContact(ctx context.Context, contact *models.Contact) error
	CreateContacts(ctx context.Context, contacts []*models.Contact) error
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	GetContactByEmail(ctx context.Context, email string) (*models.Contact, error)
	ListContacts(ctx context.Context) ([]models.Contact, error)
	UpdateContact(ctx context.Context, contact *models.Contact) error
	DeleteContact(ctx context.Context, id string) error
	CountContacts(ctx context.Context) (int64, error)

	// Templates
	CreateTemplate(ctx context.Context, template *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]models.Template, error)
	UpdateTemplate(ctx context.Context, template *models.Template) error
	DeleteTemplate(ctx context.Context, id string) error

	// Sequences
	CreateSequence(ctx context.Context, sequence *models.Sequence) error
	GetSequence(ctx context.Context, id string) (*models.Sequence, error)
	ListSequences(ctx context.Context) ([]models.Sequence, error)
	UpdateSequence(ctx context.Context, sequence *models.Sequence) error
	DeleteSequence(ctx context.Context, id string) error

	// Campaigns
	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	UpdateCampaign(ctx context.Context, campaign *models.Campaign) error
	DeleteCampaign(ctx context.Context, id string) error

	// Enrollments
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	ListEnrollmentsByCampaign(ctx context.Context, campaignID string) ([]models.Enrollment, error)
	ListEnrollmentsByContact(ctx context.Context, contactID string) ([]models.Enrollment, error)
	// ListDueEnrollments returns enrollments of active campaigns that are
	// still dispatchable and whose next_email_at has elapsed.
	ListDueEnrollments(ctx context.Context, now time.Time) ([]models.Enrollment, error)
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error

	// Transact runs fn against a store view with serialized, atomic
	// visibility for the mutations it performs.
	Transact(ctx context.Context, fn func(Store) error) error
}

// dispatchableStatuses are the enrollment statuses the sweep may advance.
var dispatchableStatuses = []string{
	models.EnrollmentStatusPending,
	models.EnrollmentStatusSent,
	models.EnrollmentStatusOpened,
}
