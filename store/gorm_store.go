package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"outreachly/models"
)

// GormStore is the relational implementation of Store, backed by Postgres
// in production.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the schema for all entities.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.Contact{},
		&models.Template{},
		&models.Sequence{},
		&models.Campaign{},
		&models.Enrollment{},
	)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// Contacts

func (s *GormStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	if contact.Status == "" {
		contact.Status = models.ContactStatusNew
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("email = ?", contact.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateEmail
	}
	return translate(s.db.WithContext(ctx).Create(contact).Error)
}

func (s *GormStore) CreateContacts(ctx context.Context, contacts []*models.Contact) error {
	return s.Transact(ctx, func(tx Store) error {
		for _, contact := range contacts {
			if err := tx.CreateContact(ctx, contact); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &contact, nil
}

func (s *GormStore) GetContactByEmail(ctx context.Context, email string) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, "email = ?", email).Error; err != nil {
		return nil, translate(err)
	}
	return &contact, nil
}

func (s *GormStore) ListContacts(ctx context.Context) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&contacts).Error
	return contacts, err
}

func (s *GormStore) UpdateContact(ctx context.Context, contact *models.Contact) error {
	return translate(s.db.WithContext(ctx).Save(contact).Error)
}

func (s *GormStore) DeleteContact(ctx context.Context, id string) error {
	return s.Transact(ctx, func(tx Store) error {
		g := tx.(*GormStore)
		if err := g.db.Where("contact_id = ?", id).Delete(&models.Enrollment{}).Error; err != nil {
			return err
		}
		return g.db.Delete(&models.Contact{}, "id = ?", id).Error
	})
}

func (s *GormStore) CountContacts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Contact{}).Count(&count).Error
	return count, err
}

// Templates

func (s *GormStore) CreateTemplate(ctx context.Context, template *models.Template) error {
	if template.ID == "" {
		template.ID = uuid.New().String()
	}
	return translate(s.db.WithContext(ctx).Create(template).Error)
}

func (s *GormStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var template models.Template
	if err := s.db.WithContext(ctx).First(&template, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &template, nil
}

func (s *GormStore) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var templates []models.Template
	err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&templates).Error
	return templates, err
}

func (s *GormStore) UpdateTemplate(ctx context.Context, template *models.Template) error {
	return translate(s.db.WithContext(ctx).Save(template).Error)
}

func (s *GormStore) DeleteTemplate(ctx context.Context, id string) error {
	return translate(s.db.WithContext(ctx).Delete(&models.Template{}, "id = ?", id).Error)
}

// Sequences

func (s *GormStore) CreateSequence(ctx context.Context, sequence *models.Sequence) error {
	if sequence.ID == "" {
		sequence.ID = uuid.New().String()
	}
	return translate(s.db.WithContext(ctx).Create(sequence).Error)
}

func (s *GormStore) GetSequence(ctx context.Context, id string) (*models.Sequence, error) {
	var sequence models.Sequence
	if err := s.db.WithContext(ctx).First(&sequence, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sequence, nil
}

func (s *GormStore) ListSequences(ctx context.Context) ([]models.Sequence, error) {
	var sequences []models.Sequence
	err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&sequences).Error
	return sequences, err
}

func (s *GormStore) UpdateSequence(ctx context.Context, sequence *models.Sequence) error {
	return translate(s.db.WithContext(ctx).Save(sequence).Error)
}

func (s *GormStore) DeleteSequence(ctx context.Context, id string) error {
	return translate(s.db.WithContext(ctx).Delete(&models.Sequence{}, "id = ?", id).Error)
}

// Campaigns

func (s *GormStore) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}
	if campaign.Status == "" {
		campaign.Status = models.CampaignStatusDraft
	}
	return translate(s.db.WithContext(ctx).Create(campaign).Error)
}

func (s *GormStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &campaign, nil
}

func (s *GormStore) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&campaigns).Error
	return campaigns, err
}

func (s *GormStore) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return translate(s.db.WithContext(ctx).Save(campaign).Error)
}

func (s *GormStore) DeleteCampaign(ctx context.Context, id string) error {
	return s.Transact(ctx, func(tx Store) error {
		g := tx.(*GormStore)
		if err := g.db.Where("campaign_id = ?", id).Delete(&models.Enrollment{}).Error; err != nil {
			return err
		}
		return g.db.Delete(&models.Campaign{}, "id = ?", id).Error
	})
}

// Enrollments

func (s *GormStore) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.New().String()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	return translate(s.db.WithContext(ctx).Create(enrollment).Error)
}

func (s *GormStore) GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := s.db.WithContext(ctx).First(&enrollment, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &enrollment, nil
}

func (s *GormStore) ListEnrollmentsByCampaign(ctx context.Context, campaignID string) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&enrollments).Error
	return enrollments, err
}

func (s *GormStore) ListEnrollmentsByContact(ctx context.Context, contactID string) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := s.db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Find(&enrollments).Error
	return enrollments, err
}

func (s *GormStore) ListDueEnrollments(ctx context.Context, now time.Time) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := s.db.WithContext(ctx).
		Joins("JOIN campaigns ON campaigns.id = enrollments.campaign_id").
		Where("campaigns.status = ?", models.CampaignStatusActive).
		Where("enrollments.status IN ?", dispatchableStatuses).
		Where("enrollments.next_email_at IS NOT NULL AND enrollments.next_email_at <= ?", now).
		Find(&enrollments).Error
	return enrollments, err
}

func (s *GormStore) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	return translate(s.db.WithContext(ctx).Save(enrollment).Error)
}

func (s *GormStore) Transact(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
