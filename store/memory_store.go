package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreachly/models"
)

// MemoryStore is a mutex-guarded map implementation of Store. It backs the
// test suite and the no-database dev mode. Transactions are serialized by
// the store mutex rather than rolled back, so transactional callers must
// order their side effects before their mutations.
type MemoryStore struct {
	mu sync.Mutex
	// set on the inner view handed to Transact callbacks so nested calls
	// do not deadlock on the already-held mutex
	unlocked bool

	contacts    map[string]models.Contact
	templates   map[string]models.Template
	sequences   map[string]models.Sequence
	campaigns   map[string]models.Campaign
	enrollments map[string]models.Enrollment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:    make(map[string]models.Contact),
		templates:   make(map[string]models.Template),
		sequences:   make(map[string]models.Sequence),
		campaigns:   make(map[string]models.Campaign),
		enrollments: make(map[string]models.Enrollment),
	}
}

func (m *MemoryStore) lock() func() {
	if m.unlocked {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// Contacts

func (m *MemoryStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	defer m.lock()()
	for _, existing := range m.contacts {
		if existing.Email == contact.Email {
			return ErrDuplicateEmail
		}
	}
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	if contact.Status == "" {
		contact.Status = models.ContactStatusNew
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now()
	}
	m.contacts[contact.ID] = *contact
	return nil
}

func (m *MemoryStore) CreateContacts(ctx context.Context, contacts []*models.Contact) error {
	for _, contact := range contacts {
		if err := m.CreateContact(ctx, contact); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	defer m.lock()()
	contact, ok := m.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &contact, nil
}

func (m *MemoryStore) GetContactByEmail(ctx context.Context, email string) (*models.Contact, error) {
	defer m.lock()()
	for _, contact := range m.contacts {
		if contact.Email == email {
			c := contact
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListContacts(ctx context.Context) ([]models.Contact, error) {
	defer m.lock()()
	contacts := make([]models.Contact, 0, len(m.contacts))
	for _, contact := range m.contacts {
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

func (m *MemoryStore) UpdateContact(ctx context.Context, contact *models.Contact) error {
	defer m.lock()()
	if _, ok := m.contacts[contact.ID]; !ok {
		return ErrNotFound
	}
	m.contacts[contact.ID] = *contact
	return nil
}

func (m *MemoryStore) DeleteContact(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(m.contacts, id)
	for eid, enrollment := range m.enrollments {
		if enrollment.ContactID == id {
			delete(m.enrollments, eid)
		}
	}
	return nil
}

func (m *MemoryStore) CountContacts(ctx context.Context) (int64, error) {
	defer m.lock()()
	return int64(len(m.contacts)), nil
}

// Templates

func (m *MemoryStore) CreateTemplate(ctx context.Context, template *models.Template) error {
	defer m.lock()()
	if template.ID == "" {
		template.ID = uuid.New().String()
	}
	now := time.Now()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	if template.UpdatedAt.IsZero() {
		template.UpdatedAt = now
	}
	m.templates[template.ID] = *template
	return nil
}

func (m *MemoryStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	defer m.lock()()
	template, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &template, nil
}

func (m *MemoryStore) ListTemplates(ctx context.Context) ([]models.Template, error) {
	defer m.lock()()
	templates := make([]models.Template, 0, len(m.templates))
	for _, template := range m.templates {
		templates = append(templates, template)
	}
	return templates, nil
}

func (m *MemoryStore) UpdateTemplate(ctx context.Context, template *models.Template) error {
	defer m.lock()()
	if _, ok := m.templates[template.ID]; !ok {
		return ErrNotFound
	}
	template.UpdatedAt = time.Now()
	m.templates[template.ID] = *template
	return nil
}

func (m *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.templates[id]; !ok {
		return ErrNotFound
	}
	delete(m.templates, id)
	return nil
}

// Sequences

func (m *MemoryStore) CreateSequence(ctx context.Context, sequence *models.Sequence) error {
	defer m.lock()()
	if sequence.ID == "" {
		sequence.ID = uuid.New().String()
	}
	now := time.Now()
	if sequence.CreatedAt.IsZero() {
		sequence.CreatedAt = now
	}
	if sequence.UpdatedAt.IsZero() {
		sequence.UpdatedAt = now
	}
	m.sequences[sequence.ID] = *sequence
	return nil
}

func (m *MemoryStore) GetSequence(ctx context.Context, id string) (*models.Sequence, error) {
	defer m.lock()()
	sequence, ok := m.sequences[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sequence, nil
}

func (m *MemoryStore) ListSequences(ctx context.Context) ([]models.Sequence, error) {
	defer m.lock()()
	sequences := make([]models.Sequence, 0, len(m.sequences))
	for _, sequence := range m.sequences {
		sequences = append(sequences, sequence)
	}
	return sequences, nil
}

func (m *MemoryStore) UpdateSequence(ctx context.Context, sequence *models.Sequence) error {
	defer m.lock()()
	if _, ok := m.sequences[sequence.ID]; !ok {
		return ErrNotFound
	}
	sequence.UpdatedAt = time.Now()
	m.sequences[sequence.ID] = *sequence
	return nil
}

func (m *MemoryStore) DeleteSequence(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.sequences[id]; !ok {
		return ErrNotFound
	}
	delete(m.sequences, id)
	return nil
}

// Campaigns

func (m *MemoryStore) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	defer m.lock()()
	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}
	if campaign.Status == "" {
		campaign.Status = models.CampaignStatusDraft
	}
	now := time.Now()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}
	if campaign.UpdatedAt.IsZero() {
		campaign.UpdatedAt = now
	}
	m.campaigns[campaign.ID] = *campaign
	return nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	defer m.lock()()
	campaign, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &campaign, nil
}

func (m *MemoryStore) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	defer m.lock()()
	campaigns := make([]models.Campaign, 0, len(m.campaigns))
	for _, campaign := range m.campaigns {
		campaigns = append(campaigns, campaign)
	}
	return campaigns, nil
}

func (m *MemoryStore) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	defer m.lock()()
	if _, ok := m.campaigns[campaign.ID]; !ok {
		return ErrNotFound
	}
	campaign.UpdatedAt = time.Now()
	m.campaigns[campaign.ID] = *campaign
	return nil
}

func (m *MemoryStore) DeleteCampaign(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.campaigns[id]; !ok {
		return ErrNotFound
	}
	delete(m.campaigns, id)
	for eid, enrollment := range m.enrollments {
		if enrollment.CampaignID == id {
			delete(m.enrollments, eid)
		}
	}
	return nil
}

// Enrollments

func (m *MemoryStore) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	defer m.lock()()
	if enrollment.ID == "" {
		enrollment.ID = uuid.New().String()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now()
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *MemoryStore) GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	defer m.lock()()
	enrollment, ok := m.enrollments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &enrollment, nil
}

func (m *MemoryStore) ListEnrollmentsByCampaign(ctx context.Context, campaignID string) ([]models.Enrollment, error) {
	defer m.lock()()
	var enrollments []models.Enrollment
	for _, enrollment := range m.enrollments {
		if enrollment.CampaignID == campaignID {
			enrollments = append(enrollments, enrollment)
		}
	}
	return enrollments, nil
}

func (m *MemoryStore) ListEnrollmentsByContact(ctx context.Context, contactID string) ([]models.Enrollment, error) {
	defer m.lock()()
	var enrollments []models.Enrollment
	for _, enrollment := range m.enrollments {
		if enrollment.ContactID == contactID {
			enrollments = append(enrollments, enrollment)
		}
	}
	return enrollments, nil
}

func (m *MemoryStore) ListDueEnrollments(ctx context.Context, now time.Time) ([]models.Enrollment, error) {
	defer m.lock()()
	var due []models.Enrollment
	for _, enrollment := range m.enrollments {
		if !enrollment.Dispatchable() {
			continue
		}
		if enrollment.NextEmailAt == nil || enrollment.NextEmailAt.After(now) {
			continue
		}
		campaign, ok := m.campaigns[enrollment.CampaignID]
		if !ok || campaign.Status != models.CampaignStatusActive {
			continue
		}
		due = append(due, enrollment)
	}
	return due, nil
}

func (m *MemoryStore) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	defer m.lock()()
	if _, ok := m.enrollments[enrollment.ID]; !ok {
		return ErrNotFound
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *MemoryStore) Transact(ctx context.Context, fn func(Store) error) error {
	defer m.lock()()
	tx := &MemoryStore{
		unlocked:    true,
		contacts:    m.contacts,
		templates:   m.templates,
		sequences:   m.sequences,
		campaigns:   m.campaigns,
		enrollments: m.enrollments,
	}
	return fn(tx)
}
