package controller

import (
	"encoding/csv"
	"errors"
	"log"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"

	"outreachly/engine"
	"outreachly/models"
	"outreachly/store"
	"outreachly/utils"
)

type ContactController struct {
	Store  store.Store
	Engine *engine.Machine
	Logger *log.Logger
}

func NewContactController(s store.Store, m *engine.Machine, logger *log.Logger) *ContactController {
	return &ContactController{
		Store:  s,
		Engine: m,
		Logger: logger,
	}
}

type contactInput struct {
	FirstName    string            `json:"first_name" validate:"required,max=100"`
	LastName     string            `json:"last_name" validate:"required,max=100"`
	Email        string            `json:"email" validate:"required,email"`
	Company      string            `json:"company" validate:"omitempty,max=200"`
	Position     string            `json:"position" validate:"omitempty,max=200"`
	Phone        string            `json:"phone" validate:"omitempty,max=50"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields"`
}

// CreateContact creates a new contact with validation
func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	var input contactInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email address", err)
	}

	contact := models.Contact{
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Company:      input.Company,
		Position:     input.Position,
		Phone:        input.Phone,
		Status:       models.ContactStatusNew,
		Tags:         input.Tags,
		CustomFields: input.CustomFields,
	}

	if err := cc.Store.CreateContact(c.Context(), &contact); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Contact with this email already exists", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact", err)
	}

	return c.Status(fiber.StatusCreated).JSON(contact)
}

// GetContacts lists all contacts with their cross-campaign engagement
func (cc *ContactController) GetContacts(c *fiber.Ctx) error {
	contacts, err := cc.Store.ListContacts(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contacts", err)
	}

	out := make([]models.ContactWithEngagement, 0, len(contacts))
	for _, contact := range contacts {
		enrollments, err := cc.Store.ListEnrollmentsByContact(c.Context(), contact.ID)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
		}
		entry := models.ContactWithEngagement{Contact: contact, CampaignCount: len(enrollments)}
		if len(enrollments) > 0 {
			if campaign, err := cc.Store.GetCampaign(c.Context(), enrollments[len(enrollments)-1].CampaignID); err == nil {
				entry.LastCampaign = campaign.Name
			}
		}
		out = append(out, entry)
	}

	return c.JSON(out)
}

func (cc *ContactController) GetContact(c *fiber.Ctx) error {
	contact, err := cc.Store.GetContact(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact", err)
	}
	return c.JSON(contact)
}

// UpdateContact updates contact fields. Setting status to unsubscribed is
// routed through the engine so every enrollment is cancelled globally.
func (cc *ContactController) UpdateContact(c *fiber.Ctx) error {
	contact, err := cc.Store.GetContact(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact", err)
	}

	var input struct {
		contactInput
		Status string `json:"status" validate:"omitempty,oneof=new contacted replied unsubscribed"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if contact.IsUnsubscribed() && input.Status != "" && input.Status != models.ContactStatusUnsubscribed {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unsubscribed contacts cannot be re-subscribed", nil)
	}

	contact.FirstName = input.FirstName
	contact.LastName = input.LastName
	contact.Company = input.Company
	contact.Position = input.Position
	contact.Phone = input.Phone
	contact.Tags = input.Tags
	contact.CustomFields = input.CustomFields
	if input.Email != "" && !strings.EqualFold(input.Email, contact.Email) {
		if err := checkmail.ValidateFormat(input.Email); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email address", err)
		}
		if _, err := cc.Store.GetContactByEmail(c.Context(), strings.ToLower(input.Email)); err == nil {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Contact with this email already exists", nil)
		}
		contact.Email = strings.ToLower(strings.TrimSpace(input.Email))
	}
	if input.Status != "" && input.Status != models.ContactStatusUnsubscribed {
		contact.Status = input.Status
	}

	if err := cc.Store.UpdateContact(c.Context(), contact); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update contact", err)
	}

	if input.Status == models.ContactStatusUnsubscribed && !contact.IsUnsubscribed() {
		if err := cc.Engine.UnsubscribeContact(c.Context(), contact.ID); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unsubscribe contact", err)
		}
		contact.Status = models.ContactStatusUnsubscribed
	}

	return c.JSON(contact)
}

func (cc *ContactController) DeleteContact(c *fiber.Ctx) error {
	if err := cc.Store.DeleteContact(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete contact", err)
	}
	return c.JSON(fiber.Map{"message": "Contact deleted successfully"})
}

// ImportContacts imports contacts from an uploaded CSV file. Expected
// header: first_name,last_name,email,company,position,phone. Rows with a
// missing or malformed email are reported back, not imported.
func (cc *ContactController) ImportContacts(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File upload error", err)
	}
	if file.Size > 5<<20 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File too large (max 5MB)", nil)
	}

	src, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to open file", err)
	}
	defer src.Close()

	reader := csv.NewReader(src)
	records, err := reader.ReadAll()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to parse CSV file", err)
	}
	if len(records) < 2 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV file must have at least a header and one row", nil)
	}

	colIndex := make(map[string]int)
	for i, name := range records[0] {
		colIndex[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := colIndex["email"]; !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV header must contain an email column", nil)
	}

	field := func(row []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var contacts []*models.Contact
	var skipped []string
	for _, row := range records[1:] {
		email := strings.ToLower(field(row, "email"))
		if email == "" || checkmail.ValidateFormat(email) != nil {
			skipped = append(skipped, email)
			continue
		}
		contacts = append(contacts, &models.Contact{
			FirstName: field(row, "first_name"),
			LastName:  field(row, "last_name"),
			Email:     email,
			Company:   field(row, "company"),
			Position:  field(row, "position"),
			Phone:     field(row, "phone"),
			Status:    models.ContactStatusNew,
		})
	}

	imported := 0
	var duplicates []string
	for _, contact := range contacts {
		if err := cc.Store.CreateContact(c.Context(), contact); err != nil {
			if errors.Is(err, store.ErrDuplicateEmail) {
				duplicates = append(duplicates, contact.Email)
				continue
			}
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to import contacts", err)
		}
		imported++
	}

	cc.Logger.Printf("CSV import: %d imported, %d skipped, %d duplicates", imported, len(skipped), len(duplicates))
	return c.JSON(fiber.Map{
		"imported":   imported,
		"skipped":    skipped,
		"duplicates": duplicates,
	})
}
