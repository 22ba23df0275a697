package controller

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"

	"outreachly/engine"
	"outreachly/models"
	"outreachly/store"
	"outreachly/utils"
)

type CampaignController struct {
	Store  store.Store
	Engine *engine.Machine
	Logger *log.Logger
}

func NewCampaignController(s store.Store, m *engine.Machine, logger *log.Logger) *CampaignController {
	return &CampaignController{
		Store:  s,
		Engine: m,
		Logger: logger,
	}
}

type campaignInput struct {
	Name       string `json:"name" validate:"required,max=200"`
	SequenceID string `json:"sequence_id" validate:"required"`
}

func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if _, err := cc.Store.GetSequence(c.Context(), input.SequenceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Sequence does not exist", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}

	campaign := models.Campaign{
		Name:       input.Name,
		SequenceID: input.SequenceID,
		Status:     models.CampaignStatusDraft,
	}
	if err := cc.Store.CreateCampaign(c.Context(), &campaign); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create campaign", err)
	}
	return c.Status(fiber.StatusCreated).JSON(campaign)
}

func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	campaigns, err := cc.Store.ListCampaigns(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaigns", err)
	}

	out := make([]models.CampaignWithSequence, 0, len(campaigns))
	for _, campaign := range campaigns {
		entry := models.CampaignWithSequence{Campaign: campaign}
		if sequence, err := cc.Store.GetSequence(c.Context(), campaign.SequenceID); err == nil {
			entry.Sequence = sequence
		}
		out = append(out, entry)
	}
	return c.JSON(out)
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaign, err := cc.Store.GetCampaign(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign", err)
	}

	entry := models.CampaignWithSequence{Campaign: *campaign}
	if sequence, err := cc.Store.GetSequence(c.Context(), campaign.SequenceID); err == nil {
		entry.Sequence = sequence
	}
	return c.JSON(entry)
}

// UpdateCampaign edits draft metadata. Status changes go through the
// activate/pause/resume endpoints, never through a bare field write.
func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	campaign, err := cc.Store.GetCampaign(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign", err)
	}

	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if campaign.Status != models.CampaignStatusDraft && input.SequenceID != campaign.SequenceID {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cannot change the sequence of a campaign that has started", nil)
	}
	if _, err := cc.Store.GetSequence(c.Context(), input.SequenceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Sequence does not exist", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}

	campaign.Name = input.Name
	campaign.SequenceID = input.SequenceID
	if err := cc.Store.UpdateCampaign(c.Context(), campaign); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}
	return c.JSON(campaign)
}

func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	campaign, err := cc.Store.GetCampaign(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign", err)
	}
	if campaign.Status == models.CampaignStatusActive {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Pause the campaign before deleting it", nil)
	}

	if err := cc.Store.DeleteCampaign(c.Context(), campaign.ID); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete campaign", err)
	}
	return c.JSON(fiber.Map{"message": "Campaign deleted successfully"})
}

// ActivateCampaign starts a draft campaign: enrollments are created and the
// first step becomes due per its wait days.
func (cc *CampaignController) ActivateCampaign(c *fiber.Ctx) error {
	campaign, err := cc.Engine.ActivateCampaign(c.Context(), c.Params("id"), time.Now())
	if err != nil {
		return engineError(c, err, "Failed to activate campaign")
	}
	cc.Logger.Printf("Campaign %s activated with %d contacts", campaign.ID, campaign.TotalContacts)
	return c.JSON(campaign)
}

func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaign, err := cc.Engine.PauseCampaign(c.Context(), c.Params("id"), time.Now())
	if err != nil {
		return engineError(c, err, "Failed to pause campaign")
	}
	return c.JSON(campaign)
}

func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	campaign, err := cc.Engine.ResumeCampaign(c.Context(), c.Params("id"), time.Now())
	if err != nil {
		return engineError(c, err, "Failed to resume campaign")
	}
	return c.JSON(campaign)
}

// GetCampaignEnrollments lists per-contact progress through the sequence.
func (cc *CampaignController) GetCampaignEnrollments(c *fiber.Ctx) error {
	if _, err := cc.Store.GetCampaign(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign", err)
	}

	enrollments, err := cc.Store.ListEnrollmentsByCampaign(c.Context(), c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}
	return c.JSON(enrollments)
}

// GetCampaignStats returns counters plus derived open/reply rates rounded
// to one decimal.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	campaign, err := cc.Store.GetCampaign(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign", err)
	}

	stats := models.CampaignStats{
		TotalContacts: campaign.TotalContacts,
		SentEmails:    campaign.SentEmails,
		OpenedEmails:  campaign.OpenedEmails,
		RepliedEmails: campaign.RepliedEmails,
	}
	if campaign.SentEmails > 0 {
		stats.OpenRate = roundRate(float64(campaign.OpenedEmails) / float64(campaign.SentEmails) * 100)
		stats.ReplyRate = roundRate(float64(campaign.RepliedEmails) / float64(campaign.SentEmails) * 100)
	}
	return c.JSON(stats)
}

func roundRate(v float64) float64 {
	return math.Round(v*10) / 10
}

// engineError maps engine sentinel errors onto HTTP statuses.
func engineError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	case errors.Is(err, engine.ErrInvalid):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, fallback, err)
	}
}
