package controller

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"outreachly/models"
	"outreachly/store"
	"outreachly/utils"
)

type SequenceController struct {
	Store  store.Store
	Logger *log.Logger
}

func NewSequenceController(s store.Store, logger *log.Logger) *SequenceController {
	return &SequenceController{Store: s, Logger: logger}
}

type sequenceInput struct {
	Name        string                `json:"name" validate:"required,max=200"`
	Description string                `json:"description" validate:"omitempty,max=1000"`
	Steps       []models.SequenceStep `json:"steps" validate:"required,min=1,dive"`
	IsActive    *bool                 `json:"is_active"`
}

// validateSteps checks step invariants at write time: every referenced
// template must exist and wait days must be non-negative.
func (sc *SequenceController) validateSteps(c *fiber.Ctx, steps []models.SequenceStep) error {
	for i, step := range steps {
		if step.WaitDays < 0 {
			return fmt.Errorf("step %d: wait_days must be >= 0", i+1)
		}
		if _, err := sc.Store.GetTemplate(c.Context(), step.TemplateID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("step %d: template %s does not exist", i+1, step.TemplateID)
			}
			return err
		}
	}
	return nil
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := sc.validateSteps(c, input.Steps); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence steps", err)
	}

	sequence := models.Sequence{
		Name:        input.Name,
		Description: input.Description,
		Steps:       input.Steps,
		IsActive:    true,
	}
	if input.IsActive != nil {
		sequence.IsActive = *input.IsActive
	}

	if err := sc.Store.CreateSequence(c.Context(), &sequence); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}
	return c.Status(fiber.StatusCreated).JSON(sequence)
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	sequences, err := sc.Store.ListSequences(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}
	return c.JSON(sequences)
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	sequence, err := sc.Store.GetSequence(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}
	return c.JSON(sequence)
}

func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	sequence, err := sc.Store.GetSequence(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := sc.validateSteps(c, input.Steps); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence steps", err)
	}

	sequence.Name = input.Name
	sequence.Description = input.Description
	sequence.Steps = input.Steps
	if input.IsActive != nil {
		sequence.IsActive = *input.IsActive
	}

	if err := sc.Store.UpdateSequence(c.Context(), sequence); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}
	return c.JSON(sequence)
}

// DeleteSequence refuses to delete a sequence a campaign still references.
func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	id := c.Params("id")

	campaigns, err := sc.Store.ListCampaigns(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check sequence usage", err)
	}
	for _, campaign := range campaigns {
		if campaign.SequenceID == id {
			return utils.ErrorResponse(c, fiber.StatusConflict,
				"Sequence is in use by campaign \""+campaign.Name+"\"", nil)
		}
	}

	if err := sc.Store.DeleteSequence(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", err)
	}
	return c.JSON(fiber.Map{"message": "Sequence deleted successfully"})
}
