package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"outreachly/models"
	"outreachly/store"
	"outreachly/utils"
)

type TemplateController struct {
	Store  store.Store
	Logger *log.Logger
}

func NewTemplateController(s store.Store, logger *log.Logger) *TemplateController {
	return &TemplateController{Store: s, Logger: logger}
}

type templateInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Subject     string `json:"subject" validate:"required,max=500"`
	Body        string `json:"body" validate:"required"`
	Description string `json:"description" validate:"omitempty,max=1000"`
	IsActive    *bool  `json:"is_active"`
}

func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	var input templateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template := models.Template{
		Name:        input.Name,
		Subject:     input.Subject,
		Body:        input.Body,
		Description: input.Description,
		IsActive:    true,
	}
	if input.IsActive != nil {
		template.IsActive = *input.IsActive
	}

	if err := tc.Store.CreateTemplate(c.Context(), &template); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create template", err)
	}
	return c.Status(fiber.StatusCreated).JSON(template)
}

func (tc *TemplateController) GetTemplates(c *fiber.Ctx) error {
	templates, err := tc.Store.ListTemplates(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch templates", err)
	}
	return c.JSON(templates)
}

func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	template, err := tc.Store.GetTemplate(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch template", err)
	}
	return c.JSON(template)
}

func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	template, err := tc.Store.GetTemplate(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch template", err)
	}

	var input templateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template.Name = input.Name
	template.Subject = input.Subject
	template.Body = input.Body
	template.Description = input.Description
	if input.IsActive != nil {
		template.IsActive = *input.IsActive
	}

	if err := tc.Store.UpdateTemplate(c.Context(), template); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update template", err)
	}
	return c.JSON(template)
}

// DeleteTemplate refuses to delete a template any sequence still references.
func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	id := c.Params("id")

	sequences, err := tc.Store.ListSequences(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check template usage", err)
	}
	for _, sequence := range sequences {
		for _, step := range sequence.Steps {
			if step.TemplateID == id {
				return utils.ErrorResponse(c, fiber.StatusConflict,
					"Template is in use by sequence \""+sequence.Name+"\"", nil)
			}
		}
	}

	if err := tc.Store.DeleteTemplate(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete template", err)
	}
	return c.JSON(fiber.Map{"message": "Template deleted successfully"})
}
