package controller

import (
	"crypto/subtle"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"outreachly/engine"
	"outreachly/store"
	"outreachly/utils"
)

// onePixelGIF is a transparent 1x1 GIF served by the open-tracking endpoint.
var onePixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// SignalController ingests engagement signals: the open-tracking pixel and
// an explicit webhook for opens and replies.
type SignalController struct {
	Engine         *engine.Machine
	TrackingSecret string
	Logger         *log.Logger
}

func NewSignalController(m *engine.Machine, trackingSecret string, logger *log.Logger) *SignalController {
	return &SignalController{
		Engine:         m,
		TrackingSecret: trackingSecret,
		Logger:         logger,
	}
}

// TrackOpen serves the tracking pixel and records the open. The response is
// always the pixel, even on bad tokens or unknown enrollments, so a mail
// client never renders a broken image.
func (sc *SignalController) TrackOpen(c *fiber.Ctx) error {
	enrollmentID := c.Params("enrollmentID")
	token := c.Params("token")

	expected := utils.TrackingToken(sc.TrackingSecret, enrollmentID)
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1 {
		if err := sc.Engine.MarkOpened(c.Context(), enrollmentID); err != nil && !errors.Is(err, store.ErrNotFound) {
			sc.Logger.Printf("track open failed for enrollment %s: %v", enrollmentID, err)
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(onePixelGIF)
}

// RecordSignal is the webhook entry point for engagement signals.
func (sc *SignalController) RecordSignal(c *fiber.Ctx) error {
	var input struct {
		EnrollmentID string `json:"enrollment_id" validate:"required"`
		Type         string `json:"type" validate:"required,oneof=opened replied"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var err error
	switch input.Type {
	case "opened":
		err = sc.Engine.MarkOpened(c.Context(), input.EnrollmentID)
	case "replied":
		err = sc.Engine.MarkReplied(c.Context(), input.EnrollmentID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record signal", err)
	}

	return c.JSON(fiber.Map{"message": "Signal recorded"})
}
