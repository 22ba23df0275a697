package routes

import (
	"log"
	"os"
	"time"

	controller "outreachly/controllers"
	"outreachly/engine"
	"outreachly/store"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// Deps carries the shared collaborators the route handlers need.
type Deps struct {
	Store           store.Store
	Engine          *engine.Machine
	Redis           *redis.Client
	TrackingSecret  string
	MetricsCacheTTL time.Duration
}

func SetupRoutes(app *fiber.App, deps Deps) {
	contactController := controller.NewContactController(deps.Store, deps.Engine, log.New(os.Stdout, "CONTACT: ", log.LstdFlags))
	templateController := controller.NewTemplateController(deps.Store, log.New(os.Stdout, "TEMPLATE: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(deps.Store, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	campaignController := controller.NewCampaignController(deps.Store, deps.Engine, log.New(os.Stdout, "CAMPAIGN: ", log.LstdFlags))
	signalController := controller.NewSignalController(deps.Engine, deps.TrackingSecret, log.New(os.Stdout, "SIGNAL: ", log.LstdFlags))
	dashboardController := controller.NewDashboardController(deps.Store, deps.Redis, deps.MetricsCacheTTL, log.New(os.Stdout, "DASHBOARD: ", log.LstdFlags))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Tracking pixel stays outside /api so email clients hit it directly.
	app.Get("/track/open/:enrollmentID/:token", signalController.TrackOpen)

	api := app.Group("/api", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Contact routes
	contact := api.Group("/contacts")
	contact.Post("/", contactController.CreateContact)
	contact.Get("/", contactController.GetContacts)
	contact.Post("/import", contactController.ImportContacts)
	contact.Get("/:id", contactController.GetContact)
	contact.Put("/:id", contactController.UpdateContact)
	contact.Delete("/:id", contactController.DeleteContact)

	// Template routes
	template := api.Group("/templates")
	template.Post("/", templateController.CreateTemplate)
	template.Get("/", templateController.GetTemplates)
	template.Get("/:id", templateController.GetTemplate)
	template.Put("/:id", templateController.UpdateTemplate)
	template.Delete("/:id", templateController.DeleteTemplate)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/", campaignController.GetCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Put("/:id", campaignController.UpdateCampaign)
	campaign.Delete("/:id", campaignController.DeleteCampaign)
	campaign.Post("/:id/activate", campaignController.ActivateCampaign)
	campaign.Post("/:id/pause", campaignController.PauseCampaign)
	campaign.Post("/:id/resume", campaignController.ResumeCampaign)
	campaign.Get("/:id/enrollments", campaignController.GetCampaignEnrollments)
	campaign.Get("/:id/stats", campaignController.GetCampaignStats)

	// Engagement signal webhook
	api.Post("/signals", signalController.RecordSignal)

	// Dashboard routes
	api.Get("/dashboard/metrics", dashboardController.GetMetrics)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Println("API routes initialized successfully")
}
