package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"outreachly/config"
	"outreachly/engine"
	"outreachly/middleware"
	"outreachly/routes"
	"outreachly/store"
	"outreachly/utils"
	"outreachly/worker"
)

func main() {
	logger := log.New(os.Stdout, "OUTREACHLY: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry init failed: %v", err)
		}
	}

	// Pick the store: postgres when configured, in-memory otherwise (dev
	// and demo runs).
	var appStore store.Store
	if config.HasDatabase() {
		if err := config.ConnectDB(); err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		gormStore := store.NewGormStore(config.DB)
		if err := gormStore.Migrate(); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		appStore = gormStore
	} else {
		logger.Println("No database configured, using in-memory store")
		appStore = store.NewMemoryStore()
	}

	if err := config.ConnectRedis(); err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}

	// Pick the transport: real SMTP when configured, console otherwise.
	var transport utils.Transport
	if config.AppConfig.SMTPHost != "" {
		transport = utils.NewSMTPTransport(
			config.AppConfig.SMTPHost,
			config.AppConfig.SMTPPort,
			config.AppConfig.SMTPUsername,
			config.AppConfig.SMTPPassword,
			config.AppConfig.FromEmail,
			config.AppConfig.SenderName,
		)
	} else {
		logger.Println("No SMTP host configured, emails will be logged only")
		transport = utils.NewConsoleTransport()
	}

	machine := engine.NewMachine(
		appStore,
		transport,
		config.AppConfig.SenderName,
		config.AppConfig.BaseURL,
		config.AppConfig.TrackingSecret,
		config.AppConfig.MaxSendAttempts,
	)
	sweeper := engine.NewSweeper(appStore, machine, config.AppConfig.DispatchTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepWorker := worker.NewSweepWorker(sweeper, config.AppConfig.SweepInterval, log.New(os.Stdout, "SWEEP: ", log.LstdFlags))
	go sweepWorker.Start(ctx)

	replyWorker := worker.NewReplyWorker(appStore, machine, config.AppConfig.ReplyInbox, config.AppConfig.ReplyPollInterval, log.New(os.Stdout, "REPLY: ", log.LstdFlags))
	go replyWorker.Start(ctx)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	routes.SetupRoutes(app, routes.Deps{
		Store:           appStore,
		Engine:          machine,
		Redis:           config.Redis,
		TrackingSecret:  config.AppConfig.TrackingSecret,
		MetricsCacheTTL: config.AppConfig.MetricsCacheTTL,
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
