package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"bazaar/internal/authapi"
	"bazaar/internal/handlers"
	"bazaar/internal/middleware"
	"bazaar/internal/services"
	"bazaar/internal/treestore"
	"bazaar/pkg/rabbitmq"
)

func main() {
	// --- Configuration ---
	viper.SetDefault("APP_PORT", ":8080")
	viper.SetDefault("JWT_SECRET", "dev-secret-change-me")
	viper.SetDefault("STORE_BACKEND", "memory")
	viper.SetDefault("DATABASE_DRIVER", "sqlite")
	viper.SetDefault("DATABASE_DSN", "bazaar.db")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("RABBITMQ_URL", "") // empty disables eventing
	viper.AutomaticEnv()

	appPort := viper.GetString("APP_PORT")

	// --- Tree store backend ---
	store, err := buildStore()
	if err != nil {
		log.Fatalf("Failed to initialize tree store: %v", err)
	}
	log.Printf("Tree store backend: %s", viper.GetString("STORE_BACKEND"))

	// --- RabbitMQ (optional) ---
	var (
		events   services.EventPublisher
		notifier authapi.ResetNotifier
	)
	var mqClient *rabbitmq.Client
	if url := viper.GetString("RABBITMQ_URL"); url != "" {
		mqClient, err = rabbitmq.NewClient(rabbitmq.Config{URL: url})
		if err != nil {
			log.Fatalf("Failed to initialize RabbitMQ client: %v", err)
		}
		defer mqClient.Close()
		events = mqClient
		notifier = mqClient
	} else {
		log.Println("RABBITMQ_URL is empty, eventing disabled")
	}

	// --- Credential provider and services ---
	provider := authapi.NewLocalProvider(store, viper.GetString("JWT_SECRET"), notifier)
	storeService := services.NewStoreService(store, events)
	credService := services.NewCredentialService(provider, storeService)
	adminService := services.NewAdminService(store, events)

	// Log auth transitions for the duration of the process.
	unsubscribe := credService.OnAuthChange(func(s *authapi.Session) {
		if s == nil {
			log.Println("Auth state: signed out")
			return
		}
		log.Printf("Auth state: signed in as %s", s.Email)
	})
	defer unsubscribe()

	// --- Handlers ---
	authHandler := handlers.NewAuthHandler(credService)
	storeHandler := handlers.NewStoreHandler(storeService)
	adminHandler := handlers.NewAdminHandler(adminService)

	requireAuth := middleware.AuthRequired(provider)
	requireAdmin := middleware.AdminRequired(adminService)

	// --- Fiber app ---
	app := fiber.New()
	app.Use(logger.New())

	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)
	storeHandler.RegisterRoutes(apiV1, requireAuth)
	adminHandler.RegisterRoutes(apiV1, requireAuth, requireAdmin)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// --- Event consumer ---
	if mqClient != nil {
		log.Println("Starting event consumer...")
		err := mqClient.ConsumeEvents(func(msg amqp.Delivery) error {
			log.Printf("Event %s (tag %d): %s", msg.Type, msg.DeliveryTag, string(msg.Body))
			return nil
		})
		if err != nil {
			log.Printf("Failed to start event consumer: %v", err)
		}
	}

	// --- Start HTTP server ---
	log.Printf("Starting server on port %s", appPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(appPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Error during Fiber shutdown: %v", err)
	}
	log.Println("Server gracefully stopped")
}

// buildStore picks the tree store backend from configuration.
func buildStore() (treestore.Store, error) {
	switch backend := viper.GetString("STORE_BACKEND"); backend {
	case "memory":
		return treestore.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       0,
		})
		return treestore.NewRedisStore(client), nil
	case "gorm":
		dsn := viper.GetString("DATABASE_DSN")
		var dialector gorm.Dialector
		switch driver := viper.GetString("DATABASE_DRIVER"); driver {
		case "sqlite":
			dialector = sqlite.Open(dsn)
		case "postgres":
			dialector = postgres.Open(dsn)
		default:
			log.Fatalf("Unknown DATABASE_DRIVER %q (want sqlite or postgres)", driver)
		}
		db, err := gorm.Open(dialector, &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return treestore.NewGormStore(db)
	default:
		log.Fatalf("Unknown STORE_BACKEND %q (want memory, redis or gorm)", backend)
		return nil, nil
	}
}
