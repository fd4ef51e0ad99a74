package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/biobank/shipment-lifecycle/internal/api"
	"github.com/biobank/shipment-lifecycle/internal/application"
	"github.com/biobank/shipment-lifecycle/internal/domain"
	eventsKafka "github.com/biobank/shipment-lifecycle/internal/infrastructure/kafka"
	"github.com/biobank/shipment-lifecycle/internal/infrastructure/memory"
	mongoRepo "github.com/biobank/shipment-lifecycle/internal/infrastructure/mongodb"
	"github.com/biobank/shipment-lifecycle/pkg/idempotency"
	"github.com/biobank/shipment-lifecycle/pkg/kafka"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	"github.com/biobank/shipment-lifecycle/pkg/mongodb"
	"github.com/biobank/shipment-lifecycle/pkg/tracing"
)

const serviceName = "shipment-service"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.ParseLevel(getEnv("LOG_LEVEL", "info"))
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting shipment-service API")

	config := loadConfig()
	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	tracingConfig.Environment = getEnv("ENVIRONMENT", "development")
	tracingConfig.Enabled = getEnv("TRACING_ENABLED", "true") == "true"

	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		// Continue without tracing
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", tracingConfig.OTLPEndpoint)
	}

	// Initialize Prometheus metrics
	m := metrics.New(metrics.DefaultConfig(serviceName))
	logger.Info("Metrics initialized")

	// Storage
	var (
		shipments domain.ShipmentRepository
		specimens domain.ShipmentSpecimenRepository
		keys      idempotency.Store = idempotency.NewMemoryStore()
		ready     = func() error { return nil }
	)

	switch config.Store {
	case "memory":
		shipments = memory.NewShipmentRepository()
		specimens = memory.NewShipmentSpecimenRepository()
		logger.Warn("Using in-memory storage, data is lost on restart")
	default:
		mongoClient, err := mongodb.NewClient(ctx, config.MongoDB)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to MongoDB")
			os.Exit(1)
		}
		defer mongoClient.Close(context.Background())
		logger.Info("Connected to MongoDB", "database", config.MongoDB.Database)

		shipmentRepo, err := mongoRepo.NewShipmentRepository(ctx, mongoClient.Database(), m, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize shipment repository")
			os.Exit(1)
		}
		specimenRepo, err := mongoRepo.NewShipmentSpecimenRepository(ctx, mongoClient.Database(), m, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize shipment specimen repository")
			os.Exit(1)
		}
		keyStore, err := idempotency.NewMongoStore(ctx, mongoClient.Database())
		if err != nil {
			logger.WithError(err).Error("Failed to initialize idempotency store")
			os.Exit(1)
		}
		shipments, specimens, keys = shipmentRepo, specimenRepo, keyStore
		ready = func() error { return mongoClient.HealthCheck(ctx) }
	}

	// Events
	var publisher domain.EventPublisher = eventsKafka.NoopPublisher{}
	if config.KafkaEnabled {
		producer := kafka.NewProducer(config.Kafka)
		defer producer.Close()
		publisher = eventsKafka.NewEventPublisher(producer, m, logger)
		logger.Info("Kafka producer initialized", "brokers", config.Kafka.Brokers)
	}

	service := application.NewShipmentService(shipments, specimens, publisher, m, logger)

	router := api.NewRouter(service, &api.RouterConfig{
		ServiceName:    serviceName,
		Logger:         logger,
		Metrics:        m,
		Ready:          ready,
		Idempotency:    keys,
		AllowedOrigins: config.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         config.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
		}
	}()
	logger.Info("Server started", "addr", config.ServerAddr, "store", config.Store)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}

// Config holds application configuration
type Config struct {
	ServerAddr     string
	Store          string
	AllowedOrigins []string
	MongoDB        *mongodb.Config
	KafkaEnabled   bool
	Kafka          *kafka.Config
}

func loadConfig() *Config {
	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = []string{getEnv("KAFKA_BROKERS", "localhost:9092")}
	kafkaConfig.ClientID = serviceName

	return &Config{
		ServerAddr:     getEnv("SERVER_ADDR", ":8080"),
		Store:          getEnv("STORE", "mongodb"),
		AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ","),
		MongoDB: &mongodb.Config{
			URI:            getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGODB_DATABASE", "biobank_shipments"),
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    100,
			MinPoolSize:    10,
		},
		KafkaEnabled:   getEnv("KAFKA_ENABLED", "false") == "true",
		Kafka:          kafkaConfig,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
