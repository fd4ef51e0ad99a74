package api

import (
	"sync"

	"github.com/biobank/shipment-lifecycle/internal/application"
	"github.com/biobank/shipment-lifecycle/pkg/idempotency"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	"github.com/biobank/shipment-lifecycle/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// RouterConfig holds what the HTTP surface needs besides the service
type RouterConfig struct {
	ServiceName string
	Logger      *logging.Logger
	Metrics     *metrics.Metrics // optional
	Ready       func() error     // optional readiness check

	// Idempotency stores Idempotency-Key records for shipment creation.
	// Defaults to an in-memory store.
	Idempotency idempotency.Store

	AllowedOrigins []string // CORS; empty allows any origin
}

var registerOnce sync.Once

// register installs the lifecycle error mapper and the domain validation
// tags. Both are process-wide.
func register() {
	registerOnce.Do(func() {
		middleware.RegisterErrorMapper(mapLifecycleError)
		for tag, fn := range validations {
			if err := middleware.RegisterValidation(tag, fn); err != nil {
				panic(err)
			}
		}
	})
}

// NewRouter builds the gin engine serving the shipment API
func NewRouter(service *application.ShipmentService, config *RouterConfig) *gin.Engine {
	register()

	router := gin.New()
	mwConfig := middleware.DefaultConfig(config.ServiceName, config.Logger.Logger)
	mwConfig.AllowedOrigins = config.AllowedOrigins
	middleware.Setup(router, mwConfig)

	if config.Metrics != nil {
		router.Use(middleware.MetricsMiddleware(config.Metrics))
		router.GET("/metrics", middleware.MetricsEndpoint(config.Metrics))
	}
	router.Use(middleware.SimpleTracingMiddleware(config.ServiceName))

	ready := config.Ready
	if ready == nil {
		ready = func() error { return nil }
	}
	router.GET("/health", middleware.HealthCheck(config.ServiceName))
	router.GET("/ready", middleware.ReadinessCheck(config.ServiceName, ready))

	store := config.Idempotency
	if store == nil {
		store = idempotency.NewMemoryStore()
	}
	idemConfig := idempotency.DefaultConfig(config.ServiceName, store, config.Logger.Logger)
	idemConfig.Metrics = config.Metrics

	RegisterRoutes(router, service, config.Logger, idempotency.Middleware(idemConfig))
	return router
}

// RegisterRoutes mounts the shipment routes under /api/v1/shipments.
// createMiddleware runs in front of shipment creation only.
func RegisterRoutes(router gin.IRouter, service *application.ShipmentService, logger *logging.Logger, createMiddleware ...gin.HandlerFunc) {
	shipments := router.Group("/api/v1/shipments")
	{
		shipments.POST("", append(createMiddleware, createShipmentHandler(service, logger))...)
		shipments.GET("", listShipmentsHandler(service, logger))
		shipments.GET("/:id", getShipmentHandler(service, logger))
		shipments.PUT("/:id/info", updateShipmentInfoHandler(service, logger))
		shipments.POST("/:id/transitions", transitionHandler(service, logger))
		shipments.DELETE("/:id/:version", removeShipmentHandler(service, logger))

		shipments.GET("/:id/specimens", listSpecimensHandler(service, logger))
		shipments.POST("/:id/specimens", addSpecimensHandler(service, logger))
		shipments.DELETE("/:id/specimens/:shipmentSpecimenId", removeSpecimenHandler(service, logger))
		shipments.POST("/:id/specimens/tag", tagSpecimensHandler(service, logger))
		shipments.POST("/:id/specimens/extra", addExtraSpecimensHandler(service, logger))
	}
}
