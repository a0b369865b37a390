package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/urmzd/zgw/pkg/api/handlers"
	"github.com/urmzd/zgw/pkg/db"
	"github.com/urmzd/zgw/pkg/device"
	"github.com/urmzd/zgw/pkg/device/schema"
)

// Router holds the Gin engine and dependencies
type Router struct {
	engine       *gin.Engine
	controller   device.Controller
	subscriber   device.EventSubscriber
	validator    *schema.Validator
	automations  db.AutomationStore
	profileID    int64
	onAutoChange func()
}

// NewRouter creates a new API router. onAutomationsChange, if non-nil, is
// invoked after every automation write so the caller can reload its live
// Rules Engine without a separate polling loop.
func NewRouter(controller device.Controller, subscriber device.EventSubscriber, validator *schema.Validator, automations db.AutomationStore, profileID int64, onAutomationsChange func()) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine:       engine,
		controller:   controller,
		subscriber:   subscriber,
		validator:    validator,
		automations:  automations,
		profileID:    profileID,
		onAutoChange: onAutomationsChange,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(301, "/swagger/index.html")
	})

	// Health check at root
	healthHandler := handlers.NewHealthHandler(r.controller)
	r.engine.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		// Health
		v1.GET("/health", healthHandler.Health)

		// Discovery
		discoveryHandler := handlers.NewDiscoveryHandler(r.controller, r.subscriber)
		discovery := v1.Group("/discovery")
		{
			discovery.POST("/start", discoveryHandler.StartDiscovery)
			discovery.POST("/stop", discoveryHandler.StopDiscovery)
			discovery.GET("/events", discoveryHandler.Events)
		}

		// Devices
		devicesHandler := handlers.NewDevicesHandler(r.controller)
		controlHandler := handlers.NewControlHandler(r.controller, r.validator)
		devices := v1.Group("/devices")
		{
			devices.GET("", devicesHandler.ListDevices)
			devices.GET("/:id", devicesHandler.GetDevice)
			devices.PATCH("/:id", devicesHandler.RenameDevice)
			devices.DELETE("/:id", devicesHandler.RemoveDevice)

			// Device state control
			devices.GET("/:id/state", controlHandler.GetState)
			devices.POST("/:id/state", controlHandler.SetState)
		}

		// Automations
		if r.automations != nil {
			automationsHandler := handlers.NewAutomationsHandler(r.automations, r.profileID, r.onAutoChange)
			automations := v1.Group("/automations")
			{
				automations.GET("", automationsHandler.ListAutomations)
				automations.POST("", automationsHandler.CreateAutomation)
				automations.GET("/:id", automationsHandler.GetAutomation)
				automations.PUT("/:id", automationsHandler.UpdateAutomation)
				automations.PATCH("/:id/enabled", automationsHandler.SetAutomationEnabled)
				automations.DELETE("/:id", automationsHandler.DeleteAutomation)
			}
		}
	}
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
