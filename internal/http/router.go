package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/bank_turns/backend/internal/bank"
	"github.com/bank_turns/backend/internal/config"
	"github.com/bank_turns/backend/internal/http/handlers"
	"github.com/bank_turns/backend/internal/http/middleware"
	"github.com/bank_turns/backend/internal/service"

	_ "github.com/bank_turns/backend/docs"
)

// Router wires the HTTP API. store may be nil when no database is configured.
func Router(cfg config.Config, turns *service.TurnService, dispatcher *service.Dispatcher, guard *service.Guard, ledger *bank.Ledger, store handlers.Archive, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Turns:      turns,
		Dispatcher: dispatcher,
		Guard:      guard,
		Ledger:     ledger,
		Store:      store,
		Validator:  validator.New(),
		Logger:     logger,
		AdminKey:   cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/turns", h.CreateTurn)
		api.GET("/turns", h.PendingTurns)
		api.GET("/turns/history", h.TurnHistory)
		api.GET("/turns/:id", h.TurnDetails)
		api.POST("/turns/:id/operations", h.AddOperation)
		api.GET("/workers", h.WorkersList)
		api.POST("/customers", h.CreateCustomer)
		api.GET("/customers/:id", h.CustomerDetails)
		api.GET("/accounts/:number", h.AccountDetails)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/locks", h.LocksList)
		admin.POST("/dispatcher/drain", h.DrainQueue)
		admin.GET("/debug/eligibility", h.DebugEligibility)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
