// Package server contains the HTTP handlers for the moderation API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatguard/internal/bootstrap"
	"chatguard/internal/config"
	"chatguard/internal/database"
	"chatguard/internal/featureflags"
	"chatguard/internal/middleware"
	"chatguard/internal/models"
	"chatguard/internal/moderation"
	"chatguard/internal/notifications"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	engine         *moderation.Engine
	featureFlags   *featureflags.Manager
	feed           *notifications.ActionHub
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
}

// NewServer creates a server around an initialized runtime.
func NewServer(cfg *config.Config, rt *bootstrap.Runtime) (*Server, error) {
	if rt == nil || rt.Engine == nil {
		return nil, errors.New("runtime has no moderation engine")
	}
	srv, err := NewServerWithDeps(cfg, rt.DB, rt.Redis, rt.Engine, rt.Flags)
	if err != nil {
		return nil, err
	}
	srv.SetActionFeed(rt.Feed)
	return srv, nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// db and redisClient may be nil; the engine may not.
func NewServerWithDeps(
	cfg *config.Config,
	db *gorm.DB,
	redisClient *redis.Client,
	engine *moderation.Engine,
	flags *featureflags.Manager,
) (*Server, error) {
	if engine == nil {
		return nil, errors.New("moderation engine is required")
	}
	if flags == nil {
		flags = featureflags.NewManager(cfg.FeatureFlags)
	}

	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		engine:         engine,
		featureFlags:   flags,
		promMiddleware: middleware.InitMetrics("chatguard"),
	}, nil
}

// SetActionFeed enables the /ws/moderation action feed. It must be called
// before App.
func (s *Server) SetActionFeed(feed *notifications.ActionHub) {
	s.feed = feed
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + middleware.ClientIDHeader,
		AllowMethods: "GET,POST,OPTIONS",
		MaxAge:       86400, // 24 hours
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	mod := api.Group("/moderation")
	mod.Post("/check", middleware.RateLimit(s.redis, middleware.RateLimitConfig{
		Resource: "check",
		Limit:    s.config.CheckRateLimit,
		Window:   time.Minute,
		Policy:   middleware.FailOpen,
		Disabled: middleware.RateLimitDisabledFor(s.config.Env),
	}), s.CheckMessage)
	mod.Get("/users/:userId/status", s.GetUserStatus)
	mod.Get("/stats", s.GetStats)
	mod.Get("/feature-flags", s.GetFeatureFlags)

	if s.feed != nil {
		ws := app.Group("/ws", RequireWebSocketUpgrade)
		ws.Get("/moderation", s.ActionFeedHandler())
	}
}

// App builds the fiber application without listening. Tests drive it with
// app.Test.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "chatguard",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: an
// unreachable Redis degrades readiness but does not fail it.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	engineStatus := "healthy"
	if err := s.engine.Ping(); err != nil {
		engineStatus = "unhealthy"
	}

	dbStatus := "not_configured"
	if s.db != nil {
		dbStatus = "healthy"
		if err := database.Ping(ctx, s.db); err != nil {
			dbStatus = "unhealthy"
		}
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case engineStatus != "healthy" || dbStatus == "unhealthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus != "healthy":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"engine":   engineStatus,
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	if err := app.Listen(":" + s.config.Port); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, drains the engine, and closes Redis.
// The engine closes the store, which owns the database handle.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.feed != nil {
		s.feed.Shutdown()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	if err := s.engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown engine: %w", err))
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return errors.Join(errs...)
}
