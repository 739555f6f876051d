// Package server contains the HTTP and WebSocket handlers that front the room gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"boardroom/internal/cache"
	"boardroom/internal/config"
	"boardroom/internal/middleware"
	"boardroom/internal/models"
	"boardroom/internal/notifications"
	"boardroom/internal/observability"
	"boardroom/internal/repository"
	"boardroom/internal/rooms"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	redis          *redis.Client
	provider       repository.Provider
	gateway        *rooms.Gateway
	notifier       *notifications.Notifier
	frameLimiter   *middleware.FrameLimiter
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	wsLog          *observability.WSLogger
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
}

// NewServer connects the configured store (and Redis, when REDIS_URL is set)
// and builds a server on top of them.
func NewServer(cfg *config.Config) (*Server, error) {
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := cache.InitRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		redisClient = rdb
	}

	provider, err := repository.Open(cfg, redisClient)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("store %q unavailable: %w", cfg.StoreDriver, err)
	}

	return NewServerWithDeps(cfg, provider, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; the event feed and frame limiting are then disabled.
func NewServerWithDeps(cfg *config.Config, provider repository.Provider, redisClient *redis.Client) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("store provider is required")
	}

	s := &Server{
		config:         cfg,
		redis:          redisClient,
		provider:       repository.Instrument(provider),
		promMiddleware: middleware.InitMetrics("boardroom"),
		frameLimiter: middleware.NewFrameLimiter(redisClient, cfg.WSRateLimit,
			time.Duration(cfg.WSRateWindowSeconds)*time.Second),
		wsLog: observability.NewWSLogger("server"),
	}

	opts := []rooms.Option{}
	if cfg.LobbyRoomID != "" {
		opts = append(opts, rooms.WithLobbyID(cfg.LobbyRoomID))
	}
	if cfg.PublishRoomEvents && redisClient != nil {
		s.notifier = notifications.NewNotifier(redisClient)
		opts = append(opts, rooms.WithPublisher(s.notifier))
	}
	s.gateway = rooms.NewGateway(s.provider, opts...)

	return s, nil
}

// App builds the Fiber application with every middleware and route attached.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:               "boardroom",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, fe)
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled request error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS must run before the limiter so rejected browser clients still see CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		MaxAge:       86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			switch c.Path() {
			case "/health", "/health/live", "/health/ready", "/metrics":
				return true
			}
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
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
	api.Get("/lobby", s.GetLobby)
	api.Get("/rooms", s.ListRooms)
	api.Get("/rooms/:id", s.GetRoom)

	// Room sockets, under both the PartyKit path layout and a short alias.
	app.Get("/parties/main/:room", s.WebSocketUpgrade(), s.WebSocketRoomHandler())
	app.Get("/ws/:room", s.WebSocketUpgrade(), s.WebSocketRoomHandler())
}

// LivenessCheck reports that the process is serving.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings the room store and, when configured, Redis.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if err := s.provider.Ping(ctx); err != nil {
		storeStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"store":  storeStatus,
			"driver": s.provider.Name(),
			"redis":  redisStatus,
		},
		"rooms": len(s.gateway.Rooms()),
		"time":  time.Now(),
	})
}

// Start serves on the configured port until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	if err := s.startFeed(s.shutdownCtx); err != nil {
		observability.GlobalLogger.Warn("room feed subscriber not started", slog.String("error", err.Error()))
	}

	observability.GlobalLogger.Info("server starting",
		slog.String("port", s.config.Port),
		slog.String("store", s.provider.Name()),
		slog.String("lobby", s.gateway.LobbyID()),
	)
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops HTTP, then the rooms, then the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.GlobalLogger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.gateway.Shutdown(ctx); err != nil {
		observability.GlobalLogger.Error("error stopping rooms", slog.String("error", err.Error()))
	}

	if err := s.provider.Close(); err != nil {
		observability.GlobalLogger.Error("error closing store", slog.String("error", err.Error()))
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			observability.GlobalLogger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}

	observability.GlobalLogger.Info("server shutdown complete")
	return nil
}
