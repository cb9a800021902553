package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "github.com/taskmaster/tasklist/docs"
	httpHandlers "github.com/taskmaster/tasklist/internal/adapters/http"
	"github.com/taskmaster/tasklist/internal/adapters/notify"
	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/config"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/infrastructure/metrics"
)

// streamPath is exempt from the request timeout.
const streamPath = "/api/v1/tasks/stream"

// HealthCheck is one dependency probed by the health endpoints
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
	Stats func() map[string]interface{}
}

// Dependencies are the application services the server exposes
type Dependencies struct {
	Session *services.SessionManager
	Tasks   *services.TaskStore
	Auth    *services.AuthService
	Notices *notify.Hub
	Metrics *metrics.Metrics
	Checks  []HealthCheck
}

// Server represents the HTTP server
type Server struct {
	echo    *echo.Echo
	config  *config.Config
	logger  *logger.Logger
	deps    Dependencies
	started time.Time
}

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates structs
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// New creates a new server instance
func New(cfg *config.Config, deps Dependencies, appLogger *logger.Logger) (*Server, error) {
	if deps.Session == nil || deps.Tasks == nil || deps.Auth == nil {
		return nil, fmt.Errorf("server requires session, task store and auth service")
	}
	if deps.Notices == nil {
		deps.Notices = notify.NewHub(0)
	}

	e := echo.New()

	// Set custom validator
	e.Validator = &CustomValidator{validator: validator.New()}

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true

	// Custom error handler
	e.HTTPErrorHandler = customErrorHandler(appLogger)

	// Initialize handlers
	authHandler := httpHandlers.NewAuthHandler(deps.Session, deps.Auth, appLogger)
	taskHandler := httpHandlers.NewTaskHandler(deps.Tasks, appLogger)
	streamHandler := httpHandlers.NewStreamHandler(deps.Tasks, deps.Notices, appLogger)

	server := &Server{
		echo:    e,
		config:  cfg,
		logger:  appLogger,
		deps:    deps,
		started: time.Now(),
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup metrics
	if cfg.Metrics.Enabled && deps.Metrics != nil {
		server.setupMetrics()
	}

	// Setup routes
	server.setupRoutes(authHandler, taskHandler, streamHandler)

	return server, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Logger middleware
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", values.Method,
				"uri", values.URI,
				"status", values.Status,
				"latency_ms", float64(values.Latency.Nanoseconds()) / 1000000,
				"remote_ip", values.RemoteIP,
				"user_agent", values.UserAgent,
			}

			if values.Error != nil {
				fields = append(fields, "error", values.Error.Error())
				s.logger.Errorw("HTTP request failed", fields...)
			} else {
				s.logger.Infow("HTTP request", fields...)
			}

			return nil
		},
	}))

	// CORS middleware
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: strings.Split(s.config.Security.CORSAllowedOrigins, ","),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.PUT, echo.PATCH, echo.POST, echo.DELETE},
	}))

	// Rate limiting middleware
	if s.config.Security.RateLimitRequests > 0 {
		window := s.config.Security.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		s.echo.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(float64(s.config.Security.RateLimitRequests) / window.Seconds()),
					Burst:     s.config.Security.RateLimitRequests,
					ExpiresIn: window,
				},
			),
			IdentifierExtractor: func(ctx echo.Context) (string, error) {
				id := ctx.RealIP()
				return id, nil
			},
			ErrorHandler: func(context echo.Context, err error) error {
				return context.JSON(http.StatusForbidden, map[string]string{"message": "rate limit exceeded"})
			},
			DenyHandler: func(context echo.Context, identifier string, err error) error {
				return context.JSON(http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
			},
		}))
	}

	// Security headers
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))

	// Request ID middleware
	s.echo.Use(middleware.RequestID())

	// Timeout middleware
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.echo.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == streamPath
		},
		Timeout: timeout,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(authHandler *httpHandlers.AuthHandler, taskHandler *httpHandlers.TaskHandler, streamHandler *httpHandlers.StreamHandler) {
	// Health check routes
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/health/detailed", s.detailedHealthCheck)
	s.echo.GET("/ready", s.readinessCheck)

	// Swagger documentation
	s.echo.GET("/docs/*", echoSwagger.WrapHandler)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.GET("/session", authHandler.Session)

	// Auth routes
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/logout", authHandler.Logout, s.authMiddleware())

	// Task routes (authenticated)
	taskGroup := v1.Group("/tasks", s.authMiddleware())
	taskGroup.GET("", taskHandler.ListTasks)
	taskGroup.POST("", taskHandler.CreateTask)
	taskGroup.GET("/stream", streamHandler.Stream)
	taskGroup.PUT("/:id", taskHandler.UpdateTask)
	taskGroup.DELETE("/:id", taskHandler.DeleteTask)
	taskGroup.POST("/:id/toggle", taskHandler.ToggleTask)
	taskGroup.POST("/:id/subtasks", taskHandler.AddSubTask)
	taskGroup.DELETE("/:id/subtasks/:subId", taskHandler.DeleteSubTask)
	taskGroup.POST("/:id/subtasks/:subId/toggle", taskHandler.ToggleSubTask)
}

// setupMetrics configures Prometheus metrics
func (s *Server) setupMetrics() {
	m := s.deps.Metrics

	// Custom metrics middleware
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start)
			status := c.Response().Status

			m.RequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				fmt.Sprintf("%d", status),
			).Inc()

			m.RequestDuration.WithLabelValues(
				c.Request().Method,
				c.Path(),
			).Observe(duration.Seconds())

			return err
		}
	})

	// Metrics endpoint
	metricsHandler := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	s.echo.GET("/metrics", echo.WrapHandler(metricsHandler))
}

// Health check handlers
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) detailedHealthCheck(c echo.Context) error {
	status := "ok"
	checks := make(map[string]interface{})

	for _, hc := range s.deps.Checks {
		if err := hc.Check(c.Request().Context()); err != nil {
			status = "error"
			checks[hc.Name] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
			continue
		}

		check := map[string]interface{}{"status": "ok"}
		if hc.Stats != nil {
			check["stats"] = hc.Stats()
		}
		checks[hc.Name] = check
	}

	response := map[string]interface{}{
		"status":  status,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"backend": s.config.Storage.Backend,
		"checks":  checks,
		"version": map[string]string{
			"app": s.config.App.Version,
			"go":  runtime.Version(),
		},
	}

	if status == "ok" {
		return c.JSON(http.StatusOK, response)
	}
	return c.JSON(http.StatusServiceUnavailable, response)
}

func (s *Server) readinessCheck(c echo.Context) error {
	for _, hc := range s.deps.Checks {
		if err := hc.Check(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": hc.Name + "_not_ready",
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.Infow("Starting server", "address", address, "backend", s.config.Storage.Backend)

	srv := &http.Server{
		Addr:         address,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
	return s.echo.StartServer(srv)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.echo.Shutdown(ctx)
}

// customErrorHandler handles HTTP errors
func customErrorHandler(logger *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code = http.StatusInternalServerError
			msg  httpHandlers.ErrorResponse

			he          *echo.HTTPError
			authErr     *entities.AuthError
			persistErr  *entities.PersistenceError
			validateErr validator.ValidationErrors
		)

		switch {
		case errors.As(err, &he):
			code = he.Code
			msg.Message = fmt.Sprint(he.Message)
			if he.Internal != nil {
				err = fmt.Errorf("%v, %v", err, he.Internal)
			}
		case errors.As(err, &validateErr):
			code = http.StatusBadRequest
			msg = httpHandlers.ErrorResponse{Message: "validation failed", Details: validateErr.Error()}
		case errors.As(err, &authErr):
			code = http.StatusUnauthorized
			msg.Message = authErr.Reason
		case errors.Is(err, entities.ErrNoActiveUser):
			code = http.StatusUnauthorized
			msg.Message = "no active session"
		case errors.As(err, &persistErr):
			code = http.StatusServiceUnavailable
			msg.Message = "storage unavailable, changes were not saved"
			logger.Warnw("Persistence failure", "op", persistErr.Op, "error", persistErr.Err, "path", c.Request().URL.Path)
		default:
			msg.Message = http.StatusText(code)
		}

		if code == http.StatusInternalServerError {
			logger.Errorw("Internal server error", "error", err, "path", c.Request().URL.Path)
		}

		// Send response
		if !c.Response().Committed {
			if c.Request().Method == echo.HEAD {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, msg)
			}
			if err != nil {
				logger.Errorw("Error sending response", "error", err)
			}
		}
	}
}
