package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sort"
	"time"

	"inference-ops-service/internal/monitoring"
	"inference-ops-service/internal/rollback"
	"inference-ops-service/internal/snapshot"
	"inference-ops-service/pkg/config"
	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthChecker is a backing service probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

type Dependencies struct {
	Monitor   *monitoring.Monitor
	Snapshots *snapshot.Store
	Planner   *rollback.Planner
	Preflight *rollback.PreflightChecker
	Executor  *rollback.Executor
	Bus       *events.Bus
	// Services are reported by /health; a failing one degrades the status.
	Services map[string]HealthChecker
}

type Server struct {
	config *config.Config
	deps   Dependencies
	router *gin.Engine
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	// Recovery middleware recovers from any panics
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.timeoutMiddleware())
	{
		endpoints := api.Group("/endpoints")
		{
			endpoints.GET("", s.handleGetAllMonitoring)
			endpoints.POST("", s.handleAddEndpoint)
			endpoints.POST("/discover", s.handleDiscoverEndpoints)
			endpoints.GET("/:endpointId", s.validateID("endpointId"), s.handleGetMonitoring)
			endpoints.DELETE("/:endpointId", s.validateID("endpointId"), s.handleRemoveEndpoint)
			endpoints.GET("/:endpointId/alerts", s.validateID("endpointId"), s.handleGetEndpointAlerts)
		}

		alerts := api.Group("/alerts")
		{
			alerts.GET("", s.handleGetActiveAlerts)
			alerts.GET("/:alertId", s.validateID("alertId"), s.handleGetAlert)
			alerts.POST("/:alertId/resolve", s.validateID("alertId"), s.handleResolveAlert)
		}

		api.GET("/stats", s.handleGetStats)

		deployments := api.Group("/deployments")
		{
			deployments.GET("/:deploymentId/snapshots", s.validateID("deploymentId"), s.handleGetSnapshots)
			deployments.POST("/:deploymentId/snapshots", s.validateID("deploymentId"), s.handleCreateSnapshot)
			deployments.GET("/:deploymentId/executions", s.validateID("deploymentId"), s.handleListExecutions)
		}

		api.GET("/snapshots/:snapshotId", s.validateID("snapshotId"), s.handleGetSnapshot)

		plans := api.Group("/rollback/plans")
		{
			plans.POST("", s.handleCreatePlan)
			plans.GET("/:planId", s.validateID("planId"), s.handleGetPlan)
			plans.POST("/:planId/preflight", s.validateID("planId"), s.handlePreflight)
			plans.POST("/:planId/execute", s.validateID("planId"), s.handleExecutePlan)
		}

		executions := api.Group("/rollback/executions")
		{
			executions.GET("/:executionId", s.validateID("executionId"), s.handleGetExecution)
			executions.POST("/:executionId/cancel", s.validateID("executionId"), s.handleCancelExecution)
		}
	}

	// long-lived streams stay outside the request timeout
	s.router.GET("/api/rollback/executions/:executionId/stream", s.validateID("executionId"), s.handleStreamExecution)
	s.router.GET("/ws/events", s.handleWebSocketEvents)
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func isValidID(id string) bool {
	return idPattern.MatchString(id)
}

func (s *Server) validateID(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isValidID(c.Param(param)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + " format"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// statusFor maps domain errors to HTTP status codes; anything unknown gets fallback.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, monitoring.ErrEndpointNotMonitored),
		errors.Is(err, monitoring.ErrAlertNotFound),
		errors.Is(err, snapshot.ErrSnapshotNotFound),
		errors.Is(err, rollback.ErrPlanNotFound),
		errors.Is(err, rollback.ErrExecutionNotFound):
		return http.StatusNotFound
	case errors.Is(err, rollback.ErrCrossDeployment):
		return http.StatusBadRequest
	case errors.Is(err, rollback.ErrExecutionNotRunning):
		return http.StatusConflict
	case errors.Is(err, rollback.ErrExecutorClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return fallback
	}
}

func respondError(c *gin.Context, err error, fallback int, message string) {
	status := statusFor(err, fallback)
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.String("path", c.Request.URL.Path), logger.Err(err))
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":  "healthy",
		"time":    time.Now().Format(time.RFC3339),
		"version": "1.0.0",
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Services))
	for name := range s.deps.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.deps.Services[name].HealthCheck(ctx); err != nil {
			health["status"] = "degraded"
			health[name] = "disconnected"
			continue
		}
		health[name] = "connected"
	}

	health["monitored_endpoints"] = len(s.deps.Monitor.GetAllMonitoring())
	c.JSON(http.StatusOK, health)
}

// Middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
