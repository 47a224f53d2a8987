// Package http provides the Echo server setup shared by the API service:
// standard middleware, health checks, and graceful shutdown.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"dealgraph.org/common"
	"dealgraph.org/config"
)

// NewEchoServer creates an Echo server with the standard middleware stack.
func NewEchoServer(cfg config.ServerConfig) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Debug

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human}) id=${id}\n",
	}))
	e.Use(middleware.Recover())

	// RequestID runs before handlers so error responses can quote the id as
	// their correlation id.
	e.Use(middleware.RequestID())

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodDelete,
				http.MethodPatch,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
				echo.HeaderAuthorization,
				"X-Webhook-Secret",
			},
		}))
	}

	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(cfg.RateLimit),
		)))
	}

	e.Use(securityHeaders())

	return e
}

func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service,omitempty"`
	Version string                 `json:"version,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheckHandler returns a liveness handler. The optional detailsFunc can
// report per-dependency status for readiness probes.
func HealthCheckHandler(serviceName, version string, detailsFunc func() map[string]interface{}) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := HealthResponse{
			Status:  "healthy",
			Service: serviceName,
			Version: version,
		}
		if detailsFunc != nil {
			resp.Details = detailsFunc()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// StartServer starts the Echo server with read/write timeouts. Blocks until
// the server stops.
func StartServer(e *echo.Echo, cfg config.ServerConfig) error {
	s := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	common.Logger.WithField("addr", s.Addr).Info("starting HTTP server")
	return e.StartServer(s)
}

// GracefulShutdown drains in-flight requests before stopping.
func GracefulShutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	common.Logger.Info("shutting down HTTP server")
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
