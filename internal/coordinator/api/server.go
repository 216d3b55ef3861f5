// Package api exposes the coordinator's HTTP surface: agent heartbeats,
// the upload/build/dispatch path, and proxied log/cancel queries routed to
// the owning worker.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danpasecinic/deployd/internal/coordinator/build"
	"github.com/danpasecinic/deployd/internal/coordinator/placement"
	"github.com/danpasecinic/deployd/internal/coordinator/registry"
)

// ProxyTimeout bounds the coordinator's forwarded log/cancel calls.
const ProxyTimeout = 30 * time.Second

// Server handles HTTP requests for the coordinator API.
type Server struct {
	registry   *registry.Registry
	placements *placement.Store
	pipeline   *build.Pipeline
	httpClient *http.Client
	metrics    *Metrics
}

// NewServer creates a coordinator API server.
func NewServer(reg *registry.Registry, placements *placement.Store, pipeline *build.Pipeline) *Server {
	return &Server{
		registry:   reg,
		placements: placements,
		pipeline:   pipeline,
		httpClient: &http.Client{Timeout: ProxyTimeout},
		metrics:    NewMetrics(),
	}
}

// RegisterRoutes registers all coordinator endpoints with the Echo router.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/heartbeat", s.Heartbeat)
	e.POST("/upload_code", s.UploadCode)
	e.GET("/deployment_logs", s.DeploymentLogs)
	e.POST("/cancel_deployment", s.CancelDeployment)
	e.GET("/agents", s.ListAgents)
	e.GET("/deployments", s.ListDeployments)
	e.POST("/prune", s.Prune)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "deployd-coordinator"})
	})
}

// RunExpiry runs the registry's background expiry loop until ctx is done.
func (s *Server) RunExpiry(ctx context.Context) {
	s.registry.Run(ctx)
}

// RunPruner runs the placement TTL pruner until ctx is done.
func (s *Server) RunPruner(ctx context.Context, interval, ttl time.Duration) {
	s.placements.RunPruner(ctx, interval, ttl)
}

// RunMetricsSync periodically refreshes gauges derived from the registry
// snapshot (agents_registered is not naturally event-driven).
func (s *Server) RunMetricsSync(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.metrics.SetAgentsRegistered(len(s.registry.List()))
		case <-ctx.Done():
			return
		}
	}
}

func logErr(action string, err error) {
	if err != nil {
		log.Printf("%s: %v", action, err)
	}
}
