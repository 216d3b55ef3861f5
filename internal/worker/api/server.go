// Package api exposes the worker's HTTP surface: accept a deployment,
// serve its logs, and accept cancellation.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danpasecinic/deployd/internal/types"
	"github.com/danpasecinic/deployd/internal/worker/deployment"
)

// Worker-side Prometheus collectors. Purely observational, per SPEC_FULL
// §6.8; nothing here feeds back into the deployment state machine.
var (
	deploymentsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployd_worker_deployments_started_total",
		Help: "Deployments this worker has accepted.",
	})
	agentStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deployd_worker_agent_state",
		Help: "This worker's AgentState: 0=Free, 1=Busy.",
	})
	deploymentTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deployd_worker_deployment_tasks_total",
		Help: "Deployment tasks observed by terminal status.",
	}, []string{"status"})
)

// Server handles HTTP requests for the worker API.
type Server struct {
	deployments *deployment.Manager
}

// NewServer creates a worker API server bound to a deployment manager and
// wires the manager's terminal-task callback into deploymentTasksTotal.
func NewServer(deployments *deployment.Manager) *Server {
	deployments.OnTerminal(func(status types.DeploymentStatus) {
		deploymentTasksTotal.WithLabelValues(string(status)).Inc()
	})
	return &Server{deployments: deployments}
}

// RunMetricsSync periodically refreshes agentStateGauge from the manager's
// AgentState, which is otherwise only observed on the request path.
func (s *Server) RunMetricsSync(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.deployments.State() == types.AgentBusy {
				agentStateGauge.Set(1)
			} else {
				agentStateGauge.Set(0)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RegisterRoutes registers all worker endpoints with the Echo router.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/start_deployment", s.StartDeployment)
	e.GET("/deployment_logs", s.DeploymentLogs)
	e.POST("/cancel_deployment", s.CancelDeployment)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "deployd-worker"})
	})
}

type startRequest struct {
	Image         string `json:"image"`
	ContainerName string `json:"container_name"`
}

// StartDeployment handles POST /start_deployment.
func (s *Server) StartDeployment(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil || req.Image == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing image"})
	}

	deploymentID, ports, err := s.deployments.Start(c.Request().Context(), req.Image, req.ContainerName)
	if err != nil {
		if errors.Is(err, deployment.ErrAgentBusy) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "agent busy"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	deploymentsStarted.Inc()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        "started",
		"deployment_id": deploymentID,
		"mapped_ports":  ports,
	})
}

// DeploymentLogs handles GET /deployment_logs.
func (s *Server) DeploymentLogs(c echo.Context) error {
	deploymentID := c.QueryParam("deployment_id")
	if deploymentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing deployment_id"})
	}

	status, logs, ports, exitCode, err := s.deployments.Logs(deploymentID)
	if errors.Is(err, deployment.ErrUnknownDeployment) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown deployment"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       status,
		"logs":         logs,
		"mapped_ports": ports,
		"exit_code":    exitCode,
	})
}

type cancelRequest struct {
	DeploymentID string `json:"deployment_id"`
}

// CancelDeployment handles POST /cancel_deployment.
func (s *Server) CancelDeployment(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil || req.DeploymentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing deployment_id"})
	}

	status, err := s.deployments.Cancel(c.Request().Context(), req.DeploymentID)
	if errors.Is(err, deployment.ErrUnknownDeployment) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown deployment"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        status,
		"deployment_id": req.DeploymentID,
	})
}
