package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/danpasecinic/deployd/internal/coordinator/build"
	"github.com/danpasecinic/deployd/internal/coordinator/dispatch"
	"github.com/danpasecinic/deployd/internal/coordinator/registry"
	"github.com/danpasecinic/deployd/internal/types"
)

// heartbeatRequest mirrors §6's wire payload for POST /heartbeat.
type heartbeatRequest struct {
	AgentID    string  `json:"agent_id"`
	IP         string  `json:"ip"`
	CPU        float64 `json:"cpu"`
	Memory     float64 `json:"memory"`
	State      string  `json:"state"`
	Reputation int     `json:"reputation"`
}

// Heartbeat handles POST /heartbeat.
func (s *Server) Heartbeat(c echo.Context) error {
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	state := types.AgentState(req.State)
	if state != types.AgentBusy {
		state = types.AgentFree
	}

	if err := s.registry.Heartbeat(req.AgentID, req.IP, req.CPU, req.Memory, state, req.Reputation); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing agent_id"})
	}

	s.metrics.ObserveHeartbeat()
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// UploadCode handles POST /upload_code.
func (s *Server) UploadCode(c echo.Context) error {
	fileHeader, err := c.FormFile("code")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing file"})
	}
	if fileHeader.Size == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty file"})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read file"})
	}
	defer func() { _ = f.Close() }()

	result, err := s.pipeline.Upload(c.Request().Context(), f, fileHeader.Filename)
	if err != nil {
		return s.uploadError(c, err)
	}

	s.metrics.ObserveStatus(types.StatusRunning)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        "deployed",
		"agent":         result.AgentEndpoint,
		"image":         result.ImageTag,
		"deployment_id": result.DeploymentID,
		"mapped_ports":  result.MappedPorts,
		"logs":          "",
	})
}

func (s *Server) uploadError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, build.ErrBadBundle):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, registry.ErrNoAgentsAvailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, build.ErrBuildFailed), errors.Is(err, build.ErrPushFailed), errors.Is(err, dispatch.ErrDispatchFailed):
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// ListAgents handles GET /agents.
func (s *Server) ListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.List())
}

// ListDeployments handles GET /deployments.
func (s *Server) ListDeployments(c echo.Context) error {
	return c.JSON(http.StatusOK, s.placements.List())
}

// cancelRequest is the shared payload for POST /cancel_deployment.
type cancelRequest struct {
	DeploymentID string `json:"deployment_id"`
}

// Prune handles POST /prune, answering §9's "placement map grows forever"
// note with an on-demand escape hatch alongside the periodic pruner.
func (s *Server) Prune(c echo.Context) error {
	ttl := placementTTLFromQuery(c, time.Hour)
	result := s.placements.Prune(ttl)
	return c.JSON(http.StatusOK, result)
}

func placementTTLFromQuery(c echo.Context, fallback time.Duration) time.Duration {
	raw := c.QueryParam("ttl_seconds")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw + "s")
	if err != nil {
		return fallback
	}
	return d
}
