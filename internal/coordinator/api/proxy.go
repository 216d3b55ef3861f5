package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/danpasecinic/deployd/internal/coordinator/placement"
	"github.com/danpasecinic/deployd/internal/types"
)

// DeploymentLogs handles GET /deployment_logs, relaying to the owning
// worker (§4.6) and refreshing the cached placement status from the
// worker's reply while the cached status is not yet terminal.
func (s *Server) DeploymentLogs(c echo.Context) error {
	deploymentID := c.QueryParam("deployment_id")
	if deploymentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing deployment_id"})
	}

	d, err := s.placements.Get(deploymentID)
	if errors.Is(err, placement.ErrUnknownDeployment) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown deployment"})
	}

	url := fmt.Sprintf("http://%s/deployment_logs?deployment_id=%s", d.AgentEndpoint, deploymentID)
	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, url, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	var observed struct {
		Status types.DeploymentStatus `json:"status"`
	}
	if resp.StatusCode == http.StatusOK && json.Unmarshal(payload, &observed) == nil &&
		observed.Status != "" && observed.Status != d.Status && !d.Status.Terminal() {
		logErr("failed to update cached placement status", s.placements.SetStatus(deploymentID, observed.Status))
		s.metrics.ObserveStatus(observed.Status)
	}
	return c.Blob(resp.StatusCode, "application/json", payload)
}

// CancelDeployment handles POST /cancel_deployment, relaying to the owning
// worker and, on success, updating the cached placement status.
func (s *Server) CancelDeployment(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil || req.DeploymentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing deployment_id"})
	}

	d, err := s.placements.Get(req.DeploymentID)
	if errors.Is(err, placement.ErrUnknownDeployment) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown deployment"})
	}

	body, _ := json.Marshal(req)
	url := fmt.Sprintf("http://%s/cancel_deployment", d.AgentEndpoint)
	httpReq, err := http.NewRequestWithContext(c.Request().Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		if err := s.placements.SetStatus(req.DeploymentID, types.StatusCancelled); err != nil {
			logErr("failed to update cached placement status", err)
		}
		s.metrics.ObserveStatus(types.StatusCancelled)
	}

	return relay(c, resp)
}

// relay copies a worker's status code and JSON body back to the caller.
func relay(c echo.Context, resp *http.Response) error {
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.Blob(resp.StatusCode, "application/json", payload)
}
