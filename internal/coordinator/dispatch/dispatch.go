// Package dispatch selects a worker via the registry's selection policy and
// hands off a deployment to it over HTTP, recording the resulting
// placement. §4.3 of the spec: single-shot, no retry on failure.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/danpasecinic/deployd/internal/coordinator/placement"
	"github.com/danpasecinic/deployd/internal/coordinator/registry"
	"github.com/danpasecinic/deployd/internal/types"
)

// ErrDispatchFailed wraps a transport error or non-success worker response.
var ErrDispatchFailed = errors.New("dispatch failed")

// StartTimeout bounds the coordinator's call to a worker's start endpoint.
const StartTimeout = 60 * time.Second

// Dispatcher selects a free agent and starts a deployment on it.
type Dispatcher struct {
	registry   *registry.Registry
	placements *placement.Store
	httpClient *http.Client
}

// New constructs a Dispatcher over the given registry and placement store.
func New(reg *registry.Registry, placements *placement.Store) *Dispatcher {
	return &Dispatcher{
		registry:   reg,
		placements: placements,
		httpClient: &http.Client{Timeout: StartTimeout},
	}
}

type startRequest struct {
	Image         string `json:"image"`
	ContainerName string `json:"container_name"`
}

type startResponse struct {
	Status       string        `json:"status"`
	DeploymentID string        `json:"deployment_id"`
	MappedPorts  types.PortMap `json:"mapped_ports"`
}

// Dispatch selects the least-loaded free agent, starts imageTag on it, and
// records the resulting placement.
func (d *Dispatcher) Dispatch(ctx context.Context, imageTag string) (
	string, string, types.PortMap, error,
) {
	agent, err := d.registry.Select()
	if err != nil {
		return "", "", nil, err
	}

	req := startRequest{Image: imageTag, ContainerName: fmt.Sprintf("%s_container", imageTag)}
	body, err := json.Marshal(req)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	url := fmt.Sprintf("http://%s/start_deployment", agent.Endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", "", nil, fmt.Errorf("%w: worker responded %d: %s", ErrDispatchFailed, resp.StatusCode, string(payload))
	}

	var started startResponse
	if err := json.Unmarshal(payload, &started); err != nil {
		return "", "", nil, fmt.Errorf("%w: invalid worker response: %v", ErrDispatchFailed, err)
	}

	deploymentID := started.DeploymentID
	if deploymentID == "" {
		deploymentID = uuid.New().String()
	}

	d.placements.Add(types.Deployment{
		DeploymentID:  deploymentID,
		AgentEndpoint: agent.Endpoint,
		ImageTag:      imageTag,
		MappedPorts:   started.MappedPorts,
		Status:        types.StatusRunning,
	})

	return deploymentID, agent.Endpoint, started.MappedPorts, nil
}
