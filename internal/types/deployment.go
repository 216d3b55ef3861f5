package types

import "time"

// DeploymentStatus is the terminal-or-running status enum shared by both
// the coordinator's placement record and the worker's task record.
type DeploymentStatus string

const (
	StatusRunning   DeploymentStatus = "running"
	StatusCancelled DeploymentStatus = "cancelled"
	StatusCompleted DeploymentStatus = "completed"
	StatusFailed    DeploymentStatus = "failed"
	StatusUnknown   DeploymentStatus = "unknown"
)

// Terminal reports whether the status is one a deployment never leaves.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// HostBinding is one host-side binding for a published container port.
type HostBinding struct {
	HostIP   string `json:"host_ip"`
	HostPort string `json:"host_port"`
}

// PortKey identifies a container port + protocol, e.g. "8080/tcp".
type PortKey string

// PortMap is the mapping from container port+protocol to its host bindings.
type PortMap map[PortKey][]HostBinding

// Deployment is the coordinator's placement record for one deployment.
type Deployment struct {
	DeploymentID  string           `json:"deployment_id"`
	AgentEndpoint string           `json:"agent_endpoint"`
	ImageTag      string           `json:"image_tag"`
	MappedPorts   PortMap          `json:"mapped_ports"`
	Status        DeploymentStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}
