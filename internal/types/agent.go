package types

import "time"

// AgentState is the scalar availability state a worker reports about itself.
type AgentState string

const (
	AgentFree AgentState = "Free"
	AgentBusy AgentState = "Busy"
)

// AgentRecord is the coordinator's view of one known worker, keyed by AgentID.
type AgentRecord struct {
	AgentID       string            `json:"agent_id"`
	Endpoint      string            `json:"endpoint"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	State         AgentState        `json:"state"`
	LastSeen      time.Time         `json:"last_seen"`
	Reputation    int               `json:"reputation"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// Fresh reports whether the record was seen within timeout of now.
func (a AgentRecord) Fresh(now time.Time, timeout time.Duration) bool {
	return now.Sub(a.LastSeen) < timeout
}
