// Package registry maintains the coordinator's live agent registry: the
// heartbeat upsert, the expiry sweep, and the least-loaded-free selection
// policy used by dispatch.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danpasecinic/deployd/internal/types"
)

// ErrMissingAgentID is returned by Heartbeat when agent_id is empty.
var ErrMissingAgentID = errors.New("missing agent_id")

// ErrNoAgentsAvailable is returned by Select when no fresh, free agent exists.
var ErrNoAgentsAvailable = errors.New("no agents available")

// Registry is a thread-safe agent registry guarded by a single mutex.
// Heartbeat upsert, expiry scan, and selection each hold the mutex only for
// their own read/write; none of them perform I/O while holding it.
type Registry struct {
	mu      sync.Mutex
	agents  map[string]types.AgentRecord
	timeout time.Duration
	now     func() time.Time
}

// New creates a Registry that expires agents after timeout of silence.
func New(timeout time.Duration) *Registry {
	return &Registry{
		agents:  make(map[string]types.AgentRecord),
		timeout: timeout,
		now:     time.Now,
	}
}

// Heartbeat upserts the agent's record. The newest payload fully replaces
// the prior one; there is no field-level merge. Idempotent: repeating the
// same payload N times is indistinguishable from one call except LastSeen.
func (r *Registry) Heartbeat(
	agentID, endpoint string, cpu, memory float64, state types.AgentState, reputation int,
) error {
	if agentID == "" {
		return ErrMissingAgentID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reputation == 0 {
		reputation = 50
	}

	r.agents[agentID] = types.AgentRecord{
		AgentID:       agentID,
		Endpoint:      endpoint,
		CPUPercent:    cpu,
		MemoryPercent: memory,
		State:         state,
		LastSeen:      r.now(),
		Reputation:    reputation,
	}
	return nil
}

// List returns a point-in-time snapshot of the registry.
func (r *Registry) List() map[string]types.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]types.AgentRecord, len(r.agents))
	for id, rec := range r.agents {
		out[id] = rec
	}
	return out
}

// ExpireStale removes records whose LastSeen is older than the configured
// timeout. Removal is silent to the owning agent; its next heartbeat
// re-registers it.
func (r *Registry) ExpireStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, rec := range r.agents {
		if now.Sub(rec.LastSeen) > r.timeout {
			delete(r.agents, id)
			removed++
		}
	}
	return removed
}

// Select applies the §4.1 selection policy: filter to fresh, Free agents,
// then pick the minimum CPU, tie-broken by minimum memory, then the
// lexicographically smallest agent_id. Returns ErrNoAgentsAvailable if the
// candidate set is empty.
func (r *Registry) Select() (types.AgentRecord, error) {
	r.mu.Lock()
	now := r.now()
	candidates := make([]types.AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		if rec.State == types.AgentFree && rec.Fresh(now, r.timeout) {
			candidates = append(candidates, rec)
		}
	}
	r.mu.Unlock()

	if len(candidates) == 0 {
		return types.AgentRecord{}, ErrNoAgentsAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CPUPercent != b.CPUPercent {
			return a.CPUPercent < b.CPUPercent
		}
		if a.MemoryPercent != b.MemoryPercent {
			return a.MemoryPercent < b.MemoryPercent
		}
		return a.AgentID < b.AgentID
	})

	return candidates[0], nil
}

// Run starts the background expiry loop and blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ExpireStale()
		case <-ctx.Done():
			return
		}
	}
}
