// Package heartbeat implements the worker's periodic health report to the
// coordinator (§4.5).
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/danpasecinic/deployd/internal/types"
)

// SendTimeout bounds each heartbeat POST.
const SendTimeout = 5 * time.Second

// StateReader reports the worker's current AgentState atomically.
type StateReader interface {
	State() types.AgentState
}

// Usage samples process-wide CPU and memory percentages. Swappable in tests.
type Usage func() (cpuPercent, memoryPercent float64)

// Emitter POSTs heartbeats to the coordinator at a fixed interval.
type Emitter struct {
	agentID        string
	endpoint       string
	coordinatorURL string
	reputation     int
	state          StateReader
	usage          Usage
	httpClient     *http.Client
}

// New creates a heartbeat emitter. endpoint is this worker's own
// advertised host:port (AGENT_IP); coordinatorURL is the base URL the
// heartbeat is POSTed to.
func New(agentID, endpoint, coordinatorURL string, state StateReader) *Emitter {
	return &Emitter{
		agentID:        agentID,
		endpoint:       endpoint,
		coordinatorURL: coordinatorURL,
		reputation:     50,
		state:          state,
		usage:          sampleUsage,
		httpClient:     &http.Client{Timeout: SendTimeout},
	}
}

type heartbeatPayload struct {
	AgentID    string  `json:"agent_id"`
	IP         string  `json:"ip"`
	CPU        float64 `json:"cpu"`
	Memory     float64 `json:"memory"`
	State      string  `json:"state"`
	Reputation int     `json:"reputation"`
}

// Run ticks every interval until ctx is done, sending one heartbeat per
// tick. Transport errors are logged and swallowed; the loop never stops on
// a failed send.
func (e *Emitter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.send(ctx); err != nil {
				log.Printf("heartbeat send failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Emitter) send(ctx context.Context) error {
	cpu, mem := e.usage()

	payload := heartbeatPayload{
		AgentID:    e.agentID,
		IP:         e.endpoint,
		CPU:        cpu,
		Memory:     mem,
		State:      string(e.state.State()),
		Reputation: e.reputation,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, e.coordinatorURL+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat rejected with status %d", resp.StatusCode)
	}
	return nil
}

// sampleUsage reports coarse process-wide CPU/memory percentages. The
// runtime package exposes no portable CPU percentage without external
// sampling, so this approximates load via goroutine count and heap usage —
// adequate for the selection policy's relative ordering, not a precise
// system metric.
func sampleUsage() (float64, float64) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cpu := float64(runtime.NumGoroutine())
	memPercent := float64(mem.Alloc) / float64(mem.Sys) * 100
	if mem.Sys == 0 {
		memPercent = 0
	}
	return cpu, memPercent
}
