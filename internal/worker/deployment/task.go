// Package deployment implements the worker-side deployment state machine:
// a single active container task per worker, its log-streaming monitor,
// and cancellation.
package deployment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danpasecinic/deployd/internal/types"
)

// ErrUnknownDeployment is returned by Logs/Cancel for an id this worker
// never started.
var ErrUnknownDeployment = errors.New("unknown deployment")

// ErrAgentBusy is returned by Start when a task is already running.
var ErrAgentBusy = errors.New("agent busy")

// Docker is the subset of the runtime client the state machine needs.
type Docker interface {
	CreateContainer(ctx context.Context, imageTag, containerName string) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
	RemoveImage(ctx context.Context, imageTag string) error
	WaitContainer(ctx context.Context, containerID string) (int64, error)
	StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error)
	PublishedPorts(ctx context.Context, containerID string) (types.PortMap, error)
}

// task is the worker's record of one deployment (§3 DeploymentTask).
type task struct {
	deploymentID string
	imageTag     string
	containerID  string
	mappedPorts  types.PortMap

	mu       sync.Mutex
	logs     bytes.Buffer
	status   types.DeploymentStatus
	exitCode *int64
}

func (t *task) appendLog(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs.WriteString(s)
}

func (t *task) snapshot() (string, types.DeploymentStatus, types.PortMap, *int64) {
	t.mu.Lock()
	logs := t.logs.String()
	status := t.status
	exitCode := t.exitCode
	t.mu.Unlock()
	return logs, status, t.mappedPorts, exitCode
}

// setTerminalStatus sets status and exitCode unless the task is already
// cancelled; cancellation always wins the race against the monitor's own
// terminal resolution.
func (t *task) setTerminalStatus(status types.DeploymentStatus, exitCode int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == types.StatusCancelled {
		return
	}
	t.status = status
	t.exitCode = &exitCode
}

// cancel marks the task cancelled only if it is still running, returning
// whether this call performed the transition.
func (t *task) cancel() (types.DeploymentStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return t.status, false
	}
	t.status = types.StatusCancelled
	return t.status, true
}

// Manager owns the single active task slot for one worker process and the
// process-wide AgentState scalar (§4.4).
type Manager struct {
	docker Docker

	mu      sync.Mutex
	current *task

	busy int32 // atomic; 0 = Free, 1 = Busy

	onTerminal func(types.DeploymentStatus)
}

// NewManager creates a deployment manager bound to a runtime client.
func NewManager(docker Docker) *Manager {
	return &Manager{docker: docker}
}

// OnTerminal registers a callback invoked once per task, after it reaches a
// terminal status. Used by the worker API layer to drive observability
// counters without the deployment package depending on metrics.
func (m *Manager) OnTerminal(f func(types.DeploymentStatus)) {
	m.onTerminal = f
}

// State returns the worker's current AgentState.
func (m *Manager) State() types.AgentState {
	if atomic.LoadInt32(&m.busy) == 1 {
		return types.AgentBusy
	}
	return types.AgentFree
}

// Start creates a container from image and begins running it, returning the
// new deployment id and its published port map.
func (m *Manager) Start(ctx context.Context, image, containerName string) (string, types.PortMap, error) {
	if !atomic.CompareAndSwapInt32(&m.busy, 0, 1) {
		return "", nil, ErrAgentBusy
	}

	deploymentID := uuid.New().String()
	if containerName == "" {
		containerName = fmt.Sprintf("%s_container", image)
	}

	containerID, err := m.docker.CreateContainer(ctx, image, containerName)
	if err != nil {
		atomic.StoreInt32(&m.busy, 0)
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.docker.StartContainer(ctx, containerID); err != nil {
		_ = m.docker.RemoveContainer(context.Background(), containerID)
		atomic.StoreInt32(&m.busy, 0)
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	ports, err := m.docker.PublishedPorts(ctx, containerID)
	if err != nil {
		log.Printf("failed to read published ports for %s: %v", deploymentID, err)
		ports = types.PortMap{}
	}

	t := &task{
		deploymentID: deploymentID,
		imageTag:     image,
		containerID:  containerID,
		mappedPorts:  ports,
		status:       types.StatusRunning,
	}

	m.mu.Lock()
	m.current = t
	m.mu.Unlock()

	go m.monitor(t)

	return deploymentID, ports, nil
}

// Logs returns a consistent snapshot of a task's status, logs, ports, and
// exit code (nil until the monitor resolves the task as completed or
// failed; a cancelled task keeps a nil exit code).
func (m *Manager) Logs(deploymentID string) (types.DeploymentStatus, string, types.PortMap, *int64, error) {
	t := m.lookup(deploymentID)
	if t == nil {
		return "", "", nil, nil, ErrUnknownDeployment
	}
	logs, status, ports, exitCode := t.snapshot()
	return status, logs, ports, exitCode, nil
}

// Cancel requests that a running task's container stop. Idempotent: calling
// it again on an already-terminal task just returns the terminal status.
func (m *Manager) Cancel(ctx context.Context, deploymentID string) (types.DeploymentStatus, error) {
	t := m.lookup(deploymentID)
	if t == nil {
		return "", ErrUnknownDeployment
	}

	status, didCancel := t.cancel()
	if !didCancel {
		return status, nil
	}

	if err := m.docker.StopContainer(ctx, t.containerID); err != nil {
		t.appendLog(fmt.Sprintf("\nError during cancel: %v", err))
	}

	// §4.4: cancel itself flips AgentState to Free; the monitor of a
	// cancelled task leaves AgentState alone, so a task started after this
	// point keeps the worker Busy.
	atomic.StoreInt32(&m.busy, 0)

	return types.StatusCancelled, nil
}

func (m *Manager) lookup(deploymentID string) *task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.deploymentID != deploymentID {
		return nil
	}
	return m.current
}

// monitor owns a task's terminal transition: it streams logs until the
// container exits, then resolves status, cleans up, and frees the worker.
func (m *Manager) monitor(t *task) {
	m.streamLogs(t)

	exitCode, err := m.docker.WaitContainer(context.Background(), t.containerID)
	if err != nil {
		t.appendLog(fmt.Sprintf("\nError waiting for container: %v", err))
		t.setTerminalStatus(types.StatusFailed, exitCode)
	} else if exitCode == 0 {
		t.setTerminalStatus(types.StatusCompleted, exitCode)
	} else {
		t.setTerminalStatus(types.StatusFailed, exitCode)
	}

	m.cleanup(t)

	_, status, _, _ := t.snapshot()
	if m.onTerminal != nil {
		m.onTerminal(status)
	}

	// Cancel already freed the slot of a cancelled task.
	if status != types.StatusCancelled {
		atomic.StoreInt32(&m.busy, 0)
	}
}

func (m *Manager) streamLogs(t *task) {
	stream, err := m.docker.StreamLogs(context.Background(), t.containerID)
	if err != nil {
		t.appendLog(fmt.Sprintf("\nError during log streaming: %v", err))
		return
	}
	defer func() { _ = stream.Close() }()

	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			// Invalid UTF-8 sequences are replaced, never dropped.
			t.appendLog(toValidUTF8(buf[:n]))
		}
		if err != nil {
			if err != io.EOF {
				t.appendLog(fmt.Sprintf("\nError during log streaming: %v", err))
			}
			return
		}
	}
}

// toValidUTF8 replaces invalid byte sequences with the Unicode replacement
// character rather than silently dropping them.
func toValidUTF8(b []byte) string {
	return string(bytes.ToValidUTF8(b, []byte("�")))
}

func (m *Manager) cleanup(t *task) {
	if err := m.docker.RemoveContainer(context.Background(), t.containerID); err != nil {
		t.appendLog(fmt.Sprintf("\nCleanup error: failed to remove container: %v", err))
	}
	if err := m.docker.RemoveImage(context.Background(), t.imageTag); err != nil {
		t.appendLog(fmt.Sprintf("\nCleanup error: failed to remove image: %v", err))
	}
}

// ShutdownCleanup stops and force-removes the active task's container, used
// on process shutdown so containers never outlive the worker silently.
func (m *Manager) ShutdownCleanup(ctx context.Context) {
	m.mu.Lock()
	t := m.current
	m.mu.Unlock()
	if t == nil {
		return
	}

	_, status, _, _ := t.snapshot()
	if status.Terminal() {
		return
	}

	log.Printf("shutdown: stopping container for deployment %s", t.deploymentID)
	if err := m.docker.StopContainer(ctx, t.containerID); err != nil {
		log.Printf("shutdown: failed to stop container %s: %v", t.containerID, err)
	}
	if err := m.docker.RemoveContainer(ctx, t.containerID); err != nil {
		log.Printf("shutdown: failed to remove container %s: %v", t.containerID, err)
	}
}
