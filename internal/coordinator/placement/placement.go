// Package placement owns the coordinator's deployment placement map: one
// record per deployment, associating its id with the agent executing it.
package placement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danpasecinic/deployd/internal/types"
)

// ErrUnknownDeployment is returned for an id with no placement record.
var ErrUnknownDeployment = errors.New("unknown deployment")

// Store is a thread-safe placement map guarded by a single mutex.
type Store struct {
	mu   sync.Mutex
	byID map[string]types.Deployment
	now  func() time.Time
}

// New creates an empty placement store.
func New() *Store {
	return &Store{byID: make(map[string]types.Deployment), now: time.Now}
}

// Add records a new placement, created after a successful dispatch.
func (s *Store) Add(d types.Deployment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.byID[d.DeploymentID] = d
}

// Get returns the placement for id.
func (s *Store) Get(id string) (types.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return types.Deployment{}, ErrUnknownDeployment
	}
	return d, nil
}

// List returns a point-in-time snapshot of all placements.
func (s *Store) List() map[string]types.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.Deployment, len(s.byID))
	for id, d := range s.byID {
		out[id] = d
	}
	return out
}

// SetStatus updates the cached status for id, stamping FinishedAt the first
// time the status becomes terminal.
func (s *Store) SetStatus(id string, status types.DeploymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return ErrUnknownDeployment
	}

	d.Status = status
	if status.Terminal() && d.FinishedAt == nil {
		finished := s.now()
		d.FinishedAt = &finished
	}
	s.byID[id] = d
	return nil
}

// PruneResult reports how many terminal placements a Prune pass removed.
type PruneResult struct {
	Removed int `json:"removed"`
}

// Prune deletes terminal placements whose FinishedAt predates now-ttl.
// Answers the "placement map grows forever" design note: the default
// behavior is to age out placements ttl after they reach a terminal state.
func (s *Store) Prune(ttl time.Duration) PruneResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	result := PruneResult{}
	for id, d := range s.byID {
		if d.Status.Terminal() && d.FinishedAt != nil && d.FinishedAt.Before(cutoff) {
			delete(s.byID, id)
			result.Removed++
		}
	}
	return result
}

// RunPruner periodically prunes terminal placements older than ttl until
// ctx is cancelled.
func (s *Store) RunPruner(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Prune(ttl)
		case <-ctx.Done():
			return
		}
	}
}
