package membership

import (
	"maps"
	"slices"
	"time"

	"github.com/codewandler/fanout/core/worker"
)

// Snapshot is an immutable view of a registry at one version.
type Snapshot struct {
	Topic   string
	Version uint64
	// Stale is set when the feed behind the registry was lost and the
	// snapshot may be outdated.
	Stale   bool
	TakenAt time.Time

	handles map[string]worker.Handle
}

var emptySnapshot = &Snapshot{handles: map[string]worker.Handle{}}

func (s *Snapshot) Get(id string) (worker.Handle, bool) {
	h, ok := s.handles[id]
	return h, ok
}

func (s *Snapshot) Len() int { return len(s.handles) }

// IDs returns the member ids in ascending order.
func (s *Snapshot) IDs() []string {
	return slices.Sorted(maps.Keys(s.handles))
}

// Handles returns a copy of the id to handle mapping.
func (s *Snapshot) Handles() map[string]worker.Handle {
	return maps.Clone(s.handles)
}
