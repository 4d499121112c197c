package coordinator

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

// Manager runs one coordinator per node and serves their snapshots.
type Manager struct {
	coordinators []*Coordinator
	byAddress    map[string]*Coordinator
}

// NewManager creates a manager. Duplicate addresses are rejected.
func NewManager(coordinators ...*Coordinator) (*Manager, error) {
	m := &Manager{byAddress: make(map[string]*Coordinator, len(coordinators))}
	for _, c := range coordinators {
		if err := m.Add(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add registers a coordinator. It must be called before Run.
func (m *Manager) Add(c *Coordinator) error {
	if _, dup := m.byAddress[c.Address()]; dup {
		return errors.New("duplicate node address: " + c.Address())
	}
	m.byAddress[c.Address()] = c
	m.coordinators = append(m.coordinators, c)
	return nil
}

// Run starts every coordinator in its own goroutine and blocks until ctx is
// cancelled. Nodes tick independently; a slow node never delays another.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range m.coordinators {
		g.Go(func() error {
			return c.Run(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Coordinators returns the managed coordinators in configuration order.
func (m *Manager) Coordinators() []*Coordinator {
	return m.coordinators
}

// Snapshots returns the latest snapshot of every node that has ticked.
func (m *Manager) Snapshots() []*status.NodeSnapshot {
	out := make([]*status.NodeSnapshot, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		if snap := c.Snapshot(); snap != nil {
			out = append(out, snap)
		}
	}
	return out
}

// Snapshot returns the latest snapshot of one node. ok is false for unknown
// addresses; the snapshot is nil before the node's first tick.
func (m *Manager) Snapshot(address string) (*status.NodeSnapshot, bool) {
	c, ok := m.byAddress[address]
	if !ok {
		return nil, false
	}
	return c.Snapshot(), true
}
