package manager

import "context"

// Preload loads the model at path without running a request, so the first
// request does not pay the load cost.
func (m *Manager) Preload(ctx context.Context, path string) error {
	h, err := m.registry.Acquire(ctx, path)
	if err != nil {
		m.setLastErr(err)
		return err
	}
	m.registry.Release(h)
	return nil
}

// Evict unloads the idle model at path.
func (m *Manager) Evict(path string) error { return m.registry.Evict(path) }

// Trim evicts up to n least recently used idle models (n <= 0 evicts all idle).
func (m *Manager) Trim(n int) int { return m.registry.Trim(n) }
