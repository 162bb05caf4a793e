package presence

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryRegistry keeps presence in process memory.
type MemoryRegistry struct {
	drivers *xsync.MapOf[string, Driver]
	window  time.Duration
	now     func() time.Time
}

// NewMemoryRegistry builds an empty registry.
func NewMemoryRegistry(window time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		drivers: xsync.NewMapOf[string, Driver](),
		window:  window,
		now:     time.Now,
	}
}

func (m *MemoryRegistry) Heartbeat(_ context.Context, d Driver) error {
	now := m.now()
	m.drivers.Compute(d.ID, func(old Driver, loaded bool) (Driver, bool) {
		if loaded {
			return merge(&old, d, now), false
		}
		return merge(nil, d, now), false
	})
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (Driver, error) {
	d, ok := m.drivers.Load(id)
	if !ok || !d.Fresh(m.now(), 2*m.window) {
		return Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryRegistry) Available(_ context.Context) ([]Driver, error) {
	now := m.now()
	var out []Driver
	m.drivers.Range(func(id string, d Driver) bool {
		switch {
		case !d.Fresh(now, 2*m.window):
			m.drivers.Delete(id)
		case d.Status == StatusOnline && d.Fresh(now, m.window):
			out = append(out, d)
		}
		return true
	})
	sortByID(out)
	return out, nil
}

func (m *MemoryRegistry) SetStatus(_ context.Context, id string, status Status) error {
	found := false
	m.drivers.Compute(id, func(old Driver, loaded bool) (Driver, bool) {
		if !loaded {
			return old, true
		}
		found = true
		old.Status = status
		return old, false
	})
	if !found {
		return ErrNotFound
	}
	return nil
}
