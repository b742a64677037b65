package lifetime

import (
	"context"
	"fmt"
	"sync"

	"github.com/meigma/bundle/storage"
)

// Lease holds one reference on an open bundle. Release it exactly once,
// typically with defer; further calls return the first result.
type Lease struct {
	m      *Manager
	name   string
	handle storage.Handle

	once sync.Once
	err  error
}

// Acquire opens name and returns a lease on it.
func (m *Manager) Acquire(ctx context.Context, name string) (*Lease, error) {
	h, err := m.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Lease{m: m, name: name, handle: h}, nil
}

// Name returns the bundle name.
func (l *Lease) Name() string { return l.name }

// Handle returns the open handle. It must not be used after Release.
func (l *Lease) Handle() storage.Handle { return l.handle }

// ReadAt reads from the bundle.
func (l *Lease) ReadAt(p []byte, off int64) (int, error) {
	return l.handle.ReadAt(p, off)
}

// Size returns the installed size of the bundle.
func (l *Lease) Size() int64 { return l.handle.Size() }

// Release drops the lease's reference. It fails with ErrHandleMismatch if
// the manager tracks a different handle under the lease's name, and with
// ErrDoubleRelease if the reference was already released through
// Manager.Release.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.m.releaseLease(l)
	})
	return l.err
}

func (m *Manager) releaseLease(l *Lease) error {
	m.mustLock()
	defer m.unlock()
	lc, ok := m.contexts[l.name]
	if !ok {
		m.metrics.releases.WithLabelValues(resultError).Inc()
		return fmt.Errorf("%w: %q is not open", ErrDoubleRelease, l.name)
	}
	if lc.handle != l.handle {
		m.metrics.releases.WithLabelValues(resultError).Inc()
		return fmt.Errorf("%w: %q", ErrHandleMismatch, l.name)
	}
	if err := m.releaseLocked(l.handle); err != nil {
		m.metrics.releases.WithLabelValues(resultError).Inc()
		return err
	}
	m.metrics.releases.WithLabelValues(resultOK).Inc()
	return nil
}
