package catalog

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// Provider is the read-only view of the catalog consumed by the lifetime
// manager and the install pipeline.
type Provider interface {
	// Descriptor returns the bundle named name.
	Descriptor(name string) (Descriptor, bool)

	// All returns every bundle.
	All() []Descriptor
}

// Snapshotter is implemented by providers whose contents can change over
// time. Snapshot returns a Provider that stays fixed for the caller's use.
type Snapshotter interface {
	Snapshot() Provider
}

// Interface compliance.
var (
	_ Provider    = (*Manifest)(nil)
	_ Provider    = (*Store)(nil)
	_ Snapshotter = (*Store)(nil)
)

// Snapshot returns p itself, or a fixed view when p implements Snapshotter.
func Snapshot(p Provider) Provider {
	if s, ok := p.(Snapshotter); ok {
		return s.Snapshot()
	}
	return p
}

// Store holds the current manifest generation. Readers never observe a
// partially updated manifest: generations are swapped atomically.
// The zero value is an empty store.
type Store struct {
	current atomic.Pointer[Manifest]
}

// NewStore creates a store holding m, which may be nil.
func NewStore(m *Manifest) *Store {
	s := &Store{}
	if m != nil {
		m.buildIndex()
		s.current.Store(m)
	}
	return s
}

// Current returns the current manifest, or nil if none was loaded.
func (s *Store) Current() *Manifest {
	return s.current.Load()
}

// Snapshot implements Snapshotter.
func (s *Store) Snapshot() Provider {
	return s.current.Load()
}

// Descriptor implements Provider against the current generation.
func (s *Store) Descriptor(name string) (Descriptor, bool) {
	return s.current.Load().Descriptor(name)
}

// All implements Provider against the current generation.
func (s *Store) All() []Descriptor {
	return s.current.Load().All()
}

// Update installs m if it validates and is newer than the current
// generation. It reports whether the swap happened. A manifest that is not
// newer yields false and ErrStaleManifest.
func (s *Store) Update(m *Manifest) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	m.buildIndex()
	for {
		cur := s.current.Load()
		if !m.NewerThan(cur) {
			return false, fmt.Errorf("%w: have %d, got %d", ErrStaleManifest, cur.LastUpdate, m.LastUpdate)
		}
		if s.current.CompareAndSwap(cur, m) {
			return true, nil
		}
	}
}

// Replace installs m unconditionally after validation.
func (s *Store) Replace(m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.buildIndex()
	s.current.Store(m)
	return nil
}

// Closure returns name and all of its transitive dependencies, ordered so
// that every bundle appears after the bundles it depends on. Each bundle
// appears once. Missing bundles yield ErrDependencyNotFound and cycles yield
// a *CircularDependencyError.
func Closure(p Provider, name string) ([]Descriptor, error) {
	w := closureWalker{p: p, seen: make(map[string]bool)}
	if err := w.visit(name, []string{name}); err != nil {
		return nil, err
	}
	return w.out, nil
}

type closureWalker struct {
	p    Provider
	seen map[string]bool
	out  []Descriptor
}

func (w *closureWalker) visit(name string, chain []string) error {
	if w.seen[name] {
		return nil
	}
	d, ok := w.p.Descriptor(name)
	if !ok {
		return NotFoundError(name)
	}
	for _, dep := range d.Dependencies {
		if slices.Contains(chain, dep) {
			return &CircularDependencyError{Chain: append(slices.Clone(chain), dep)}
		}
		if err := w.visit(dep, append(chain, dep)); err != nil {
			return err
		}
	}
	w.seen[name] = true
	w.out = append(w.out, d)
	return nil
}
