package catalog

import (
	_ "crypto/sha256" // register digest algorithms
	_ "crypto/sha512"
	"fmt"
	"slices"
	"sync"

	"github.com/opencontainers/go-digest"
	"go.uber.org/multierr"
)

// Compression identifies how a bundle payload is encoded on the remote side.
// Installed bytes are always stored decoded.
type Compression string

// Supported payload compressions.
const (
	CompressionNone Compression = ""
	CompressionZstd Compression = "zstd"
)

// Descriptor describes one installable bundle.
type Descriptor struct {
	// Name is the globally unique bundle identifier.
	Name string `yaml:"name" json:"name"`

	// LocalPath is interpreted by the storage backend. Empty selects the
	// backend's default layout.
	LocalPath string `yaml:"localPath,omitempty" json:"localPath,omitempty"`

	// RemotePath is interpreted by the transport.
	RemotePath string `yaml:"remotePath,omitempty" json:"remotePath,omitempty"`

	// SizeBytes is the expected installed size. Informational only.
	SizeBytes int64 `yaml:"size,omitempty" json:"size,omitempty"`

	// ContentHash is the expected digest of the installed bytes.
	ContentHash digest.Digest `yaml:"hash" json:"hash"`

	// Dependencies lists other bundle names in load order.
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// UserTag is opaque to this package and passed through unmodified.
	UserTag uint64 `yaml:"userTag,omitempty" json:"userTag,omitempty"`

	// Compression is the encoding of the remote payload.
	Compression Compression `yaml:"compression,omitempty" json:"compression,omitempty"`
}

// ContentGroup is a named collection of bundles.
type ContentGroup struct {
	Name    string       `yaml:"name" json:"name"`
	Bundles []Descriptor `yaml:"bundles" json:"bundles"`
}

// Manifest is one immutable generation of the catalog.
//
// Manifests must not be modified after they are handed to a [Store] or any
// other reader; build a new Manifest instead.
type Manifest struct {
	// LastUpdate orders manifest generations. It is compared, never
	// interpreted as wall-clock time.
	LastUpdate int64 `yaml:"lastUpdate" json:"lastUpdate"`

	// Groups holds the bundles, grouped by content group.
	Groups []ContentGroup `yaml:"groups" json:"groups"`

	indexOnce sync.Once
	index     map[string]int // name -> position in all
	all       []Descriptor
}

// NewManifest builds a manifest from groups.
func NewManifest(lastUpdate int64, groups ...ContentGroup) *Manifest {
	m := &Manifest{LastUpdate: lastUpdate, Groups: groups}
	m.buildIndex()
	return m
}

func (m *Manifest) buildIndex() {
	m.indexOnce.Do(func() {
		m.index = make(map[string]int)
		for _, g := range m.Groups {
			for _, d := range g.Bundles {
				// First occurrence wins when names collide across groups.
				if _, ok := m.index[d.Name]; !ok {
					m.index[d.Name] = len(m.all)
				}
				m.all = append(m.all, d)
			}
		}
	})
}

// Descriptor returns the bundle named name.
func (m *Manifest) Descriptor(name string) (Descriptor, bool) {
	if m == nil {
		return Descriptor{}, false
	}
	m.buildIndex()
	i, ok := m.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return m.all[i], true
}

// All returns every bundle in group order.
func (m *Manifest) All() []Descriptor {
	if m == nil {
		return nil
	}
	m.buildIndex()
	return slices.Clone(m.all)
}

// Group returns the content group named name.
func (m *Manifest) Group(name string) (ContentGroup, bool) {
	if m == nil {
		return ContentGroup{}, false
	}
	for _, g := range m.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return ContentGroup{}, false
}

// TotalSize returns the sum of SizeBytes across all groups.
func (m *Manifest) TotalSize() int64 {
	if m == nil {
		return 0
	}
	var total int64
	for _, g := range m.Groups {
		for _, d := range g.Bundles {
			total += d.SizeBytes
		}
	}
	return total
}

// NewerThan reports whether m is a later generation than other.
// Any manifest is newer than a nil one.
func (m *Manifest) NewerThan(other *Manifest) bool {
	if m == nil {
		return false
	}
	if other == nil {
		return true
	}
	return m.LastUpdate > other.LastUpdate
}

// Validate checks names, hashes and compression, reporting every violation found.
// Dependency cycles and dangling dependency names are not checked here;
// they surface when a closure is resolved.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil manifest", ErrInvalidManifest)
	}
	var errs error
	groups := make(map[string]struct{}, len(m.Groups))
	names := make(map[string]string)
	for _, g := range m.Groups {
		if g.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: group with empty name", ErrInvalidManifest))
		}
		if _, dup := groups[g.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: duplicate group %q", ErrInvalidManifest, g.Name))
		}
		groups[g.Name] = struct{}{}

		for _, d := range g.Bundles {
			errs = multierr.Append(errs, validateDescriptor(d))
			if prev, dup := names[d.Name]; dup && d.Name != "" {
				errs = multierr.Append(errs, fmt.Errorf("%w: bundle %q in group %q already defined in group %q",
					ErrInvalidManifest, d.Name, g.Name, prev))
				continue
			}
			names[d.Name] = g.Name
		}
	}
	return errs
}

func validateDescriptor(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: bundle with empty name", ErrInvalidManifest)
	}
	var errs error
	if err := d.ContentHash.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: bundle %q: hash: %v", ErrInvalidManifest, d.Name, err))
	}
	if slices.Contains(d.Dependencies, d.Name) {
		errs = multierr.Append(errs, fmt.Errorf("%w: bundle %q depends on itself", ErrInvalidManifest, d.Name))
	}
	switch d.Compression {
	case CompressionNone, CompressionZstd:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: bundle %q: unknown compression %q",
			ErrInvalidManifest, d.Name, d.Compression))
	}
	if d.SizeBytes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: bundle %q: negative size", ErrInvalidManifest, d.Name))
	}
	return errs
}
