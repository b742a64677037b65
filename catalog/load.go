package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Decode parses a YAML or JSON manifest document and validates it.
//
// The document shape mirrors [Manifest]:
//
//	lastUpdate: 42
//	groups:
//	  - name: base
//	    bundles:
//	      - name: shaders
//	        remotePath: bundles/shaders.bin
//	        size: 1024
//	        hash: sha256:...
//	        dependencies: [core]
func Decode(r io.Reader) (*Manifest, error) {
	var doc struct {
		LastUpdate int64          `yaml:"lastUpdate"`
		Groups     []ContentGroup `yaml:"groups"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m := NewManifest(doc.LastUpdate, doc.Groups...)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads and decodes the manifest file at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator-supplied configuration
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Encode writes m as YAML.
func Encode(w io.Writer, m *Manifest) error {
	doc := struct {
		LastUpdate int64          `yaml:"lastUpdate"`
		Groups     []ContentGroup `yaml:"groups"`
	}{m.LastUpdate, m.Groups}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
