package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Annotation keys read by FromOCIManifest and written by ToOCIManifest.
const (
	AnnotationName         = "io.meigma.bundle.name"
	AnnotationGroup        = "io.meigma.bundle.group"
	AnnotationDependencies = "io.meigma.bundle.dependencies"
	AnnotationLocalPath    = "io.meigma.bundle.local-path"
	AnnotationUserTag      = "io.meigma.bundle.user-tag"
	AnnotationCompression  = "io.meigma.bundle.compression"
	AnnotationContentHash  = "io.meigma.bundle.content-hash"
	AnnotationSize         = "io.meigma.bundle.size"
	AnnotationLastUpdate   = "io.meigma.bundle.last-update"
)

// Media types used when a catalog is stored in an OCI registry.
const (
	MediaTypeBundle  = "application/vnd.meigma.bundle.v1"
	ArtifactTypeList = "application/vnd.meigma.bundle.catalog.v1"
)

// DefaultGroup is used for layers without a group annotation.
const DefaultGroup = "default"

// FromOCIManifest builds a catalog manifest from an OCI image manifest
// whose layers are bundle blobs.
//
// The layer digest becomes RemotePath. The content hash defaults to the
// layer digest and is overridden by AnnotationContentHash when the blob is
// compressed; SizeBytes likewise defaults to the layer size. Group order
// follows first appearance.
func FromOCIManifest(om *ocispec.Manifest) (*Manifest, error) {
	if om == nil {
		return nil, fmt.Errorf("%w: nil oci manifest", ErrInvalidManifest)
	}
	var lastUpdate int64
	if v := om.Annotations[AnnotationLastUpdate]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, AnnotationLastUpdate, err)
		}
		lastUpdate = n
	}

	var groups []ContentGroup
	groupIndex := make(map[string]int)
	for i, layer := range om.Layers {
		d, group, err := descriptorFromLayer(layer)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		gi, ok := groupIndex[group]
		if !ok {
			gi = len(groups)
			groupIndex[group] = gi
			groups = append(groups, ContentGroup{Name: group})
		}
		groups[gi].Bundles = append(groups[gi].Bundles, d)
	}

	m := NewManifest(lastUpdate, groups...)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func descriptorFromLayer(layer ocispec.Descriptor) (Descriptor, string, error) {
	ann := layer.Annotations
	name := ann[AnnotationName]
	if name == "" {
		name = ann[ocispec.AnnotationTitle]
	}
	if name == "" {
		return Descriptor{}, "", fmt.Errorf("%w: missing %s annotation", ErrInvalidManifest, AnnotationName)
	}
	d := Descriptor{
		Name:        name,
		LocalPath:   ann[AnnotationLocalPath],
		RemotePath:  layer.Digest.String(),
		SizeBytes:   layer.Size,
		ContentHash: layer.Digest,
		Compression: Compression(ann[AnnotationCompression]),
	}
	if v := ann[AnnotationContentHash]; v != "" {
		d.ContentHash = digestOf(v)
	}
	if v := ann[AnnotationSize]; v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Descriptor{}, "", fmt.Errorf("%w: bundle %q: %s: %v", ErrInvalidManifest, name, AnnotationSize, err)
		}
		d.SizeBytes = size
	}
	if v := ann[AnnotationDependencies]; v != "" {
		for dep := range strings.SplitSeq(v, ",") {
			if dep = strings.TrimSpace(dep); dep != "" {
				d.Dependencies = append(d.Dependencies, dep)
			}
		}
	}
	if v := ann[AnnotationUserTag]; v != "" {
		tag, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Descriptor{}, "", fmt.Errorf("%w: bundle %q: %s: %v", ErrInvalidManifest, name, AnnotationUserTag, err)
		}
		d.UserTag = tag
	}
	group := ann[AnnotationGroup]
	if group == "" {
		group = DefaultGroup
	}
	return d, group, nil
}

// ToOCIManifest renders m as an OCI image manifest with one layer per
// bundle.
//
// blobs maps bundle names to the descriptors of their pushed blobs. A
// bundle missing from blobs may still be rendered when its RemotePath is a
// digest and it is uncompressed, since the blob size then equals SizeBytes.
// The returned manifest references ocispec.DescriptorEmptyJSON as its
// config, which must exist in the repository before the manifest is pushed.
func ToOCIManifest(m *Manifest, blobs map[string]ocispec.Descriptor) (*ocispec.Manifest, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil manifest", ErrInvalidManifest)
	}
	om := &ocispec.Manifest{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactTypeList,
		Config:       ocispec.DescriptorEmptyJSON,
		Layers:       []ocispec.Descriptor{},
		Annotations:  map[string]string{AnnotationLastUpdate: strconv.FormatInt(m.LastUpdate, 10)},
	}
	om.SchemaVersion = 2
	for _, g := range m.Groups {
		for _, d := range g.Bundles {
			blob, ok := blobs[d.Name]
			if !ok {
				remote := digestOf(d.RemotePath)
				if remote.Validate() != nil || d.Compression != CompressionNone {
					return nil, fmt.Errorf("%w: bundle %q: no blob descriptor", ErrInvalidManifest, d.Name)
				}
				blob = ocispec.Descriptor{Digest: remote, Size: d.SizeBytes}
			}
			ann := map[string]string{
				AnnotationName:  d.Name,
				AnnotationGroup: g.Name,
			}
			if d.ContentHash != blob.Digest {
				ann[AnnotationContentHash] = d.ContentHash.String()
			}
			if d.SizeBytes != blob.Size {
				ann[AnnotationSize] = strconv.FormatInt(d.SizeBytes, 10)
			}
			if len(d.Dependencies) > 0 {
				ann[AnnotationDependencies] = strings.Join(d.Dependencies, ",")
			}
			if d.LocalPath != "" {
				ann[AnnotationLocalPath] = d.LocalPath
			}
			if d.UserTag != 0 {
				ann[AnnotationUserTag] = strconv.FormatUint(d.UserTag, 10)
			}
			if d.Compression != CompressionNone {
				ann[AnnotationCompression] = string(d.Compression)
			}
			om.Layers = append(om.Layers, ocispec.Descriptor{
				MediaType:   MediaTypeBundle,
				Digest:      blob.Digest,
				Size:        blob.Size,
				Annotations: ann,
			})
		}
	}
	return om, nil
}

func digestOf(s string) digest.Digest {
	return digest.Digest(strings.TrimSpace(s))
}
