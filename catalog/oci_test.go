package catalog

import (
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOCIManifest(t *testing.T) {
	t.Parallel()

	coreDigest := digest.FromString("core blob")
	uiDigest := digest.FromString("ui blob")
	uiContent := digest.FromString("ui content")

	om := &ocispec.Manifest{
		Annotations: map[string]string{AnnotationLastUpdate: "5"},
		Layers: []ocispec.Descriptor{
			{
				MediaType: MediaTypeBundle,
				Digest:    coreDigest,
				Size:      10,
				Annotations: map[string]string{
					ocispec.AnnotationTitle: "core",
					AnnotationUserTag:       "42",
				},
			},
			{
				MediaType: MediaTypeBundle,
				Digest:    uiDigest,
				Size:      20,
				Annotations: map[string]string{
					AnnotationName:         "ui",
					AnnotationGroup:        "frontend",
					AnnotationDependencies: "core, ",
					AnnotationCompression:  "zstd",
					AnnotationContentHash:  uiContent.String(),
					AnnotationSize:         "64",
				},
			},
		},
	}

	m, err := FromOCIManifest(om)
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.LastUpdate)
	require.Len(t, m.Groups, 2)
	assert.Equal(t, DefaultGroup, m.Groups[0].Name)
	assert.Equal(t, "frontend", m.Groups[1].Name)

	core, ok := m.Descriptor("core")
	require.True(t, ok)
	assert.Equal(t, coreDigest, core.ContentHash)
	assert.Equal(t, coreDigest.String(), core.RemotePath)
	assert.Equal(t, int64(10), core.SizeBytes)
	assert.Equal(t, uint64(42), core.UserTag)

	ui, ok := m.Descriptor("ui")
	require.True(t, ok)
	assert.Equal(t, uiContent, ui.ContentHash)
	assert.Equal(t, uiDigest.String(), ui.RemotePath)
	assert.Equal(t, int64(64), ui.SizeBytes)
	assert.Equal(t, []string{"core"}, ui.Dependencies)
	assert.Equal(t, CompressionZstd, ui.Compression)
}

func TestFromOCIManifestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		om   *ocispec.Manifest
	}{
		{"nil", nil},
		{"bad last update", &ocispec.Manifest{Annotations: map[string]string{AnnotationLastUpdate: "soon"}}},
		{"missing name", &ocispec.Manifest{Layers: []ocispec.Descriptor{{Digest: digest.FromString("x")}}}},
		{"bad user tag", &ocispec.Manifest{Layers: []ocispec.Descriptor{{
			Digest:      digest.FromString("x"),
			Annotations: map[string]string{AnnotationName: "x", AnnotationUserTag: "-1"},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := FromOCIManifest(tt.om)
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestOCIManifestRoundTrip(t *testing.T) {
	t.Parallel()

	plain := digest.FromString("payload")
	compressedBlob := ocispec.Descriptor{Digest: digest.FromString("zstd frame"), Size: 11}
	m := NewManifest(3,
		ContentGroup{Name: "g", Bundles: []Descriptor{
			{Name: "a", RemotePath: plain.String(), ContentHash: plain, SizeBytes: 7, UserTag: 1},
			{
				Name:         "b",
				ContentHash:  digest.FromString("b content"),
				SizeBytes:    900,
				Dependencies: []string{"a"},
				Compression:  CompressionZstd,
				LocalPath:    "b/b.bin",
			},
		}},
	)

	om, err := ToOCIManifest(m, map[string]ocispec.Descriptor{"b": compressedBlob})
	require.NoError(t, err)
	assert.Equal(t, ArtifactTypeList, om.ArtifactType)
	assert.Equal(t, ocispec.DescriptorEmptyJSON, om.Config)
	require.Len(t, om.Layers, 2)
	assert.NotContains(t, om.Layers[0].Annotations, AnnotationContentHash)
	assert.Equal(t, compressedBlob.Digest, om.Layers[1].Digest)

	back, err := FromOCIManifest(om)
	require.NoError(t, err)
	assert.Equal(t, int64(3), back.LastUpdate)

	a, ok := back.Descriptor("a")
	require.True(t, ok)
	assert.Equal(t, plain, a.ContentHash)
	assert.Equal(t, int64(7), a.SizeBytes)
	assert.Equal(t, uint64(1), a.UserTag)

	b, ok := back.Descriptor("b")
	require.True(t, ok)
	assert.Equal(t, digest.FromString("b content"), b.ContentHash)
	assert.Equal(t, compressedBlob.Digest.String(), b.RemotePath)
	assert.Equal(t, int64(900), b.SizeBytes)
	assert.Equal(t, []string{"a"}, b.Dependencies)
	assert.Equal(t, "b/b.bin", b.LocalPath)
	assert.Equal(t, CompressionZstd, b.Compression)
}

func TestToOCIManifestMissingBlob(t *testing.T) {
	t.Parallel()

	m := NewManifest(1, ContentGroup{Name: "g", Bundles: []Descriptor{
		{Name: "http", RemotePath: "cdn/http.bin", ContentHash: digest.FromString("h")},
	}})
	_, err := ToOCIManifest(m, nil)
	require.ErrorIs(t, err, ErrInvalidManifest)
}
