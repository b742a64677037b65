package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"

	"github.com/meigma/bundle/catalog"
)

// Publisher uploads bundle blobs and catalogs to one OCI repository.
type Publisher struct {
	*client
}

// NewPublisher creates a Publisher for repoRef.
func NewPublisher(repoRef string, opts ...Option) (*Publisher, error) {
	c, err := newClient(repoRef, opts)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: c}, nil
}

// PushBlob uploads a bundle payload and returns its blob descriptor.
// data is uploaded as is; compress it first for zstd bundles.
func (p *Publisher) PushBlob(ctx context.Context, data []byte) (ocispec.Descriptor, error) {
	desc := content.NewDescriptorFromBytes(catalog.MediaTypeBundle, data)
	if err := p.push(ctx, desc, data); err != nil {
		return ocispec.Descriptor{}, err
	}
	p.log().Debug("blob pushed", "digest", desc.Digest, "size", desc.Size)
	return desc, nil
}

// PushCatalog uploads m as an image manifest and tags it. blobs maps bundle
// names to the descriptors returned by PushBlob.
func (p *Publisher) PushCatalog(ctx context.Context, tag string, m *catalog.Manifest, blobs map[string]ocispec.Descriptor) (ocispec.Descriptor, error) {
	om, err := catalog.ToOCIManifest(m, blobs)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if err := p.push(ctx, ocispec.DescriptorEmptyJSON, ocispec.DescriptorEmptyJSON.Data); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push config: %w", err)
	}

	raw, err := json.Marshal(om)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("marshal catalog: %w", err)
	}
	desc := content.NewDescriptorFromBytes(ocispec.MediaTypeImageManifest, raw)

	repo, err := p.repository()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if err := repo.Manifests().PushReference(ctx, desc, bytes.NewReader(raw), tag); err != nil {
		return ocispec.Descriptor{}, mapError(err, p.target(tag))
	}
	p.log().Info("catalog pushed", "reference", p.target(tag), "digest", desc.Digest, "bundles", len(om.Layers))
	return desc, nil
}

func (p *Publisher) push(ctx context.Context, desc ocispec.Descriptor, data []byte) error {
	repo, err := p.repository()
	if err != nil {
		return err
	}
	if err := repo.Blobs().Push(ctx, desc, bytes.NewReader(data)); err != nil {
		if errors.Is(err, errdef.ErrAlreadyExists) {
			return nil
		}
		return mapError(err, p.target(desc.Digest.String()))
	}
	return nil
}
