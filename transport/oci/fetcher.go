package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
	"github.com/meigma/bundle/transport"
)

// MaxCatalogSize bounds the size of a catalog manifest.
const MaxCatalogSize = 4 << 20

// Fetcher implements transport.Fetcher against one OCI repository.
type Fetcher struct {
	*client
}

// Interface compliance.
var _ transport.Fetcher = (*Fetcher)(nil)

// NewFetcher creates a Fetcher for repoRef, for example
// "registry.example.com/game/bundles".
func NewFetcher(repoRef string, opts ...Option) (*Fetcher, error) {
	c, err := newClient(repoRef, opts)
	if err != nil {
		return nil, err
	}
	return &Fetcher{client: c}, nil
}

type fetched struct {
	desc ocispec.Descriptor
	rc   io.ReadCloser
}

func closeFetched(f fetched) { _ = f.rc.Close() }

// BlobDigest returns the digest of the blob holding desc's payload.
func BlobDigest(desc catalog.Descriptor) (digest.Digest, error) {
	if desc.RemotePath != "" {
		d, err := digest.Parse(desc.RemotePath)
		if err != nil {
			return "", fmt.Errorf("oci: bundle %q: remote path is not a digest: %w", desc.Name, err)
		}
		return d, nil
	}
	if err := desc.ContentHash.Validate(); err != nil {
		return "", fmt.Errorf("oci: bundle %q: %w", desc.Name, err)
	}
	return desc.ContentHash, nil
}

// Fetch streams the bundle blob into w.
func (f *Fetcher) Fetch(ctx context.Context, desc catalog.Descriptor, w io.Writer, fn progress.Func) error {
	blob, err := BlobDigest(desc)
	if err != nil {
		return err
	}
	repo, err := f.repository()
	if err != nil {
		return err
	}
	target := f.target(blob.String())

	res, cancel, err := transport.AwaitResponse(ctx, target, f.timeout,
		func(ctx context.Context) (fetched, error) {
			d, rc, err := repo.Blobs().FetchReference(ctx, blob.String())
			return fetched{desc: d, rc: rc}, err
		},
		closeFetched)
	if err != nil {
		return mapError(err, target)
	}
	defer cancel()
	defer closeFetched(res)

	n, err := transport.Copy(ctx, w, res.rc, res.desc.Size, desc.Compression, fn, f.stream)
	if err != nil {
		return fmt.Errorf("oci: read %s: %w", target, mapError(err, target))
	}
	f.log().Debug("blob fetched", "bundle", desc.Name, "digest", blob, "bytes", n)
	return nil
}

// FetchCatalog reads the catalog stored under reference, a tag or digest.
func (f *Fetcher) FetchCatalog(ctx context.Context, reference string) (*catalog.Manifest, error) {
	repo, err := f.repository()
	if err != nil {
		return nil, err
	}
	target := f.target(reference)

	res, cancel, err := transport.AwaitResponse(ctx, target, f.timeout,
		func(ctx context.Context) (fetched, error) {
			d, rc, err := repo.Manifests().FetchReference(ctx, reference)
			return fetched{desc: d, rc: rc}, err
		},
		closeFetched)
	if err != nil {
		return nil, mapError(err, target)
	}
	defer cancel()
	defer closeFetched(res)

	if !isManifest(res.desc.MediaType) {
		return nil, fmt.Errorf("%w: %s is %q", ErrUnexpectedMediaType, target, res.desc.MediaType)
	}
	if res.desc.Size > MaxCatalogSize {
		return nil, fmt.Errorf("%w: catalog manifest is %d bytes", catalog.ErrInvalidManifest, res.desc.Size)
	}
	raw, err := content.ReadAll(res.rc, res.desc)
	if err != nil {
		return nil, fmt.Errorf("oci: read %s: %w", target, err)
	}
	var om ocispec.Manifest
	if err := json.Unmarshal(raw, &om); err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrInvalidManifest, err)
	}
	m, err := catalog.FromOCIManifest(&om)
	if err != nil {
		return nil, err
	}
	f.log().Debug("catalog fetched", "reference", target, "digest", res.desc.Digest, "last_update", m.LastUpdate)
	return m, nil
}
