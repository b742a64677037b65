package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/cobra"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/config"
	"github.com/meigma/bundle/internal/writeops"
	"github.com/meigma/bundle/transport/oci"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		tag      string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "publish DIR",
		Short: "Push bundle payloads from DIR and the catalog to the OCI repository",
		Long: `Reads catalog.path, pushes each bundle's payload from DIR as a blob and
tags the resulting catalog manifest. A payload is read from DIR joined with
its relative remotePath, or its name when remotePath is empty or a URL.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cfg.Transport.Kind != config.TransportOCI {
				return errors.New("publish requires transport.kind oci")
			}
			if cfg.Catalog.Path == "" {
				return errors.New("publish requires catalog.path")
			}
			if tag == "" {
				tag = cfg.Catalog.Reference
			}
			if tag == "" {
				return errors.New("publish requires --tag or catalog.reference")
			}
			m, err := catalog.Load(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			pub, err := oci.NewPublisher(cfg.Transport.Repository, publisherOptions(cfg, a)...)
			if err != nil {
				return err
			}
			desc, err := publishCatalog(cmd.Context(), pub, m, args[0], tag, compress)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s:%s@%s\n", cfg.Transport.Repository, tag, desc.Digest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "tag for the catalog (default catalog.reference)")
	cmd.Flags().BoolVar(&compress, "zstd", false, "compress payloads with zstd")
	return cmd
}

func publisherOptions(cfg *config.Config, a *app) []oci.Option {
	opts := []oci.Option{
		oci.WithPlainHTTP(cfg.Transport.PlainHTTP),
		oci.WithTimeout(cfg.Transport.Timeout),
		oci.WithLogger(a.logger),
	}
	if cfg.Transport.Anonymous {
		return append(opts, oci.WithAnonymous())
	}
	return append(opts, oci.WithDockerConfig())
}

// sourcePath returns the payload location of d relative to the publish
// directory.
func sourcePath(d catalog.Descriptor) string {
	p := d.RemotePath
	if p == "" || strings.Contains(p, "://") || digest.Digest(p).Validate() == nil {
		p = d.Name
	}
	return filepath.FromSlash(strings.TrimLeft(p, "/"))
}

// publishCatalog pushes every payload, checking it against its content
// hash first, and then the catalog manifest under tag.
func publishCatalog(ctx context.Context, pub *oci.Publisher, m *catalog.Manifest, dir, tag string, compress bool) (ocispec.Descriptor, error) {
	compression := catalog.CompressionNone
	var enc *zstd.Encoder
	if compress {
		var err error
		if enc, err = zstd.NewWriter(nil); err != nil {
			return ocispec.Descriptor{}, err
		}
		defer enc.Close()
		compression = catalog.CompressionZstd
	}
	ops := writeops.New(enc)

	blobs := make(map[string]ocispec.Descriptor)
	groups := make([]catalog.ContentGroup, 0, len(m.Groups))
	for _, g := range m.Groups {
		out := catalog.ContentGroup{Name: g.Name}
		for _, d := range g.Bundles {
			var payload bytes.Buffer
			res, err := encodeFile(ctx, ops, filepath.Join(dir, sourcePath(d)), &payload, compression, d.ContentHash)
			if err != nil {
				return ocispec.Descriptor{}, fmt.Errorf("bundle %q: %w", d.Name, err)
			}
			if res.Digest != d.ContentHash {
				return ocispec.Descriptor{}, fmt.Errorf("bundle %q: payload is %s, catalog expects %s", d.Name, res.Digest, d.ContentHash)
			}

			d.SizeBytes = res.Size
			d.RemotePath = ""
			d.Compression = compression
			blob, err := pub.PushBlob(ctx, payload.Bytes())
			if err != nil {
				return ocispec.Descriptor{}, fmt.Errorf("bundle %q: %w", d.Name, err)
			}
			blobs[d.Name] = blob
			out.Bundles = append(out.Bundles, d)
		}
		groups = append(groups, out)
	}
	return pub.PushCatalog(ctx, tag, catalog.NewManifest(m.LastUpdate, groups...), blobs)
}

func encodeFile(ctx context.Context, ops *writeops.Ops, path string, w io.Writer, compression catalog.Compression, expected digest.Digest) (writeops.Result, error) {
	if err := expected.Validate(); err != nil {
		return writeops.Result{}, err
	}
	f, err := os.Open(path) //nolint:gosec // path comes from the operator's catalog
	if err != nil {
		return writeops.Result{}, err
	}
	defer f.Close()
	return ops.Encode(ctx, f, w, compression, expected.Algorithm())
}
