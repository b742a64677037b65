//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/bundle"
	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/config"
	"github.com/meigma/bundle/storage/disk"
	"github.com/meigma/bundle/transport/oci"
)

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		registryAddr, registryErr = startRegistryContainer(context.Background())
	})
	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}
	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Repository Helpers ---

// testRepo returns a repository unique to the test.
func testRepo(registryAddr, testName string) string {
	return fmt.Sprintf("%s/test/%s", registryAddr, strings.ToLower(testName))
}

func newPublisher(tb testing.TB, repo string) *oci.Publisher {
	tb.Helper()
	pub, err := oci.NewPublisher(repo, oci.WithPlainHTTP(true), oci.WithAnonymous())
	require.NoError(tb, err, "create publisher")
	return pub
}

func newFetcher(tb testing.TB, repo string) *oci.Fetcher {
	tb.Helper()
	f, err := oci.NewFetcher(repo, oci.WithPlainHTTP(true), oci.WithAnonymous())
	require.NoError(tb, err, "create fetcher")
	return f
}

// newClient builds a client from configuration, as bundlectl does.
func newClient(tb testing.TB, repo, tag string) *bundle.Client {
	tb.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = tb.TempDir()
	cfg.Catalog.Reference = tag
	cfg.Transport.Kind = config.TransportOCI
	cfg.Transport.Repository = repo
	cfg.Transport.PlainHTTP = true
	cfg.Transport.Anonymous = true
	cfg.Install.BackoffBase = 1

	c, err := bundle.NewClientFromConfig(cfg)
	require.NoError(tb, err, "create client")
	return c
}

// --- Fixtures ---

// bundleSet is a catalog and the payloads of its bundles.
type bundleSet struct {
	manifest *catalog.Manifest
	payloads map[string][]byte
}

func makeRandomContent(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

func makeCompressibleContent(size int) []byte {
	pattern := []byte("This is a repeating pattern for compression testing. ")
	result := make([]byte, 0, size)
	for len(result) < size {
		result = append(result, pattern...)
	}
	return result[:size]
}

// gameBundles returns three bundles where level depends on shaders and
// core, and shaders depends on core.
func gameBundles(lastUpdate int64) bundleSet {
	payloads := map[string][]byte{
		"core":    makeRandomContent(64 << 10),
		"shaders": makeCompressibleContent(200 << 10),
		"level":   makeRandomContent(8 << 10),
	}
	d := func(name string, deps ...string) catalog.Descriptor {
		return catalog.Descriptor{
			Name:         name,
			SizeBytes:    int64(len(payloads[name])),
			ContentHash:  digest.FromBytes(payloads[name]),
			Dependencies: deps,
			UserTag:      uint64(lastUpdate),
		}
	}
	return bundleSet{
		manifest: catalog.NewManifest(lastUpdate,
			catalog.ContentGroup{Name: "base", Bundles: []catalog.Descriptor{d("core"), d("shaders", "core")}},
			catalog.ContentGroup{Name: "levels", Bundles: []catalog.Descriptor{d("level", "shaders", "core")}},
		),
		payloads: payloads,
	}
}

// publish pushes every payload, encoded by encode, and the catalog under tag.
func publish(tb testing.TB, pub *oci.Publisher, set bundleSet, tag string, encode func([]byte) []byte, compression catalog.Compression) ocispec.Descriptor {
	tb.Helper()
	ctx := context.Background()

	blobs := make(map[string]ocispec.Descriptor)
	var groups []catalog.ContentGroup
	for _, g := range set.manifest.Groups {
		out := catalog.ContentGroup{Name: g.Name}
		for _, d := range g.Bundles {
			payload := set.payloads[d.Name]
			if encode != nil {
				payload = encode(payload)
			}
			blob, err := pub.PushBlob(ctx, payload)
			require.NoError(tb, err, "push %s", d.Name)
			blobs[d.Name] = blob
			d.Compression = compression
			out.Bundles = append(out.Bundles, d)
		}
		groups = append(groups, out)
	}
	desc, err := pub.PushCatalog(ctx, tag, catalog.NewManifest(set.manifest.LastUpdate, groups...), blobs)
	require.NoError(tb, err, "push catalog")
	return desc
}

func testBackend(tb testing.TB) *disk.Backend {
	tb.Helper()
	b, err := disk.NewOS(tb.TempDir())
	require.NoError(tb, err, "create backend")
	return b
}
