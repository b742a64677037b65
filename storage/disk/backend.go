// Package disk provides a filesystem-backed storage.Backend.
//
// Bundles are written to a temporary file next to their final location and
// renamed into place on commit, so Exists and Open never observe a partial
// install. The filesystem is an afero.Fs, which lets callers choose between
// the OS filesystem (see NewOS) and an in-memory one.
package disk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
	"github.com/meigma/bundle/storage"
	"github.com/meigma/bundle/verify"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	defaultRoot           = "/"
	bundlesDir            = "bundles"
	tempPattern           = ".install-*"
)

// ErrInvalidPath is returned when a descriptor's local path escapes the
// backend root.
var ErrInvalidPath = errors.New("disk: invalid local path")

// Backend implements storage.Backend on an afero filesystem.
// It is safe for concurrent use.
type Backend struct {
	fs             afero.Fs
	root           string
	shardPrefixLen int
	dirPerm        os.FileMode
	chunkSize      int
	logger         *slog.Logger
}

// Interface compliance.
var _ storage.Backend = (*Backend)(nil)

// Option configures a disk backend.
type Option func(*Backend)

// WithRoot sets the directory within the filesystem that holds bundles.
// Defaults to the filesystem root.
func WithRoot(root string) Option {
	return func(b *Backend) {
		b.root = root
	}
}

// WithShardPrefixLen sets the number of hex characters used for sharding
// the default layout. Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(b *Backend) {
		b.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(b *Backend) {
		b.dirPerm = mode
	}
}

// WithChunkSize sets the read size used by Verify.
func WithChunkSize(n int) Option {
	return func(b *Backend) {
		b.chunkSize = n
	}
}

// WithLogger sets a logger for the backend.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates a backend on fsys.
func New(fsys afero.Fs, opts ...Option) (*Backend, error) {
	if fsys == nil {
		return nil, errors.New("disk: filesystem is nil")
	}
	b := &Backend{
		fs:             fsys,
		root:           defaultRoot,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		chunkSize:      verify.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.shardPrefixLen < 0 {
		return nil, errors.New("disk: shard prefix length must be >= 0")
	}
	if b.root == "" {
		b.root = defaultRoot
	}
	if err := b.fs.MkdirAll(b.root, b.dirPerm); err != nil {
		return nil, fmt.Errorf("disk: create root: %w", err)
	}
	return b, nil
}

// NewOS creates a backend rooted at dir on the OS filesystem.
func NewOS(dir string, opts ...Option) (*Backend, error) {
	if dir == "" {
		return nil, errors.New("disk: dir is empty")
	}
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, err
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts...)
}

// log returns the logger, falling back to a discard logger if nil.
func (b *Backend) log() *slog.Logger {
	if b.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.logger
}

// Path returns the location of the installed bundle within the filesystem.
// LocalPath is used when set; otherwise the path is derived from the
// content hash, sharded by hex prefix.
func (b *Backend) Path(desc catalog.Descriptor) (string, error) {
	if desc.LocalPath != "" {
		rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(desc.LocalPath, "/")))
		if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, desc.LocalPath)
		}
		return filepath.Join(b.root, rel), nil
	}
	if err := desc.ContentHash.Validate(); err != nil {
		return "", fmt.Errorf("disk: bundle %q: %w", desc.Name, err)
	}
	encoded := desc.ContentHash.Encoded()
	alg := desc.ContentHash.Algorithm().String()
	if b.shardPrefixLen <= 0 {
		return filepath.Join(b.root, bundlesDir, alg, encoded), nil
	}
	prefixLen := min(b.shardPrefixLen, len(encoded))
	return filepath.Join(b.root, bundlesDir, alg, encoded[:prefixLen], encoded), nil
}

// Exists reports whether the bundle file is present.
func (b *Backend) Exists(_ context.Context, desc catalog.Descriptor) (bool, error) {
	path, err := b.Path(desc)
	if err != nil {
		return false, err
	}
	info, err := b.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Open opens the installed bundle for reading.
func (b *Backend) Open(_ context.Context, desc catalog.Descriptor) (storage.Handle, error) {
	path, err := b.Path(desc)
	if err != nil {
		return nil, err
	}
	f, err := b.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", storage.ErrNotInstalled, desc.Name)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	b.log().Debug("bundle opened", "bundle", desc.Name, "path", path, "size", info.Size())
	return &Bundle{owner: b, name: desc.Name, file: f, size: info.Size()}, nil
}

// Close closes a handle returned by Open.
func (b *Backend) Close(h storage.Handle) error {
	bundle, ok := h.(*Bundle)
	if !ok || bundle.owner != b {
		return storage.ErrForeignHandle
	}
	b.log().Debug("bundle closed", "bundle", bundle.name)
	return bundle.close()
}

// InstallStream returns a writer that installs the bundle on Commit.
func (b *Backend) InstallStream(_ context.Context, desc catalog.Descriptor) (storage.Writer, error) {
	path, err := b.Path(desc)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := b.fs.MkdirAll(dir, b.dirPerm); err != nil {
		return nil, err
	}
	tmp, err := afero.TempFile(b.fs, dir, tempPattern)
	if err != nil {
		return nil, err
	}
	return &installWriter{
		fs:        b.fs,
		file:      tmp,
		tmpPath:   tmp.Name(),
		finalPath: path,
	}, nil
}

// Verify hashes the installed file against desc.ContentHash.
func (b *Backend) Verify(ctx context.Context, desc catalog.Descriptor, fn progress.Func) (bool, error) {
	path, err := b.Path(desc)
	if err != nil {
		return false, err
	}
	ok, err := verify.File(ctx, b.fs, path, desc.ContentHash, fn, verify.Options{ChunkSize: b.chunkSize})
	if err != nil {
		return false, err
	}
	if !ok {
		b.log().Debug("bundle verification failed", "bundle", desc.Name, "path", path)
	}
	return ok, nil
}

// RemoveAll deletes every file under the backend root, reporting
// removed/total as progress.
func (b *Backend) RemoveAll(ctx context.Context, fn progress.Func) error {
	files, dirs, err := walk(b.fs, b.root)
	if err != nil {
		return err
	}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		progress.Report(fn, progress.Ratio(int64(i+1), int64(len(files))))
	}
	// Deepest directories first so parents are empty when reached.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = b.fs.Remove(dirs[i]) //nolint:errcheck // best-effort cleanup of empty directories
	}
	progress.Report(fn, 1)
	b.log().Info("storage cleared", "files", len(files))
	return nil
}
