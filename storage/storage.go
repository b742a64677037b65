// Package storage defines the contract between the bundle core and the
// place installed bundles live.
//
// A Backend answers existence queries, opens installed bundles as handles,
// accepts streamed installs, and verifies installed bytes. The disk
// subpackage provides a filesystem implementation.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
)

// Sentinel errors for storage operations.
var (
	// ErrNotInstalled is returned when a bundle is not present in storage.
	ErrNotInstalled = errors.New("storage: bundle not installed")

	// ErrForeignHandle is returned when a handle was not created by the backend
	// it is passed to.
	ErrForeignHandle = errors.New("storage: handle not owned by backend")

	// ErrClosed is returned when a handle is used after Close.
	ErrClosed = errors.New("storage: handle closed")
)

// Handle is an open bundle. Handles are owned by the backend that created
// them and must be comparable; the lifetime manager tracks them by identity.
type Handle interface {
	io.ReaderAt

	// Name returns the bundle name the handle was opened for.
	Name() string

	// Size returns the installed size in bytes.
	Size() int64
}

// Writer streams an install into storage.
//
// Content is written via Write calls. After all content is written:
//   - Call Commit to make the bundle visible to Exists and Open
//   - Call Discard if the transfer failed or the content was rejected
//
// Implementations must not expose partially written content.
type Writer interface {
	io.Writer

	// Commit finalizes the install.
	Commit() error

	// Discard aborts the install and removes temporary data.
	Discard() error
}

// Backend stores installed bundles.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Exists reports whether the bundle is installed.
	Exists(ctx context.Context, desc catalog.Descriptor) (bool, error)

	// Open returns a handle for an installed bundle. It fails with
	// ErrNotInstalled when the bundle is missing.
	Open(ctx context.Context, desc catalog.Descriptor) (Handle, error)

	// Close releases a handle returned by Open.
	Close(h Handle) error

	// InstallStream returns a writer for installing the bundle, creating
	// intermediate directories as needed.
	InstallStream(ctx context.Context, desc catalog.Descriptor) (Writer, error)

	// Verify reports whether the installed bytes match desc.ContentHash.
	// A mismatch is reported as false, not as an error.
	Verify(ctx context.Context, desc catalog.Descriptor, fn progress.Func) (bool, error)

	// RemoveAll evicts every installed bundle.
	RemoveAll(ctx context.Context, fn progress.Func) error
}
