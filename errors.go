package bundle

import (
	"errors"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/install"
	"github.com/meigma/bundle/lifetime"
	"github.com/meigma/bundle/storage"
	"github.com/meigma/bundle/transport"
)

// Errors defined by this package.
var (
	// ErrInUse is returned by RemoveAll while any bundle is open.
	ErrInUse = errors.New("bundle: bundles are in use")

	// ErrNoCatalogSource is returned by UpdateCatalog when the client was
	// built without a catalog source.
	ErrNoCatalogSource = errors.New("bundle: no catalog source")

	// ErrUsageUnsupported is returned by Usage when the backend cannot
	// measure its size.
	ErrUsageUnsupported = errors.New("bundle: backend does not report usage")
)

// Errors re-exported from catalog.
var (
	// ErrDependencyNotFound is returned when a bundle or one of its
	// dependencies is not in the catalog.
	ErrDependencyNotFound = catalog.ErrDependencyNotFound

	// ErrCircularDependency is returned when a dependency chain loops.
	ErrCircularDependency = catalog.ErrCircularDependency

	// ErrInvalidManifest is returned when a catalog fails validation.
	ErrInvalidManifest = catalog.ErrInvalidManifest
)

// Errors re-exported from storage and lifetime.
var (
	// ErrNotInstalled is returned when opening a bundle that is not in storage.
	ErrNotInstalled = storage.ErrNotInstalled

	// ErrHandleMismatch is returned when a lease outlives its bundle context.
	ErrHandleMismatch = lifetime.ErrHandleMismatch

	// ErrDoubleRelease is returned when a reference is released more times
	// than it was opened.
	ErrDoubleRelease = lifetime.ErrDoubleRelease
)

// Errors re-exported from install and transport.
var (
	// ErrRetriesExhausted is returned when every install attempt failed with
	// a retryable error.
	ErrRetriesExhausted = install.ErrRetriesExhausted

	// ErrDigestMismatch is returned when downloaded bytes do not match the
	// bundle's content hash.
	ErrDigestMismatch = install.ErrDigestMismatch

	// ErrTimeout is returned when a fetch waited too long for a response.
	ErrTimeout = transport.ErrTimeout
)
