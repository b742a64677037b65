package lifetime

import (
	"errors"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/storage"
)

// Errors returned by the Manager. Graph and availability errors are the
// catalog and storage sentinels, so callers can match them at any layer.
var (
	// ErrDependencyNotFound is returned when a bundle or one of its
	// dependencies is missing from the catalog.
	ErrDependencyNotFound = catalog.ErrDependencyNotFound

	// ErrCircularDependency is matched by *catalog.CircularDependencyError.
	ErrCircularDependency = catalog.ErrCircularDependency

	// ErrNotInstalled is returned when a bundle is not present in storage.
	ErrNotInstalled = storage.ErrNotInstalled

	// ErrDoubleRelease is returned when a context with no references is
	// released. It indicates a bookkeeping bug, not a caller error.
	ErrDoubleRelease = errors.New("lifetime: release of unreferenced bundle")

	// ErrHandleMismatch is returned when a lease's handle is no longer the
	// one tracked for its bundle name.
	ErrHandleMismatch = errors.New("lifetime: handle mismatch")
)
