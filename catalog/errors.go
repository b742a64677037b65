package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for catalog operations.
var (
	// ErrDependencyNotFound is returned when a bundle or one of its
	// dependencies is not present in the catalog.
	ErrDependencyNotFound = errors.New("catalog: dependency not found")

	// ErrCircularDependency is returned when a dependency chain loops back
	// onto a bundle already in the chain.
	ErrCircularDependency = errors.New("catalog: circular dependency")

	// ErrInvalidManifest is returned when a manifest fails validation.
	ErrInvalidManifest = errors.New("catalog: invalid manifest")

	// ErrStaleManifest is returned by Store.Update when the candidate is not
	// newer than the current generation.
	ErrStaleManifest = errors.New("catalog: manifest is not newer")
)

// CircularDependencyError reports the chain of bundle names that forms a cycle.
// The first element is the bundle whose open started the chain and the last
// element is the dependency that was already present.
type CircularDependencyError struct {
	Chain []string
}

// Error implements error.
func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCircularDependency, strings.Join(e.Chain, " -> "))
}

// Is reports whether target is ErrCircularDependency.
func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

// NotFoundError returns an error wrapping ErrDependencyNotFound for name.
func NotFoundError(name string) error {
	return fmt.Errorf("%w: %q", ErrDependencyNotFound, name)
}
