// Package lifetime tracks which bundles are open and keeps every bundle
// open for as long as anything depends on it.
//
// A Manager resolves a bundle's dependencies through the catalog, opens
// them first, and then opens the bundle itself. Each open bundle has one
// reference-counted context; the handle is closed as soon as the count
// drops to zero. Releasing a bundle also releases the references it took
// on its dependencies, so the dependency graph unwinds in the reverse of
// the order it was opened.
//
// All cache mutations are serialized by a single critical section shared
// by every bundle name. Backend opens run inside it, which keeps the
// check-then-create sequence for a name atomic.
package lifetime
