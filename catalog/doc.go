// Package catalog models the set of installable bundles and their declared
// dependencies.
//
// A [Manifest] is immutable once constructed. Updates replace it wholesale
// through a [Store], which readers consult via the [Provider] interface.
// Dependency graphs are resolved lazily: cycles and missing dependencies are
// reported when a closure is walked, not when the manifest is loaded.
package catalog
