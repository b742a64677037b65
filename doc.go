// Package bundle installs content bundles from a remote source and keeps
// them open for exactly as long as something uses them.
//
// A [Client] ties together the pieces found in the subpackages:
//   - a catalog ([catalog.Store]) describing every bundle, its content hash
//     and its dependencies
//   - a storage backend ([storage.Backend]) holding installed bytes
//   - a fetch transport ([transport.Fetcher]) over HTTP or an OCI registry
//   - the install pipeline ([install.Pipeline]) that verifies, downloads
//     and retries
//   - the lifetime manager ([lifetime.Manager]) that reference-counts open
//     bundles and their dependencies
//
// # Quick Start
//
// Build a client from a configuration file and use a bundle:
//
//	cfg, err := config.Load("/etc/bundle/bundle.yaml")
//	if err != nil {
//	    return err
//	}
//	c, err := bundle.NewClientFromConfig(cfg, bundle.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if _, err := c.UpdateCatalog(ctx); err != nil {
//	    return err
//	}
//	lease, err := c.Acquire(ctx, "level-01", nil)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
// Acquire installs any missing bundle in the dependency closure, then opens
// the dependencies before the bundle itself. Releasing the lease closes
// whatever is no longer referenced.
package bundle
