package bundle

import (
	"context"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/transport/oci"
)

// CatalogSource loads the latest catalog generation.
type CatalogSource interface {
	LoadCatalog(ctx context.Context) (*catalog.Manifest, error)
}

// CatalogSourceFunc adapts a function to CatalogSource.
type CatalogSourceFunc func(ctx context.Context) (*catalog.Manifest, error)

// LoadCatalog implements CatalogSource.
func (f CatalogSourceFunc) LoadCatalog(ctx context.Context) (*catalog.Manifest, error) {
	return f(ctx)
}

// FileCatalog reads a YAML or JSON catalog file on every load.
func FileCatalog(path string) CatalogSource {
	return CatalogSourceFunc(func(context.Context) (*catalog.Manifest, error) {
		return catalog.Load(path)
	})
}

// RegistryCatalog reads the catalog manifest stored under reference in the
// fetcher's repository.
func RegistryCatalog(f *oci.Fetcher, reference string) CatalogSource {
	return CatalogSourceFunc(func(ctx context.Context) (*catalog.Manifest, error) {
		return f.FetchCatalog(ctx, reference)
	})
}
