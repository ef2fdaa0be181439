// Package source provides read access to STAC documents across URI schemes.
// Implementations exist for the local filesystem, HTTPS, and S3-compatible
// object storage. Callers pick an implementation through a Registry by
// first-match on CanHandle.
package source

import (
	"context"
	"time"

	"github.com/stacdex/stacdex/internal/errors"
)

// Source abstracts reads against one URI scheme.
// Implementations must be safe for concurrent use.
type Source interface {
	// CanHandle reports whether this source serves the given URI.
	CanHandle(uri string) bool

	// GetAsString fetches the full body at uri.
	// Returns a UriNotFound error on 404/ENOENT and SourceUnavailable
	// on other I/O failures.
	GetAsString(ctx context.Context, uri string) (string, error)

	// GetToFile streams the body at uri into the local file at path.
	GetToFile(ctx context.Context, uri, path string) error

	// ListItems lists item URIs under uri. For filesystem and S3 this is
	// a prefix listing; for HTTPS it pages through a STAC ItemCollection
	// endpoint following rel=next links. limit <= 0 means unlimited.
	// Non-fatal per-entry problems are returned as strings alongside
	// the successfully listed URIs.
	ListItems(ctx context.Context, uri string, limit int) ([]string, []string, error)

	// LastModified stats uri. Sources without modification metadata may
	// report the current time, which forces a conservative refresh.
	LastModified(ctx context.Context, uri string) (time.Time, error)

	// ListDirs lists the immediate child directory URIs under a
	// directory URI. Used by snapshot retention.
	ListDirs(ctx context.Context, uri string) ([]string, error)

	// DeletePrefix removes everything under a directory URI.
	// Used by snapshot retention.
	DeletePrefix(ctx context.Context, uri string) error
}

// Registry dispatches URIs to sources by first CanHandle match.
type Registry struct {
	sources []Source
}

// NewRegistry creates a registry over the given sources, consulted in order.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// ForURI returns the first source that can handle uri.
func (r *Registry) ForURI(uri string) (Source, error) {
	for _, s := range r.sources {
		if s.CanHandle(uri) {
			return s, nil
		}
	}
	return nil, errors.Newf(errors.KindSourceUnavailable, "no source registered for uri: %s", uri)
}

// GetAsString dispatches GetAsString to the matching source.
func (r *Registry) GetAsString(ctx context.Context, uri string) (string, error) {
	s, err := r.ForURI(uri)
	if err != nil {
		return "", err
	}
	return s.GetAsString(ctx, uri)
}

// GetToFile dispatches GetToFile to the matching source.
func (r *Registry) GetToFile(ctx context.Context, uri, path string) error {
	s, err := r.ForURI(uri)
	if err != nil {
		return err
	}
	return s.GetToFile(ctx, uri, path)
}

// ListItems dispatches ListItems to the matching source.
func (r *Registry) ListItems(ctx context.Context, uri string, limit int) ([]string, []string, error) {
	s, err := r.ForURI(uri)
	if err != nil {
		return nil, nil, err
	}
	return s.ListItems(ctx, uri, limit)
}

// LastModified dispatches LastModified to the matching source.
func (r *Registry) LastModified(ctx context.Context, uri string) (time.Time, error) {
	s, err := r.ForURI(uri)
	if err != nil {
		return time.Time{}, err
	}
	return s.LastModified(ctx, uri)
}

// ListDirs dispatches ListDirs to the matching source.
func (r *Registry) ListDirs(ctx context.Context, uri string) ([]string, error) {
	s, err := r.ForURI(uri)
	if err != nil {
		return nil, err
	}
	return s.ListDirs(ctx, uri)
}

// DeletePrefix dispatches DeletePrefix to the matching source.
func (r *Registry) DeletePrefix(ctx context.Context, uri string) error {
	s, err := r.ForURI(uri)
	if err != nil {
		return err
	}
	return s.DeletePrefix(ctx, uri)
}
