// Package index builds and describes columnar index snapshots.
// The writer ingests crawled records into a DuckDB working set, exports
// Parquet tables, and commits the snapshot by writing manifest.json last.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/source"
)

// IndexerVersion is the manifest schema version this build reads and
// writes. Readers reject any other version.
const IndexerVersion = 1

// ManifestFilename is the manifest's name inside a snapshot directory.
const ManifestFilename = "manifest.json"

// TableNames are the tables every snapshot carries.
var TableNames = []string{
	"collections",
	"items",
	"queryables_by_collection",
	"sortables_by_collection",
	"errors",
}

// TableRef locates one table file relative to the manifest.
type TableRef struct {
	RelativePath string `json:"relative_path"`
}

// Manifest is the versioned descriptor of a snapshot.
type Manifest struct {
	IndexerVersion int                 `json:"indexer_version"`
	Created        time.Time           `json:"created"`
	LoadID         string              `json:"load_id"`
	RootCatalogURI string              `json:"root_catalog_uri,omitempty"`
	IndexConfig    *Config             `json:"index_config,omitempty"`
	Tables         map[string]TableRef `json:"tables"`
}

// ReadManifest fetches and validates a manifest. A version mismatch is
// fatal: snapshots do not evolve across indexer versions.
func ReadManifest(ctx context.Context, sources *source.Registry, manifestURI string) (*Manifest, error) {
	body, err := sources.GetAsString(ctx, manifestURI)
	if err != nil {
		if errors.IsKind(err, errors.KindUriNotFound) {
			return nil, errors.Wrap(errors.KindMissingIndex,
				fmt.Sprintf("no manifest at %s", manifestURI), err)
		}
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, errors.Wrap(errors.KindMissingIndex,
			fmt.Sprintf("manifest at %s does not parse", manifestURI), err)
	}
	if m.IndexerVersion != IndexerVersion {
		return nil, errors.Newf(errors.KindMissingIndex,
			"manifest at %s has indexer_version %d, this reader requires %d",
			manifestURI, m.IndexerVersion, IndexerVersion)
	}
	return &m, nil
}

// TableURIs resolves every table's relative path against the manifest URI.
func (m *Manifest) TableURIs(manifestURI string) map[string]string {
	dir := source.ParentDir(manifestURI)
	out := make(map[string]string, len(m.Tables))
	for name, ref := range m.Tables {
		out[name] = source.JoinURI(dir, ref.RelativePath)
	}
	return out
}

// writeManifest serialises and stores the manifest. This is the snapshot's
// commit point: readers ignore table files without a manifest.
func writeManifest(ctx context.Context, sources *source.Registry, snapshotURI string, m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	manifestURI := source.JoinURI(snapshotURI, ManifestFilename)
	if err := sources.PutString(ctx, manifestURI, string(data)); err != nil {
		return "", err
	}
	return manifestURI, nil
}
