package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/source"
)

func TestCurrentSnapshotMissingManifest(t *testing.T) {
	e := &Engine{
		sources: source.NewRegistry(source.NewLocalSource()),
		opts:    Options{ManifestURI: filepath.Join(t.TempDir(), "manifest.json")},
	}

	_, err := e.CurrentSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindMissingIndex))
}

func TestCurrentSnapshotKeepsUnchangedSnapshot(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(manifestPath, []byte("{}"), 0644))

	// The loaded snapshot is newer than the manifest on disk, so the
	// pre-query check must return it without reloading anything.
	e := &Engine{
		sources: source.NewRegistry(source.NewLocalSource()),
		opts:    Options{ManifestURI: manifestPath},
		snap:    &Snapshot{LoadID: "load-1", LastModified: time.Now().Add(time.Hour)},
	}

	snap, err := e.CurrentSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "load-1", snap.LoadID)
}

func TestCheckParams(t *testing.T) {
	assert.NoError(t, checkParams(nil))
	assert.NoError(t, checkParams([]interface{}{"s", 1.5, true, nil, 42}))

	err := checkParams([]interface{}{[]string{"sneaky"}})
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidToken))

	err = checkParams([]interface{}{map[string]interface{}{}})
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidToken))
}

func TestReadParquet(t *testing.T) {
	assert.Equal(t, "read_parquet('/data/items.parquet')",
		readParquet("file:///data/items.parquet"))
	assert.Equal(t, "read_parquet('s3://bucket/items.parquet')",
		readParquet("s3://bucket/items.parquet"))
	// Single quotes in paths must not break out of the SQL string.
	assert.Equal(t, "read_parquet('/data/o''brien.parquet')",
		readParquet("file:///data/o'brien.parquet"))
}

func TestS3Settings(t *testing.T) {
	stmts := s3Settings(source.S3Config{
		Region:       "eu-west-1",
		Endpoint:     "minio:9000",
		UsePathStyle: true,
	})
	assert.Equal(t, []string{
		"SET s3_region = 'eu-west-1'",
		"SET s3_endpoint = 'minio:9000'",
		"SET s3_url_style = 'path'",
	}, stmts)

	assert.Empty(t, s3Settings(source.S3Config{}))
}
