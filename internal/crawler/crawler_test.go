package crawler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacdex/stacdex/internal/source"
	"github.com/stacdex/stacdex/internal/stac"
)

// recordingIngestor captures crawl output and verifies that callbacks are
// never entered concurrently.
type recordingIngestor struct {
	t *testing.T

	inCallback  int32
	collections []string
	items       []string
	errors      []stac.IndexingError
}

func (r *recordingIngestor) enter() {
	if !atomic.CompareAndSwapInt32(&r.inCallback, 0, 1) {
		r.t.Error("ingestor callback entered concurrently")
	}
	time.Sleep(time.Millisecond)
}

func (r *recordingIngestor) leave() {
	atomic.StoreInt32(&r.inCallback, 0)
}

func (r *recordingIngestor) OnCollection(ctx context.Context, collection *stac.Catalog) error {
	r.enter()
	defer r.leave()
	r.collections = append(r.collections, collection.ID)
	return nil
}

func (r *recordingIngestor) OnItem(ctx context.Context, item *stac.Item) error {
	r.enter()
	defer r.leave()
	r.items = append(r.items, item.Collection+"/"+item.ID)
	return nil
}

func (r *recordingIngestor) OnError(e stac.IndexingError) {
	r.enter()
	defer r.leave()
	r.errors = append(r.errors, e)
}

func writeDoc(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

// writeTestTree lays out a catalog tree with a nested catalog, a cycle, and
// one broken item.
func writeTestTree(t *testing.T, dir string) {
	writeDoc(t, dir, "catalog.json", `{
		"type": "Catalog", "id": "root", "stac_version": "1.0.0",
		"links": [
			{"rel": "child", "href": "./col-a/collection.json"},
			{"rel": "child", "href": "./sub/catalog.json"}
		]
	}`)
	writeDoc(t, dir, "col-a/collection.json", `{
		"type": "Collection", "id": "col-a", "stac_version": "1.0.0",
		"links": [
			{"rel": "item", "href": "./items/i1.json"},
			{"rel": "item", "href": "./items/broken.json"}
		]
	}`)
	writeDoc(t, dir, "sub/catalog.json", `{
		"type": "Catalog", "id": "sub", "stac_version": "1.0.0",
		"links": [
			{"rel": "child", "href": "../col-b/collection.json"},
			{"rel": "child", "href": "../catalog.json"}
		]
	}`)
	writeDoc(t, dir, "col-b/collection.json", `{
		"type": "Collection", "id": "col-b", "stac_version": "1.0.0",
		"links": [{"rel": "item", "href": "./i2.json"}]
	}`)
	writeDoc(t, dir, "col-a/items/i1.json", `{
		"type": "Feature", "stac_version": "1.0.0", "id": "i1",
		"geometry": {"type": "Point", "coordinates": [1.0, 2.0]},
		"properties": {"datetime": "2023-01-01T00:00:00Z"}
	}`)
	writeDoc(t, dir, "col-a/items/broken.json", `{
		"type": "Feature", "stac_version": "1.0.0", "id": "broken",
		"properties": {"datetime": "2023-01-01T00:00:00Z"}
	}`)
	writeDoc(t, dir, "col-b/i2.json", `{
		"type": "Feature", "stac_version": "1.0.0", "id": "i2",
		"geometry": {"type": "Point", "coordinates": [3.0, 4.0]},
		"properties": {"datetime": "2023-01-02T00:00:00Z"}
	}`)
}

func TestCrawlTree(t *testing.T) {
	dir := t.TempDir()
	writeTestTree(t, dir)

	sources := source.NewRegistry(source.NewLocalSource())
	c := New(sources, Options{MaxConcurrency: 4})
	ingestor := &recordingIngestor{t: t}

	err := c.Crawl(context.Background(), filepath.Join(dir, "catalog.json"), ingestor)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"col-a", "col-b"}, ingestor.collections)
	assert.ElementsMatch(t, []string{"col-a/i1", "col-b/i2"}, ingestor.items)

	// The broken item reports its missing geometry.
	require.NotEmpty(t, ingestor.errors)
	found := false
	for _, e := range ingestor.errors {
		if e.Subtype == stac.SubtypeMissingField && e.InputLocation == "geometry" {
			found = true
		}
	}
	assert.True(t, found, "expected a missing-geometry error, got %v", ingestor.errors)
}

func TestCrawlUnreadableRootIsFatal(t *testing.T) {
	sources := source.NewRegistry(source.NewLocalSource())
	c := New(sources, Options{})
	err := c.Crawl(context.Background(), filepath.Join(t.TempDir(), "nope.json"), &recordingIngestor{t: t})
	assert.Error(t, err)
}

func TestCrawlUnreadableChildIsRecorded(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "catalog.json", `{
		"type": "Catalog", "id": "root", "stac_version": "1.0.0",
		"links": [{"rel": "child", "href": "./missing/collection.json"}]
	}`)

	sources := source.NewRegistry(source.NewLocalSource())
	c := New(sources, Options{})
	ingestor := &recordingIngestor{t: t}

	err := c.Crawl(context.Background(), filepath.Join(dir, "catalog.json"), ingestor)
	require.NoError(t, err)
	assert.Empty(t, ingestor.collections)
	require.Len(t, ingestor.errors, 1)
	assert.Contains(t, ingestor.errors[0].InputLocation, "missing/collection.json")
}

func TestCrawlItemLimit(t *testing.T) {
	dir := t.TempDir()
	writeTestTree(t, dir)

	sources := source.NewRegistry(source.NewLocalSource())
	c := New(sources, Options{TestCollectionItemLimit: 1})
	ingestor := &recordingIngestor{t: t}

	err := c.Crawl(context.Background(), filepath.Join(dir, "catalog.json"), ingestor)
	require.NoError(t, err)
	// One item per collection at most; col-a's single slot goes to i1.
	assert.LessOrEqual(t, len(ingestor.items), 2)
}

func TestParseItemErrorsAreSerialized(t *testing.T) {
	// IndexingError subtype for a vanished item fetch carries the error kind.
	dir := t.TempDir()
	writeDoc(t, dir, "catalog.json", `{
		"type": "Catalog", "id": "root", "stac_version": "1.0.0",
		"links": [{"rel": "child", "href": "./col/collection.json"}]
	}`)
	writeDoc(t, dir, "col/collection.json", `{
		"type": "Collection", "id": "col", "stac_version": "1.0.0",
		"links": [{"rel": "item", "href": "./gone.json"}]
	}`)

	sources := source.NewRegistry(source.NewLocalSource())
	c := New(sources, Options{MaxConcurrency: 8})
	ingestor := &recordingIngestor{t: t}

	require.NoError(t, c.Crawl(context.Background(), filepath.Join(dir, "catalog.json"), ingestor))
	require.Len(t, ingestor.errors, 1)
	assert.Equal(t, "UriNotFound", ingestor.errors[0].Subtype)
}
