// Package crawler walks a STAC catalog tree and streams typed records.
// All network reads are gated by a single semaphore; the ingest callbacks
// observe a serialised sequence even though fetches run in parallel.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stacdex/stacdex/internal/config"
	"github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/source"
	"github.com/stacdex/stacdex/internal/stac"
)

// Ingestor receives the records a crawl produces. Callbacks are never
// invoked concurrently with each other.
type Ingestor interface {
	OnCollection(ctx context.Context, collection *stac.Catalog) error
	OnItem(ctx context.Context, item *stac.Item) error
	OnError(indexingError stac.IndexingError)
}

// Options configures a crawl.
type Options struct {
	// MaxConcurrency bounds parallel source reads (default 10).
	MaxConcurrency int

	// FixNames are the registered fixers applied before validation.
	FixNames []string

	// TestCollectionItemLimit caps per-collection item intake (0 = unlimited).
	TestCollectionItemLimit int
}

// Crawler discovers a collection tree from a root catalog URI.
type Crawler struct {
	sources *source.Registry
	opts    Options
	sem     chan struct{}

	ingestMu sync.Mutex
}

// New creates a crawler over the given source registry.
func New(sources *source.Registry, opts Options) *Crawler {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = config.DefaultMaxConcurrency
	}
	return &Crawler{
		sources: sources,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxConcurrency),
	}
}

// Crawl walks the catalog tree under rootURI, emitting collections first
// and then their items. A failed fetch or parse of one document is recorded
// through the ingestor; only a root failure is fatal.
func (c *Crawler) Crawl(ctx context.Context, rootURI string, ingestor Ingestor) error {
	collections, err := c.discoverCollections(ctx, rootURI, ingestor)
	if err != nil {
		return err
	}

	for _, collection := range collections {
		c.ingestMu.Lock()
		err := ingestor.OnCollection(ctx, collection)
		c.ingestMu.Unlock()
		if err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for _, collection := range collections {
		wg.Add(1)
		go func(collection *stac.Catalog) {
			defer wg.Done()
			c.crawlCollectionItems(ctx, collection, ingestor)
		}(collection)
	}
	wg.Wait()

	return ctx.Err()
}

// discoverCollections expands the catalog tree breadth-first. Catalogs are
// traversed only for their children; collections are captured. A visited
// set terminates cyclic and self-referencing graphs.
func (c *Crawler) discoverCollections(ctx context.Context, rootURI string, ingestor Ingestor) ([]*stac.Catalog, error) {
	root, err := c.fetchCatalog(ctx, rootURI)
	if err != nil {
		return nil, errors.Wrap(errors.KindCollectionParsing,
			fmt.Sprintf("root catalog %s is unreadable", rootURI), err)
	}

	visited := map[string]bool{rootURI: true}
	frontier := root.ChildHrefs()
	var collections []*stac.Catalog

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		uri := frontier[0]
		frontier = frontier[1:]
		if visited[uri] {
			continue
		}
		visited[uri] = true

		child, err := c.fetchCatalog(ctx, uri)
		if err != nil {
			c.recordError(ingestor, stac.IndexingError{
				Time:          time.Now().UTC(),
				ErrorType:     string(errors.KindCollectionParsing),
				Subtype:       string(errors.GetKind(err)),
				InputLocation: uri,
				Description:   err.Error(),
			})
			continue
		}

		c.checkSelfLink(child)

		if child.Type == "Collection" {
			collections = append(collections, child)
		}
		for _, href := range child.ChildHrefs() {
			if !visited[href] {
				frontier = append(frontier, href)
			}
		}
	}

	return collections, nil
}

// crawlCollectionItems gathers the item URIs of one collection and fetches
// each item under the shared concurrency ceiling.
func (c *Crawler) crawlCollectionItems(ctx context.Context, collection *stac.Catalog, ingestor Ingestor) {
	uris, problems := c.collectItemURIs(ctx, collection, ingestor)
	for _, problem := range problems {
		c.recordError(ingestor, stac.IndexingError{
			Time:        time.Now().UTC(),
			ErrorType:   string(errors.KindItemParsing),
			Subtype:     "listing",
			Description: problem,
			Collection:  collection.ID,
		})
	}

	var wg sync.WaitGroup
	for _, uri := range uris {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			c.fetchItem(ctx, uri, collection.ID, ingestor)
		}(uri)
	}
	wg.Wait()
}

// collectItemURIs combines rel=item hrefs with paginated rel=items
// endpoints, deduplicated, honoring the per-collection cap.
func (c *Crawler) collectItemURIs(ctx context.Context, collection *stac.Catalog, ingestor Ingestor) ([]string, []string) {
	limit := c.opts.TestCollectionItemLimit
	seen := make(map[string]bool)
	var uris []string
	var problems []string

	add := func(uri string) bool {
		if seen[uri] {
			return true
		}
		if limit > 0 && len(uris) >= limit {
			return false
		}
		seen[uri] = true
		uris = append(uris, uri)
		return true
	}

	for _, href := range collection.ItemHrefs() {
		if !add(href) {
			return uris, problems
		}
	}
	for _, endpoint := range collection.ItemsEndpoints() {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(uris)
			if remaining <= 0 {
				return uris, problems
			}
		}
		c.acquire()
		listed, listProblems, err := c.sources.ListItems(ctx, endpoint, remaining)
		c.release()
		problems = append(problems, listProblems...)
		if err != nil {
			problems = append(problems, fmt.Sprintf("items endpoint %s: %v", endpoint, err))
			continue
		}
		for _, uri := range listed {
			if !add(uri) {
				return uris, problems
			}
		}
	}
	return uris, problems
}

// fetchItem fetches, parses, and forwards one item.
func (c *Crawler) fetchItem(ctx context.Context, uri, collectionID string, ingestor Ingestor) {
	c.acquire()
	body, err := c.sources.GetAsString(ctx, uri)
	c.release()
	if err != nil {
		c.recordError(ingestor, stac.IndexingError{
			Time:          time.Now().UTC(),
			ErrorType:     string(errors.KindItemParsing),
			Subtype:       string(errors.GetKind(err)),
			InputLocation: uri,
			Description:   err.Error(),
			Collection:    collectionID,
		})
		return
	}

	var dict map[string]interface{}
	if err := json.Unmarshal([]byte(body), &dict); err != nil {
		c.recordError(ingestor, stac.IndexingError{
			Time:          time.Now().UTC(),
			ErrorType:     string(errors.KindItemParsing),
			Subtype:       "invalid-json",
			InputLocation: uri,
			Description:   fmt.Sprintf("item document does not parse: %v", err),
			Collection:    collectionID,
		})
		return
	}

	item, indexingErrors := stac.ParseItem(dict, uri, collectionID, c.opts.FixNames)
	if len(indexingErrors) > 0 {
		for _, ie := range indexingErrors {
			c.recordError(ingestor, ie)
		}
		return
	}

	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()
	if err := ingestor.OnItem(ctx, item); err != nil {
		ingestor.OnError(stac.IndexingError{
			Time:          time.Now().UTC(),
			ErrorType:     string(errors.KindItemValidation),
			Subtype:       "ingest",
			InputLocation: uri,
			Description:   err.Error(),
			Collection:    item.Collection,
			Item:          item.ID,
		})
	}
}

// fetchCatalog fetches and parses one catalog or collection document.
func (c *Crawler) fetchCatalog(ctx context.Context, uri string) (*stac.Catalog, error) {
	c.acquire()
	body, err := c.sources.GetAsString(ctx, uri)
	c.release()
	if err != nil {
		return nil, err
	}
	return stac.ParseCatalog(body, uri)
}

// checkSelfLink warns when a document's rel=self link disagrees with the
// URI it was fetched from. Wrong self-links are common and non-fatal.
func (c *Crawler) checkSelfLink(cat *stac.Catalog) {
	self := cat.SelfHref()
	if self != "" && self != cat.SourceURI {
		log.Printf("crawler: document %s declares self link %s", cat.SourceURI, self)
	}
}

// recordError forwards an indexing error under the ingest mutex.
func (c *Crawler) recordError(ingestor Ingestor, e stac.IndexingError) {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()
	ingestor.OnError(e)
}

func (c *Crawler) acquire() { c.sem <- struct{}{} }
func (c *Crawler) release() { <-c.sem }
